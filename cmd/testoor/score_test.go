package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ethpandaops/testoor/pkg/sequencer"
	"github.com/ethpandaops/testoor/pkg/testctx"
	"github.com/stretchr/testify/assert"
)

func TestScoreRow(t *testing.T) {
	test := testctx.Test{
		Path:    "/repo/spec/a.test.js",
		Project: testctx.Project{Name: "web", RootDir: "/repo"},
	}

	tests := []struct {
		name   string
		scored sequencer.Scored
		failed bool
		want   []string
	}{
		{
			name:   "failed last time",
			scored: sequencer.Scored{Test: test, Score: 10075, Known: true},
			failed: true,
			want:   []string{"spec/a.test.js", "10075.00", "fail"},
		},
		{
			name:   "passed last time",
			scored: sequencer.Scored{Test: test, Score: 12.5, Known: true},
			want:   []string{"spec/a.test.js", "12.50", "pass"},
		},
		{
			name:   "no history",
			scored: sequencer.Scored{Test: test},
			want:   []string{"spec/a.test.js", "-", "-"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scoreRow(tt.scored, tt.failed))
		})
	}
}

func TestRenderScoreTable(t *testing.T) {
	var buf bytes.Buffer

	renderScoreTable(&buf, [][]string{
		{"spec/a.test.js", "10075.00", "fail"},
		{"b.test.js", "-", "-"},
	})

	var lines [][]string

	for _, line := range strings.Split(buf.String(), "\n") {
		if fields := strings.Fields(line); len(fields) > 0 {
			lines = append(lines, fields)
		}
	}

	assert.Equal(t, [][]string{
		{"TEST", "SCORE", "LAST"},
		{"spec/a.test.js", "10075.00", "fail"},
		{"b.test.js", "-", "-"},
	}, lines)
}
