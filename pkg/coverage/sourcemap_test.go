package coverage_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethpandaops/testoor/pkg/coverage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gappedMap maps generated lines 1 and 3 to original lines 1 and 3 and
// leaves generated line 2 unmapped.
const gappedMap = `{"version":3,"sources":["a.ts"],"names":[],"mappings":"AAAA;;AAEA"}`

func writeSourceMap(t *testing.T, doc string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "a.js.map")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	return path
}

func TestShrinkScript_FileSourceMap(t *testing.T) {
	const code = "aaaa\nbbbb\ncccc"

	tests := []struct {
		name       string
		start, end int
		want       []coverage.LineRange
	}{
		{
			name:  "whole file",
			start: 0,
			end:   len(code),
			want:  []coverage.LineRange{coverage.NewLineRange(1, 3, 7)},
		},
		{
			name:  "first line",
			start: 0,
			end:   4,
			want:  []coverage.LineRange{coverage.NewLineRange(1, 1, 7)},
		},
		{
			name:  "range ending on an unmapped line",
			start: 1,
			end:   7,
			want:  []coverage.LineRange{},
		},
		{
			name:  "range starting on an unmapped line",
			start: 6,
			end:   len(code),
			want:  []coverage.LineRange{},
		},
	}

	path := writeSourceMap(t, gappedMap)

	log := logrus.New()
	log.SetOutput(io.Discard)

	s := coverage.NewShrinker(log, coverage.FileSourceMapLoader{})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ShrinkScript(&coverage.Script{
				URL: "/repo/a.js",
				Functions: []coverage.FunctionCoverage{{
					Ranges: []coverage.Range{
						{StartOffset: tt.start, EndOffset: tt.end, Count: 7},
					},
				}},
				Transform: &coverage.TransformResult{Code: code, SourceMapPath: path},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.FuncRanges)
			assert.Empty(t, got.BlockRanges)
		})
	}
}

func TestParseSourceMap_UnmappedPositions(t *testing.T) {
	// Line 1 maps from column 0, line 2 only from column 4.
	sm, err := coverage.ParseSourceMap("b.js.map",
		[]byte(`{"version":3,"sources":["b.ts"],"names":[],"mappings":"AAAA;IACA"}`))
	require.NoError(t, err)

	defer func() { _ = sm.Close() }()

	tests := []struct {
		name     string
		line     int
		column   int
		wantLine int
	}{
		{name: "mapped first line", line: 1, column: 2, wantLine: 1},
		{name: "column before first mapping", line: 2, column: 2, wantLine: 0},
		{name: "column at first mapping", line: 2, column: 4, wantLine: 2},
		{name: "column after first mapping", line: 2, column: 9, wantLine: 2},
		{name: "line past the map", line: 3, column: 0, wantLine: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, err := sm.OriginalPosition(tt.line, tt.column)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLine, pos.Line)
		})
	}
}
