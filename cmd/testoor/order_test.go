package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectTests(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		stdin string
		want  []string
	}{
		{
			name: "arguments resolved against root",
			args: []string{"a.test.js", "/abs/b.test.js"},
			want: []string{"a.test.js", "/abs/b.test.js"},
		},
		{
			name:  "stdin lines when no arguments",
			stdin: "spec/c.test.js\n\n  d.test.js  \n",
			want:  []string{"spec/c.test.js", "d.test.js"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := collectTests(strings.NewReader(tt.stdin), tt.args, "web", "/repo")
			require.NoError(t, err)

			names := make([]string, 0, len(got))
			for _, test := range got {
				assert.Equal(t, "web", test.Project.Name)
				assert.Equal(t, "/repo", test.Project.RootDir)

				names = append(names, test.Name())
			}

			assert.Equal(t, tt.want, names)
		})
	}
}
