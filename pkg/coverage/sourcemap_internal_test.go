package coverage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSegments(t *testing.T) {
	got, err := parseSegments("AAAA,I;;KAAC,AAAA")
	require.NoError(t, err)

	assert.Equal(t, [][]segment{
		{{column: 0, mapped: true}, {column: 4, mapped: false}},
		nil,
		{{column: 5, mapped: true}, {column: 5, mapped: true}},
	}, got)
}

func TestDecodeSegment(t *testing.T) {
	tests := []struct {
		name       string
		field      string
		wantFirst  int
		wantFields int
		wantErr    bool
	}{
		{name: "zero", field: "AAAA", wantFirst: 0, wantFields: 4},
		{name: "negative", field: "D", wantFirst: -1, wantFields: 1},
		{name: "continuation", field: "gBAAA", wantFirst: 16, wantFields: 4},
		{name: "with name", field: "CAAAC", wantFirst: 1, wantFields: 5},
		{name: "truncated", field: "g", wantErr: true},
		{name: "invalid character", field: "A!", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, fields, err := decodeSegment(tt.field)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantFirst, first)
			assert.Equal(t, tt.wantFields, fields)
		})
	}
}
