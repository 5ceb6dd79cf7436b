package coverage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-sourcemap/sourcemap"
)

var (
	// ErrPositionOutOfRange is returned when a source map lookup is asked
	// for a position that cannot exist in generated code.
	ErrPositionOutOfRange = errors.New("position out of range")

	// ErrSourceMapClosed is returned by lookups after Close.
	ErrSourceMapClosed = errors.New("source map closed")
)

// Position is a position in original source. Line is 1-based, Column is
// 0-based. A zero Line means the position did not resolve.
type Position struct {
	Source string
	Line   int
	Column int
}

// SourceMap translates generated positions to original positions.
type SourceMap interface {
	// OriginalPosition looks up a generated 1-based line and 0-based
	// column. Unmapped positions return a zero Position and no error.
	// Positions that cannot exist in generated code (line < 1 or
	// column < 0) return ErrPositionOutOfRange.
	OriginalPosition(line, column int) (Position, error)

	// Close releases the parsed map.
	Close() error
}

// SourceMapLoader opens the source map stored at a path.
type SourceMapLoader interface {
	Load(path string) (SourceMap, error)
}

// FileSourceMapLoader reads and parses source maps from the filesystem.
type FileSourceMapLoader struct{}

// Compile-time interface check.
var _ SourceMapLoader = FileSourceMapLoader{}

// Load reads and parses the source map at path.
func (FileSourceMapLoader) Load(path string) (SourceMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source map: %w", err)
	}

	return ParseSourceMap(path, data)
}

// ParseSourceMap parses a v3 source map document.
func ParseSourceMap(url string, data []byte) (SourceMap, error) {
	consumer, err := sourcemap.Parse(url, data)
	if err != nil {
		return nil, fmt.Errorf("parsing source map %s: %w", url, err)
	}

	var doc struct {
		Mappings string            `json:"mappings"`
		Sections []json.RawMessage `json:"sections"`
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing source map %s: %w", url, err)
	}

	m := &consumerSourceMap{consumer: consumer}

	// Index maps delegate to their sections; only flat maps are filtered.
	if len(doc.Sections) == 0 {
		m.segments, err = parseSegments(doc.Mappings)
		if err != nil {
			return nil, fmt.Errorf("parsing mappings of %s: %w", url, err)
		}
	}

	return m, nil
}

type consumerSourceMap struct {
	consumer *sourcemap.Consumer

	// segments holds the segments of each generated line, by column.
	// nil disables the per-line check.
	segments [][]segment
}

func (m *consumerSourceMap) OriginalPosition(line, column int) (Position, error) {
	if m.consumer == nil {
		return Position{}, ErrSourceMapClosed
	}

	if line < 1 || column < 0 {
		return Position{}, fmt.Errorf("%w: line must be >= 1 and column >= 0", ErrPositionOutOfRange)
	}

	// The consumer falls back to the closest earlier mapping, which may
	// belong to a previous generated line. Only a mapped segment on this
	// line at or before column resolves.
	if m.segments != nil && !m.mapped(line, column) {
		return Position{}, nil
	}

	source, _, origLine, origColumn, ok := m.consumer.Source(line, column)
	if !ok {
		return Position{}, nil
	}

	return Position{Source: source, Line: origLine, Column: origColumn}, nil
}

func (m *consumerSourceMap) mapped(line, column int) bool {
	if line > len(m.segments) {
		return false
	}

	segs := m.segments[line-1]

	i := sort.Search(len(segs), func(i int) bool {
		return segs[i].column > column
	})
	if i == 0 {
		return false
	}

	return segs[i-1].mapped
}

func (m *consumerSourceMap) Close() error {
	m.consumer = nil
	m.segments = nil

	return nil
}

// segment is one entry of a generated line's mappings. Segments with a
// single field mark generated code with no original position.
type segment struct {
	column int
	mapped bool
}

// parseSegments decodes the generated column of every segment in a v3
// "mappings" string, one slice per generated line.
func parseSegments(mappings string) ([][]segment, error) {
	lines := strings.Split(mappings, ";")
	out := make([][]segment, len(lines))

	for i, line := range lines {
		column := 0

		for _, field := range strings.Split(line, ",") {
			if field == "" {
				continue
			}

			delta, fields, err := decodeSegment(field)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}

			column += delta
			out[i] = append(out[i], segment{column: column, mapped: fields >= 4})
		}

		sort.SliceStable(out[i], func(a, b int) bool {
			return out[i][a].column < out[i][b].column
		})
	}

	return out, nil
}

const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// decodeSegment returns the first base64 VLQ value of a non-empty segment
// and how many values the segment holds.
func decodeSegment(field string) (first, fields int, err error) {
	pos := 0

	for pos < len(field) {
		var (
			value int
			shift uint
		)

		for {
			if pos >= len(field) {
				return 0, 0, fmt.Errorf("truncated VLQ in %q", field)
			}

			digit := strings.IndexByte(base64Alphabet, field[pos])
			if digit < 0 {
				return 0, 0, fmt.Errorf("invalid VLQ character %q in %q", field[pos], field)
			}

			pos++
			value |= (digit & 0x1f) << shift
			shift += 5

			if digit&0x20 == 0 {
				break
			}
		}

		if value&1 != 0 {
			value = -(value >> 1)
		} else {
			value >>= 1
		}

		if fields == 0 {
			first = value
		}

		fields++
	}

	return first, fields, nil
}
