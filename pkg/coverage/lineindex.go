package coverage

import "sort"

// LineIndex maps byte offsets in a text to 1-based line and column numbers.
type LineIndex struct {
	size       int
	lineStarts []int
}

// NewLineIndex indexes the line starts of text.
func NewLineIndex(text string) *LineIndex {
	starts := make([]int, 1, 64)

	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}

	return &LineIndex{size: len(text), lineStarts: starts}
}

// Position returns the 1-based line and column of offset. The end of the
// text is addressable so that exclusive range ends resolve. ok is false for
// offsets outside [0, len(text)].
func (idx *LineIndex) Position(offset int) (line, col int, ok bool) {
	if offset < 0 || offset > idx.size {
		return 0, 0, false
	}

	// Index of the last line start <= offset.
	i := sort.Search(len(idx.lineStarts), func(i int) bool {
		return idx.lineStarts[i] > offset
	}) - 1

	return i + 1, offset - idx.lineStarts[i] + 1, true
}

// Lines returns the number of lines in the indexed text.
func (idx *LineIndex) Lines() int {
	return len(idx.lineStarts)
}
