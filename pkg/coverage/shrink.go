package coverage

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/testoor/pkg/testctx"
	"github.com/sirupsen/logrus"
)

// ErrNoTransformResult is returned for scripts lacking the instrumented code
// or source map path their offsets refer to.
var ErrNoTransformResult = errors.New("no transform result")

// Shrinker translates instrumented coverage into original source lines.
type Shrinker struct {
	log    logrus.FieldLogger
	loader SourceMapLoader
}

// NewShrinker creates a Shrinker that opens source maps with loader.
func NewShrinker(log logrus.FieldLogger, loader SourceMapLoader) *Shrinker {
	return &Shrinker{
		log:    log.WithField("component", "coverage"),
		loader: loader,
	}
}

// Shrink converts the coverage of every script and keys it by the script's
// path relative to rootDir. Scripts are translated independently: a script
// that fails is left out and its error is joined into the returned error
// while the others are still translated.
func (s *Shrinker) Shrink(rootDir string, scripts []Script) (ShrunkCoverage, error) {
	var (
		shrunk = make(ShrunkCoverage, len(scripts))
		errs   []error
	)

	for i := range scripts {
		script := &scripts[i]

		ranges, err := s.ShrinkScript(script)
		if err != nil {
			errs = append(errs, fmt.Errorf("shrinking %s: %w", script.URL, err))

			continue
		}

		shrunk[testctx.RelativePath(rootDir, script.URL)] = ranges
	}

	return shrunk, errors.Join(errs...)
}

// ShrinkScript converts one script's coverage. The script's source map is
// released before returning, whether or not translation succeeded.
func (s *Shrinker) ShrinkScript(script *Script) (*ScriptRanges, error) {
	if script.Transform == nil || script.Transform.SourceMapPath == "" {
		return nil, ErrNoTransformResult
	}

	lines := NewLineIndex(script.Transform.Code)

	sourceMap, err := s.loader.Load(script.Transform.SourceMapPath)
	if err != nil {
		return nil, fmt.Errorf("loading source map: %w", err)
	}

	defer func() {
		if cerr := sourceMap.Close(); cerr != nil {
			s.log.WithError(cerr).
				WithField("script", script.URL).
				Debug("Failed to release source map")
		}
	}()

	t := &translator{
		lines:     lines,
		sourceMap: sourceMap,
		wrapper:   script.Transform.WrapperLength,
		url:       script.URL,
	}

	out := NewScriptRanges()

	var discarded int

	for _, fn := range script.Functions {
		for _, r := range fn.Ranges {
			start, err := t.original(r.StartOffset)
			if err != nil {
				return nil, err
			}

			end, err := t.original(r.EndOffset)
			if err != nil {
				return nil, err
			}

			if start.Line == 0 || end.Line == 0 {
				discarded++

				continue
			}

			lr := NewLineRange(start.Line, end.Line, r.Count)

			if fn.IsBlockCoverage {
				out.BlockRanges = append(out.BlockRanges, lr)
			} else {
				out.FuncRanges = append(out.FuncRanges, lr)
			}
		}
	}

	if discarded > 0 {
		s.log.WithFields(logrus.Fields{
			"script":    script.URL,
			"discarded": discarded,
		}).Debug("Discarded unmapped coverage ranges")
	}

	return out, nil
}

// translator resolves instrumented offsets of one script.
type translator struct {
	lines     *LineIndex
	sourceMap SourceMap
	wrapper   int
	url       string
}

// original maps an instrumented offset to its original position. Offsets
// inside the synthetic wrapper collapse to the start of the module. A zero
// Line is returned for offsets that do not resolve.
func (t *translator) original(offset int) (Position, error) {
	unwrapped := offset - t.wrapper
	if unwrapped <= 0 {
		return Position{Line: 1, Column: 0}, nil
	}

	line, col, ok := t.lines.Position(unwrapped)
	if !ok {
		return Position{}, nil
	}

	// The line index is 1-based in columns, source maps are 0-based.
	pos, err := t.sourceMap.OriginalPosition(line, col-1)
	if err != nil {
		// The line index never yields an invalid position, so only a
		// SourceMap that rejects positions of its own returns this.
		if errors.Is(err, ErrPositionOutOfRange) {
			return Position{}, fmt.Errorf("%w at %d:%d in %s", err, line, col, t.url)
		}

		return Position{}, err
	}

	return pos, nil
}
