// Package events feeds a test session from a stream of JSON-lines events
// emitted by a host test driver.
package events

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ethpandaops/testoor/pkg/coverage"
	"github.com/ethpandaops/testoor/pkg/reporter"
	"github.com/ethpandaops/testoor/pkg/testctx"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
)

// Event types.
const (
	TypeTestStart   = "test_start"
	TypeTestResult  = "test_result"
	TypeRunComplete = "run_complete"
)

// maxLineSize bounds one event line; coverage payloads can be large.
const maxLineSize = 64 * 1024 * 1024

// ErrAfterRunComplete is returned for events following run_complete.
var ErrAfterRunComplete = errors.New("event after run_complete")

// Handler receives decoded session events.
type Handler interface {
	OnTestStart(ctx context.Context, test testctx.Test) error
	OnTestResult(ctx context.Context, test testctx.Test, result reporter.Result) error
	OnRunComplete(ctx context.Context, elapsed time.Duration) error

	// Wait drains work deferred by earlier events.
	Wait() error
}

// Compile-time interface check.
var _ Handler = (*reporter.Reporter)(nil)

// Event is one line of the stream.
type Event struct {
	Type   string         `mapstructure:"type"`
	Test   testctx.Test   `mapstructure:"test"`
	Result *ResultPayload `mapstructure:"result"`
}

// ResultPayload is the body of a test_result event.
type ResultPayload struct {
	// End is the unix millisecond timestamp the test finished at.
	End int64 `mapstructure:"end"`

	// Runtime is the test's wall-clock duration in milliseconds.
	Runtime  float64           `mapstructure:"runtime"`
	Failures int               `mapstructure:"failures"`
	Coverage []coverage.Script `mapstructure:"coverage"`
}

// Stats summarizes a processed stream.
type Stats struct {
	Started   int
	Results   int
	Finalized bool
}

// Processor decodes events and dispatches them to a Handler.
type Processor struct {
	log     logrus.FieldLogger
	handler Handler
	now     func() time.Time
}

// NewProcessor creates a new Processor.
func NewProcessor(log logrus.FieldLogger, handler Handler) *Processor {
	return &Processor{
		log:     log.WithField("component", "events"),
		handler: handler,
		now:     time.Now,
	}
}

// Run processes events from r until EOF. A stream that ends without a
// run_complete event still completes the session. When processing stops
// early, deferred handler work is drained before Run returns and its error
// is joined to the returned one.
func (p *Processor) Run(ctx context.Context, r io.Reader) (*Stats, error) {
	stats, err := p.run(ctx, r)
	if err != nil {
		if werr := p.handler.Wait(); werr != nil {
			err = errors.Join(err, werr)
		}

		return stats, err
	}

	return stats, nil
}

func (p *Processor) run(ctx context.Context, r io.Reader) (*Stats, error) {
	var (
		started = p.now()
		stats   = &Stats{}
		scanner = bufio.NewScanner(r)
		lineNo  int
	)

	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		lineNo++

		if err := ctx.Err(); err != nil {
			return stats, err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if stats.Finalized {
			return stats, fmt.Errorf("line %d: %w", lineNo, ErrAfterRunComplete)
		}

		ev, err := Decode(line)
		if err != nil {
			return stats, fmt.Errorf("line %d: %w", lineNo, err)
		}

		if err := p.dispatch(ctx, ev, started, stats); err != nil {
			return stats, fmt.Errorf("line %d (%s): %w", lineNo, ev.Type, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("reading events: %w", err)
	}

	if !stats.Finalized {
		p.log.Debug("Stream ended without run_complete, completing session")

		if err := p.handler.OnRunComplete(ctx, p.now().Sub(started)); err != nil {
			return stats, err
		}

		stats.Finalized = true
	}

	return stats, nil
}

func (p *Processor) dispatch(
	ctx context.Context, ev *Event, started time.Time, stats *Stats,
) error {
	switch ev.Type {
	case TypeTestStart:
		stats.Started++

		return p.handler.OnTestStart(ctx, ev.Test)
	case TypeTestResult:
		if ev.Result == nil {
			return errors.New("missing result payload")
		}

		stats.Results++

		return p.handler.OnTestResult(ctx, ev.Test, p.result(ev.Result))
	case TypeRunComplete:
		stats.Finalized = true

		return p.handler.OnRunComplete(ctx, p.now().Sub(started))
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
}

func (p *Processor) result(payload *ResultPayload) reporter.Result {
	end := time.UnixMilli(payload.End)
	if payload.End == 0 {
		end = p.now()
	}

	return reporter.Result{
		End:      end,
		Runtime:  time.Duration(payload.Runtime * float64(time.Millisecond)),
		Failures: payload.Failures,
		Coverage: payload.Coverage,
	}
}

// Decode parses one JSON event line.
func Decode(line []byte) (*Event, error) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("parsing event: %w", err)
	}

	var ev Event

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &ev,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}

	if ev.Type == "" {
		return nil, errors.New("event has no type")
	}

	return &ev, nil
}
