package sequencer

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ethpandaops/testoor/pkg/testctx"
	"github.com/sirupsen/logrus"
)

// History answers the scoring questions the sequencer asks.
type History interface {
	Score(ctx context.Context, projectID, testName string) (float64, bool, error)
	MostRecentRunFailed(ctx context.Context, testName string) (bool, error)
}

// Test is one test file to be scheduled.
type Test = testctx.Test

// Scored is a test with its looked-up score. Known is false when the test
// has no history.
type Scored struct {
	Test  Test    `json:"test"`
	Score float64 `json:"score"`
	Known bool    `json:"known"`
}

// Sequencer orders and filters tests using recorded history.
type Sequencer struct {
	log     logrus.FieldLogger
	history History
}

// New creates a new Sequencer.
func New(log logrus.FieldLogger, history History) *Sequencer {
	return &Sequencer{
		log:     log.WithField("component", "sequencer"),
		history: history,
	}
}

// Scores looks up the score of every test, keeping input order.
func (s *Sequencer) Scores(ctx context.Context, tests []Test) ([]Scored, error) {
	scored := make([]Scored, 0, len(tests))

	for _, t := range tests {
		score, ok, err := s.history.Score(ctx, testctx.ProjectID(t.Project), t.Name())
		if err != nil {
			return nil, fmt.Errorf("scoring %s: %w", t.Path, err)
		}

		scored = append(scored, Scored{Test: t, Score: score, Known: ok})
	}

	return scored, nil
}

// Sort returns tests ordered by descending score. Tests without history sort
// first; ties keep their input order.
func (s *Sequencer) Sort(ctx context.Context, tests []Test) ([]Test, error) {
	scored, err := s.Scores(ctx, tests)
	if err != nil {
		return nil, err
	}

	SortScored(scored)

	out := make([]Test, len(scored))

	var unknown int

	for i, sc := range scored {
		out[i] = sc.Test

		if !sc.Known {
			unknown++
		}
	}

	s.log.WithFields(logrus.Fields{
		"tests":      len(out),
		"no_history": unknown,
	}).Debug("Sorted tests")

	return out, nil
}

// SortScored orders scored tests in place by descending score, treating a
// missing score as +Inf. The sort is stable.
func SortScored(scored []Scored) {
	sort.SliceStable(scored, func(i, j int) bool {
		return rank(scored[i]) > rank(scored[j])
	})
}

func rank(s Scored) float64 {
	if !s.Known {
		return math.Inf(1)
	}

	return s.Score
}

// AllFailedTests keeps the tests whose most recent recorded outcome had
// failures. Tests without history are dropped.
func (s *Sequencer) AllFailedTests(ctx context.Context, tests []Test) ([]Test, error) {
	failed := make([]Test, 0, len(tests))

	for _, t := range tests {
		ok, err := s.history.MostRecentRunFailed(ctx, t.Name())
		if err != nil {
			return nil, fmt.Errorf("checking last outcome of %s: %w", t.Path, err)
		}

		if ok {
			failed = append(failed, t)
		}
	}

	s.log.WithFields(logrus.Fields{
		"tests":  len(tests),
		"failed": len(failed),
	}).Debug("Filtered failed tests")

	return failed, nil
}
