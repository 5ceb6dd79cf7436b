package reporter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/testoor/pkg/coverage"
	"github.com/ethpandaops/testoor/pkg/lifecycle"
	"github.com/ethpandaops/testoor/pkg/store"
	"github.com/ethpandaops/testoor/pkg/testctx"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Store is the subset of the outcome store a session writes to.
type Store interface {
	lifecycle.RunStore
	AddOutcome(ctx context.Context, outcome *store.TestOutcome) error
}

// Result is the outcome of one test as reported by the host driver.
type Result struct {
	End      time.Time
	Runtime  time.Duration
	Failures int
	Coverage []coverage.Script
}

// Passed reports whether the test had no failures.
func (r Result) Passed() bool {
	return r.Failures == 0
}

// Options configures a Reporter.
type Options struct {
	// CoverageEnabled turns on shrinking and storing coverage of passing tests.
	CoverageEnabled bool

	// CoverageConcurrency bounds how many coverage tasks run at once.
	CoverageConcurrency int
}

// Reporter records the outcomes of one test session.
type Reporter struct {
	log       logrus.FieldLogger
	store     Store
	lifecycle *lifecycle.Manager
	shrinker  *coverage.Shrinker
	opts      Options

	group   errgroup.Group
	sem     *semaphore.Weighted
	pending atomic.Int64

	recorded  atomic.Int64
	coverages atomic.Int64
}

// New creates a new Reporter writing to s.
func New(
	log logrus.FieldLogger,
	s Store,
	shrinker *coverage.Shrinker,
	opts Options,
) *Reporter {
	if opts.CoverageConcurrency < 1 {
		opts.CoverageConcurrency = 1
	}

	return &Reporter{
		log:       log.WithField("component", "reporter"),
		store:     s,
		lifecycle: lifecycle.NewManager(log, s),
		shrinker:  shrinker,
		opts:      opts,
		sem:       semaphore.NewWeighted(int64(opts.CoverageConcurrency)),
	}
}

// Lifecycle returns the session's run lifecycle manager.
func (r *Reporter) Lifecycle() *lifecycle.Manager {
	return r.lifecycle
}

// OnTestStart creates the project's run on the first start of the session.
func (r *Reporter) OnTestStart(ctx context.Context, test testctx.Test) error {
	if _, err := r.lifecycle.Start(ctx, test.Project); err != nil {
		return err
	}

	return nil
}

// OnTestResult records a test outcome. The run of the test's project must
// already be started. Passing tests with coverage are recorded by a deferred
// task that OnRunComplete waits for; everything else is recorded inline.
func (r *Reporter) OnTestResult(
	ctx context.Context,
	test testctx.Test,
	result Result,
) error {
	projectID := testctx.ProjectID(test.Project)

	runID, err := r.lifecycle.RunID(projectID)
	if err != nil {
		return fmt.Errorf("recording %s: %w", test.Path, err)
	}

	outcome := &store.TestOutcome{
		RunID:    runID,
		TestName: test.Name(),
		Occurred: result.End.UnixMilli(),
		Duration: float64(result.Runtime) / float64(time.Millisecond),
		Failures: result.Failures,
	}

	if !r.opts.CoverageEnabled || !result.Passed() || len(result.Coverage) == 0 {
		if err := r.store.AddOutcome(ctx, outcome); err != nil {
			return fmt.Errorf("recording %s: %w", test.Path, err)
		}

		r.recorded.Add(1)

		return nil
	}

	// The deferred task outlives the caller's context; only the barrier in
	// OnRunComplete bounds it.
	taskCtx := context.WithoutCancel(ctx)

	r.pending.Add(1)

	r.group.Go(func() error {
		defer r.pending.Add(-1)

		if err := r.sem.Acquire(taskCtx, 1); err != nil {
			return err
		}
		defer r.sem.Release(1)

		return r.recordWithCoverage(taskCtx, test, outcome, result.Coverage)
	})

	return nil
}

func (r *Reporter) recordWithCoverage(
	ctx context.Context,
	test testctx.Test,
	outcome *store.TestOutcome,
	scripts []coverage.Script,
) error {
	shrunk, err := r.shrinker.Shrink(test.Project.RootDir, scripts)
	if err != nil {
		return fmt.Errorf("shrinking coverage of %s: %w", test.Path, err)
	}

	blob, err := coverage.Compress(shrunk)
	if err != nil {
		return fmt.Errorf("compressing coverage of %s: %w", test.Path, err)
	}

	outcome.Coverage = blob

	if err := r.store.AddOutcome(ctx, outcome); err != nil {
		return fmt.Errorf("recording %s: %w", test.Path, err)
	}

	r.recorded.Add(1)
	r.coverages.Add(1)

	r.log.WithFields(logrus.Fields{
		"test":    outcome.TestName,
		"files":   len(shrunk),
		"scripts": len(scripts),
		"size":    units.HumanSize(float64(len(blob))),
	}).Debug("Stored coverage")

	return nil
}

// Pending returns the number of coverage tasks not yet finished.
func (r *Reporter) Pending() int64 {
	return r.pending.Load()
}

// Wait blocks until every deferred coverage task has finished and returns
// the first task error. It may be called more than once.
func (r *Reporter) Wait() error {
	r.log.WithField("pending", r.pending.Load()).Debug("Waiting for coverage tasks")

	if err := r.group.Wait(); err != nil {
		return fmt.Errorf("waiting for coverage tasks: %w", err)
	}

	return nil
}

// OnRunComplete waits for every deferred coverage task and then finalizes
// the runs of all started projects. When a task failed its error is
// returned and no run is finalized.
func (r *Reporter) OnRunComplete(ctx context.Context, elapsed time.Duration) error {
	if err := r.Wait(); err != nil {
		return err
	}

	if err := r.lifecycle.Complete(ctx); err != nil {
		return err
	}

	r.log.WithFields(logrus.Fields{
		"outcomes": r.recorded.Load(),
		"coverage": r.coverages.Load(),
		"elapsed":  units.HumanDuration(elapsed),
	}).Info("Session complete")

	return nil
}
