package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethpandaops/testoor/pkg/testctx"
	"github.com/sirupsen/logrus"
)

// ErrRunNotStarted is returned when a run id is requested for a project
// whose run has not been created yet.
var ErrRunNotStarted = errors.New("run not started")

// State is the lifecycle state of a project's run within this process.
type State int

const (
	// StateUnstarted means no test of the project has started yet.
	StateUnstarted State = iota
	// StateStarting means a run is being created.
	StateStarting
	// StateStarted means the run exists and outcomes may be recorded.
	StateStarted
	// StateCompleted means the run has been marked finished.
	StateCompleted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RunStore creates and finalizes runs.
type RunStore interface {
	CreateRun(ctx context.Context, rootDir, projectID string) (uint, error)
	MarkRunComplete(ctx context.Context, runID uint) error
}

type projectRun struct {
	state State
	runID uint
}

// Manager tracks one run per project for the lifetime of a session.
type Manager struct {
	log   logrus.FieldLogger
	store RunStore

	mu   sync.Mutex
	runs map[string]*projectRun
}

// NewManager creates a new lifecycle Manager.
func NewManager(log logrus.FieldLogger, store RunStore) *Manager {
	return &Manager{
		log:   log.WithField("component", "lifecycle"),
		store: store,
		runs:  make(map[string]*projectRun, 4),
	}
}

// Start creates the project's run if this is the first start observed for
// it. It returns true for the caller that created the run. Callers arriving
// while the run is being created, or after, do nothing.
func (m *Manager) Start(ctx context.Context, project testctx.Project) (bool, error) {
	id := testctx.ProjectID(project)

	m.mu.Lock()

	pr, ok := m.runs[id]
	if !ok {
		pr = &projectRun{}
		m.runs[id] = pr
	}

	if pr.state != StateUnstarted {
		m.mu.Unlock()

		return false, nil
	}

	pr.state = StateStarting
	m.mu.Unlock()

	runID, err := m.store.CreateRun(ctx, project.RootDir, id)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		pr.state = StateUnstarted

		return false, fmt.Errorf("creating run for project %q: %w", id, err)
	}

	pr.state = StateStarted
	pr.runID = runID

	m.log.WithFields(logrus.Fields{
		"project": id,
		"run_id":  runID,
	}).Info("Run started")

	return true, nil
}

// RunID returns the run id of a started project.
func (m *Manager) RunID(projectID string) (uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pr, ok := m.runs[projectID]
	if !ok || pr.state != StateStarted {
		state := StateUnstarted
		if ok {
			state = pr.state
		}

		return 0, fmt.Errorf("%w: project %q is %s", ErrRunNotStarted, projectID, state)
	}

	return pr.runID, nil
}

// State returns the current state of a project.
func (m *Manager) State(projectID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pr, ok := m.runs[projectID]; ok {
		return pr.state
	}

	return StateUnstarted
}

// Complete marks the run of every started project as finished. Projects that
// never started are skipped and completed projects are not marked again.
// Every project is attempted; failures are joined.
func (m *Manager) Complete(ctx context.Context) error {
	type pending struct {
		project string
		runID   uint
	}

	m.mu.Lock()

	toMark := make([]pending, 0, len(m.runs))

	for id, pr := range m.runs {
		if pr.state != StateStarted {
			continue
		}

		// Claimed before the store call so a concurrent Complete skips it.
		pr.state = StateCompleted
		toMark = append(toMark, pending{project: id, runID: pr.runID})
	}

	m.mu.Unlock()

	sort.Slice(toMark, func(i, j int) bool { return toMark[i].runID < toMark[j].runID })

	var errs []error

	for _, p := range toMark {
		if err := m.store.MarkRunComplete(ctx, p.runID); err != nil {
			errs = append(errs, fmt.Errorf("completing run %d of project %q: %w", p.runID, p.project, err))

			continue
		}

		m.log.WithFields(logrus.Fields{
			"project": p.project,
			"run_id":  p.runID,
		}).Info("Run completed")
	}

	return errors.Join(errs...)
}
