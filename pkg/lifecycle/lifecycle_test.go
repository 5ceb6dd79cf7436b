package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethpandaops/testoor/pkg/lifecycle"
	"github.com/ethpandaops/testoor/pkg/testctx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunStore struct {
	mu        sync.Mutex
	nextID    uint
	created   []string
	completed []uint
	createErr error
	// gate, when set, blocks CreateRun until closed.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeRunStore) CreateRun(_ context.Context, _, projectID string) (uint, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}

	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.created = append(f.created, projectID)

	if f.createErr != nil {
		return 0, f.createErr
	}

	f.nextID++

	return f.nextID, nil
}

func (f *fakeRunStore) MarkRunComplete(_ context.Context, runID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.completed = append(f.completed, runID)

	return nil
}

func newLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestManager_ConcurrentStartCreatesOneRun(t *testing.T) {
	fs := &fakeRunStore{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	m := lifecycle.NewManager(newLogger(), fs)
	project := testctx.Project{Name: "web", RootDir: "/repo"}
	ctx := context.Background()

	var winners atomic.Int32

	first := make(chan error, 1)

	go func() {
		won, err := m.Start(ctx, project)
		if won {
			winners.Add(1)
		}

		first <- err
	}()

	// The first start is now inside CreateRun.
	<-fs.entered
	assert.Equal(t, lifecycle.StateStarting, m.State("web"))

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			won, err := m.Start(ctx, project)
			assert.NoError(t, err)

			if won {
				winners.Add(1)
			}
		}()
	}

	wg.Wait()
	close(fs.gate)
	require.NoError(t, <-first)

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, []string{"web"}, fs.created)
	assert.Equal(t, lifecycle.StateStarted, m.State("web"))

	runID, err := m.RunID("web")
	require.NoError(t, err)
	assert.Equal(t, uint(1), runID)
}

func TestManager_RunIDBeforeStart(t *testing.T) {
	m := lifecycle.NewManager(newLogger(), &fakeRunStore{})

	_, err := m.RunID("nope")
	require.ErrorIs(t, err, lifecycle.ErrRunNotStarted)
	assert.Contains(t, err.Error(), "unstarted")
}

func TestManager_CreateRunFailureReverts(t *testing.T) {
	fs := &fakeRunStore{createErr: errors.New("disk full")}
	m := lifecycle.NewManager(newLogger(), fs)
	project := testctx.Project{Name: "web", RootDir: "/repo"}
	ctx := context.Background()

	won, err := m.Start(ctx, project)
	require.Error(t, err)
	assert.False(t, won)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, lifecycle.StateUnstarted, m.State("web"))

	// A later start retries.
	fs.createErr = nil

	won, err = m.Start(ctx, project)
	require.NoError(t, err)
	assert.True(t, won)
	assert.Len(t, fs.created, 2)
}

func TestManager_CompleteOncePerStartedProject(t *testing.T) {
	fs := &fakeRunStore{}
	m := lifecycle.NewManager(newLogger(), fs)
	ctx := context.Background()

	for _, p := range []testctx.Project{
		{Name: "web", RootDir: "/repo"},
		{Name: "api", RootDir: "/repo"},
	} {
		_, err := m.Start(ctx, p)
		require.NoError(t, err)
	}

	// A project that never reached Started.
	failing := &fakeRunStore{createErr: errors.New("boom")}
	other := lifecycle.NewManager(newLogger(), failing)
	_, err := other.Start(ctx, testctx.Project{Name: "never"})
	require.Error(t, err)
	require.NoError(t, other.Complete(ctx))
	assert.Empty(t, failing.completed)

	require.NoError(t, m.Complete(ctx))
	require.NoError(t, m.Complete(ctx))

	assert.Equal(t, []uint{1, 2}, fs.completed)
	assert.Equal(t, lifecycle.StateCompleted, m.State("web"))
	assert.Equal(t, lifecycle.StateCompleted, m.State("api"))

	_, err = m.RunID("web")
	assert.ErrorIs(t, err, lifecycle.ErrRunNotStarted)
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state lifecycle.State
		want  string
	}{
		{lifecycle.StateUnstarted, "unstarted"},
		{lifecycle.StateStarting, "starting"},
		{lifecycle.StateStarted, "started"},
		{lifecycle.StateCompleted, "completed"},
		{lifecycle.State(42), "state(42)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}
