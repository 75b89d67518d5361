package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// funcStage is a Stage whose behavior is supplied by the test.
type funcStage struct {
	name    string
	process func(ctx context.Context, tc TaskContext, data Data) (Data, error)
}

func (s *funcStage) Name() string { return s.name }

func (s *funcStage) Process(ctx context.Context, tc TaskContext, data Data) (Data, error) {
	return s.process(ctx, tc, data)
}

func (s *funcStage) HandleError(tc TaskContext, err error) *PipelineError {
	return Classify(s.name, tc, err)
}

// constStage returns a stage that outputs {key: value}.
func constStage(name, key string, value any) *funcStage {
	return &funcStage{name: name, process: func(context.Context, TaskContext, Data) (Data, error) {
		return Data{key: value}, nil
	}}
}

// memRecorder is an in-memory ResultRecorder that remembers call order.
type memRecorder struct {
	mu        sync.Mutex
	cached    map[string]Data
	calls     []string
	finals    map[string]*Outcome
	cacheErr  error
	finalized int
}

func newMemRecorder() *memRecorder {
	return &memRecorder{
		cached: make(map[string]Data),
		finals: make(map[string]*Outcome),
	}
}

func (r *memRecorder) CacheResult(_ context.Context, tc TaskContext, stage string, result Data) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cacheErr != nil {
		return r.cacheErr
	}
	key := fmt.Sprintf("%s/%d/%s", tc.TaskID, tc.Attempt(), stage)
	r.cached[key] = result
	r.calls = append(r.calls, "cache:"+stage)
	return nil
}

func (r *memRecorder) Finalize(_ context.Context, tc TaskContext, out *Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.finals[tc.TaskID]; ok {
		return &ConflictError{TaskID: tc.TaskID}
	}
	r.finals[tc.TaskID] = out
	r.finalized++
	return nil
}

func (r *memRecorder) final(id string) *Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finals[id]
}

// transientErr reports itself as recoverable.
type transientErr struct{ msg string }

func (e *transientErr) Error() string     { return e.msg }
func (e *transientErr) Recoverable() bool { return true }

var errBroken = errors.New("broken")

func newTask(p Priority) TaskContext {
	return TaskContext{
		SourceID:   "PAYROLL.cbl",
		Priority:   p,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
	}
}

func fastConfig(concurrency int) ManagerConfig {
	return ManagerConfig{
		MaxConcurrent: concurrency,
		BaseDelay:     time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		GracePeriod:   200 * time.Millisecond,
		HistoryLimit:  100,
	}
}

// startManager runs m in the background and stops it when the test ends.
func startManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("manager did not stop")
		}
	})
}

func await(t *testing.T, m *Manager, ids ...string) []TaskRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	recs, err := m.Await(ctx, ids...)
	require.NoError(t, err)
	return recs
}
