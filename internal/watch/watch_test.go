package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/legacylens/internal/orchestrator"
	"github.com/dusk-indust/legacylens/internal/rpc"
)

type recordingSubmitter struct {
	mu   sync.Mutex
	reqs []rpc.SubmitTaskRequest
}

func (r *recordingSubmitter) SubmitTask(_ context.Context, req rpc.SubmitTaskRequest) (*rpc.SubmitTaskResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return &rpc.SubmitTaskResponse{TaskID: "t", Status: orchestrator.StatusPending}, nil
}

func (r *recordingSubmitter) sourceIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.reqs))
	for i, req := range r.reqs {
		ids[i] = req.SourceID
	}
	return ids
}

func startWatcher(t *testing.T, root string, opts Options) *recordingSubmitter {
	t.Helper()
	sub := &recordingSubmitter{}
	opts.Root = root
	if opts.Debounce == 0 {
		opts.Debounce = 50 * time.Millisecond
	}
	w, err := New(sub, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	// Give the watcher time to register the directories.
	time.Sleep(100 * time.Millisecond)
	return sub
}

func TestWatcher_SubmitsChangedSources(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "batch"), 0o755))
	sub := startWatcher(t, root, Options{Extensions: []string{".cbl", ".jcl"}})

	require.NoError(t, os.WriteFile(filepath.Join(root, "batch", "NIGHTLY.JCL"), []byte("//NIGHTLY JOB\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0o644))

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"batch/NIGHTLY.JCL"}, sub.sourceIDs())
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_DebouncesRepeatedWrites(t *testing.T) {
	root := t.TempDir()
	sub := startWatcher(t, root, Options{Debounce: 200 * time.Millisecond})

	path := filepath.Join(root, "PAYROLL.cbl")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("       PROGRAM-ID. PAYROLL.\n"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return len(sub.sourceIDs()) == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, []string{"PAYROLL.cbl"}, sub.sourceIDs())
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	sub := startWatcher(t, root, Options{})

	dir := filepath.Join(root, "copybooks")
	require.NoError(t, os.Mkdir(dir, 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "EMPREC.cpy"), []byte("       01  EMP-REC.\n"), 0o644))

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"copybooks/EMPREC.cpy"}, sub.sourceIDs())
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_Filters(t *testing.T) {
	w, err := New(&recordingSubmitter{}, Options{Extensions: []string{".CBL"}})
	require.NoError(t, err)

	assert.True(t, w.accepts("/src/payroll.cbl"))
	assert.False(t, w.accepts("/src/payroll.jcl"))
	assert.True(t, w.ignored("/src/.git"))
	assert.True(t, w.ignored("/src/PAYROLL.cbl~"))
	assert.False(t, w.ignored("/src/PAYROLL.cbl"))
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w, err := New(&recordingSubmitter{}, Options{Root: t.TempDir(), Dirs: []string{filepath.Join(t.TempDir(), "absent")}})
	require.NoError(t, err)
	assert.Error(t, w.Run(context.Background()))
}
