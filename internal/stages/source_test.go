package stages

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/legacylens/internal/orchestrator"
)

func TestSourceLoader_File(t *testing.T) {
	data, err := NewSourceLoader(fixtureRoot).Load(context.Background(), fixtureTask("PAYROLL.cbl"))
	require.NoError(t, err)
	assert.Equal(t, "PAYROLL.cbl", data[orchestrator.KeySourceName])
	assert.Contains(t, data[orchestrator.KeySource], "PROGRAM-ID. PAYROLL.")
}

func TestSourceLoader_InlineWins(t *testing.T) {
	l := NewSourceLoader(fixtureRoot)
	tc := fixtureTask("PAYROLL.cbl")
	require.True(t, l.Put(tc.TaskID, []byte("inline")))
	data, err := l.Load(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, "inline", data[orchestrator.KeySource])

	l.Release(orchestrator.TaskRecord{Context: tc})
	data, err = l.Load(context.Background(), tc)
	require.NoError(t, err)
	assert.Contains(t, data[orchestrator.KeySource], "PROGRAM-ID. PAYROLL.")
}

func TestSourceLoader_InlineIsPerTask(t *testing.T) {
	l := NewSourceLoader(fixtureRoot)
	first := fixtureTask("PAYROLL.cbl")
	second := fixtureTask("PAYROLL.cbl")
	second.TaskID = "0b4f8a52-3d61-4f0e-8c8e-5a7d2f9c1e44"
	other := fixtureTask("PAYROLL.cbl")
	other.TaskID = "a3e9d7c4-1b2f-4e6a-9c0d-7f8e5b4a3c21"

	require.True(t, l.Put(first.TaskID, []byte("FIRST")))
	require.True(t, l.Put(second.TaskID, []byte("SECOND")))
	assert.False(t, l.Put(first.TaskID, []byte("THIRD")), "content of a registered task is never replaced")

	for id, want := range map[string]string{first.TaskID: "FIRST", second.TaskID: "SECOND"} {
		task := fixtureTask("PAYROLL.cbl")
		task.TaskID = id
		data, err := l.Load(context.Background(), task)
		require.NoError(t, err)
		assert.Equal(t, want, data[orchestrator.KeySource])
	}

	data, err := l.Load(context.Background(), other)
	require.NoError(t, err)
	assert.Contains(t, data[orchestrator.KeySource], "PROGRAM-ID. PAYROLL.", "tasks without inline content read the file")
}

func TestSourceLoader_SummaryTaskLoadsNothing(t *testing.T) {
	data, err := NewSourceLoader(fixtureRoot).Load(context.Background(), fixtureTask(""))
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestSourceLoader_Failures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BIG.cbl"), make([]byte, 64), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	l := NewSourceLoader(dir)
	l.MaxBytes = 32

	tests := []struct {
		name   string
		source string
	}{
		{"missing", "NOPE.cbl"},
		{"escapes root", "../outside.cbl"},
		{"directory", "sub"},
		{"too large", "BIG.cbl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Load(context.Background(), fixtureTask(tt.source))
			require.Error(t, err)
			pe := orchestrator.Classify("load", fixtureTask(tt.source), err)
			assert.False(t, pe.Recoverable, "retrying cannot fix %s", tt.name)
		})
	}
}
