package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/legacylens/internal/app"
	"github.com/dusk-indust/legacylens/internal/config"
	"github.com/dusk-indust/legacylens/internal/export"
	"github.com/dusk-indust/legacylens/internal/rpc"
)

var fixtures = filepath.Join("..", "..", "testdata", "fixtures", "legacy")

// execute runs the CLI with args and returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "legacylens.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log:\n  level: error\n"), 0o644))

	var stdout, stderr bytes.Buffer
	cmd := rootCmd(newCLI(&stdout, &stderr))
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "legacylens dev"), out)
}

func TestAnalyze_Directory(t *testing.T) {
	out, err := execute(t, "analyze", fixtures)
	require.NoError(t, err)

	assert.Contains(t, out, "PAYROLL.cbl")
	assert.Contains(t, out, "NIGHTLY.jcl")
	assert.Equal(t, 5, strings.Count(out, "✓ COMPLETED"), out)
	assert.Contains(t, out, "Summary of 5 tasks")
}

func TestAnalyze_JSON(t *testing.T) {
	out, err := execute(t, "analyze", "--json", "--benchmark", "strict", filepath.Join(fixtures, "PAYROLL.cbl"))
	require.NoError(t, err)

	var report export.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Tasks, 1)
	assert.True(t, strings.HasSuffix(report.Tasks[0].SourceID, "PAYROLL.cbl"))
	assert.Equal(t, "cobol", report.Tasks[0].Language)
	assert.Equal(t, 2, report.Tasks[0].Vulnerabilities)
	require.NotNil(t, report.Summary)
	assert.Equal(t, 1, report.Summary.Included)
}

func TestAnalyze_NoSources(t *testing.T) {
	_, err := execute(t, "analyze", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no source files")
}

func TestAnalyze_BadPriority(t *testing.T) {
	_, err := execute(t, "analyze", "--priority", "urgent", filepath.Join(fixtures, "EMPREC.cpy"))
	require.Error(t, err)
}

func TestCollectSources(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"A.cbl", "notes.txt", ".git/B.cbl", "sub/C.JCL"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
	explicit := filepath.Join(dir, "notes.txt")

	got, err := collectSources([]string{dir, explicit}, []string{".cbl", ".jcl"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "A.cbl"),
		explicit,
		filepath.Join(dir, "sub", "C.JCL"),
	}, got)

	_, err = collectSources([]string{filepath.Join(dir, "missing")}, nil)
	assert.Error(t, err)
}

func TestReadSources_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "EMPTY.cbl")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err := readSources(context.Background(), []string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty file")
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mcp.json"),
		[]byte(`{"mcpServers":{"other":{"command":"other"}}}`), 0o644))

	out, err := execute(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "created ./legacylens.yaml")
	assert.Contains(t, out, "updated .mcp.json")

	cfg, err := config.LoadFromFile(filepath.Join(dir, config.ProjectConfigFile))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Defaults, cfg.Defaults)

	var mcp mcpConfig
	data, err := os.ReadFile(filepath.Join(dir, ".mcp.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &mcp))
	assert.Contains(t, mcp.MCPServers, "other")
	assert.Contains(t, mcp.MCPServers, "legacylens")

	out, err = execute(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "skipped ./legacylens.yaml")
	assert.Contains(t, out, "skipped .mcp.json legacylens entry")
}

func TestExport_RequiresData(t *testing.T) {
	_, err := execute(t, "export", "graph")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--from")
}

func TestExport_From(t *testing.T) {
	out, err := execute(t, "export", "graph", "--from", fixtures)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "graph LR"), out)
	assert.Contains(t, out, "-->|calls|")
	assert.Contains(t, out, "==>|runs|")

	out, err = execute(t, "export", "summary", "--from", filepath.Join(fixtures, "PAYROLL.cbl"))
	require.NoError(t, err)
	var report export.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Len(t, report.Tasks, 1)
}

// startServer runs an in-process server for the client commands.
func startServer(t *testing.T) (*app.App, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	a, err := app.New(ctx, config.DefaultConfig(), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Go(func() { _ = a.Run(ctx) })
	srv := httptest.NewServer(rpc.NewServer(a.Service, a.Manager).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		wg.Wait()
		a.Close()
	})
	return a, srv.URL
}

func TestRemoteCommands(t *testing.T) {
	a, url := startServer(t)

	out, err := execute(t, "--server", url, "submit", "--inline", filepath.Join(fixtures, "PAYROLL.cbl"))
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = a.Manager.Await(ctx, id)
	require.NoError(t, err)

	out, err = execute(t, "--server", url, "status")
	require.NoError(t, err)
	assert.Contains(t, out, id[:8])
	assert.Contains(t, out, "COMPLETED")

	out, err = execute(t, "--server", url, "status", "--json", id)
	require.NoError(t, err)
	var view rpc.TaskView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, id, view.Task.ID())
	require.NotNil(t, view.Result)

	out, err = execute(t, "--server", url, "summary", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Summary of 1 tasks")

	out, err = execute(t, "--server", url, "impact", "dateutil")
	require.NoError(t, err)
	assert.Contains(t, out, "PAYROLL")

	_, err = execute(t, "--server", url, "status", "--status", "bogus")
	assert.Error(t, err)
}

func TestSubmit_Follow(t *testing.T) {
	_, url := startServer(t)

	out, err := execute(t, "--server", url, "submit", "--inline", "--follow", filepath.Join(fixtures, "EMPREC.cpy"))
	require.NoError(t, err)
	assert.Contains(t, out, "COMPLETED")
}

func TestSubmit_UnknownSource(t *testing.T) {
	_, url := startServer(t)

	_, err := execute(t, "--server", url, "submit", "--follow", "NOPE.cbl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FAILED")
}
