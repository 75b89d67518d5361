//go:build e2e

package e2e

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/legacylens/internal/export"
	"github.com/dusk-indust/legacylens/internal/results"
)

var update = flag.Bool("update", false, "update golden files")

// goldenDir returns the path to the testdata/golden directory.
func goldenDir() string {
	return filepath.Join("..", "..", "testdata", "golden")
}

// goldenDiagrams renders the Mermaid exports of the analyzed fixtures,
// keyed by golden file name.
func goldenDiagrams(t *testing.T) map[string]string {
	t.Helper()
	a, _ := runFixtures(t, e2eConfig(t, results.BackendMemory))
	defer a.Close()
	ctx := context.Background()

	callGraph, err := export.GenerateCallGraph(ctx, a.Graph)
	require.NoError(t, err)
	flow, err := export.GenerateParagraphFlow(ctx, a.Graph, "PAYROLL")
	require.NoError(t, err)
	return map[string]string{
		"callgraph.mmd":    callGraph,
		"payroll_flow.mmd": flow,
	}
}

// TestGolden compares the Mermaid exports against golden files. If golden
// files do not exist, the test is skipped with a message to run with -update.
func TestGolden(t *testing.T) {
	diagrams := goldenDiagrams(t)
	for name, actual := range diagrams {
		t.Run(name, func(t *testing.T) {
			golden, err := os.ReadFile(filepath.Join(goldenDir(), name))
			if os.IsNotExist(err) {
				t.Skipf("golden file %s not found; run with -update to generate", name)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, string(golden), actual, "%s does not match golden file", name)
		})
	}
}

// TestUpdateGolden regenerates golden files from the current exports.
// Run with: go test -tags e2e -run TestUpdateGolden ./internal/e2e/ -update
func TestUpdateGolden(t *testing.T) {
	if !*update {
		t.Skip("skipping golden file update; run with -update flag")
	}

	require.NoError(t, os.MkdirAll(goldenDir(), 0o755))
	for name, data := range goldenDiagrams(t) {
		require.NoError(t, os.WriteFile(filepath.Join(goldenDir(), name), []byte(data), 0o644))
		t.Logf("updated %s", name)
	}
}
