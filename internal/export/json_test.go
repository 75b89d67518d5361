package export

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/legacylens/internal/app"
	"github.com/dusk-indust/legacylens/internal/config"
	"github.com/dusk-indust/legacylens/internal/orchestrator"
	"github.com/dusk-indust/legacylens/internal/stages"
)

func analyzeFixtures(t *testing.T, sources ...string) (*app.App, []string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Sources.Root = "../../testdata/fixtures/legacy"
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		require.NoError(t, a.Close())
	})

	var ids []string
	for _, src := range sources {
		tc, err := a.TaskDefaults(orchestrator.TaskContext{SourceID: src})
		require.NoError(t, err)
		id, err := a.Manager.SubmitTask(tc)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	awaitCtx, awaitCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer awaitCancel()
	recs, err := a.Manager.Await(awaitCtx, ids...)
	require.NoError(t, err)
	for _, rec := range recs {
		require.Equal(t, orchestrator.StatusCompleted, rec.Status, "%+v", rec.Failure)
	}
	return a, ids
}

func TestBuildReport(t *testing.T) {
	a, ids := analyzeFixtures(t, "PAYROLL.cbl", "NIGHTLY.jcl")
	ctx := context.Background()

	// A summary task's own result is not part of an export.
	summaryID, err := a.Manager.SubmitTask(orchestrator.TaskContext{
		Priority: orchestrator.PriorityHigh,
		Timeout:  time.Minute,
		Metadata: map[string]string{stages.MetaTaskIDs: stages.JoinTaskIDs(ids)},
	})
	require.NoError(t, err)
	awaitCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	_, err = a.Manager.Await(awaitCtx, summaryID)
	require.NoError(t, err)

	report, err := BuildReport(ctx, a.Results, nil)
	require.NoError(t, err)
	require.Len(t, report.Tasks, 2)
	assert.Equal(t, 2, report.Summary.Included)
	assert.Empty(t, report.Summary.Missing)

	bySource := map[string]TaskExport{}
	for _, te := range report.Tasks {
		bySource[te.SourceID] = te
	}
	assert.Equal(t, "cobol", bySource["PAYROLL.cbl"].Language)
	assert.Equal(t, 2, bySource["PAYROLL.cbl"].Vulnerabilities)
	assert.Equal(t, "critical", bySource["NIGHTLY.jcl"].RiskLevel)
	assert.NotEmpty(t, bySource["NIGHTLY.jcl"].Recommendations)

	selected, err := BuildReport(ctx, a.Results, []string{ids[0], "unknown-task"})
	require.NoError(t, err)
	require.Len(t, selected.Tasks, 1)
	assert.Equal(t, []string{"unknown-task"}, selected.Summary.Missing)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, selected))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "summary")
	assert.Contains(t, buf.String(), "\n  \"tasks\": [")
}

func TestGenerateCallGraph_FromAnalysis(t *testing.T) {
	a, _ := analyzeFixtures(t, "PAYROLL.cbl", "NIGHTLY.jcl", "EMPREC.cpy")

	out, err := GenerateCallGraph(context.Background(), a.Graph)
	require.NoError(t, err)
	assert.Contains(t, out, `["PAYROLL"]`)
	assert.Contains(t, out, `["DATEUTIL"]`)
	assert.Contains(t, out, "==>|runs|")
	assert.Contains(t, out, "-.->|copies|")
}
