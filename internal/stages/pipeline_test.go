package stages

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/legacylens/internal/graph"
	"github.com/dusk-indust/legacylens/internal/orchestrator"
	"github.com/dusk-indust/legacylens/internal/results"
)

type harness struct {
	manager *orchestrator.Manager
	results *results.Manager
	loader  *SourceLoader
	graph   *graph.MemStore
}

func newHarness(t *testing.T, deps Deps) *harness {
	t.Helper()
	h := &harness{
		results: results.NewManager(results.NewMemoryStore()),
		loader:  NewSourceLoader(fixtureRoot),
		graph:   graph.NewMemStore(),
	}
	deps.Recorder = h.results
	deps.Summaries = h.results
	deps.Graph = h.graph
	build, err := Build(deps, nil)
	require.NoError(t, err)

	h.manager = orchestrator.NewManager(orchestrator.ManagerConfig{
		MaxConcurrent: 2,
		BaseDelay:     time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		GracePeriod:   200 * time.Millisecond,
		HistoryLimit:  100,
	}, build, h.results,
		orchestrator.WithLoader(h.loader.Load),
		orchestrator.WithFinishHook(h.loader.Release),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.manager.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("manager did not stop")
		}
	})
	return h
}

func (h *harness) submit(t *testing.T, tc orchestrator.TaskContext) string {
	t.Helper()
	if tc.Priority == 0 {
		tc.Priority = orchestrator.PriorityMedium
	}
	if tc.Timeout == 0 {
		tc.Timeout = 30 * time.Second
	}
	id, err := h.manager.SubmitTask(tc)
	require.NoError(t, err)
	return id
}

func (h *harness) await(t *testing.T, ids ...string) []orchestrator.TaskRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	recs, err := h.manager.Await(ctx, ids...)
	require.NoError(t, err)
	return recs
}

func TestPipeline_AnalyzesAndSummarizes(t *testing.T) {
	h := newHarness(t, Deps{})
	ctx := context.Background()

	payroll := h.submit(t, orchestrator.TaskContext{SourceID: "PAYROLL.cbl", MaxRetries: 1})
	custupd := h.submit(t, orchestrator.TaskContext{SourceID: "CUSTUPD.cbl", MaxRetries: 1})
	for _, rec := range h.await(t, payroll, custupd) {
		require.Equal(t, orchestrator.StatusCompleted, rec.Status, "%+v", rec.Failure)
		assert.Empty(t, rec.Degraded)
	}

	final, err := h.results.FinalResult(ctx, payroll)
	require.NoError(t, err)
	assert.Equal(t, "cobol", final.Language)
	assert.Contains(t, []string{"A", "B", "C", "D", "E"}, final.Grade)
	require.NotNil(t, final.Security)
	assert.Equal(t, 2, final.Security.VulnerabilityCount)
	assert.Equal(t, "high", final.Security.RiskLevel)
	assert.Equal(t, 4.0, final.Metrics["cyclomatic_complexity"])
	assert.Equal(t, 2.0, final.Metrics["perform_depth"])
	assert.True(t, final.Data.Has(orchestrator.KeyEnhancement))
	assert.False(t, final.Data.Has(orchestrator.KeySource), "source text is not stored")

	cached, err := h.results.StageResults(ctx, payroll, 1)
	require.NoError(t, err)
	assert.Len(t, cached, 5)

	node, err := h.graph.GetProgram(ctx, "PAYROLL")
	require.NoError(t, err)
	assert.Equal(t, "PAYROLL.cbl", node.Path)

	summaryID := h.submit(t, orchestrator.TaskContext{
		Priority: orchestrator.PriorityHigh,
		Metadata: map[string]string{MetaTaskIDs: JoinTaskIDs([]string{payroll, custupd, "not-a-task"})},
	})
	rec := h.await(t, summaryID)[0]
	require.Equal(t, orchestrator.StatusCompleted, rec.Status, "%+v", rec.Failure)

	sfinal, err := h.results.FinalResult(ctx, summaryID)
	require.NoError(t, err)
	sum, err := orchestrator.Value[results.SummaryResult](sfinal.Data, orchestrator.KeySummary)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Included)
	assert.Equal(t, []string{"not-a-task"}, sum.Missing)
	assert.Equal(t, 5, sum.Vulnerabilities)
	assert.Equal(t, 2, sum.Languages["cobol"])
	assert.Equal(t, 2, sum.RiskLevels["high"])
}

func TestPipeline_EnhancementFailureDegrades(t *testing.T) {
	h := newHarness(t, Deps{Enhancer: failingEnhancer{}})

	id := h.submit(t, orchestrator.TaskContext{SourceID: "NIGHTLY.jcl", MaxRetries: 2})
	rec := h.await(t, id)[0]
	require.Equal(t, orchestrator.StatusCompleted, rec.Status)
	assert.Equal(t, []string{orchestrator.StageEnhancement}, rec.Degraded)
	assert.Zero(t, rec.Context.RetryCount, "best-effort failures are not retried")

	final, err := h.results.FinalResult(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "jcl", final.Language)
	assert.Equal(t, []string{orchestrator.StageEnhancement}, final.Degraded)
	assert.Equal(t, "critical", final.Security.RiskLevel)
}

func TestPipeline_ParseErrorFailsWithoutRetry(t *testing.T) {
	h := newHarness(t, Deps{})
	tc := orchestrator.TaskContext{TaskID: uuid.NewString(), SourceID: "BROKEN.cbl", MaxRetries: 3}
	h.loader.Put(tc.TaskID, []byte("       IDENTIFICATION DIVISION.\n       PROGRAM-ID. BROKEN.\n"))

	id := h.submit(t, tc)
	rec := h.await(t, id)[0]
	require.Equal(t, orchestrator.StatusFailed, rec.Status)
	require.NotNil(t, rec.Failure)
	assert.Equal(t, orchestrator.StageASTParsing, rec.Failure.Stage)
	assert.False(t, rec.Failure.Recoverable)
	assert.Zero(t, rec.Context.RetryCount)

	_, err := h.results.FinalResult(context.Background(), id)
	var nf *orchestrator.NotFoundError
	assert.ErrorAs(t, err, &nf, "failed tasks are not finalized")

	h.loader.mu.RLock()
	defer h.loader.mu.RUnlock()
	assert.NotContains(t, h.loader.inline, id, "inline content is released once the task is terminal")
}

func TestPipeline_MissingSourceFails(t *testing.T) {
	h := newHarness(t, Deps{})

	id := h.submit(t, orchestrator.TaskContext{SourceID: "MISSING.cbl", MaxRetries: 3})
	rec := h.await(t, id)[0]
	require.Equal(t, orchestrator.StatusFailed, rec.Status)
	assert.Zero(t, rec.Context.RetryCount)
}

func TestPipeline_SummaryWithoutIDs(t *testing.T) {
	h := newHarness(t, Deps{})

	rec := h.await(t, h.submit(t, orchestrator.TaskContext{}))[0]
	require.Equal(t, orchestrator.StatusFailed, rec.Status)
	assert.Equal(t, orchestrator.StageSummary, rec.Failure.Stage)
}

func TestBuild(t *testing.T) {
	_, err := Build(Deps{}, Policies{"formatting": orchestrator.PolicyBestEffort})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "formatting")

	build, err := Build(Deps{}, Policies{orchestrator.StageSecurity: orchestrator.PolicyBestEffort})
	require.NoError(t, err)

	p, err := build(orchestrator.TaskContext{SourceID: "X.cbl"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		orchestrator.StageASTParsing,
		orchestrator.StageMetrics,
		orchestrator.StageSecurity,
		orchestrator.StageBenchmark,
		orchestrator.StageEnhancement,
	}, p.Stages())

	p, err = build(orchestrator.TaskContext{})
	require.NoError(t, err)
	assert.Equal(t, []string{orchestrator.StageSummary}, p.Stages())
}

func TestTaskIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, TaskIDs(" a, b\nc ,"))
	assert.Empty(t, TaskIDs(" , "))
	assert.Equal(t, "a,b", JoinTaskIDs([]string{"a", "b"}))
}
