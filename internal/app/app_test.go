package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/legacylens/internal/config"
	"github.com/dusk-indust/legacylens/internal/orchestrator"
	"github.com/dusk-indust/legacylens/internal/rpc"
	"github.com/dusk-indust/legacylens/internal/stages"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Sources.Root = "../../testdata/fixtures/legacy"
	cfg.Manager.BaseDelay = time.Millisecond
	cfg.Manager.MaxDelay = 10 * time.Millisecond
	cfg.Benchmark.Default = "strict"
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		require.NoError(t, a.Close())
	})
	return a
}

func TestApp_AnalyzesThroughService(t *testing.T) {
	a := startApp(t, testConfig())
	ctx := context.Background()

	resp, err := a.Service.SubmitTask(ctx, rpc.SubmitTaskRequest{SourceID: "PAYROLL.cbl"})
	require.NoError(t, err)

	awaitCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	recs, err := a.Manager.Await(awaitCtx, resp.TaskID)
	require.NoError(t, err)
	require.Equal(t, orchestrator.StatusCompleted, recs[0].Status, "%+v", recs[0].Failure)

	rec := recs[0]
	assert.Equal(t, orchestrator.PriorityMedium, rec.Context.Priority)
	assert.Equal(t, 5*time.Minute, rec.Context.Timeout)
	assert.Equal(t, 3, rec.Context.MaxRetries)
	assert.Equal(t, "strict", rec.Context.Meta(stages.MetaBenchmark, ""))

	view, err := a.Service.GetTask(ctx, rpc.GetTaskRequest{TaskID: resp.TaskID, IncludeResult: true})
	require.NoError(t, err)
	require.NotNil(t, view.Result)
	assert.Equal(t, "cobol", view.Result.Language)

	node, err := a.Graph.GetProgram(ctx, "PAYROLL")
	require.NoError(t, err)
	assert.Equal(t, "PAYROLL.cbl", node.Path)
}

func TestApp_TaskDefaults(t *testing.T) {
	a, err := New(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	defer a.Close()

	tc, err := a.TaskDefaults(orchestrator.TaskContext{SourceID: "X.cbl", Metadata: map[string]string{stages.MetaBenchmark: "legacy"}})
	require.NoError(t, err)
	assert.Equal(t, "legacy", tc.Metadata[stages.MetaBenchmark])

	tc, err = a.TaskDefaults(orchestrator.TaskContext{Priority: orchestrator.PriorityHigh})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.PriorityHigh, tc.Priority)
	assert.Empty(t, tc.Meta(stages.MetaBenchmark, ""), "summary tasks carry no profile")

	_, err = a.TaskDefaults(orchestrator.TaskContext{SourceID: "X.cbl", Metadata: map[string]string{stages.MetaBenchmark: "bogus"}})
	var verr *orchestrator.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "benchmark", verr.Field)
	assert.Contains(t, verr.Reason, `"bogus"`)
}

func TestApp_UnknownBenchmarkRejectedAtSubmit(t *testing.T) {
	a, err := New(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Service.SubmitTask(context.Background(), rpc.SubmitTaskRequest{SourceID: "PAYROLL.cbl", Benchmark: "bogus"})
	var verr *orchestrator.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "benchmark", verr.Field)

	page, err := a.Manager.ListTasks(orchestrator.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, page.Tasks, "rejected submissions are never queued")
}

func TestNew_Errors(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown stage policy", func(c *config.Config) { c.Stages = map[string]string{"linting": "critical"} }},
		{"unknown store backend", func(c *config.Config) { c.Store.Backend = "redis" }},
		{"unknown graph backend", func(c *config.Config) { c.Graph.Backend = "neo4j" }},
		{"openai without key", func(c *config.Config) { c.Enhancer.Provider = "openai" }},
		{"weaviate without host", func(c *config.Config) { c.Enhancer.Retriever.Provider = "weaviate" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			a, err := New(context.Background(), cfg, nil)
			assert.Error(t, err)
			assert.Nil(t, a)
		})
	}
}
