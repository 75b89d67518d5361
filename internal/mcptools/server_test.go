package mcptools

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/legacylens/internal/app"
	"github.com/dusk-indust/legacylens/internal/config"
	"github.com/dusk-indust/legacylens/internal/orchestrator"
)

// setupServerClient runs a legacylens instance and connects an MCP client
// to its tools over in-memory transports.
func setupServerClient(t *testing.T) (*mcp.ClientSession, *app.App) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Sources.Root = "../../testdata/fixtures/legacy"
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(runCtx) }()

	server := NewServer(a.Service)
	st, ct := mcp.NewInMemoryTransports()

	ctx := context.Background()
	_, err = server.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		session.Close()
		cancel()
		require.NoError(t, <-done)
		require.NoError(t, a.Close())
	})
	return session, a
}

func callTool[Out any](t *testing.T, session *mcp.ClientSession, name string, args any) Out {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.False(t, result.IsError, "%s returned a tool error: %+v", name, result.Content)
	require.NotNil(t, result.StructuredContent)

	raw, err := json.Marshal(result.StructuredContent)
	require.NoError(t, err)
	var out Out
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestMCPListTools(t *testing.T) {
	session, _ := setupServerClient(t)

	result, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	sort.Strings(names)
	assert.Equal(t, []string{"assess_impact", "get_task_status", "list_tasks", "request_summary", "submit_task"}, names)
}

func TestMCPAnalyzeAndSummarize(t *testing.T) {
	session, a := setupServerClient(t)

	sub := callTool[SubmitTaskOutput](t, session, "submit_task", SubmitTaskInput{SourceID: "PAYROLL.cbl"})
	require.NotEmpty(t, sub.TaskID)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	_, err := a.Manager.Await(ctx, sub.TaskID)
	require.NoError(t, err)

	status := callTool[TaskStatusOutput](t, session, "get_task_status", GetTaskStatusInput{TaskID: sub.TaskID, IncludeResult: true})
	assert.Equal(t, string(orchestrator.StatusCompleted), status.Status)
	assert.Equal(t, "cobol", status.Language)
	assert.NotEmpty(t, status.Grade)
	assert.Equal(t, 2, status.Vulnerabilities)

	list := callTool[ListTasksOutput](t, session, "list_tasks", ListTasksInput{Status: "completed"})
	assert.Equal(t, 1, list.TotalSize)

	sum := callTool[RequestSummaryOutput](t, session, "request_summary", RequestSummaryInput{TaskIDs: []string{sub.TaskID}, Wait: true})
	assert.Equal(t, string(orchestrator.StatusCompleted), sum.Status)
	assert.Equal(t, 1, sum.Included)
	assert.Equal(t, 2, sum.Vulnerabilities)

	impact := callTool[AssessImpactOutput](t, session, "assess_impact", AssessImpactInput{Programs: []string{"DATEUTIL"}})
	assert.Equal(t, []string{"PAYROLL"}, impact.Impact.DirectlyAffected)
}

func TestMCPToolError(t *testing.T) {
	session, _ := setupServerClient(t)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "get_task_status",
		Arguments: GetTaskStatusInput{TaskID: "no-such-task"},
	})
	require.NoError(t, err)
	assert.True(t, result.IsError, "an unknown task should be reported as a tool error")
}

func TestMCPStreamableHTTP(t *testing.T) {
	_, a := setupServerClient(t)
	srv := httptest.NewServer(NewHTTPHandler(a.Service))
	defer srv.Close()

	ctx := context.Background()
	client := mcp.NewClient(&mcp.Implementation{Name: "http-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: srv.URL}, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, tools.Tools, 5)
}
