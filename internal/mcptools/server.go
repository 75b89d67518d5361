package mcptools

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/legacylens/internal/rpc"
)

// version is set by the linker at build time.
var version = "dev"

// NewServer creates an MCP server with the five task tools registered.
func NewServer(h rpc.Handler) *mcp.Server {
	svc := NewTaskService(h)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "legacylens",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "submit_task",
		Description: "Queue a COBOL, copybook, JCL or HLASM member for analysis. Parses the source, computes metrics, runs security rules, scores it against a benchmark profile and writes modernization notes. Returns the task id.",
	}, svc.SubmitTask)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_task_status",
		Description: "Get a task's status, current stage, attempt and failure history. With includeResult, a completed task also reports its grade, scores and security totals.",
	}, svc.GetTaskStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_tasks",
		Description: "List tasks in submission order, optionally filtered by status or source, one page at a time.",
	}, svc.ListTasks)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "request_summary",
		Description: "Aggregate completed analysis tasks into one report: quality and complexity statistics, grade distribution, vulnerability totals and complexity hotspots. Task ids without a result are listed as missing.",
	}, svc.RequestSummary)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "assess_impact",
		Description: "Compute which programs and jobs are affected by changing the given programs, following CALL, COPY and job step edges of the analyzed sources.",
	}, svc.AssessImpact)

	return server
}

// RunStdio serves the MCP tools on stdin/stdout until the client
// disconnects or ctx is cancelled.
func RunStdio(ctx context.Context, h rpc.Handler) error {
	return NewServer(h).Run(ctx, &mcp.StdioTransport{})
}

// NewHTTPHandler serves the MCP tools over the streamable HTTP transport.
func NewHTTPHandler(h rpc.Handler) http.Handler {
	server := NewServer(h)
	return mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)
}

// ListenAndServe exposes the MCP tools over HTTP on addr until ctx is
// cancelled.
func ListenAndServe(ctx context.Context, h rpc.Handler, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mcptools: listen %s: %w", addr, err)
	}
	httpServer := &http.Server{
		Handler:           NewHTTPHandler(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
