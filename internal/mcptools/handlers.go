package mcptools

import (
	"cmp"
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/legacylens/internal/orchestrator"
	"github.com/dusk-indust/legacylens/internal/rpc"
)

// TaskService adapts an rpc.Handler to MCP tool handlers. Handler errors
// are reported to the client as tool errors.
type TaskService struct {
	handler rpc.Handler
}

// NewTaskService creates a TaskService over h, either an in-process
// rpc.Service or an rpc.HTTPClient pointing at a running server.
func NewTaskService(h rpc.Handler) *TaskService {
	return &TaskService{handler: h}
}

// SubmitTask queues a source member for analysis.
func (s *TaskService) SubmitTask(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SubmitTaskInput,
) (*mcp.CallToolResult, SubmitTaskOutput, error) {
	resp, err := s.handler.SubmitTask(ctx, rpc.SubmitTaskRequest{
		SourceID:       input.SourceID,
		Content:        input.Content,
		Language:       input.Language,
		Benchmark:      input.Benchmark,
		Priority:       input.Priority,
		TimeoutSeconds: input.TimeoutSeconds,
		MaxRetries:     input.MaxRetries,
	})
	if err != nil {
		return nil, SubmitTaskOutput{}, err
	}
	return nil, SubmitTaskOutput{TaskID: resp.TaskID, Status: string(resp.Status)}, nil
}

// GetTaskStatus reports a task's lifecycle state and, on request, the
// headline figures of its result.
func (s *TaskService) GetTaskStatus(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetTaskStatusInput,
) (*mcp.CallToolResult, TaskStatusOutput, error) {
	if input.TaskID == "" {
		return nil, TaskStatusOutput{}, fmt.Errorf("taskId is required")
	}
	view, err := s.handler.GetTask(ctx, rpc.GetTaskRequest{TaskID: input.TaskID, IncludeResult: input.IncludeResult})
	if err != nil {
		return nil, TaskStatusOutput{}, err
	}

	rec := view.Task
	out := TaskStatusOutput{
		TaskID:      rec.ID(),
		SourceID:    rec.Context.SourceID,
		Status:      string(rec.Status),
		Stage:       rec.Stage,
		Priority:    rec.Context.Priority.String(),
		Attempt:     rec.Context.Attempt(),
		SubmittedAt: rec.SubmittedAt.Format(time.RFC3339),
		Degraded:    rec.Degraded,
	}
	if !rec.FinishedAt.IsZero() {
		out.FinishedAt = rec.FinishedAt.Format(time.RFC3339)
	}
	if rec.Failure != nil {
		out.Failure = formatFailure(*rec.Failure)
	}
	for _, f := range rec.Errors {
		out.Errors = append(out.Errors, formatFailure(f))
	}
	if r := view.Result; r != nil {
		out.Language = r.Language
		out.Grade = r.Grade
		out.Scores = r.Scores
		if r.Security != nil {
			out.RiskLevel = r.Security.RiskLevel
			out.Vulnerabilities = r.Security.VulnerabilityCount
		}
	}
	return nil, out, nil
}

// ListTasks pages through tasks, optionally filtered.
func (s *TaskService) ListTasks(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ListTasksInput,
) (*mcp.CallToolResult, ListTasksOutput, error) {
	filter := orchestrator.ListFilter{
		SourceID:  input.SourceID,
		PageSize:  input.PageSize,
		PageToken: input.PageToken,
	}
	if input.Status != "" {
		st, err := orchestrator.ParseStatus(input.Status)
		if err != nil {
			return nil, ListTasksOutput{}, err
		}
		filter.Status = st
	}
	page, err := s.handler.ListTasks(ctx, filter)
	if err != nil {
		return nil, ListTasksOutput{}, err
	}

	out := ListTasksOutput{
		Tasks:         make([]TaskSummary, 0, len(page.Tasks)),
		TotalSize:     page.TotalSize,
		NextPageToken: page.NextPageToken,
	}
	for _, rec := range page.Tasks {
		out.Tasks = append(out.Tasks, TaskSummary{
			TaskID:   rec.ID(),
			SourceID: rec.Context.SourceID,
			Status:   string(rec.Status),
			Stage:    rec.Stage,
			Priority: rec.Context.Priority.String(),
			Attempt:  rec.Context.Attempt(),
		})
	}
	return nil, out, nil
}

// RequestSummary submits a summary task over finished analysis tasks.
func (s *TaskService) RequestSummary(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input RequestSummaryInput,
) (*mcp.CallToolResult, RequestSummaryOutput, error) {
	resp, err := s.handler.RequestSummary(ctx, rpc.SummaryRequest{
		TaskIDs:  input.TaskIDs,
		Priority: input.Priority,
		Wait:     input.Wait,
	})
	if err != nil {
		return nil, RequestSummaryOutput{}, err
	}
	out := RequestSummaryOutput{TaskID: resp.TaskID, Status: string(resp.Status)}
	if sum := resp.Summary; sum != nil {
		out.Included = sum.Included
		out.Missing = sum.Missing
		out.Vulnerabilities = sum.Vulnerabilities
		out.Grades = sum.Grades
		out.Languages = sum.Languages
		for _, h := range sum.Hotspots {
			out.Hotspots = append(out.Hotspots, fmt.Sprintf("%s (complexity %.0f)", cmp.Or(h.SourceID, h.TaskID), h.Complexity))
		}
	}
	return nil, out, nil
}

// AssessImpact reports which programs are affected by changing the given
// ones.
func (s *TaskService) AssessImpact(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AssessImpactInput,
) (*mcp.CallToolResult, AssessImpactOutput, error) {
	impact, err := s.handler.AssessImpact(ctx, rpc.ImpactRequest{Programs: input.Programs})
	if err != nil {
		return nil, AssessImpactOutput{}, err
	}
	out := *impact
	for _, p := range []*[]string{&out.Changed, &out.DirectlyAffected, &out.TransitivelyAffected} {
		if *p == nil {
			*p = []string{}
		}
	}
	return nil, AssessImpactOutput{Impact: out}, nil
}

func formatFailure(f orchestrator.Failure) string {
	if f.Stage == "" {
		return fmt.Sprintf("attempt %d: %s", f.Attempt, f.Message)
	}
	return fmt.Sprintf("attempt %d: %s: %s", f.Attempt, f.Stage, f.Message)
}
