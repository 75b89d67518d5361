package rpc

import (
	"github.com/dusk-indust/legacylens/internal/graph"
	"github.com/dusk-indust/legacylens/internal/orchestrator"
	"github.com/dusk-indust/legacylens/internal/results"
)

// SubmitTaskRequest is the params object of tasks/submit.
type SubmitTaskRequest struct {
	// SourceID names the member to analyze, relative to the source root.
	SourceID string `json:"sourceId"`
	// Content, when set, is analyzed instead of reading SourceID.
	Content string `json:"content,omitempty"`
	// Language overrides detection: cobol, copybook, jcl or assembler.
	Language string `json:"language,omitempty"`
	// Benchmark names the benchmark profile.
	Benchmark      string            `json:"benchmark,omitempty"`
	Priority       string            `json:"priority,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`
	MaxRetries     *int              `json:"maxRetries,omitempty"`
	TaskID         string            `json:"taskId,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// SubmitTaskResponse is the result of tasks/submit.
type SubmitTaskResponse struct {
	TaskID string              `json:"taskId"`
	Status orchestrator.Status `json:"status"`
}

// GetTaskRequest is the params object of tasks/get.
type GetTaskRequest struct {
	TaskID string `json:"taskId"`
	// IncludeResult attaches the finalized result of completed tasks.
	IncludeResult bool `json:"includeResult,omitempty"`
}

// TaskView is a task record with its optional final result.
type TaskView struct {
	Task   orchestrator.TaskRecord `json:"task"`
	Result *results.FinalResult    `json:"result,omitempty"`
}

// ListTasksRequest is the params object of tasks/list.
type ListTasksRequest = orchestrator.ListFilter

// SummaryRequest is the params object of summary/request.
type SummaryRequest struct {
	TaskIDs  []string `json:"taskIds"`
	Priority string   `json:"priority,omitempty"`
	// Wait blocks until the summary task is terminal and returns the
	// summary with the response.
	Wait bool `json:"wait,omitempty"`
}

// SummaryResponse is the result of summary/request.
type SummaryResponse struct {
	TaskID  string                 `json:"taskId"`
	Status  orchestrator.Status    `json:"status"`
	Summary *results.SummaryResult `json:"summary,omitempty"`
}

// ImpactRequest is the params object of graph/impact.
type ImpactRequest struct {
	Programs []string `json:"programs"`
}

// ImpactResponse is the result of graph/impact.
type ImpactResponse = graph.ImpactResult
