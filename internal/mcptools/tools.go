package mcptools

import "github.com/dusk-indust/legacylens/internal/graph"

// --- MCP Tool Input/Output Types ---
// The MCP Go SDK derives each tool's JSON schema from these structs.
// Fields without omitempty are required.

// SubmitTaskInput is the input for the submit_task MCP tool.
type SubmitTaskInput struct {
	SourceID       string `json:"sourceId" jsonschema:"source member to analyze, a path relative to the server's source root"`
	Content        string `json:"content,omitempty" jsonschema:"inline source text; when set it is analyzed instead of the file"`
	Language       string `json:"language,omitempty" jsonschema:"cobol, copybook, jcl or assembler (default: detected)"`
	Benchmark      string `json:"benchmark,omitempty" jsonschema:"benchmark profile: industry, strict or legacy"`
	Priority       string `json:"priority,omitempty" jsonschema:"HIGH, MEDIUM or LOW"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty" jsonschema:"wall-clock limit for one attempt"`
	MaxRetries     *int   `json:"maxRetries,omitempty" jsonschema:"retries after recoverable failures"`
}

// SubmitTaskOutput is the result of the submit_task MCP tool.
type SubmitTaskOutput struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

// GetTaskStatusInput is the input for the get_task_status MCP tool.
type GetTaskStatusInput struct {
	TaskID        string `json:"taskId" jsonschema:"task identifier returned by submit_task"`
	IncludeResult bool   `json:"includeResult,omitempty" jsonschema:"attach grade, scores and security totals of a completed task"`
}

// TaskStatusOutput is the result of the get_task_status MCP tool.
type TaskStatusOutput struct {
	TaskID          string             `json:"taskId"`
	SourceID        string             `json:"sourceId,omitempty"`
	Status          string             `json:"status"`
	Stage           string             `json:"stage,omitempty"`
	Priority        string             `json:"priority"`
	Attempt         int                `json:"attempt"`
	SubmittedAt     string             `json:"submittedAt"`
	FinishedAt      string             `json:"finishedAt,omitempty"`
	Failure         string             `json:"failure,omitempty"`
	Errors          []string           `json:"errors,omitempty"`
	Degraded        []string           `json:"degraded,omitempty"`
	Language        string             `json:"language,omitempty"`
	Grade           string             `json:"grade,omitempty"`
	Scores          map[string]float64 `json:"scores,omitempty"`
	RiskLevel       string             `json:"riskLevel,omitempty"`
	Vulnerabilities int                `json:"vulnerabilities,omitempty"`
}

// ListTasksInput is the input for the list_tasks MCP tool.
type ListTasksInput struct {
	Status    string `json:"status,omitempty" jsonschema:"PENDING, RUNNING, RETRYING, COMPLETED, FAILED or TIMED_OUT"`
	SourceID  string `json:"sourceId,omitempty" jsonschema:"only tasks for this source"`
	PageSize  int    `json:"pageSize,omitempty" jsonschema:"maximum tasks per page (default: 50)"`
	PageToken string `json:"pageToken,omitempty" jsonschema:"nextPageToken of the previous page"`
}

// TaskSummary is one row of list_tasks.
type TaskSummary struct {
	TaskID   string `json:"taskId"`
	SourceID string `json:"sourceId,omitempty"`
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Priority string `json:"priority"`
	Attempt  int    `json:"attempt"`
}

// ListTasksOutput is the result of the list_tasks MCP tool.
type ListTasksOutput struct {
	Tasks         []TaskSummary `json:"tasks"`
	TotalSize     int           `json:"totalSize"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

// RequestSummaryInput is the input for the request_summary MCP tool.
type RequestSummaryInput struct {
	TaskIDs  []string `json:"taskIds" jsonschema:"analysis tasks to aggregate"`
	Priority string   `json:"priority,omitempty" jsonschema:"HIGH, MEDIUM or LOW"`
	Wait     bool     `json:"wait,omitempty" jsonschema:"block until the summary task finishes and return the report"`
}

// RequestSummaryOutput is the result of the request_summary MCP tool.
type RequestSummaryOutput struct {
	TaskID          string         `json:"taskId"`
	Status          string         `json:"status"`
	Included        int            `json:"included,omitempty"`
	Missing         []string       `json:"missing,omitempty"`
	Vulnerabilities int            `json:"vulnerabilities,omitempty"`
	Grades          map[string]int `json:"grades,omitempty"`
	Languages       map[string]int `json:"languages,omitempty"`
	Hotspots        []string       `json:"hotspots,omitempty"`
}

// AssessImpactInput is the input for the assess_impact MCP tool.
type AssessImpactInput struct {
	Programs []string `json:"programs" jsonschema:"program names that will be modified"`
}

// AssessImpactOutput is the result of the assess_impact MCP tool.
type AssessImpactOutput struct {
	Impact graph.ImpactResult `json:"impact"`
}
