package orchestrator

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Priority orders tasks in the queue. Lower values are dispatched first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// Valid reports whether p is one of the three defined priorities.
func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

// ParsePriority accepts HIGH, MEDIUM or LOW in any case.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return PriorityHigh, nil
	case "MEDIUM":
		return PriorityMedium, nil
	case "LOW":
		return PriorityLow, nil
	default:
		return 0, &ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", s)}
	}
}

// MarshalText encodes the priority by name.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("orchestrator: invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a priority name.
func (p *Priority) UnmarshalText(text []byte) error {
	v, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// TaskContext describes one unit of analysis work. It is created by the
// caller, validated at submission, and afterwards changed only by the
// Manager. Stages receive it by value.
type TaskContext struct {
	TaskID     string            `json:"taskId" validate:"omitempty,uuid"`
	SourceID   string            `json:"sourceId,omitempty" validate:"max=4096"`
	Priority   Priority          `json:"priority" validate:"min=1,max=3"`
	Timeout    time.Duration     `json:"timeout" validate:"gt=0"`
	MaxRetries int               `json:"maxRetries" validate:"gte=0,lte=100"`
	RetryCount int               `json:"retryCount" validate:"gte=0"`
	Metadata   map[string]string `json:"metadata,omitempty" validate:"dive,keys,required,endkeys"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Attempt is the 1-based number of the current execution attempt.
func (tc TaskContext) Attempt() int {
	return tc.RetryCount + 1
}

// Meta returns the metadata value for key, or def when absent.
func (tc TaskContext) Meta(key, def string) string {
	if v, ok := tc.Metadata[key]; ok && v != "" {
		return v
	}
	return def
}

// Clone returns a copy whose metadata map is independent of tc.
func (tc TaskContext) Clone() TaskContext {
	out := tc
	if tc.Metadata != nil {
		out.Metadata = maps.Clone(tc.Metadata)
	}
	return out
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusRetrying  Status = "RETRYING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusTimedOut  Status = "TIMED_OUT"
)

// IsTerminal reports whether no further transitions can happen.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimedOut
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusRunning, StatusRetrying, StatusCompleted, StatusFailed, StatusTimedOut:
		return st, nil
	default:
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
	}
}

// Failure is the audit record of a failed attempt.
type Failure struct {
	Stage            string    `json:"stage,omitempty"`
	Message          string    `json:"message"`
	Recoverable      bool      `json:"recoverable"`
	RetriesExhausted bool      `json:"retriesExhausted,omitempty"`
	Attempt          int       `json:"attempt"`
	At               time.Time `json:"at"`
}

// TaskRecord is a point-in-time snapshot of a task owned by the Manager.
type TaskRecord struct {
	Context     TaskContext `json:"context"`
	Status      Status      `json:"status"`
	Stage       string      `json:"stage,omitempty"`
	SubmittedAt time.Time   `json:"submittedAt"`
	StartedAt   time.Time   `json:"startedAt,omitzero"`
	FinishedAt  time.Time   `json:"finishedAt,omitzero"`
	Failure     *Failure    `json:"failure,omitempty"`
	Errors      []Failure   `json:"errors,omitempty"`
	Degraded    []string    `json:"degraded,omitempty"`
}

// ID returns the task identifier.
func (r TaskRecord) ID() string {
	return r.Context.TaskID
}

func (r TaskRecord) clone() TaskRecord {
	out := r
	out.Context = r.Context.Clone()
	if r.Failure != nil {
		f := *r.Failure
		out.Failure = &f
	}
	if r.Errors != nil {
		out.Errors = append([]Failure(nil), r.Errors...)
	}
	if r.Degraded != nil {
		out.Degraded = append([]string(nil), r.Degraded...)
	}
	return out
}
