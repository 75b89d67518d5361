package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTaskTimeout is the cancellation cause of an attempt that ran past
	// its TaskContext.Timeout.
	ErrTaskTimeout = errors.New("orchestrator: task timeout exceeded")

	// ErrManagerRunning is returned by Run when the dispatcher is already active.
	ErrManagerRunning = errors.New("orchestrator: manager already running")
)

// ValidationError rejects a malformed submission before it is queued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Recoverable is always false: a bad submission never succeeds on retry.
func (e *ValidationError) Recoverable() bool { return false }

// PipelineError is a classified stage failure. Recoverable drives the
// Manager's retry decision.
type PipelineError struct {
	Message     string
	TaskID      string
	Stage       string
	Recoverable bool
	Err         error
}

func (e *PipelineError) Error() string {
	var b strings.Builder
	b.WriteString("pipeline")
	if e.Stage != "" {
		b.WriteString(": stage ")
		b.WriteString(e.Stage)
	}
	if e.TaskID != "" {
		b.WriteString(" (task ")
		b.WriteString(e.TaskID)
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

func (e *PipelineError) Unwrap() error { return e.Err }

// TimeoutError is recorded when a task exceeds its wall-clock limit.
type TimeoutError struct {
	TaskID  string
	Stage   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("task %s timed out after %s", e.TaskID, e.Timeout)
	}
	return fmt.Sprintf("task %s timed out after %s in stage %s", e.TaskID, e.Timeout, e.Stage)
}

func (e *TimeoutError) Unwrap() error { return ErrTaskTimeout }

// ConflictError is returned when a task is finalized twice.
type ConflictError struct {
	TaskID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("task %s already finalized", e.TaskID)
}

// PartialDataError lists tasks that had no finalized result during
// aggregation. It is reported on the summary rather than returned.
type PartialDataError struct {
	Missing []string `json:"missing"`
}

func (e *PartialDataError) Error() string {
	return fmt.Sprintf("no finalized result for %d task(s): %s", len(e.Missing), strings.Join(e.Missing, ", "))
}

// NotFoundError is returned for unknown task IDs.
type NotFoundError struct {
	TaskID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %q not found", e.TaskID)
}

// Classify converts an arbitrary stage error into a PipelineError for the
// given stage. Errors that report Recoverable() keep their own verdict,
// context errors are transient, and anything unrecognised is treated as
// transient so the retry budget decides.
func Classify(stage string, tc TaskContext, err error) *PipelineError {
	if err == nil {
		return nil
	}

	var pe *PipelineError
	if errors.As(err, &pe) {
		out := *pe
		if out.Stage == "" {
			out.Stage = stage
		}
		if out.TaskID == "" {
			out.TaskID = tc.TaskID
		}
		return &out
	}

	recoverable := true
	var r interface{ Recoverable() bool }
	switch {
	case errors.As(err, &r):
		recoverable = r.Recoverable()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTaskTimeout):
		recoverable = true
	}

	return &PipelineError{
		Message:     err.Error(),
		TaskID:      tc.TaskID,
		Stage:       stage,
		Recoverable: recoverable,
		Err:         err,
	}
}

// Permanent wraps err so that Classify marks it non-recoverable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string     { return e.err.Error() }
func (e *permanentError) Unwrap() error     { return e.err }
func (e *permanentError) Recoverable() bool { return false }
