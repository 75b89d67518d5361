package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Stage names of the standard analysis pipeline, in execution order.
const (
	StageASTParsing  = "ast_parsing"
	StageMetrics     = "metrics_analysis"
	StageSecurity    = "security_analysis"
	StageBenchmark   = "benchmark"
	StageEnhancement = "enhancement"

	// StageSummary aggregates previously finalized tasks. It is used by
	// tasks submitted without a source.
	StageSummary = "summary"
)

// Stage is one unit of analysis work in a Pipeline.
//
// Process receives the task context by value and the accumulated pipeline
// data. It must not mutate data; it returns a new map that the Pipeline
// merges into the running data.
type Stage interface {
	Name() string
	Process(ctx context.Context, tc TaskContext, data Data) (Data, error)

	// HandleError classifies a failure raised by Process.
	HandleError(tc TaskContext, err error) *PipelineError
}

// Policy decides what a Pipeline does when a stage fails.
type Policy int

const (
	// PolicyCritical aborts the pipeline on failure.
	PolicyCritical Policy = iota

	// PolicyBestEffort logs the failure, substitutes an empty result and
	// continues with the next stage.
	PolicyBestEffort
)

func (p Policy) String() string {
	switch p {
	case PolicyCritical:
		return "critical"
	case PolicyBestEffort:
		return "best-effort"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a configuration string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "critical":
		return PolicyCritical, nil
	case "best-effort", "best_effort", "besteffort":
		return PolicyBestEffort, nil
	default:
		return PolicyCritical, fmt.Errorf("orchestrator: unknown stage policy %q", s)
	}
}

// ResultRecorder persists the output of a pipeline run.
type ResultRecorder interface {
	// CacheResult stores one stage output for the current attempt.
	CacheResult(ctx context.Context, tc TaskContext, stage string, result Data) error

	// Finalize writes the terminal record for a task. A second call for the
	// same task fails with *ConflictError.
	Finalize(ctx context.Context, tc TaskContext, out *Outcome) error
}

// Outcome is the product of one successful pipeline run.
type Outcome struct {
	TaskID   string     `json:"taskId"`
	Attempt  int        `json:"attempt"`
	Data     Data       `json:"data"`
	Stages   []StageRun `json:"stages"`
	Degraded []string   `json:"degraded,omitempty"`
}

// StageRun records how a single stage of a run went.
type StageRun struct {
	Name     string        `json:"name"`
	Policy   string        `json:"policy"`
	Duration time.Duration `json:"duration"`
	Degraded bool          `json:"degraded,omitempty"`
	Error    string        `json:"error,omitempty"`
}
