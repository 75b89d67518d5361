package stages

import (
	"context"
	"errors"
	"strings"

	"github.com/dusk-indust/legacylens/internal/orchestrator"
	"github.com/dusk-indust/legacylens/internal/results"
)

// Aggregator combines finalized task results.
type Aggregator interface {
	Aggregate(ctx context.Context, taskIDs []string) (*results.SummaryResult, error)
}

// SummaryStage aggregates the tasks listed in the task_ids metadata.
// Missing tasks are reported in the summary rather than failing the stage.
type SummaryStage struct {
	named
	agg Aggregator
}

func NewSummaryStage(agg Aggregator) *SummaryStage {
	return &SummaryStage{named: orchestrator.StageSummary, agg: agg}
}

func (s *SummaryStage) Process(ctx context.Context, tc orchestrator.TaskContext, _ orchestrator.Data) (orchestrator.Data, error) {
	if s.agg == nil {
		return nil, orchestrator.Permanent(errors.New("stages: no result aggregator configured"))
	}
	ids := TaskIDs(tc.Meta(MetaTaskIDs, ""))
	if len(ids) == 0 {
		return nil, &orchestrator.ValidationError{Field: "metadata.task_ids", Reason: "summary task lists no task ids"}
	}
	sum, err := s.agg.Aggregate(ctx, ids)
	if err != nil {
		return nil, err
	}
	return orchestrator.Data{orchestrator.KeySummary: sum}, nil
}

// TaskIDs splits a comma or whitespace separated id list.
func TaskIDs(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
}

// JoinTaskIDs is the inverse of TaskIDs.
func JoinTaskIDs(ids []string) string {
	return strings.Join(ids, ",")
}
