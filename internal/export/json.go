// Package export writes analysis results in formats meant for other
// tools: a JSON report of finalized tasks and Mermaid diagrams of the
// program graph.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dusk-indust/legacylens/internal/orchestrator"
	"github.com/dusk-indust/legacylens/internal/results"
)

// Results is the part of the result manager an export reads.
type Results interface {
	FinalizedIDs(ctx context.Context) ([]string, error)
	FinalResult(ctx context.Context, taskID string) (*results.FinalResult, error)
	Aggregate(ctx context.Context, taskIDs []string) (*results.SummaryResult, error)
}

// Report is the top-level JSON export structure.
type Report struct {
	ExportedAt string                 `json:"exportedAt"`
	Summary    *results.SummaryResult `json:"summary"`
	Tasks      []TaskExport           `json:"tasks"`
}

// TaskExport describes one analyzed source.
type TaskExport struct {
	TaskID          string             `json:"taskId"`
	SourceID        string             `json:"sourceId"`
	Language        string             `json:"language,omitempty"`
	Grade           string             `json:"grade,omitempty"`
	Scores          map[string]float64 `json:"scores,omitempty"`
	RiskLevel       string             `json:"riskLevel,omitempty"`
	Vulnerabilities int                `json:"vulnerabilities"`
	Recommendations []string           `json:"recommendations,omitempty"`
	Degraded        []string           `json:"degraded,omitempty"`
	FinalizedAt     string             `json:"finalizedAt"`
}

// BuildReport collects the finalized analysis tasks among ids, or every
// finalized analysis task when ids is empty, and aggregates them. Summary
// tasks are skipped; ids without a result appear in Summary.Missing.
func BuildReport(ctx context.Context, res Results, ids []string) (*Report, error) {
	if len(ids) == 0 {
		all, err := res.FinalizedIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("export: list results: %w", err)
		}
		ids = all
	}

	report := &Report{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Tasks:      []TaskExport{},
	}
	var analyzed []string
	for _, id := range ids {
		final, err := res.FinalResult(ctx, id)
		if err != nil {
			// Reported as missing by Aggregate.
			analyzed = append(analyzed, id)
			continue
		}
		if final.SourceID == "" {
			continue
		}
		analyzed = append(analyzed, id)
		report.Tasks = append(report.Tasks, taskExport(final))
	}

	sum, err := res.Aggregate(ctx, analyzed)
	if err != nil {
		return nil, fmt.Errorf("export: aggregate: %w", err)
	}
	report.Summary = sum
	return report, nil
}

func taskExport(final *results.FinalResult) TaskExport {
	te := TaskExport{
		TaskID:      final.TaskID,
		SourceID:    final.SourceID,
		Language:    final.Language,
		Grade:       final.Grade,
		Scores:      final.Scores,
		Degraded:    final.Degraded,
		FinalizedAt: final.FinalizedAt.Format(time.RFC3339),
	}
	if final.Security != nil {
		te.RiskLevel = final.Security.RiskLevel
		te.Vulnerabilities = final.Security.VulnerabilityCount
	}
	if recs, err := orchestrator.Value[[]string](final.Data, orchestrator.KeyRecommendations); err == nil {
		te.Recommendations = recs
	}
	return te
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("export: encode: %w", err)
	}
	return nil
}
