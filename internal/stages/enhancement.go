package stages

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dusk-indust/legacylens/internal/enhance"
	"github.com/dusk-indust/legacylens/internal/orchestrator"
)

// maxReferences bounds how many retrieved documents go into a prompt.
const maxReferences = 3

// EnhancementStage asks the enhancer for modernization notes on the
// analyzed program, grounded on retrieved reference documents.
type EnhancementStage struct {
	named
	enhancer  enhance.Enhancer
	retriever enhance.Retriever
	logger    *slog.Logger
}

func NewEnhancementStage(e enhance.Enhancer, r enhance.Retriever, logger *slog.Logger) *EnhancementStage {
	if e == nil {
		e = enhance.NoopEnhancer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EnhancementStage{named: orchestrator.StageEnhancement, enhancer: e, retriever: r, logger: logger}
}

func (s *EnhancementStage) Process(ctx context.Context, tc orchestrator.TaskContext, data orchestrator.Data) (orchestrator.Data, error) {
	prog, err := program(data)
	if err != nil {
		return nil, err
	}
	metrics, _ := orchestrator.Value[map[string]float64](data, orchestrator.KeyMetrics)
	security, _ := orchestrator.Value[SecurityReport](data, orchestrator.KeySecurity)
	grade, _ := orchestrator.Value[string](data, orchestrator.KeyGrade)
	recs, _ := orchestrator.Value[[]string](data, orchestrator.KeyRecommendations)

	var docs []enhance.Document
	if s.retriever != nil {
		docs, err = s.retriever.Retrieve(ctx, retrievalQuery(string(prog.Language), security), maxReferences)
		if err != nil {
			// References are optional; generate without them.
			s.logger.Warn("retrieval failed", "task_id", tc.TaskID, "error", err)
			docs = nil
		}
	}

	prompt := BuildPrompt(prog.Name, string(prog.Language), metrics, security, grade, recs, docs)
	out, err := s.enhancer.Enhance(ctx, prompt, tc)
	if err != nil {
		return nil, err
	}
	out.References = append(out.References, enhance.References(docs)...)
	return orchestrator.Data{orchestrator.KeyEnhancement: out}, nil
}

func retrievalQuery(language string, sec SecurityReport) string {
	terms := []string{language, "modernization"}
	for _, v := range sec.Vulnerabilities {
		if !slices.Contains(terms, v.Rule) {
			terms = append(terms, v.Rule)
		}
	}
	return strings.Join(terms, " ")
}

// BuildPrompt renders the analysis as a markdown prompt.
func BuildPrompt(name, language string, metrics map[string]float64, sec SecurityReport, grade string, recs []string, docs []enhance.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Program %s (%s)\n", name, language)
	if grade != "" {
		fmt.Fprintf(&b, "Overall grade: %s\n", grade)
	}

	b.WriteString("\n# Metrics\n")
	for _, k := range sortedKeys(metrics) {
		fmt.Fprintf(&b, "- %s: %g\n", k, metrics[k])
	}

	fmt.Fprintf(&b, "\n# Security (risk %s, score %g)\n", sec.RiskLevel, sec.Score)
	for _, v := range sec.Vulnerabilities {
		fmt.Fprintf(&b, "- line %d [%s] %s\n", v.Line, v.Severity, v.Message)
	}

	if len(recs) > 0 {
		b.WriteString("\n# Recommendations\n")
		for _, r := range recs {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	if len(docs) > 0 {
		b.WriteString("\n# Reference material\n")
		for _, d := range docs {
			fmt.Fprintf(&b, "- %s: %s\n", d.Title, d.Content)
		}
	}
	b.WriteString("\n# Task\nExplain what this program does, its main risks, and a step by step modernization plan.\n")
	return b.String()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
