// Package stages implements the analysis pipeline: parsing, metrics,
// security rules, benchmarking and enhancement, plus the summary stage run
// by tasks that aggregate earlier results.
package stages

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/dusk-indust/legacylens/internal/analyzer"
	"github.com/dusk-indust/legacylens/internal/enhance"
	"github.com/dusk-indust/legacylens/internal/graph"
	"github.com/dusk-indust/legacylens/internal/orchestrator"
)

// Task metadata keys read by the stages.
const (
	MetaLanguage  = "language"
	MetaBenchmark = "benchmark"
	MetaTaskIDs   = "task_ids"
)

// Policies maps stage names to failure policies. Stages not listed use
// DefaultPolicies.
type Policies map[string]orchestrator.Policy

// DefaultPolicies makes every stage critical except enhancement.
func DefaultPolicies() Policies {
	return Policies{
		orchestrator.StageASTParsing:  orchestrator.PolicyCritical,
		orchestrator.StageMetrics:     orchestrator.PolicyCritical,
		orchestrator.StageSecurity:    orchestrator.PolicyCritical,
		orchestrator.StageBenchmark:   orchestrator.PolicyCritical,
		orchestrator.StageEnhancement: orchestrator.PolicyBestEffort,
		orchestrator.StageSummary:     orchestrator.PolicyCritical,
	}
}

// Deps are the collaborators the stages are built from. Zero values get
// working defaults: an in-memory graph, the default rules and profiles,
// and the outline enhancer.
type Deps struct {
	Recorder  orchestrator.ResultRecorder
	Parser    *analyzer.Parser
	Graph     graph.Store
	Rules     []Rule
	Profiles  map[string]Profile
	Enhancer  enhance.Enhancer
	Retriever enhance.Retriever
	// Summaries aggregates finalized tasks for summary tasks. Without it
	// summary tasks fail permanently.
	Summaries Aggregator
	Logger    *slog.Logger

	PipelineOptions []orchestrator.PipelineOption
}

func (d *Deps) withDefaults() {
	if d.Parser == nil {
		d.Parser = analyzer.NewParser()
	}
	if d.Graph == nil {
		d.Graph = graph.NewMemStore()
	}
	if d.Rules == nil {
		d.Rules = DefaultRules()
	}
	if d.Profiles == nil {
		d.Profiles = DefaultProfiles()
	}
	if d.Enhancer == nil {
		d.Enhancer = enhance.NoopEnhancer{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
}

// Build returns the PipelineFunc used by the task manager. Tasks with a
// source run the five analysis stages in order; tasks without one run the
// summary stage.
func Build(deps Deps, policies Policies) (orchestrator.PipelineFunc, error) {
	deps.withDefaults()
	merged := DefaultPolicies()
	for name, p := range policies {
		if _, ok := merged[name]; !ok {
			return nil, fmt.Errorf("stages: unknown stage %q in policies (known: %v)", name, slices.Sorted(maps.Keys(merged)))
		}
		merged[name] = p
	}

	analysis := orchestrator.NewPipeline(deps.Recorder, deps.PipelineOptions...)
	for _, s := range []orchestrator.Stage{
		NewASTParsingStage(deps.Parser, deps.Graph, deps.Logger),
		NewMetricsStage(deps.Graph),
		NewSecurityStage(deps.Rules),
		NewBenchmarkStage(deps.Profiles),
		NewEnhancementStage(deps.Enhancer, deps.Retriever, deps.Logger),
	} {
		analysis.Add(s, merged[s.Name()])
	}

	summary := orchestrator.NewPipeline(deps.Recorder, deps.PipelineOptions...).
		Add(NewSummaryStage(deps.Summaries), merged[orchestrator.StageSummary])

	return func(tc orchestrator.TaskContext) (*orchestrator.Pipeline, error) {
		if tc.SourceID == "" {
			return summary, nil
		}
		return analysis, nil
	}, nil
}

// named carries a stage name and the shared error classification.
type named string

func (n named) Name() string { return string(n) }

func (n named) HandleError(tc orchestrator.TaskContext, err error) *orchestrator.PipelineError {
	return orchestrator.Classify(string(n), tc, err)
}

// program reads the parsed program from pipeline data.
func program(data orchestrator.Data) (*analyzer.Program, error) {
	p, err := orchestrator.Value[analyzer.Program](data, orchestrator.KeyAST)
	if err != nil {
		return nil, orchestrator.Permanent(fmt.Errorf("stages: %w", err))
	}
	return &p, nil
}
