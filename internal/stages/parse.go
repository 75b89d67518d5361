package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dusk-indust/legacylens/internal/analyzer"
	"github.com/dusk-indust/legacylens/internal/graph"
	"github.com/dusk-indust/legacylens/internal/orchestrator"
)

// ASTParsingStage parses the source member and indexes it into the
// program graph.
type ASTParsingStage struct {
	named
	parser *analyzer.Parser
	graph  graph.Store
	logger *slog.Logger
}

func NewASTParsingStage(parser *analyzer.Parser, g graph.Store, logger *slog.Logger) *ASTParsingStage {
	if parser == nil {
		parser = analyzer.NewParser()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ASTParsingStage{named: orchestrator.StageASTParsing, parser: parser, graph: g, logger: logger}
}

func (s *ASTParsingStage) Process(ctx context.Context, tc orchestrator.TaskContext, data orchestrator.Data) (orchestrator.Data, error) {
	src, err := orchestrator.Value[string](data, orchestrator.KeySource)
	if err != nil {
		return nil, orchestrator.Permanent(fmt.Errorf("stages: no source loaded: %w", err))
	}
	name, _ := orchestrator.Value[string](data, orchestrator.KeySourceName)
	if name == "" {
		name = tc.SourceID
	}
	lang, err := analyzer.ParseLanguage(tc.Meta(MetaLanguage, ""))
	if err != nil {
		return nil, &orchestrator.ValidationError{Field: "metadata.language", Reason: err.Error()}
	}

	prog, err := s.parser.Parse(ctx, name, []byte(src), lang)
	if err != nil {
		var pe *analyzer.ParseError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, fmt.Errorf("stages: parse %s: %w", name, err)
	}

	if s.graph != nil {
		if err := analyzer.IndexProgram(ctx, s.graph, prog); err != nil {
			return nil, err
		}
	}
	s.logger.Debug("parsed source",
		"task_id", tc.TaskID,
		"program", prog.Name,
		"language", prog.Language,
		"paragraphs", len(prog.Paragraphs))

	return orchestrator.Data{
		orchestrator.KeyAST:      prog,
		orchestrator.KeyLanguage: string(prog.Language),
	}, nil
}

// MetricsStage computes source metrics, including the PERFORM depth read
// from the program graph.
type MetricsStage struct {
	named
	graph graph.Store
}

func NewMetricsStage(g graph.Store) *MetricsStage {
	return &MetricsStage{named: orchestrator.StageMetrics, graph: g}
}

func (s *MetricsStage) Process(ctx context.Context, _ orchestrator.TaskContext, data orchestrator.Data) (orchestrator.Data, error) {
	prog, err := program(data)
	if err != nil {
		return nil, err
	}
	m := analyzer.ComputeMetrics(prog)
	if s.graph != nil {
		if m.PerformDepth, err = analyzer.PerformDepth(ctx, s.graph, prog); err != nil {
			return nil, err
		}
	}
	return orchestrator.Data{orchestrator.KeyMetrics: m}, nil
}
