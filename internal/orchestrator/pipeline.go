package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("legacylens/orchestrator")

// StageObserver is notified when a stage starts. The Manager uses it to know
// which stage was in flight when an attempt times out.
type StageObserver func(stage string)

// Pipeline runs an ordered list of stages against accumulating data. It
// caches every successful stage output through its ResultRecorder before
// the next stage starts and never retries on its own.
type Pipeline struct {
	stages   []boundStage
	recorder ResultRecorder
	logger   *slog.Logger
	metrics  *Metrics
	reporter *Reporter
}

type boundStage struct {
	stage  Stage
	policy Policy
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger used for stage diagnostics.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithPipelineMetrics records stage durations and failures.
func WithPipelineMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithPipelineReporter publishes stage progress events.
func WithPipelineReporter(r *Reporter) PipelineOption {
	return func(p *Pipeline) { p.reporter = r }
}

// NewPipeline creates an empty pipeline that caches results through recorder.
func NewPipeline(recorder ResultRecorder, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{recorder: recorder, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Add appends a stage with the given failure policy and returns p.
func (p *Pipeline) Add(s Stage, policy Policy) *Pipeline {
	p.stages = append(p.stages, boundStage{stage: s, policy: policy})
	return p
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, b := range p.stages {
		names[i] = b.stage.Name()
	}
	return names
}

// Execute runs every stage in order. The returned error, when non-nil, is
// always a *PipelineError. A critical stage failure stops the run; a
// best-effort failure substitutes an empty result and continues. Once ctx
// is done no further stage runs and nothing more is cached.
func (p *Pipeline) Execute(ctx context.Context, tc TaskContext, initial Data, observe StageObserver) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Execute",
		trace.WithAttributes(
			attribute.String("task.id", tc.TaskID),
			attribute.Int("task.attempt", tc.Attempt()),
			attribute.Int("pipeline.stages", len(p.stages)),
		),
	)
	defer span.End()

	out := &Outcome{
		TaskID:  tc.TaskID,
		Attempt: tc.Attempt(),
		Data:    initial.Clone(),
	}

	for _, b := range p.stages {
		name := b.stage.Name()

		if err := ctx.Err(); err != nil {
			pe := Classify(name, tc, cancelCause(ctx))
			span.RecordError(pe)
			span.SetStatus(codes.Error, "context done")
			return nil, pe
		}

		if observe != nil {
			observe(name)
		}
		p.reporter.Emit(TaskEvent{Kind: EventStageStarted, TaskID: tc.TaskID, Stage: name, Attempt: tc.Attempt()})

		start := time.Now()
		result, pe := p.runStage(ctx, b.stage, tc, out.Data)
		elapsed := time.Since(start)
		p.metrics.stageDone(name, elapsed)

		run := StageRun{Name: name, Policy: b.policy.String(), Duration: elapsed}

		if pe != nil {
			p.metrics.stageFailed(name, b.policy)
			// A stage that fails because the attempt was cancelled is never
			// degraded; the manager decides what a cancelled attempt means.
			if b.policy == PolicyCritical || ctx.Err() != nil {
				span.RecordError(pe)
				span.SetStatus(codes.Error, pe.Error())
				p.logger.Warn("critical stage failed",
					"task_id", tc.TaskID,
					"stage", name,
					"attempt", tc.Attempt(),
					"recoverable", pe.Recoverable,
					"error", pe.Message,
				)
				return nil, pe
			}

			p.logger.Warn("best-effort stage failed, continuing with empty result",
				"task_id", tc.TaskID,
				"stage", name,
				"attempt", tc.Attempt(),
				"error", pe.Message,
			)
			p.reporter.Emit(TaskEvent{Kind: EventStageDegraded, TaskID: tc.TaskID, Stage: name, Attempt: tc.Attempt(), Message: pe.Message})
			run.Degraded = true
			run.Error = pe.Message
			out.Degraded = append(out.Degraded, name)
			result = Data{}
		}

		if err := ctx.Err(); err != nil {
			pe := Classify(name, tc, cancelCause(ctx))
			span.RecordError(pe)
			return nil, pe
		}

		if p.recorder != nil {
			if err := p.recorder.CacheResult(ctx, tc, name, result); err != nil {
				pe := &PipelineError{
					Message:     fmt.Sprintf("cache result: %v", err),
					TaskID:      tc.TaskID,
					Stage:       name,
					Recoverable: true,
					Err:         err,
				}
				span.RecordError(pe)
				span.SetStatus(codes.Error, pe.Error())
				return nil, pe
			}
		}

		out.Data = out.Data.Merge(result)
		out.Stages = append(out.Stages, run)
		p.reporter.Emit(TaskEvent{Kind: EventStageFinished, TaskID: tc.TaskID, Stage: name, Attempt: tc.Attempt()})
	}

	span.SetStatus(codes.Ok, "")
	return out, nil
}

// runStage calls Process inside its own span and converts panics and errors
// into a PipelineError through the stage's classifier.
func (p *Pipeline) runStage(ctx context.Context, s Stage, tc TaskContext, data Data) (result Data, pe *PipelineError) {
	ctx, span := tracer.Start(ctx, "stage."+s.Name())
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			pe = &PipelineError{
				Message:     fmt.Sprintf("panic: %v", r),
				TaskID:      tc.TaskID,
				Stage:       s.Name(),
				Recoverable: false,
			}
			span.SetStatus(codes.Error, pe.Message)
		}
	}()

	result, err := s.Process(ctx, tc, data.Clone())
	if err != nil {
		pe = s.HandleError(tc, err)
		if pe == nil {
			pe = Classify(s.Name(), tc, err)
		}
		if pe.Stage == "" {
			pe.Stage = s.Name()
		}
		if pe.TaskID == "" {
			pe.TaskID = tc.TaskID
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, pe
	}
	if result == nil {
		result = Data{}
	}
	return result, nil
}

// cancelCause returns the cause of ctx cancellation, falling back to ctx.Err.
func cancelCause(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}
