package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dusk-indust/legacylens/internal/analyzer"
	"github.com/dusk-indust/legacylens/internal/graph"
	"github.com/dusk-indust/legacylens/internal/orchestrator"
	"github.com/dusk-indust/legacylens/internal/results"
	"github.com/dusk-indust/legacylens/internal/stages"
)

// Handler serves the task operations exposed over JSON-RPC and MCP.
type Handler interface {
	SubmitTask(ctx context.Context, req SubmitTaskRequest) (*SubmitTaskResponse, error)
	GetTask(ctx context.Context, req GetTaskRequest) (*TaskView, error)
	ListTasks(ctx context.Context, req ListTasksRequest) (*orchestrator.TaskPage, error)
	RequestSummary(ctx context.Context, req SummaryRequest) (*SummaryResponse, error)
	AssessImpact(ctx context.Context, req ImpactRequest) (*ImpactResponse, error)
}

// Tasks is the part of the task manager the service drives.
type Tasks interface {
	SubmitTask(tc orchestrator.TaskContext) (string, error)
	GetTask(id string) (orchestrator.TaskRecord, error)
	ListTasks(filter orchestrator.ListFilter) (*orchestrator.TaskPage, error)
	Await(ctx context.Context, ids ...string) ([]orchestrator.TaskRecord, error)
	Stats() orchestrator.Stats
	Reporter() *orchestrator.Reporter
}

// Results reads finalized task results.
type Results interface {
	FinalResult(ctx context.Context, taskID string) (*results.FinalResult, error)
}

// Sources holds inline source content for the task it was submitted with.
type Sources interface {
	// Put reports false when content is already held for taskID.
	Put(taskID string, content []byte) bool
	Forget(taskID string)
}

var _ Handler = (*Service)(nil)

// Service implements Handler on the task manager, result store and
// program graph.
type Service struct {
	tasks    Tasks
	results  Results
	sources  Sources
	graph    graph.Store
	defaults func(orchestrator.TaskContext) (orchestrator.TaskContext, error)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithSources accepts inline content on submission.
func WithSources(s Sources) ServiceOption {
	return func(svc *Service) { svc.sources = s }
}

// WithGraph enables impact assessment.
func WithGraph(g graph.Store) ServiceOption {
	return func(svc *Service) { svc.graph = g }
}

// WithDefaults fills empty task fields before submission.
func WithDefaults(fn func(orchestrator.TaskContext) (orchestrator.TaskContext, error)) ServiceOption {
	return func(svc *Service) { svc.defaults = fn }
}

// NewService creates a Service.
func NewService(tasks Tasks, res Results, opts ...ServiceOption) *Service {
	s := &Service{tasks: tasks, results: res}
	for _, opt := range opts {
		opt(s)
	}
	if s.defaults == nil {
		s.defaults = func(tc orchestrator.TaskContext) (orchestrator.TaskContext, error) {
			if tc.Priority == 0 {
				tc.Priority = orchestrator.PriorityMedium
			}
			if tc.Timeout == 0 {
				tc.Timeout = 5 * time.Minute
			}
			return tc, nil
		}
	}
	return s
}

// Tasks returns the task manager behind the service.
func (s *Service) Tasks() Tasks { return s.tasks }

func (s *Service) SubmitTask(_ context.Context, req SubmitTaskRequest) (*SubmitTaskResponse, error) {
	if strings.TrimSpace(req.SourceID) == "" {
		return nil, &orchestrator.ValidationError{Field: "sourceId", Reason: "required"}
	}
	if req.Content != "" && s.sources == nil {
		return nil, &orchestrator.ValidationError{Field: "content", Reason: "inline content is not accepted by this server"}
	}
	if _, err := analyzer.ParseLanguage(req.Language); err != nil {
		return nil, &orchestrator.ValidationError{Field: "language", Reason: err.Error()}
	}

	tc := orchestrator.TaskContext{
		TaskID:   req.TaskID,
		SourceID: req.SourceID,
		Timeout:  time.Duration(req.TimeoutSeconds) * time.Second,
		Metadata: make(map[string]string, len(req.Metadata)+2),
	}
	for k, v := range req.Metadata {
		tc.Metadata[k] = v
	}
	if req.Language != "" {
		tc.Metadata[stages.MetaLanguage] = req.Language
	}
	if req.Benchmark != "" {
		tc.Metadata[stages.MetaBenchmark] = req.Benchmark
	}
	if req.Priority != "" {
		p, err := orchestrator.ParsePriority(req.Priority)
		if err != nil {
			return nil, err
		}
		tc.Priority = p
	}
	tc, err := s.defaults(tc)
	if err != nil {
		return nil, err
	}
	// An explicit zero disables retries; defaults would replace it.
	if req.MaxRetries != nil {
		tc.MaxRetries = *req.MaxRetries
	}

	// Inline content is held before the task is queued so the first
	// attempt cannot miss it, and dropped again if the task is rejected.
	if req.Content != "" {
		if tc.TaskID == "" {
			tc.TaskID = uuid.NewString()
		}
		if !s.sources.Put(tc.TaskID, []byte(req.Content)) {
			return nil, &orchestrator.ValidationError{Field: "taskId", Reason: "task id already used"}
		}
	}
	id, err := s.tasks.SubmitTask(tc)
	if err != nil {
		if req.Content != "" {
			s.sources.Forget(tc.TaskID)
		}
		return nil, err
	}
	return &SubmitTaskResponse{TaskID: id, Status: orchestrator.StatusPending}, nil
}

func (s *Service) GetTask(ctx context.Context, req GetTaskRequest) (*TaskView, error) {
	rec, err := s.tasks.GetTask(req.TaskID)
	if err != nil {
		return nil, err
	}
	view := &TaskView{Task: rec}
	if req.IncludeResult && rec.Status == orchestrator.StatusCompleted && s.results != nil {
		final, err := s.results.FinalResult(ctx, req.TaskID)
		var nf *orchestrator.NotFoundError
		if err != nil && !errors.As(err, &nf) {
			return nil, err
		}
		view.Result = final
	}
	return view, nil
}

func (s *Service) ListTasks(_ context.Context, req ListTasksRequest) (*orchestrator.TaskPage, error) {
	return s.tasks.ListTasks(req)
}

// RequestSummary submits a summary task over req.TaskIDs.
func (s *Service) RequestSummary(ctx context.Context, req SummaryRequest) (*SummaryResponse, error) {
	if len(req.TaskIDs) == 0 {
		return nil, &orchestrator.ValidationError{Field: "taskIds", Reason: "at least one task id is required"}
	}
	tc := orchestrator.TaskContext{
		Metadata: map[string]string{stages.MetaTaskIDs: stages.JoinTaskIDs(req.TaskIDs)},
	}
	if req.Priority != "" {
		p, err := orchestrator.ParsePriority(req.Priority)
		if err != nil {
			return nil, err
		}
		tc.Priority = p
	}
	tc, err := s.defaults(tc)
	if err != nil {
		return nil, err
	}
	id, err := s.tasks.SubmitTask(tc)
	if err != nil {
		return nil, err
	}
	resp := &SummaryResponse{TaskID: id, Status: orchestrator.StatusPending}
	if !req.Wait {
		return resp, nil
	}

	recs, err := s.tasks.Await(ctx, id)
	if err != nil {
		return nil, err
	}
	resp.Status = recs[0].Status
	if resp.Status != orchestrator.StatusCompleted {
		return resp, nil
	}
	final, err := s.results.FinalResult(ctx, id)
	if err != nil {
		return nil, err
	}
	sum, err := orchestrator.Value[results.SummaryResult](final.Data, orchestrator.KeySummary)
	if err != nil {
		return nil, fmt.Errorf("rpc: summary result: %w", err)
	}
	resp.Summary = &sum
	return resp, nil
}

// AssessImpact reports which programs are affected by changing req.Programs.
func (s *Service) AssessImpact(ctx context.Context, req ImpactRequest) (*ImpactResponse, error) {
	if s.graph == nil {
		return nil, errors.New("rpc: no program graph configured")
	}
	if len(req.Programs) == 0 {
		return nil, &orchestrator.ValidationError{Field: "programs", Reason: "at least one program is required"}
	}
	progs := make([]string, len(req.Programs))
	for i, p := range req.Programs {
		progs[i] = strings.ToUpper(strings.TrimSpace(p))
	}
	return s.graph.AssessImpact(ctx, progs)
}
