package orchestrator

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// ManagerConfig controls dispatch concurrency and retry timing.
type ManagerConfig struct {
	// MaxConcurrent is the size of the permit pool.
	MaxConcurrent int

	// BaseDelay and MaxDelay bound the exponential retry backoff:
	// min(BaseDelay * 2^retryCount, MaxDelay).
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Jitter randomizes each backoff delay within [d/2, d].
	Jitter bool

	// GracePeriod is how long a timed-out attempt may take to observe
	// cancellation before the manager abandons it.
	GracePeriod time.Duration

	// HistoryLimit bounds how many terminal tasks stay queryable.
	HistoryLimit int
}

// DefaultManagerConfig returns the settings used when no configuration is given.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxConcurrent: 4,
		BaseDelay:     time.Second,
		MaxDelay:      time.Minute,
		GracePeriod:   5 * time.Second,
		HistoryLimit:  1000,
	}
}

// PipelineFunc builds the pipeline for one attempt of a task.
type PipelineFunc func(tc TaskContext) (*Pipeline, error)

// LoadFunc produces the initial pipeline data for an attempt.
type LoadFunc func(ctx context.Context, tc TaskContext) (Data, error)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics records dispatch metrics.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithReporter publishes task events to r.
func WithReporter(r *Reporter) ManagerOption {
	return func(m *Manager) { m.reporter = r }
}

// WithLoader sets the function that loads the initial data of each attempt.
func WithLoader(fn LoadFunc) ManagerOption {
	return func(m *Manager) { m.load = fn }
}

// WithFinishHook calls fn with the final record of every task that reaches
// a terminal status. fn runs with the Manager's lock held and must not call
// back into the Manager.
func WithFinishHook(fn func(TaskRecord)) ManagerOption {
	return func(m *Manager) { m.onFinish = fn }
}

// taskEntry is the Manager-owned runtime state of one task.
type taskEntry struct {
	record TaskRecord
	seq    uint64
	index  int
}

// Manager owns the priority queue, the permit pool and every task's status.
// Only the Manager changes a TaskContext after submission.
type Manager struct {
	cfg      ManagerConfig
	build    PipelineFunc
	load     LoadFunc
	results  ResultRecorder
	logger   *slog.Logger
	metrics  *Metrics
	reporter *Reporter
	onFinish func(TaskRecord)
	validate *validator.Validate
	sem      *semaphore.Weighted
	now      func() time.Time

	mu           sync.RWMutex
	queue        taskQueue
	active       map[string]*taskEntry
	history      map[string]*taskEntry
	historyOrder []string
	order        []string
	seen         map[string]struct{}
	seq          uint64

	wake    chan struct{}
	running atomic.Bool
}

// NewManager creates a Manager. build is called once per attempt; results
// receives the final outcome of every successful attempt.
func NewManager(cfg ManagerConfig, build PipelineFunc, results ResultRecorder, opts ...ManagerOption) *Manager {
	def := DefaultManagerConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = max(def.MaxDelay, cfg.BaseDelay)
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = def.GracePeriod
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}

	m := &Manager{
		cfg:      cfg,
		build:    build,
		results:  results,
		logger:   slog.Default(),
		validate: newValidator(),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		now:      func() time.Time { return time.Now().UTC() },
		active:   make(map[string]*taskEntry),
		history:  make(map[string]*taskEntry),
		seen:     make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
	}
	m.load = func(context.Context, TaskContext) (Data, error) { return Data{}, nil }
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reporter returns the event reporter, or nil when none was configured.
func (m *Manager) Reporter() *Reporter {
	return m.reporter
}

// ---------------------------------------------------------------------------
// Submission
// ---------------------------------------------------------------------------

// SubmitTask validates tc and queues it. It never blocks on dispatch. An
// empty TaskID is replaced with a fresh UUID; a supplied one must be a UUID
// that has never been submitted before.
func (m *Manager) SubmitTask(tc TaskContext) (string, error) {
	tc = tc.Clone()
	if tc.TaskID == "" {
		tc.TaskID = uuid.NewString()
	}
	if tc.CreatedAt.IsZero() {
		tc.CreatedAt = m.now()
	}
	if err := m.validateContext(tc); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, used := m.seen[tc.TaskID]; used {
		return "", &ValidationError{Field: "taskId", Reason: "task id already used"}
	}

	e := &taskEntry{
		record: TaskRecord{
			Context:     tc,
			Status:      StatusPending,
			SubmittedAt: m.now(),
		},
		index: -1,
	}
	m.seen[tc.TaskID] = struct{}{}
	m.active[tc.TaskID] = e
	m.order = append(m.order, tc.TaskID)
	m.enqueueLocked(e)
	m.metrics.submitted()

	m.logger.Info("task submitted",
		"task_id", tc.TaskID,
		"source_id", tc.SourceID,
		"priority", tc.Priority.String(),
		"max_retries", tc.MaxRetries,
	)
	return tc.TaskID, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (m *Manager) validateContext(tc TaskContext) error {
	if _, err := uuid.Parse(tc.TaskID); err != nil {
		return &ValidationError{Field: "taskId", Reason: "must be a UUID"}
	}
	if !tc.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: "must be HIGH, MEDIUM or LOW"}
	}
	if tc.RetryCount != 0 {
		return &ValidationError{Field: "retryCount", Reason: "must be 0 at submission"}
	}
	if err := m.validate.Struct(tc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			reason := fe.Tag()
			if fe.Param() != "" {
				reason += "=" + fe.Param()
			}
			return &ValidationError{Field: fe.Field(), Reason: "failed " + reason}
		}
		return &ValidationError{Reason: err.Error()}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// Run is the dispatch loop. It acquires a permit, takes the best queued task
// and executes it in its own goroutine, until ctx is cancelled. Run returns
// after every in-flight attempt and pending backoff has settled; attempts
// interrupted by shutdown are put back in the queue as PENDING.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrManagerRunning
	}
	defer m.running.Store(false)

	var wg sync.WaitGroup
	defer wg.Wait()

	m.logger.Info("dispatcher started", "max_concurrent", m.cfg.MaxConcurrent)
	for {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			m.logger.Info("dispatcher stopping", "reason", cancelCause(ctx))
			return nil
		}
		e, err := m.dequeue(ctx)
		if err != nil {
			m.sem.Release(1)
			m.logger.Info("dispatcher stopping", "reason", cancelCause(ctx))
			return nil
		}
		wg.Go(func() {
			m.dispatch(ctx, e)
		})
	}
}

// dequeue blocks until a task is queued or ctx is done. The popped task is
// marked RUNNING before the lock is released.
func (m *Manager) dequeue(ctx context.Context) (*taskEntry, error) {
	for {
		m.mu.Lock()
		if m.queue.Len() > 0 {
			e := heap.Pop(&m.queue).(*taskEntry)
			e.record.Status = StatusRunning
			e.record.StartedAt = m.now()
			e.record.Stage = ""
			m.metrics.queueDepth(m.queue.Len())
			m.metrics.running(1)
			m.emitLocked(e, "")
			m.mu.Unlock()
			return e, nil
		}
		m.mu.Unlock()

		select {
		case <-m.wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// dispatch runs one attempt while holding a permit. The permit is released
// on every path, and before any retry backoff starts.
func (m *Manager) dispatch(ctx context.Context, e *taskEntry) {
	release := sync.OnceFunc(func() {
		m.sem.Release(1)
		m.metrics.running(-1)
	})
	defer release()

	delay, retry := m.attempt(ctx, e)
	release()

	if retry {
		m.requeueAfter(ctx, e, delay)
	}
}

type attemptResult struct {
	out *Outcome
	err error
}

// attempt executes the task's pipeline under the per-task timeout and
// applies the outcome. It reports whether the task should be retried and
// after what delay.
func (m *Manager) attempt(ctx context.Context, e *taskEntry) (time.Duration, bool) {
	m.mu.RLock()
	tc := e.record.Context.Clone()
	m.mu.RUnlock()

	ctx, span := tracer.Start(ctx, "task.attempt",
		trace.WithAttributes(
			attribute.String("task.id", tc.TaskID),
			attribute.String("task.priority", tc.Priority.String()),
			attribute.Int("task.attempt", tc.Attempt()),
		),
	)
	defer span.End()

	attemptCtx, cancel := context.WithTimeoutCause(ctx, tc.Timeout, ErrTaskTimeout)
	defer cancel()

	var stage atomic.Pointer[string]
	observe := func(name string) {
		stage.Store(&name)
		m.mu.Lock()
		e.record.Stage = name
		m.mu.Unlock()
	}

	m.logger.Debug("attempt started", "task_id", tc.TaskID, "attempt", tc.Attempt())

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: &PipelineError{
					Message:     fmt.Sprintf("panic: %v", r),
					TaskID:      tc.TaskID,
					Recoverable: false,
				}}
			}
		}()
		done <- m.runPipeline(attemptCtx, tc, observe)
	}()

	var (
		res       attemptResult
		abandoned bool
	)
	select {
	case res = <-done:
	case <-attemptCtx.Done():
		grace := time.NewTimer(m.cfg.GracePeriod)
		select {
		case res = <-done:
		case <-grace.C:
			abandoned = true
			m.logger.Warn("attempt did not stop within grace period, abandoning it",
				"task_id", tc.TaskID,
				"attempt", tc.Attempt(),
				"grace", m.cfg.GracePeriod,
			)
		}
		grace.Stop()
	}

	inFlight := ""
	if p := stage.Load(); p != nil {
		inFlight = *p
	}

	if attemptCtx.Err() != nil && (res.err != nil || res.out == nil) {
		if errors.Is(context.Cause(attemptCtx), ErrTaskTimeout) {
			span.SetStatus(codes.Error, "timeout")
			m.timedOut(e, tc, inFlight)
			return 0, false
		}
		span.SetStatus(codes.Error, "interrupted")
		if abandoned {
			m.interrupted(e, tc, done)
		} else {
			m.interrupted(e, tc, nil)
		}
		return 0, false
	}

	if res.err == nil {
		err := m.results.Finalize(context.WithoutCancel(ctx), tc, res.out)
		var conflict *ConflictError
		switch {
		case err == nil:
		case errors.As(err, &conflict):
			m.logger.Warn("task was already finalized", "task_id", tc.TaskID)
		default:
			res.err = &PipelineError{
				Message:     fmt.Sprintf("finalize: %v", err),
				TaskID:      tc.TaskID,
				Stage:       "finalize",
				Recoverable: true,
				Err:         err,
			}
		}
	}

	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
		return m.failed(e, tc, res.err)
	}

	span.SetStatus(codes.Ok, "")
	m.completed(e, res.out)
	return 0, false
}

func (m *Manager) runPipeline(ctx context.Context, tc TaskContext, observe StageObserver) attemptResult {
	p, err := m.build(tc)
	if err != nil {
		return attemptResult{err: Classify("build", tc, Permanent(err))}
	}
	data, err := m.load(ctx, tc)
	if err != nil {
		return attemptResult{err: Classify("load", tc, err)}
	}
	out, err := p.Execute(ctx, tc, data, observe)
	if err != nil {
		return attemptResult{err: err}
	}
	return attemptResult{out: out}
}

// requeueAfter waits out the backoff delay and puts the task back in the
// queue at its original priority. Shutdown cuts the wait short.
func (m *Manager) requeueAfter(ctx context.Context, e *taskEntry, delay time.Duration) {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e.record.Status = StatusPending
	m.enqueueLocked(e)
}

// backoff returns min(BaseDelay * 2^retryCount, MaxDelay), optionally jittered.
func (m *Manager) backoff(retryCount int) time.Duration {
	d := m.cfg.BaseDelay
	for i := 0; i < retryCount && d < m.cfg.MaxDelay; i++ {
		d *= 2
	}
	d = min(d, m.cfg.MaxDelay)
	if m.cfg.Jitter && d > 1 {
		half := d / 2
		d = half + time.Duration(rand.Int64N(int64(d-half)+1))
	}
	return d
}

// ---------------------------------------------------------------------------
// State transitions
// ---------------------------------------------------------------------------

func (m *Manager) enqueueLocked(e *taskEntry) {
	m.seq++
	e.seq = m.seq
	heap.Push(&m.queue, e)
	m.metrics.queueDepth(m.queue.Len())
	m.emitLocked(e, "")
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) completed(e *taskEntry, out *Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if out != nil && len(out.Degraded) > 0 {
		e.record.Degraded = append([]string(nil), out.Degraded...)
	}
	m.finishLocked(e, StatusCompleted, nil)
}

// failed records the failure and decides between RETRYING and FAILED. The
// retry budget is checked before it is consumed, so RetryCount never
// exceeds MaxRetries.
func (m *Manager) failed(e *taskEntry, tc TaskContext, err error) (time.Duration, bool) {
	pe := Classify("", tc, err)

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := &e.record
	f := Failure{
		Stage:       pe.Stage,
		Message:     pe.Message,
		Recoverable: pe.Recoverable,
		Attempt:     rec.Context.Attempt(),
		At:          m.now(),
	}

	if pe.Recoverable && rec.Context.RetryCount < rec.Context.MaxRetries {
		rec.Errors = append(rec.Errors, f)
		rec.Context.RetryCount++
		rec.Status = StatusRetrying
		delay := m.backoff(rec.Context.RetryCount)
		m.metrics.retried()
		m.logger.Warn("attempt failed, retrying",
			"task_id", tc.TaskID,
			"stage", pe.Stage,
			"attempt", f.Attempt,
			"retry_count", rec.Context.RetryCount,
			"delay", delay,
			"error", pe.Message,
		)
		m.emitLocked(e, pe.Message)
		return delay, true
	}

	f.RetriesExhausted = pe.Recoverable
	rec.Errors = append(rec.Errors, f)
	m.finishLocked(e, StatusFailed, &f)
	return 0, false
}

func (m *Manager) timedOut(e *taskEntry, tc TaskContext, stage string) {
	terr := &TimeoutError{TaskID: tc.TaskID, Stage: stage, Timeout: tc.Timeout}

	m.mu.Lock()
	defer m.mu.Unlock()
	f := Failure{
		Stage:   stage,
		Message: terr.Error(),
		Attempt: tc.Attempt(),
		At:      m.now(),
	}
	e.record.Errors = append(e.record.Errors, f)
	m.finishLocked(e, StatusTimedOut, &f)
}

// interrupted puts an attempt cut short by shutdown back in the queue
// without consuming retry budget. When the attempt was abandoned, its
// goroutine may still be running: the task stays PENDING but out of the
// queue until running delivers, so it never has two live executions.
func (m *Manager) interrupted(e *taskEntry, tc TaskContext, running <-chan attemptResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.record.Status = StatusPending
	e.record.Stage = ""
	if running == nil {
		m.logger.Info("attempt interrupted by shutdown, requeueing", "task_id", tc.TaskID)
		m.enqueueLocked(e)
		return
	}

	m.logger.Warn("attempt abandoned at shutdown, holding task until it returns", "task_id", tc.TaskID)
	m.emitLocked(e, "")
	go func() {
		<-running
		m.mu.Lock()
		defer m.mu.Unlock()
		m.logger.Info("abandoned attempt returned, requeueing", "task_id", tc.TaskID)
		m.enqueueLocked(e)
	}()
}

// finishLocked moves e to the terminal history, evicting the oldest
// entries beyond HistoryLimit.
func (m *Manager) finishLocked(e *taskEntry, status Status, f *Failure) {
	rec := &e.record
	rec.Status = status
	rec.FinishedAt = m.now()
	rec.Failure = f
	rec.Stage = ""

	id := rec.Context.TaskID
	delete(m.active, id)
	m.history[id] = e
	m.historyOrder = append(m.historyOrder, id)
	for len(m.historyOrder) > m.cfg.HistoryLimit {
		oldest := m.historyOrder[0]
		m.historyOrder = m.historyOrder[1:]
		delete(m.history, oldest)
		m.removeOrderLocked(oldest)
	}

	m.metrics.finished(status)
	msg := ""
	attrs := []any{"task_id", id, "status", string(status), "retry_count", rec.Context.RetryCount}
	if f != nil {
		msg = f.Message
		attrs = append(attrs, "stage", f.Stage, "retries_exhausted", f.RetriesExhausted, "error", f.Message)
		m.logger.Error("task finished", attrs...)
	} else {
		if len(rec.Degraded) > 0 {
			attrs = append(attrs, "degraded", rec.Degraded)
		}
		m.logger.Info("task finished", attrs...)
	}
	m.emitLocked(e, msg)
	if m.onFinish != nil {
		m.onFinish(rec.clone())
	}
}

func (m *Manager) removeOrderLocked(id string) {
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *Manager) emitLocked(e *taskEntry, msg string) {
	m.reporter.Emit(TaskEvent{
		Kind:    EventStatus,
		TaskID:  e.record.Context.TaskID,
		Status:  e.record.Status,
		Attempt: e.record.Context.Attempt(),
		Message: msg,
		At:      m.now(),
	})
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// GetTaskStatus returns the current status of a task. Unknown IDs, and
// terminal tasks already evicted from history, yield *NotFoundError.
func (m *Manager) GetTaskStatus(id string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.lookupLocked(id)
	if !ok {
		return "", &NotFoundError{TaskID: id}
	}
	return e.record.Status, nil
}

// GetTask returns a snapshot of the task record.
func (m *Manager) GetTask(id string) (TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.lookupLocked(id)
	if !ok {
		return TaskRecord{}, &NotFoundError{TaskID: id}
	}
	return e.record.clone(), nil
}

func (m *Manager) lookupLocked(id string) (*taskEntry, bool) {
	if e, ok := m.active[id]; ok {
		return e, true
	}
	e, ok := m.history[id]
	return e, ok
}

// Stats counts tasks by status.
type Stats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Retrying  int `json:"retrying"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timedOut"`
}

// Stats returns task counts over the active set and the retained history.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s Stats
	count := func(e *taskEntry) {
		switch e.record.Status {
		case StatusPending:
			s.Queued++
		case StatusRunning:
			s.Running++
		case StatusRetrying:
			s.Retrying++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusTimedOut:
			s.TimedOut++
		}
	}
	for _, e := range m.active {
		count(e)
	}
	for _, e := range m.history {
		count(e)
	}
	return s
}

// Await blocks until every listed task is terminal or ctx is done, and
// returns their final records in the given order.
func (m *Manager) Await(ctx context.Context, ids ...string) ([]TaskRecord, error) {
	var events <-chan TaskEvent
	if m.reporter != nil {
		ch, cancel := m.reporter.Subscribe(256)
		defer cancel()
		events = ch
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		out := make([]TaskRecord, 0, len(ids))
		pending := false
		for _, id := range ids {
			rec, err := m.GetTask(id)
			if err != nil {
				return nil, err
			}
			if !rec.Status.IsTerminal() {
				pending = true
				break
			}
			out = append(out, rec)
		}
		if !pending {
			return out, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		case <-ticker.C:
		}
	}
}
