package results

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/legacylens/internal/orchestrator"
)

// HotspotThreshold is the cyclomatic complexity above which a program is
// listed as a hotspot in summaries.
const HotspotThreshold = 30

// StageRecord is the stored form of one cached stage output.
type StageRecord struct {
	TaskID  string            `json:"taskId"`
	Stage   string            `json:"stage"`
	Attempt int               `json:"attempt"`
	Result  orchestrator.Data `json:"result"`
}

// SecurityTotals summarizes the security stage for one task.
type SecurityTotals struct {
	RiskLevel          string  `json:"risk_level"`
	VulnerabilityCount int     `json:"vulnerability_count"`
	Score              float64 `json:"score"`
}

// FinalResult is the terminal record written once per task.
type FinalResult struct {
	TaskID      string                  `json:"taskId"`
	SourceID    string                  `json:"sourceId,omitempty"`
	Attempt     int                     `json:"attempt"`
	FinalizedAt time.Time               `json:"finalizedAt"`
	Language    string                  `json:"language,omitempty"`
	Grade       string                  `json:"grade,omitempty"`
	Scores      map[string]float64      `json:"scores,omitempty"`
	Metrics     map[string]float64      `json:"metrics,omitempty"`
	Security    *SecurityTotals         `json:"security,omitempty"`
	Degraded    []string                `json:"degraded,omitempty"`
	Stages      []orchestrator.StageRun `json:"stages,omitempty"`
	Data        orchestrator.Data       `json:"data,omitempty"`
}

// Stat is a reduction over one numeric series.
type Stat struct {
	Count  int     `json:"count"`
	Sum    float64 `json:"sum"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"stddev"`
}

// Hotspot is a program whose complexity exceeds HotspotThreshold.
type Hotspot struct {
	TaskID     string  `json:"taskId"`
	SourceID   string  `json:"sourceId,omitempty"`
	Complexity float64 `json:"complexity"`
}

// SummaryResult aggregates a set of finalized tasks.
type SummaryResult struct {
	TaskIDs         []string                       `json:"taskIds"`
	Included        int                            `json:"included"`
	Missing         []string                       `json:"missing,omitempty"`
	Partial         *orchestrator.PartialDataError `json:"-"`
	Metrics         map[string]Stat                `json:"metrics"`
	Scores          map[string]Stat                `json:"scores"`
	Grades          map[string]int                 `json:"grades"`
	Languages       map[string]int                 `json:"languages"`
	RiskLevels      map[string]int                 `json:"riskLevels"`
	Vulnerabilities int                            `json:"vulnerabilities"`
	Degraded        map[string]int                 `json:"degraded,omitempty"`
	Hotspots        []Hotspot                      `json:"hotspots"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source used for FinalizedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithReadConcurrency bounds parallel reads during Aggregate.
func WithReadConcurrency(n int) Option {
	return func(m *Manager) { m.readLimit = n }
}

// Manager persists stage outputs and final results on top of a Store.
type Manager struct {
	store     Store
	logger    *slog.Logger
	now       func() time.Time
	readLimit int
}

var _ orchestrator.ResultRecorder = (*Manager)(nil)

// NewManager returns a Manager writing to store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{store: store, now: nowUTC, readLimit: 8}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.readLimit < 1 {
		m.readLimit = 1
	}
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() Store { return m.store }

// CacheResult stores one stage output under (task, attempt, stage).
// Rewriting identical content is a no-op.
func (m *Manager) CacheResult(ctx context.Context, tc orchestrator.TaskContext, stage string, result orchestrator.Data) error {
	if result == nil {
		result = orchestrator.Data{}
	}
	value, err := json.Marshal(StageRecord{
		TaskID:  tc.TaskID,
		Stage:   stage,
		Attempt: tc.Attempt(),
		Result:  result,
	})
	if err != nil {
		return fmt.Errorf("results: encode %s result: %w", stage, err)
	}

	key := stageKey(tc.TaskID, tc.Attempt(), stage)
	existing, err := m.store.Get(ctx, key)
	switch {
	case err == nil && bytes.Equal(existing, value):
		return nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return fmt.Errorf("results: read %s: %w", key, err)
	}
	if err := m.store.Upsert(ctx, key, value); err != nil {
		return fmt.Errorf("results: cache %s: %w", key, err)
	}
	return nil
}

// Finalize writes the terminal record for tc.TaskID. A second call returns
// *orchestrator.ConflictError and leaves the stored record unchanged.
func (m *Manager) Finalize(ctx context.Context, tc orchestrator.TaskContext, out *orchestrator.Outcome) error {
	final := m.buildFinal(tc, out)
	value, err := json.Marshal(final)
	if err != nil {
		return fmt.Errorf("results: encode final result: %w", err)
	}
	err = m.store.Insert(ctx, finalKey(tc.TaskID), value)
	if errors.Is(err, ErrExists) {
		return &orchestrator.ConflictError{TaskID: tc.TaskID}
	}
	if err != nil {
		return fmt.Errorf("results: finalize %s: %w", tc.TaskID, err)
	}
	m.logger.Debug("task finalized", "task_id", tc.TaskID, "attempt", final.Attempt, "grade", final.Grade)
	return nil
}

type benchmarkView struct {
	Grade  string             `json:"grade"`
	Scores map[string]float64 `json:"scores"`
}

func (m *Manager) buildFinal(tc orchestrator.TaskContext, out *orchestrator.Outcome) FinalResult {
	final := FinalResult{
		TaskID:      tc.TaskID,
		SourceID:    tc.SourceID,
		Attempt:     tc.Attempt(),
		FinalizedAt: m.now(),
	}
	if out == nil {
		return final
	}
	if out.Attempt > 0 {
		final.Attempt = out.Attempt
	}
	final.Degraded = slices.Clone(out.Degraded)
	final.Stages = slices.Clone(out.Stages)

	data := out.Data.Clone()
	delete(data, orchestrator.KeySource)
	final.Data = data

	if lang, err := orchestrator.Value[string](data, orchestrator.KeyLanguage); err == nil {
		final.Language = lang
	}
	if grade, err := orchestrator.Value[string](data, orchestrator.KeyGrade); err == nil {
		final.Grade = grade
	}
	if scores, err := orchestrator.Value[map[string]float64](data, orchestrator.KeyScores); err == nil {
		final.Scores = scores
	}
	if bench, err := orchestrator.Value[benchmarkView](data, orchestrator.KeyBenchmark); err == nil {
		if final.Grade == "" {
			final.Grade = bench.Grade
		}
		if final.Scores == nil {
			final.Scores = bench.Scores
		}
	}
	if metrics, err := orchestrator.Value[map[string]float64](data, orchestrator.KeyMetrics); err == nil {
		final.Metrics = metrics
	}
	if sec, err := orchestrator.Value[SecurityTotals](data, orchestrator.KeySecurity); err == nil {
		final.Security = &sec
	}
	return final
}

// FinalResult returns the finalized record for taskID.
func (m *Manager) FinalResult(ctx context.Context, taskID string) (*FinalResult, error) {
	raw, err := m.store.Get(ctx, finalKey(taskID))
	if errors.Is(err, ErrNotFound) {
		return nil, &orchestrator.NotFoundError{TaskID: taskID}
	}
	if err != nil {
		return nil, fmt.Errorf("results: read final %s: %w", taskID, err)
	}
	var final FinalResult
	if err := json.Unmarshal(raw, &final); err != nil {
		return nil, fmt.Errorf("results: decode final %s: %w", taskID, err)
	}
	return &final, nil
}

// StageResults returns the cached stage outputs of one attempt in stage
// key order. attempt <= 0 returns every attempt.
func (m *Manager) StageResults(ctx context.Context, taskID string, attempt int) ([]StageRecord, error) {
	prefix := stagePrefix + taskID + "/"
	if attempt > 0 {
		prefix += fmt.Sprintf("%04d/", attempt)
	}
	recs, err := m.store.Query(ctx, Filter{Prefix: prefix})
	if err != nil {
		return nil, err
	}
	out := make([]StageRecord, 0, len(recs))
	for _, r := range recs {
		var sr StageRecord
		if err := json.Unmarshal(r.Value, &sr); err != nil {
			return nil, fmt.Errorf("results: decode %s: %w", r.Key, err)
		}
		out = append(out, sr)
	}
	return out, nil
}

// FinalizedIDs lists the ids of every finalized task in id order.
func (m *Manager) FinalizedIDs(ctx context.Context) ([]string, error) {
	recs, err := m.store.Query(ctx, Filter{Prefix: finalPrefix})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, strings.TrimPrefix(r.Key, finalPrefix))
	}
	return ids, nil
}

// Aggregate summarizes the finalized results of taskIDs. Ids without a
// final record are listed in Missing and Partial; they never fail the
// call. The result does not depend on the order of taskIDs.
func (m *Manager) Aggregate(ctx context.Context, taskIDs []string) (*SummaryResult, error) {
	ids := slices.Clone(taskIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	finals := make([]*FinalResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.readLimit)
	for i, id := range ids {
		g.Go(func() error {
			final, err := m.FinalResult(gctx, id)
			var nf *orchestrator.NotFoundError
			switch {
			case errors.As(err, &nf):
				return nil
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				m.logger.Warn("summary: unreadable final result", "task_id", id, "error", err)
				return nil
			}
			finals[i] = final
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("results: aggregate: %w", err)
	}

	sum := &SummaryResult{
		TaskIDs:    ids,
		Metrics:    make(map[string]Stat),
		Scores:     make(map[string]Stat),
		Grades:     make(map[string]int),
		Languages:  make(map[string]int),
		RiskLevels: make(map[string]int),
		Degraded:   make(map[string]int),
		Hotspots:   []Hotspot{},
	}
	metricSeries := make(map[string][]float64)
	scoreSeries := make(map[string][]float64)

	for i, final := range finals {
		if final == nil {
			sum.Missing = append(sum.Missing, ids[i])
			continue
		}
		sum.Included++
		if final.Grade != "" {
			sum.Grades[final.Grade]++
		}
		if final.Language != "" {
			sum.Languages[final.Language]++
		}
		if final.Security != nil {
			sum.Vulnerabilities += final.Security.VulnerabilityCount
			if final.Security.RiskLevel != "" {
				sum.RiskLevels[final.Security.RiskLevel]++
			}
		}
		for _, stage := range final.Degraded {
			sum.Degraded[stage]++
		}
		for name, v := range final.Metrics {
			metricSeries[name] = append(metricSeries[name], v)
		}
		for name, v := range final.Scores {
			scoreSeries[name] = append(scoreSeries[name], v)
		}
		if cc, ok := final.Metrics["cyclomatic_complexity"]; ok && cc > HotspotThreshold {
			sum.Hotspots = append(sum.Hotspots, Hotspot{TaskID: final.TaskID, SourceID: final.SourceID, Complexity: cc})
		}
	}

	for name, vs := range metricSeries {
		sum.Metrics[name] = reduce(vs)
	}
	for name, vs := range scoreSeries {
		sum.Scores[name] = reduce(vs)
	}
	slices.SortFunc(sum.Hotspots, func(a, b Hotspot) int {
		if c := cmp.Compare(b.Complexity, a.Complexity); c != 0 {
			return c
		}
		return cmp.Compare(a.TaskID, b.TaskID)
	})
	if len(sum.Missing) > 0 {
		sum.Partial = &orchestrator.PartialDataError{Missing: slices.Clone(sum.Missing)}
		m.logger.Info("summary is partial", "missing", len(sum.Missing), "included", sum.Included)
	}
	return sum, nil
}

// reduce computes a Stat over vs. The series is sorted first so the
// floating-point result is independent of input order.
func reduce(vs []float64) Stat {
	if len(vs) == 0 {
		return Stat{}
	}
	vs = slices.Clone(vs)
	slices.Sort(vs)

	st := Stat{Count: len(vs), Min: vs[0], Max: vs[len(vs)-1]}
	for _, v := range vs {
		st.Sum += v
	}
	st.Mean = st.Sum / float64(len(vs))
	var sq float64
	for _, v := range vs {
		d := v - st.Mean
		sq += d * d
	}
	st.StdDev = math.Sqrt(sq / float64(len(vs)))
	return st
}
