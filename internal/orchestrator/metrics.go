package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for task dispatch and stage
// execution. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Submitted     prometheus.Counter
	Finished      *prometheus.CounterVec
	Retries       prometheus.Counter
	QueueDepth    prometheus.Gauge
	Running       prometheus.Gauge
	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. Pass prometheus.NewRegistry()
// in tests to avoid duplicate registration on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submitted: f.NewCounter(prometheus.CounterOpts{
			Name: "legacylens_tasks_submitted_total",
			Help: "Total number of accepted task submissions",
		}),
		Finished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "legacylens_tasks_finished_total",
			Help: "Total number of tasks that reached a terminal status",
		}, []string{"status"}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "legacylens_task_retries_total",
			Help: "Total number of scheduled task retries",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "legacylens_queue_depth",
			Help: "Number of tasks waiting for dispatch",
		}),
		Running: f.NewGauge(prometheus.GaugeOpts{
			Name: "legacylens_tasks_running",
			Help: "Number of tasks currently holding a permit",
		}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "legacylens_stage_duration_seconds",
			Help:    "Duration of stage executions",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"stage"}),
		StageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "legacylens_stage_failures_total",
			Help: "Total number of stage failures by policy",
		}, []string{"stage", "policy"}),
	}
}

func (m *Metrics) submitted() {
	if m != nil {
		m.Submitted.Inc()
	}
}

func (m *Metrics) finished(s Status) {
	if m != nil {
		m.Finished.WithLabelValues(string(s)).Inc()
	}
}

func (m *Metrics) retried() {
	if m != nil {
		m.Retries.Inc()
	}
}

func (m *Metrics) queueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

func (m *Metrics) running(delta float64) {
	if m != nil {
		m.Running.Add(delta)
	}
}

func (m *Metrics) stageDone(stage string, d time.Duration) {
	if m != nil {
		m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

func (m *Metrics) stageFailed(stage string, p Policy) {
	if m != nil {
		m.StageFailures.WithLabelValues(stage, p.String()).Inc()
	}
}
