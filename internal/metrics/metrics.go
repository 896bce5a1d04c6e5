// Package metrics provides Prometheus metrics for specforge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can run without a collector.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	TasksTotal         *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	ReviewDecisions    *prometheus.CounterVec
	SpecRevisions      *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
	DBSizeBytes        prometheus.Gauge
	ErrorsTotal        *prometheus.CounterVec
	ApprovedChanges    *prometheus.CounterVec
	RateLimitClients   prometheus.Gauge
	RateLimitEvictions prometheus.Counter
	RateLimitHitRatio  prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specforge_http_requests_total",
				Help: "Total number of API requests by route and status code.",
			},
			[]string{"route", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "specforge_http_request_duration_seconds",
				Help:    "API request duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		TasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specforge_tasks_total",
				Help: "Tasks reaching a terminal state by capability and status.",
			},
			[]string{"capability", "status"},
		),
		GenerationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "specforge_generation_duration_seconds",
				Help:    "Generation backend call duration by tier.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 90, 120},
			},
			[]string{"tier"},
		),
		ReviewDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specforge_review_decisions_total",
				Help: "Code change review decisions by decision.",
			},
			[]string{"decision"},
		),
		SpecRevisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specforge_spec_revisions_total",
				Help: "Spec document revisions by operation and result.",
			},
			[]string{"operation", "result"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "specforge_task_queue_depth",
				Help: "Tasks waiting for an async worker.",
			},
		),
		DBSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "specforge_db_size_bytes",
				Help: "Size of the SQLite database file.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specforge_errors_total",
				Help: "Total errors by module and kind.",
			},
			[]string{"module", "kind"},
		),
		ApprovedChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specforge_approved_changes_total",
				Help: "Approved code changes by capability and change type.",
			},
			[]string{"capability", "change_type"},
		),
		RateLimitClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "specforge_ratelimit_clients",
				Help: "Clients currently tracked by the rate limiter.",
			},
		),
		RateLimitEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "specforge_ratelimit_evictions_total",
				Help: "Rate limiter clients dropped for idleness or capacity.",
			},
		),
		RateLimitHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "specforge_ratelimit_cache_hit_ratio",
				Help: "Share of requests whose client bucket was already cached.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.TasksTotal)
	reg.MustRegister(m.GenerationDuration)
	reg.MustRegister(m.ReviewDecisions)
	reg.MustRegister(m.SpecRevisions)
	reg.MustRegister(m.QueueDepth)
	reg.MustRegister(m.DBSizeBytes)
	reg.MustRegister(m.ErrorsTotal)
	reg.MustRegister(m.ApprovedChanges)
	reg.MustRegister(m.RateLimitClients)
	reg.MustRegister(m.RateLimitEvictions)
	reg.MustRegister(m.RateLimitHitRatio)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts an API request and observes its duration.
func (m *Metrics) RecordRequest(route, code string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, code).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordTask counts a task reaching a terminal state.
func (m *Metrics) RecordTask(capability, status string) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(capability, status).Inc()
}

// ObserveGeneration records a generation backend call.
func (m *Metrics) ObserveGeneration(tier string, seconds float64) {
	if m == nil {
		return
	}
	m.GenerationDuration.WithLabelValues(tier).Observe(seconds)
}

// RecordDecision counts a review decision (approved, rejected, modification_requested).
func (m *Metrics) RecordDecision(decision string) {
	if m == nil {
		return
	}
	m.ReviewDecisions.WithLabelValues(decision).Inc()
}

// RecordRevision counts a spec update or rollback.
func (m *Metrics) RecordRevision(operation, result string) {
	if m == nil {
		return
	}
	m.SpecRevisions.WithLabelValues(operation, result).Inc()
}

// SetQueueDepth sets the async queue depth.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// SetDBSize sets the database size gauge.
func (m *Metrics) SetDBSize(bytes int64) {
	if m == nil {
		return
	}
	m.DBSizeBytes.Set(float64(bytes))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(module, kind).Inc()
}

// RecordApprovedChange counts an approved code change.
func (m *Metrics) RecordApprovedChange(capability, changeType string) {
	if m == nil {
		return
	}
	m.ApprovedChanges.WithLabelValues(capability, changeType).Inc()
}

// SetRateLimitCache publishes the rate limiter's client cache state.
func (m *Metrics) SetRateLimitCache(clients int, hitRatio float64) {
	if m == nil {
		return
	}
	m.RateLimitClients.Set(float64(clients))
	m.RateLimitHitRatio.Set(hitRatio)
}

// RecordRateLimitEviction counts a client dropped by the rate limiter.
func (m *Metrics) RecordRateLimitEviction() {
	if m == nil {
		return
	}
	m.RateLimitEvictions.Inc()
}
