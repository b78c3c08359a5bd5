// Package metrics exposes Prometheus counters for lockout decisions,
// blacklist checks and the fail-open audit sinks.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label values shared by services.
const (
	ResultUnlocked    = "unlocked"
	ResultAutoLocked  = "auto_locked"
	ResultAdminLocked = "admin_locked"
	ResultError       = "error"

	SinkDatabase = "database"
	SinkKafka    = "kafka"
	SinkEmail    = "email"
	SinkRedis    = "redis"

	LoginSuccess = "success"
	LoginInvalid = "invalid_credentials"
	LoginLocked  = "locked"
	LoginError   = "error"
)

type Metrics struct {
	LockoutDecisions    *prometheus.CounterVec
	LoginAttempts       *prometheus.CounterVec
	BlacklistChecks     *prometheus.CounterVec
	SideEffectFailures  *prometheus.CounterVec
	CleanupRowsDeleted  *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New builds the collectors and registers them on a private registry so
// tests can create as many instances as they like.
func New(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		LockoutDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "lockout_decisions_total",
				Help:        "Lockout resolutions by outcome",
				ConstLabels: labels,
			},
			[]string{"result", "mode"},
		),
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "login_attempts_total",
				Help:        "Login attempts by outcome",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),
		BlacklistChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "token_blacklist_checks_total",
				Help:        "Blacklist lookups by result and source",
				ConstLabels: labels,
			},
			[]string{"result", "source"},
		),
		SideEffectFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "side_effect_failures_total",
				Help:        "Swallowed failures of advisory writes",
				ConstLabels: labels,
			},
			[]string{"sink", "operation"},
		),
		CleanupRowsDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "cleanup_rows_deleted_total",
				Help:        "Rows removed by the maintenance loop",
				ConstLabels: labels,
			},
			[]string{"table"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "Histogram of HTTP request latency",
				ConstLabels: labels,
				Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.LockoutDecisions,
		m.LoginAttempts,
		m.BlacklistChecks,
		m.SideEffectFailures,
		m.CleanupRowsDeleted,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the /metrics endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The helpers below are nil-safe so services can run without metrics.

func (m *Metrics) ObserveLockout(result, mode string) {
	if m == nil {
		return
	}
	m.LockoutDecisions.WithLabelValues(result, mode).Inc()
}

func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveBlacklist(result, source string) {
	if m == nil {
		return
	}
	m.BlacklistChecks.WithLabelValues(result, source).Inc()
}

func (m *Metrics) ObserveSideEffectFailure(sink, operation string) {
	if m == nil {
		return
	}
	m.SideEffectFailures.WithLabelValues(sink, operation).Inc()
}

func (m *Metrics) ObserveCleanup(table string, rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.CleanupRowsDeleted.WithLabelValues(table).Add(float64(rows))
}
