package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Record methods are safe to call on a
// nil *Metrics so that components can run without instrumentation in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ingress metrics
	RateLimitDecisionsTotal *prometheus.CounterVec
	AuthorizationDenials    *prometheus.CounterVec
	AuthenticationFailures  *prometheus.CounterVec

	// Saga metrics
	SagaOutcomesTotal         *prometheus.CounterVec
	SagaOrphansTotal          *prometheus.CounterVec
	CompensationAttemptsTotal *prometheus.CounterVec

	// Audit metrics
	AuditWritesTotal        *prometheus.CounterVec
	AuditWriteFailuresTotal prometheus.Counter

	// Reconciliation metrics
	ReconcileRunsTotal    *prometheus.CounterVec
	ReconcileOrphansFound prometheus.Counter
	ReconcileDeletesTotal *prometheus.CounterVec
	ReconcileLastRunUnix  prometheus.Gauge

	// Cache metrics
	PrincipalCacheTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retailops_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "retailops_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RateLimitDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retailops_ratelimit_decisions_total",
				Help: "Rate limiter decisions by policy",
			},
			[]string{"policy", "decision"},
		),
		AuthorizationDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retailops_authorization_denials_total",
				Help: "Authorization denials by reason",
			},
			[]string{"reason"},
		),
		AuthenticationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retailops_authentication_failures_total",
				Help: "Failed session validations by cause",
			},
			[]string{"cause"},
		),
		SagaOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retailops_saga_outcomes_total",
				Help: "Provisioning saga outcomes",
			},
			[]string{"saga", "outcome"},
		),
		SagaOrphansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retailops_saga_orphans_total",
				Help: "Resources left behind by failed compensation",
			},
			[]string{"saga", "resource"},
		),
		CompensationAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retailops_saga_compensation_attempts_total",
				Help: "Compensation attempts by step and result",
			},
			[]string{"step", "result"},
		),
		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retailops_audit_writes_total",
				Help: "Audit entries written by action",
			},
			[]string{"action", "resource"},
		),
		AuditWriteFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "retailops_audit_write_failures_total",
				Help: "Audit writes swallowed by the safe logging path",
			},
		),
		ReconcileRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retailops_reconcile_runs_total",
				Help: "Reconciliation runs by status",
			},
			[]string{"status"},
		),
		ReconcileOrphansFound: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "retailops_reconcile_orphans_found_total",
				Help: "Identities found without a profile",
			},
		),
		ReconcileDeletesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retailops_reconcile_deletes_total",
				Help: "Orphan deletions by result",
			},
			[]string{"result"},
		),
		ReconcileLastRunUnix: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "retailops_reconcile_last_run_timestamp_seconds",
				Help: "Unix time of the last completed reconciliation run",
			},
		),
		PrincipalCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retailops_principal_cache_lookups_total",
				Help: "Principal cache lookups by result",
			},
			[]string{"result"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RateLimitDecisionsTotal,
		m.AuthorizationDenials,
		m.AuthenticationFailures,
		m.SagaOutcomesTotal,
		m.SagaOrphansTotal,
		m.CompensationAttemptsTotal,
		m.AuditWritesTotal,
		m.AuditWriteFailuresTotal,
		m.ReconcileRunsTotal,
		m.ReconcileOrphansFound,
		m.ReconcileDeletesTotal,
		m.ReconcileLastRunUnix,
		m.PrincipalCacheTotal,
	)

	return m
}

// RecordHTTPRequest records one completed request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordRateLimit records an allow or deny decision for a policy.
func (m *Metrics) RecordRateLimit(policy string, allowed bool) {
	if m == nil {
		return
	}
	decision := "allow"
	if !allowed {
		decision = "deny"
	}
	m.RateLimitDecisionsTotal.WithLabelValues(policy, decision).Inc()
}

// RecordAuthorizationDenial records a denied authorization decision.
func (m *Metrics) RecordAuthorizationDenial(reason string) {
	if m == nil {
		return
	}
	m.AuthorizationDenials.WithLabelValues(reason).Inc()
}

// RecordAuthenticationFailure records a failed session validation.
func (m *Metrics) RecordAuthenticationFailure(cause string) {
	if m == nil {
		return
	}
	m.AuthenticationFailures.WithLabelValues(cause).Inc()
}

// RecordSagaOutcome records how a saga run ended.
func (m *Metrics) RecordSagaOutcome(saga, outcome string) {
	if m == nil {
		return
	}
	m.SagaOutcomesTotal.WithLabelValues(saga, outcome).Inc()
}

// RecordSagaOrphan records a resource left behind by a failed rollback.
func (m *Metrics) RecordSagaOrphan(saga, resource string) {
	if m == nil {
		return
	}
	m.SagaOrphansTotal.WithLabelValues(saga, resource).Inc()
}

// RecordCompensationAttempt records one compensation attempt.
func (m *Metrics) RecordCompensationAttempt(step string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.CompensationAttemptsTotal.WithLabelValues(step, result).Inc()
}

// RecordAuditWrite records a persisted audit entry.
func (m *Metrics) RecordAuditWrite(action, resource string) {
	if m == nil {
		return
	}
	m.AuditWritesTotal.WithLabelValues(action, resource).Inc()
}

// RecordAuditFailure records an audit write swallowed by the safe path.
func (m *Metrics) RecordAuditFailure() {
	if m == nil {
		return
	}
	m.AuditWriteFailuresTotal.Inc()
}

// RecordReconcileRun records the result of a reconciliation run.
func (m *Metrics) RecordReconcileRun(status string, orphans, deleted, failed int) {
	if m == nil {
		return
	}
	m.ReconcileRunsTotal.WithLabelValues(status).Inc()
	m.ReconcileOrphansFound.Add(float64(orphans))
	m.ReconcileDeletesTotal.WithLabelValues("success").Add(float64(deleted))
	m.ReconcileDeletesTotal.WithLabelValues("failure").Add(float64(failed))
	m.ReconcileLastRunUnix.SetToCurrentTime()
}

// RecordCacheLookup records a principal cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.PrincipalCacheTotal.WithLabelValues(result).Inc()
}

// MetricsHandler returns the /metrics handler for a registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
