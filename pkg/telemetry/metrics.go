package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors. All recorders are safe to call on
// a disabled or nil Metrics.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry
	server   *http.Server

	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeRuns    prometheus.Gauge

	reconciles        *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec

	clientCalls    *prometheus.CounterVec
	clientDuration *prometheus.HistogramVec
	clientErrors   *prometheus.CounterVec

	errorsByClass    *prometheus.CounterVec
	errorsByCode     *prometheus.CounterVec
	policyViolations *prometheus.CounterVec
}

// NewMetrics registers every collector on a private registry, so several
// instances can live in one process.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	m := &Metrics{config: cfg}
	if !cfg.Enabled {
		return m, nil
	}

	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	ns := cfg.Namespace
	m.registry = prometheus.NewRegistry()
	f := promauto.With(m.registry)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: name, Help: help, Buckets: buckets}, labels)
	}

	m.runsStarted = f.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "runs_started_total", Help: "Batch runs started."})
	m.activeRuns = f.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "active_runs", Help: "Batch runs in progress."})
	m.runsCompleted = counter("runs_completed_total", "Batch runs completed, by final status.", "status")
	m.runDuration = histogram("run_duration_seconds", "Batch run duration.", "status")

	m.reconciles = counter("reconciles_total", "Single-resource reconciliations.", "resource_type", "operation", "outcome")
	m.reconcileDuration = histogram("reconcile_duration_seconds", "Single-resource reconciliation duration.", "resource_type", "operation")

	m.clientCalls = counter("client_calls_total", "Calls to the remote API.", "resource_type", "call")
	m.clientDuration = histogram("client_call_duration_seconds", "Remote API call duration.", "resource_type", "call")
	m.clientErrors = counter("client_errors_total", "Failed calls to the remote API.", "resource_type", "call", "code")

	m.errorsByClass = counter("errors_by_class_total", "Reconcile errors by class.", "class")
	m.errorsByCode = counter("errors_by_code_total", "Reconcile errors by remote error code.", "code")
	m.policyViolations = counter("policy_violations_total", "Guardrail policy violations.", "policy", "severity")

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

func (m *Metrics) RecordRunStarted() {
	if !m.enabled() {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordReconcile counts one reconciliation; outcome is changed, unchanged
// or failed.
func (m *Metrics) RecordReconcile(resourceType, operation, outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.reconciles.WithLabelValues(resourceType, operation, outcome).Inc()
	m.reconcileDuration.WithLabelValues(resourceType, operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordClientCall(resourceType, call string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.clientCalls.WithLabelValues(resourceType, call).Inc()
	m.clientDuration.WithLabelValues(resourceType, call).Observe(duration.Seconds())
}

func (m *Metrics) RecordClientError(resourceType, call, code string) {
	if !m.enabled() {
		return
	}
	m.clientErrors.WithLabelValues(resourceType, call, code).Inc()
}

// RecordError counts an error by class, and by code when there is one.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if !m.enabled() {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer measures the elapsed time of an operation.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// StartMetricsServer serves the registry over HTTP in the background. Without
// a listen address it does nothing.
func (m *Metrics) StartMetricsServer(logger *Logger) error {
	if !m.enabled() || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()
	return nil
}

// Shutdown stops the metrics server if it was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
