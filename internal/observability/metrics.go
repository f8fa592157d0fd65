package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for sessions, completions and the daemon.
type Metrics struct {
	registry        *prometheus.Registry
	Sessions        *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec
	SessionAttempts *prometheus.HistogramVec
	ActiveSession   *prometheus.GaugeVec
	TransportErrs   *prometheus.CounterVec
	ModelAttempts   *prometheus.CounterVec
	ModelUsage      *prometheus.CounterVec
	ModelFailures   *prometheus.CounterVec
	RoleExhausted   *prometheus.CounterVec
	Truncations     *prometheus.CounterVec
	SpiderRuns      *prometheus.CounterVec
}

// NewMetrics constructs a metrics registry with all collectors registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	sessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autohubble_sessions_total",
		Help: "Finished generation sessions by result",
	}, []string{"result"})

	durs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autohubble_session_duration_seconds",
		Help:    "Generation session duration in seconds",
		Buckets: []float64{30, 60, 120, 300, 600, 1200, 2400, 3600},
	}, []string{"result"})

	attempts := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autohubble_session_attempts",
		Help:    "Generate/test attempts used per session",
		Buckets: prometheus.LinearBuckets(1, 2, 10),
	}, []string{"result"})

	active := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "autohubble_transport_active_sessions",
		Help: "Active streaming sessions by transport",
	}, []string{"transport"})

	trErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autohubble_transport_errors_total",
		Help: "Transport-level errors (handler/streaming) by transport and reason",
	}, []string{"transport", "reason"})

	modelAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autohubble_model_attempts_total",
		Help: "Completion attempts by role, model and outcome",
	}, []string{"role", "model", "outcome"})

	modelUsage := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autohubble_model_usage_total",
		Help: "Successful completions by role and model",
	}, []string{"role", "model"})

	modelFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autohubble_model_failures_total",
		Help: "Models given up on (retry budget spent or fatal error) by role",
	}, []string{"role", "model"})

	exhausted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autohubble_role_exhausted_total",
		Help: "Completions where every fallback model failed",
	}, []string{"role"})

	truncations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autohubble_truncations_total",
		Help: "Payloads truncated to fit a model context window",
	}, []string{"model"})

	spiderRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autohubble_spider_runs_total",
		Help: "Spider executions by outcome",
	}, []string{"outcome"})

	reg.MustRegister(sessions, durs, attempts, active, trErrors, modelAttempts, modelUsage, modelFailures, exhausted, truncations, spiderRuns)

	return &Metrics{
		registry:        reg,
		Sessions:        sessions,
		SessionDuration: durs,
		SessionAttempts: attempts,
		ActiveSession:   active,
		TransportErrs:   trErrors,
		ModelAttempts:   modelAttempts,
		ModelUsage:      modelUsage,
		ModelFailures:   modelFailures,
		RoleExhausted:   exhausted,
		Truncations:     truncations,
		SpiderRuns:      spiderRuns,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordSession records a finished generation session.
func (m *Metrics) RecordSession(result string, duration time.Duration, attempts int) {
	if m == nil {
		return
	}
	result = orUnknown(result)
	m.Sessions.WithLabelValues(result).Inc()
	m.SessionDuration.WithLabelValues(result).Observe(duration.Seconds())
	m.SessionAttempts.WithLabelValues(result).Observe(float64(attempts))
}

// IncActiveSessions increments the active session gauge.
func (m *Metrics) IncActiveSessions(transport string) {
	if m == nil {
		return
	}
	m.ActiveSession.WithLabelValues(transport).Inc()
}

// DecActiveSessions decrements the active session gauge.
func (m *Metrics) DecActiveSessions(transport string) {
	if m == nil {
		return
	}
	m.ActiveSession.WithLabelValues(transport).Dec()
}

// RecordTransportError records a transport-level error.
func (m *Metrics) RecordTransportError(transport, reason string) {
	if m == nil {
		return
	}
	m.TransportErrs.WithLabelValues(orUnknown(transport), orUnknown(reason)).Inc()
}

// RecordModelAttempt counts a single completion attempt and its outcome (ok, retry, fatal).
func (m *Metrics) RecordModelAttempt(role, model, outcome string) {
	if m == nil {
		return
	}
	m.ModelAttempts.WithLabelValues(orUnknown(role), orUnknown(model), orUnknown(outcome)).Inc()
}

// RecordModelUsage increments the success counter for a role/model pair.
func (m *Metrics) RecordModelUsage(role, model string) {
	if m == nil {
		return
	}
	m.ModelUsage.WithLabelValues(orUnknown(role), orUnknown(model)).Inc()
}

// RecordModelFailure increments the failure counter for a role/model pair.
func (m *Metrics) RecordModelFailure(role, model string) {
	if m == nil {
		return
	}
	m.ModelFailures.WithLabelValues(orUnknown(role), orUnknown(model)).Inc()
}

// RecordExhausted counts a role whose whole fallback chain failed.
func (m *Metrics) RecordExhausted(role string) {
	if m == nil {
		return
	}
	m.RoleExhausted.WithLabelValues(orUnknown(role)).Inc()
}

// RecordTruncation counts a payload that had to be cut down for model.
func (m *Metrics) RecordTruncation(model string) {
	if m == nil {
		return
	}
	m.Truncations.WithLabelValues(orUnknown(model)).Inc()
}

// RecordSpiderRun counts a spider execution (ok, timeout, error).
func (m *Metrics) RecordSpiderRun(outcome string) {
	if m == nil {
		return
	}
	m.SpiderRuns.WithLabelValues(orUnknown(outcome)).Inc()
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
