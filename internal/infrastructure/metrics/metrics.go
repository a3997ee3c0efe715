package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/fastygo/hms-gateway/domain"
)

// Metrics holds the gateway's Prometheus collectors on a private registry.
type Metrics struct {
	decisions      *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	verifications  *prometheus.CounterVec
	verifyDuration *prometheus.HistogramVec
	auditBuffered  prometheus.Counter
	auditDropped   prometheus.Counter
	upstreamErrors *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all gateway metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_decisions_total",
				Help: "Session gateway decisions by kind",
			},
			[]string{"decision"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_verdict_cache_total",
				Help: "Verdict cache lookups by result",
			},
			[]string{"result"},
		),
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_verifications_total",
				Help: "Calls to the authentication authority by outcome",
			},
			[]string{"outcome"},
		),
		verifyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_verification_duration_seconds",
				Help:    "Latency of token verification calls",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"outcome"},
		),
		auditBuffered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_audit_events_buffered_total",
				Help: "Access events written to the local outbox instead of Postgres",
			},
		),
		auditDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_audit_events_dropped_total",
				Help: "Access events discarded because the audit queue was full or the outbox failed",
			},
		),
		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_errors_total",
				Help: "Forwarding failures by upstream service",
			},
			[]string{"service"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.decisions,
		m.cacheLookups,
		m.verifications,
		m.verifyDuration,
		m.auditBuffered,
		m.auditDropped,
		m.upstreamErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveDecision(kind domain.DecisionKind) {
	m.decisions.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveVerification(outcome string, elapsed time.Duration) {
	m.verifications.WithLabelValues(outcome).Inc()
	m.verifyDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveAuditBuffered() {
	m.auditBuffered.Inc()
}

func (m *Metrics) ObserveAuditDropped() {
	m.auditDropped.Inc()
}

func (m *Metrics) ObserveUpstreamError(service string) {
	m.upstreamErrors.WithLabelValues(service).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus text exposition on fasthttp.
func (m *Metrics) Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
