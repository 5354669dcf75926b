// Package metrics provides Prometheus metrics export for the routing engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exports engine metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Turn metrics
	turnLatency *prometheus.HistogramVec
	turns       *prometheus.CounterVec

	// Decision metrics
	decisions *prometheus.CounterVec

	// Embedding metrics
	embedLatency *prometheus.HistogramVec
	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec

	// Delivery metrics
	deliveries      *prometheus.CounterVec
	deliveryRetries prometheus.Counter

	// Session metrics
	sessionsActive prometheus.Gauge
	sessionsClosed *prometheus.CounterVec
	sessionsSwept  prometheus.Counter
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.turnLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deskrouter",
			Subsystem: "engine",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end turn handling latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"state"},
	)

	e.turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskrouter",
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Total number of handled turns",
		},
		[]string{"state", "status"},
	)

	e.decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskrouter",
			Subsystem: "engine",
			Name:      "decisions_total",
			Help:      "Total routing decisions by kind and department",
		},
		[]string{"kind", "department_id"},
	)

	e.embedLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deskrouter",
			Subsystem: "engine",
			Name:      "embed_latency_seconds",
			Help:      "Embedding provider latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"operation"},
	)

	e.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskrouter",
			Subsystem: "engine",
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	e.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskrouter",
			Subsystem: "engine",
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	e.deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskrouter",
			Subsystem: "engine",
			Name:      "deliveries_total",
			Help:      "Total delivery outcomes",
		},
		[]string{"status"},
	)

	e.deliveryRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "deskrouter",
			Subsystem: "engine",
			Name:      "delivery_retries_total",
			Help:      "Total delivery re-attempts",
		},
	)

	e.sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "deskrouter",
			Subsystem: "engine",
			Name:      "sessions_active",
			Help:      "Number of live sessions",
		},
	)

	e.sessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskrouter",
			Subsystem: "engine",
			Name:      "sessions_closed_total",
			Help:      "Total sessions reaching a terminal state",
		},
		[]string{"state"},
	)

	e.sessionsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "deskrouter",
			Subsystem: "engine",
			Name:      "sessions_swept_total",
			Help:      "Total sessions abandoned by the expiry sweep",
		},
	)

	registry.MustRegister(
		e.turnLatency,
		e.turns,
		e.decisions,
		e.embedLatency,
		e.cacheHits,
		e.cacheMisses,
		e.deliveries,
		e.deliveryRetries,
		e.sessionsActive,
		e.sessionsClosed,
		e.sessionsSwept,
	)
	return e
}

// RecordTurn records one handled turn with its latency.
func (e *PrometheusExporter) RecordTurn(state string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.turns.WithLabelValues(state, status).Inc()
	e.turnLatency.WithLabelValues(state).Observe(latency.Seconds())
}

// RecordDecision records one routing decision.
func (e *PrometheusExporter) RecordDecision(kind, departmentID string) {
	e.decisions.WithLabelValues(kind, departmentID).Inc()
}

// RecordEmbedLatency records an embedding provider round trip.
func (e *PrometheusExporter) RecordEmbedLatency(operation string, latency time.Duration) {
	e.embedLatency.WithLabelValues(operation).Observe(latency.Seconds())
}

// RecordCacheHit records a cache hit.
func (e *PrometheusExporter) RecordCacheHit(cacheType string) {
	e.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (e *PrometheusExporter) RecordCacheMiss(cacheType string) {
	e.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDelivery records a terminal delivery outcome.
func (e *PrometheusExporter) RecordDelivery(success bool) {
	status := "success"
	if !success {
		status = "failed"
	}
	e.deliveries.WithLabelValues(status).Inc()
}

// RecordDeliveryRetry records one delivery re-attempt.
func (e *PrometheusExporter) RecordDeliveryRetry() {
	e.deliveryRetries.Inc()
}

// SetActiveSessions sets the live session gauge.
func (e *PrometheusExporter) SetActiveSessions(n int) {
	e.sessionsActive.Set(float64(n))
}

// RecordSessionClosed records a session reaching a terminal state.
func (e *PrometheusExporter) RecordSessionClosed(state string) {
	e.sessionsClosed.WithLabelValues(state).Inc()
}

// RecordSessionSwept records a session abandoned by the expiry sweep.
func (e *PrometheusExporter) RecordSessionSwept() {
	e.sessionsSwept.Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ServeHTTP implements http.Handler.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.Handler().ServeHTTP(w, r)
}
