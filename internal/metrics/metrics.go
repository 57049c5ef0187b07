// Package metrics provides Prometheus instrumentation for the forward
// proxy: request counts and latency, plus cache occupancy and queue
// depth gauges.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus instruments for the proxy's request path,
// cache, and connection queue.
type Metrics struct {
    requestsTotal     *prometheus.CounterVec
    requestDuration   *prometheus.HistogramVec
    cacheEntries      prometheus.Gauge
    cacheSizeBytes    prometheus.Gauge
    queueDepth        prometheus.Gauge
    activeConnections prometheus.Gauge
}

// New creates a metrics collector and registers its instruments with the
// default Prometheus registry.
func New() *Metrics {
    m := &Metrics{
        requestsTotal: prometheus.NewCounterVec(
            prometheus.CounterOpts{
                Name: "proxy_requests_total",
                Help: "Total number of proxied requests",
            },
            []string{"method", "status_code", "cache_result"},
        ),
        requestDuration: prometheus.NewHistogramVec(
            prometheus.HistogramOpts{
                Name:    "proxy_request_duration_seconds",
                Help:    "Request duration in seconds",
                Buckets: prometheus.DefBuckets,
            },
            []string{"method", "cache_result"},
        ),
        cacheEntries: prometheus.NewGauge(
            prometheus.GaugeOpts{
                Name: "proxy_cache_entries",
                Help: "Number of entries currently cached",
            },
        ),
        cacheSizeBytes: prometheus.NewGauge(
            prometheus.GaugeOpts{
                Name: "proxy_cache_size_bytes",
                Help: "Total bytes currently cached",
            },
        ),
        queueDepth: prometheus.NewGauge(
            prometheus.GaugeOpts{
                Name: "proxy_queue_depth",
                Help: "Number of connections currently buffered in the handoff queue",
            },
        ),
        activeConnections: prometheus.NewGauge(
            prometheus.GaugeOpts{
                Name: "proxy_active_connections",
                Help: "Number of connections currently being served",
            },
        ),
    }

    prometheus.MustRegister(
        m.requestsTotal,
        m.requestDuration,
        m.cacheEntries,
        m.cacheSizeBytes,
        m.queueDepth,
        m.activeConnections,
    )

    return m
}

// RecordRequest records one completed request's status and duration,
// labeled by whether it was served from cache or fetched from origin.
func (m *Metrics) RecordRequest(method string, statusCode int, cacheResult string, duration time.Duration) {
    status := statusLabel(statusCode)
    m.requestsTotal.WithLabelValues(method, status, cacheResult).Inc()
    m.requestDuration.WithLabelValues(method, cacheResult).Observe(duration.Seconds())
}

// UpdateCacheStats sets the cache occupancy gauges, called periodically by
// the supervisor's stats sampler.
func (m *Metrics) UpdateCacheStats(entries, sizeBytes int) {
    m.cacheEntries.Set(float64(entries))
    m.cacheSizeBytes.Set(float64(sizeBytes))
}

// UpdateQueueDepth sets the connection-queue depth gauge.
func (m *Metrics) UpdateQueueDepth(depth int) {
    m.queueDepth.Set(float64(depth))
}

// IncrementConnections increments the active-connection gauge.
func (m *Metrics) IncrementConnections() {
    m.activeConnections.Inc()
}

// DecrementConnections decrements the active-connection gauge.
func (m *Metrics) DecrementConnections() {
    m.activeConnections.Dec()
}

// Handler returns the HTTP handler exposing metrics for Prometheus
// scraping.
func (m *Metrics) Handler() http.Handler {
    return promhttp.Handler()
}

func statusLabel(code int) string {
    switch {
    case code >= 200 && code < 300:
        return "2xx"
    case code >= 500:
        return "5xx"
    case code >= 400:
        return "4xx"
    default:
        return "other"
    }
}
