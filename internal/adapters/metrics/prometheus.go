// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	windowReads         *prometheus.CounterVec
	readDuration        *prometheus.HistogramVec
	taskOutcomes        *prometheus.CounterVec
	transferBytes       *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "silogrid"
	}

	return &Collector{
		windowReads: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "window_reads_total",
				Help:      "Total number of windowed raster reads",
			},
			[]string{"variable", "status"},
		),

		readDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "window_read_duration_seconds",
				Help:      "Windowed read duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"variable"},
		),

		taskOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_tasks_total",
				Help:      "Total number of persist tasks by outcome",
			},
			[]string{"variable", "outcome"},
		),

		transferBytes: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transfer_bytes",
				Help:      "Bytes moved from the archive per operation",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
			},
			[]string{"operation"},
		),

		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// IncWindowRead increments the windowed-read counter.
func (c *Collector) IncWindowRead(variable string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	c.windowReads.WithLabelValues(variable, status).Inc()
}

// ObserveReadDuration records one windowed read's duration.
func (c *Collector) ObserveReadDuration(variable string, duration time.Duration) {
	c.readDuration.WithLabelValues(variable).Observe(duration.Seconds())
}

// IncTaskOutcome increments the per-task outcome counter.
func (c *Collector) IncTaskOutcome(variable, outcome string) {
	c.taskOutcomes.WithLabelValues(variable, outcome).Inc()
}

// ObserveTransferBytes records bytes moved from the archive.
func (c *Collector) ObserveTransferBytes(operation string, n int64) {
	c.transferBytes.WithLabelValues(operation).Observe(float64(n))
}

// IncHTTPRequests increments the HTTP request counter.
func (c *Collector) IncHTTPRequests(method, path, status string) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// ObserveHTTPDuration records HTTP request duration.
func (c *Collector) ObserveHTTPDuration(method, path string, duration time.Duration) {
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns HTTP middleware for metrics collection.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		path := normalizePath(r.URL.Path)
		status := statusToString(wrapped.statusCode)

		c.IncHTTPRequests(r.Method, path, status)
		c.ObserveHTTPDuration(r.Method, path, duration)
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// normalizePath trims long URL paths to keep metric cardinality bounded.
func normalizePath(path string) string {
	switch {
	case len(path) > 20:
		return path[:20] + "..."
	default:
		return path
	}
}

func statusToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
