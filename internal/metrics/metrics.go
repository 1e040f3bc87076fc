// Package metrics exposes Prometheus collectors and HTTP instrumentation
// for the capture service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	captureItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postshot_capture_items_total",
			Help: "Total capture items processed, labeled by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)

	captureDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postshot_capture_duration_seconds",
			Help:    "Histogram of capture attempt durations, labeled by platform.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60},
		},
		[]string{"platform"},
	)

	jobsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postshot_jobs_completed_total",
			Help: "Total jobs that reached the completed status.",
		},
	)

	archivesBuiltTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postshot_archives_built_total",
			Help: "Total archives assembled.",
		},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "postshot_active_workers",
			Help: "Number of workers currently processing a capture task.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postshot_http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postshot_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}

		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveCapture records one finished capture attempt.
func ObserveCapture(platform, outcome string, duration time.Duration) {
	captureItemsTotal.WithLabelValues(platform, outcome).Inc()
	captureDurationSeconds.WithLabelValues(platform).Observe(duration.Seconds())
}

// ObserveJobCompleted increments the completed-jobs counter.
func ObserveJobCompleted() {
	jobsCompletedTotal.Inc()
}

// ObserveArchiveBuilt increments the built-archives counter.
func ObserveArchiveBuilt() {
	archivesBuiltTotal.Inc()
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active worker count.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active worker count.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
