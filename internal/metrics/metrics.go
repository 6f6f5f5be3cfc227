// Package metrics exposes Prometheus collectors for the ingestion service.
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
	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsingest_upstream_requests_total",
			Help: "Total upstream page requests, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	upstreamRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsingest_upstream_request_duration_seconds",
			Help:    "Histogram of upstream page request latencies, labeled by outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"outcome"},
	)

	pageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsingest_page_errors_total",
			Help: "Total page-level failures that aborted a run, labeled by error kind.",
		},
		[]string{"kind"},
	)

	articleWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsingest_article_writes_total",
			Help: "Total article upserts, labeled by result (inserted, updated, failed).",
		},
		[]string{"result"},
	)

	skippedTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsingest_skipped_ticks_total",
			Help: "Scheduler ticks skipped because a run was still executing.",
		},
	)

	runInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "newsingest_run_in_progress",
			Help: "1 while an ingestion run is executing.",
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsingest_rate_limit_delay_seconds",
			Help:    "Histogram of time spent waiting on the upstream rate limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpstreamRequest records one upstream page request.
func ObserveUpstreamRequest(outcome string, duration time.Duration) {
	upstreamRequestsTotal.WithLabelValues(outcome).Inc()
	upstreamRequestDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObservePageError counts a page failure by error kind.
func ObservePageError(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	pageErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveWrites counts upsert outcomes for one batch.
func ObserveWrites(inserted, updated, failed int) {
	if inserted > 0 {
		articleWritesTotal.WithLabelValues("inserted").Add(float64(inserted))
	}
	if updated > 0 {
		articleWritesTotal.WithLabelValues("updated").Add(float64(updated))
	}
	if failed > 0 {
		articleWritesTotal.WithLabelValues("failed").Add(float64(failed))
	}
}

// ObserveSkippedTick counts a tick dropped by the overlap guard.
func ObserveSkippedTick() {
	skippedTicksTotal.Inc()
}

// SetRunInProgress flips the in-progress gauge.
func SetRunInProgress(running bool) {
	if running {
		runInProgress.Set(1)
		return
	}
	runInProgress.Set(0)
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	rateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
