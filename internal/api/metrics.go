package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// evaluationsTotal counts completed evaluations by decision.
	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_evaluations_total",
			Help: "The total number of transaction evaluations by decision",
		},
		[]string{"decision"},
	)
	// hardBlocksTotal counts evaluations short-circuited by a hard block.
	hardBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kestrel_hard_blocks_total",
			Help: "The total number of hard-blocked evaluations by block name",
		},
		[]string{"block"},
	)
	// evaluationDuration tracks how long the scoring pipeline takes.
	evaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kestrel_evaluation_duration_seconds",
			Help:    "The duration of transaction evaluations",
			Buckets: prometheus.DefBuckets,
		},
	)
	// requestDuration tracks HTTP request latency by route and status.
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kestrel_http_request_duration_seconds",
			Help:    "The duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// init registers Prometheus metrics
func init() {
	prometheus.MustRegister(evaluationsTotal, hardBlocksTotal, evaluationDuration, requestDuration)
}

// MetricsMiddleware records request latency by method, path, and status.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		requestDuration.WithLabelValues(
			r.Method,
			r.URL.Path,
			strconv.Itoa(rw.statusCode),
		).Observe(time.Since(start).Seconds())
	})
}
