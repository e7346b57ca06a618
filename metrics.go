package deeptrace

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deeptrace_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deeptrace_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deeptrace_http_requests_in_flight",
			Help: "Number of HTTP requests being served",
		},
	)
)

// Auth metrics
var (
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deeptrace_auth_attempts_total",
			Help: "Authentication attempts by method and outcome code",
		},
		[]string{"method", "outcome"},
	)

	sessionsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deeptrace_sessions_created_total",
			Help: "Sessions issued after a successful sign-in",
		},
	)
)

// recordAuth counts an authentication attempt. A nil error counts as "ok".
func recordAuth(method string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(CodeOf(err))
	}
	authAttemptsTotal.WithLabelValues(method, outcome).Inc()
}
