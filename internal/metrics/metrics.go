package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	genieRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genie",
			Name:      "requests_total",
			Help:      "Total Genie API calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	genieRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "genie",
			Name:      "request_duration_seconds",
			Help:      "Genie API call latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genie",
			Name:      "turns_total",
			Help:      "Turns reaching a terminal state.",
		},
		[]string{"status", "kind"},
	)

	pollAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "genie",
			Name:      "poll_attempts",
			Help:      "Polls issued per turn before it reached a terminal state.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 30, 60},
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "genie",
			Name:      "http_requests_total",
			Help:      "HTTP requests served by route.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "genie",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		genieRequestsTotal,
		genieRequestDuration,
		turnsTotal,
		pollAttempts,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// ObserveGenieRequest records one call to the Genie API.
func ObserveGenieRequest(operation, outcome string, elapsed time.Duration) {
	genieRequestsTotal.WithLabelValues(operation, outcome).Inc()
	genieRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveTurn records a turn reaching a terminal state.
func ObserveTurn(status, kind string, polls int) {
	turnsTotal.WithLabelValues(status, kind).Inc()
	if polls > 0 {
		pollAttempts.Observe(float64(polls))
	}
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route, status string, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route, status).Observe(elapsed.Seconds())
}
