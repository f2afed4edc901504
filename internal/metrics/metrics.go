package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "nftbatch"

var (
	StatusQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_queries_total",
			Help:      "Total number of collection status queries sent to the backend, labeled by outcome kind and reported status.",
		},
		[]string{"outcome", "status"},
	)

	StatusQueryLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "status_query_latency_seconds",
			Help:      "Latency of collection status queries including retries (seconds).",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	StatusQueryRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_query_retries_total",
			Help:      "Total number of retried status queries after transport failures.",
		},
	)

	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of contract address submissions, labeled by surface (form, api).",
		},
		[]string{"surface"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by the rate limiter.",
		},
		[]string{"scope", "operation"},
	)
)

func init() {
	prometheus.MustRegister(
		StatusQueriesTotal,
		StatusQueryLatencySeconds,
		StatusQueryRetriesTotal,
		SubmissionsTotal,
		RateLimitHitsTotal,
	)
}
