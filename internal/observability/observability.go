package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CompletionIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rekur_iterations_count",
			Help:    "Number of iterations per completion",
			Buckets: []float64{1, 2, 5, 10, 20, 50},
		},
	)

	CompletionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rekur_completion_duration_seconds",
			Help:    "Total duration of a top-level completion in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	TokenUsage = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekur_token_usage_total",
			Help: "Total number of tokens used",
		},
		[]string{"model", "direction"}, // direction: input, output
	)

	BrokerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekur_broker_requests_total",
			Help: "Total broker requests by depth scope and outcome",
		},
		[]string{"scope", "outcome"}, // scope: root, sub
	)

	ExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rekur_execution_duration_seconds",
			Help:    "Duration of one sandboxed snippet execution in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rekur_errors_total",
			Help: "Total errors by taxonomy category",
		},
		[]string{"category"},
	)
)
