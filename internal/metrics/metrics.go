// Package metrics provides Prometheus metrics for posbridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal tracks inbound API requests by route and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests served",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration tracks inbound API request latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "posbridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// APIRequestsTotal tracks outbound POS API attempts by resource and outcome
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posbridge",
			Subsystem: "pos_api",
			Name:      "requests_total",
			Help:      "Total number of outbound POS API attempts",
		},
		[]string{"method", "status_code"},
	)

	// APIRequestDuration tracks outbound POS API attempt duration
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "posbridge",
			Subsystem: "pos_api",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound POS API attempts in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	// APIRetriesTotal tracks retries by reason (rate_limited, server_error, network)
	APIRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posbridge",
			Subsystem: "pos_api",
			Name:      "retries_total",
			Help:      "Total number of POS API retries",
		},
		[]string{"reason"},
	)

	// RateLimitWaitTime tracks time spent waiting for a rate limiter slot
	RateLimitWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "posbridge",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for rate limits in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"limiter"},
	)

	// TokenRefreshesTotal tracks token refreshes by outcome
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posbridge",
			Subsystem: "tokens",
			Name:      "refreshes_total",
			Help:      "Total number of POS token refreshes",
		},
		[]string{"outcome"},
	)

	// OAuthStateValidations tracks OAuth state checks by outcome
	OAuthStateValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posbridge",
			Subsystem: "tokens",
			Name:      "oauth_state_validations_total",
			Help:      "Total number of OAuth state validations",
		},
		[]string{"outcome"},
	)

	// MatchDecisionsTotal tracks matcher decisions by match type
	MatchDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posbridge",
			Subsystem: "matching",
			Name:      "decisions_total",
			Help:      "Total number of product match decisions",
		},
		[]string{"match_type", "requires_review"},
	)

	// MatchQueueProcessed tracks processed queue items by resulting status
	MatchQueueProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posbridge",
			Subsystem: "matching",
			Name:      "queue_items_processed_total",
			Help:      "Total number of match queue items processed",
		},
		[]string{"status"},
	)

	// SyncResourcesTotal tracks sync resource families by outcome
	SyncResourcesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posbridge",
			Subsystem: "sync",
			Name:      "resources_total",
			Help:      "Total number of synced resource families",
		},
		[]string{"resource", "outcome"},
	)

	// WorkerJobRuns tracks scheduled job runs
	WorkerJobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "posbridge",
			Subsystem: "worker",
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job runs",
		},
		[]string{"job", "outcome"},
	)
)

// Outcome turns an error into a metric label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
