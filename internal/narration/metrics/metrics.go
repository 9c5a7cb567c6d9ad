package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RemoteCallsTotal tracks remote calls by executor outcome
	RemoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrator_remote_calls_total",
			Help: "Total number of remote synthesis calls",
		},
		[]string{"outcome"},
	)

	// RemoteCallLatency tracks remote call latency
	RemoteCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "narrator_remote_call_latency_seconds",
			Help:    "Remote synthesis call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// RateLimitsTotal tracks rate-limit responses per credential position
	RateLimitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrator_rate_limits_total",
			Help: "Total number of rate-limited responses",
		},
		[]string{"credential"},
	)

	// RateLimitRetryAfter tracks the retry interval reported with rate limits
	RateLimitRetryAfter = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "narrator_rate_limit_retry_after_seconds",
			Help:    "Retry interval reported by rate-limited responses",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	// RotationsTotal tracks credential rotations
	RotationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "narrator_credential_rotations_total",
			Help: "Total number of credential rotations after a rate limit",
		},
	)

	// CredentialsBlocked tracks credentials marked invalid
	CredentialsBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrator_credentials_blocked_total",
			Help: "Total number of credentials blocked as invalid",
		},
		[]string{"credential"},
	)

	// CredentialsAvailable tracks credentials usable right now
	CredentialsAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "narrator_credentials_available",
			Help: "Number of credentials usable right now",
		},
	)

	// ItemsByState tracks item transitions by resulting state
	ItemsByState = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrator_items_total",
			Help: "Total number of item state transitions",
		},
		[]string{"state"},
	)

	// FailedQueueSize tracks items waiting for recovery
	FailedQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "narrator_failed_queue_size",
			Help: "Number of failed items waiting for recovery",
		},
	)
)
