// Package metrics exposes Prometheus instrumentation for the engine.
// Sync failures are recoverable by design and surface here and in logs
// rather than as recommend/observe errors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Recommendation path
	RecommendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tvbrain_recommend_duration_seconds",
			Help:    "Latency of recommend() calls",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.010, 0.015, 0.025, 0.050, 0.1},
		},
	)

	RecommendFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvbrain_recommend_fallbacks_total",
			Help: "Degraded recommend() paths taken",
		},
		[]string{"reason"}, // "embed_timeout", "vector_error", "memory_error"
	)

	RecommendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvbrain_recommend_errors_total",
			Help: "Terminal recommend() failures",
		},
		[]string{"kind"}, // "unavailable", "deadline"
	)

	// Observation path
	ObservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvbrain_observations_total",
			Help: "Viewing events processed",
		},
		[]string{"outcome"}, // "accepted", "rejected"
	)

	PatternsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvbrain_patterns_created_total",
			Help: "New patterns created from observations",
		},
	)

	PatternsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvbrain_patterns_evicted_total",
			Help: "Patterns removed by the least-recently-updated eviction policy",
		},
	)

	// Sync path
	SyncAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tvbrain_sync_attempts_total",
			Help: "Sync rounds by outcome",
		},
		[]string{"outcome"}, // "success", "failure", "skipped"
	)

	SyncBytesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvbrain_sync_bytes_sent_total",
			Help: "Compressed delta bytes uploaded to the aggregator",
		},
	)

	SyncBytesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvbrain_sync_bytes_received_total",
			Help: "Compressed response bytes downloaded from the aggregator",
		},
	)

	SyncPatternsPushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tvbrain_sync_patterns_pushed_total",
			Help: "Quality-gated patterns shared with the aggregator",
		},
	)

	SyncVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tvbrain_sync_version",
			Help: "Local sync version counter",
		},
	)

	// Aggregator circuit breaker: 0=closed, 1=half-open, 2=open
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tvbrain_aggregator_breaker_state",
			Help: "Circuit breaker state for the aggregator transport",
		},
	)
)
