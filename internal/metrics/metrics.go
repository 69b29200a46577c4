// Package metrics holds the Prometheus collectors for the sales core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Purchase engine

	PurchasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editions_purchases_total",
			Help: "Purchase attempts by outcome",
		},
		[]string{"result"}, // "ok", "sold_out", "conflict", "degraded", "duplicate", "error"
	)

	EditionsAssigned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "editions_assigned_total",
			Help: "Edition numbers committed",
		},
	)

	// Publish-quota tracker

	PublishTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editions_publish_transitions_total",
			Help: "Publish/unpublish transitions by outcome",
		},
		[]string{"result"}, // "published", "unpublished", "noop", "quota_exceeded", "error"
	)

	// Resilience layer

	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editions_retry_attempts_total",
			Help: "Transient-failure retries by operation",
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "editions_write_breaker_state",
			Help: "Write breaker state: 0=closed, 1=half-open, 2=open",
		},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editions_write_breaker_transitions_total",
			Help: "Write breaker state transitions",
		},
		[]string{"from", "to"},
	)

	HealthProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editions_health_probes_total",
			Help: "Store health probes by outcome",
		},
		[]string{"result"}, // "ok", "fail"
	)

	// Read-through cache

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "editions_cache_hits_total",
			Help: "Read-through cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "editions_cache_misses_total",
			Help: "Read-through cache misses",
		},
	)

	CacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "editions_cache_invalidations_total",
			Help: "Cache entries removed by explicit invalidation",
		},
	)

	// Notification dispatch

	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "editions_events_dispatched_total",
			Help: "Post-commit events by outcome",
		},
		[]string{"result"}, // "ok", "dropped", "error"
	)
)
