// Package metrics registers the Prometheus metrics used by the gateway.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request-level counters and histograms.
var (
	// RequestsTotal counts completed requests labelled by operation kind
	// ("tool", "query"), operation name, and outcome ("success", "error",
	// "rejected").
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphgw_requests_total",
			Help: "Total number of requests processed by the gateway.",
		},
		[]string{"kind", "operation", "status"},
	)

	// RequestDuration observes end-to-end request latency in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphgw_request_duration_seconds",
			Help:    "End-to-end request duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"kind", "operation"},
	)

	// CacheHits counts cache lookups that returned a live entry, labelled by
	// cache ("query", "tool").
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphgw_cache_hits_total",
			Help: "Total cache hits per cache.",
		},
		[]string{"cache"},
	)

	// CacheMisses counts lookups that found nothing or an expired entry.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphgw_cache_misses_total",
			Help: "Total cache misses per cache.",
		},
		[]string{"cache"},
	)

	// CacheEvictions counts entries removed to make room, labelled by cache
	// and reason ("capacity", "size", "expired", "invalidated").
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphgw_cache_evictions_total",
			Help: "Total cache evictions per cache and reason.",
		},
		[]string{"cache", "reason"},
	)

	// CacheEntries tracks the current number of live entries per cache.
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graphgw_cache_entries",
			Help: "Current number of entries per cache.",
		},
		[]string{"cache"},
	)

	// BackendDuration observes graph backend round-trip latency in seconds.
	BackendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphgw_backend_duration_seconds",
			Help:    "Graph backend query duration in seconds.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	// BackendErrors counts backend failures by error type ("backend_error",
	// "circuit_open", "timeout").
	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphgw_backend_errors_total",
			Help: "Total graph backend errors by type.",
		},
		[]string{"error_type"},
	)

	// CircuitBreakerState tracks the backend circuit breaker state as a gauge:
	// 0 = closed, 1 = open, 2 = half_open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graphgw_circuit_breaker_state",
			Help: "Circuit breaker state per backend (0=closed 1=open 2=half_open).",
		},
		[]string{"backend"},
	)

	// RateLimitRejections counts requests rejected by the rate limiter,
	// labelled by key_type ("ip", "api_key").
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphgw_rate_limit_rejections_total",
			Help: "Total requests rejected by rate limiting.",
		},
		[]string{"key_type"},
	)
)
