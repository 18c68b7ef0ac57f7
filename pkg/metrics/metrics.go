// Package metrics provides the central Prometheus registry reference for
// fetchguard. All metrics are defined in their respective packages (queue,
// breaker, ratelimit, cache, fetch) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by fetchguard.
// All metrics are automatically registered via promauto in their respective
// packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Admission Metrics (pkg/ratelimit):
//   - fetchguard_rate_limit_waits_total{provider} (Counter): Call starts that waited for a window rollover
//   - fetchguard_gate_in_flight{provider} (Gauge): Calls currently holding a concurrency slot
//
// Circuit Breaker Metrics (pkg/breaker):
//   - fetchguard_circuit_state{provider} (Gauge): 0=closed, 1=open, 2=half-open
//   - fetchguard_circuit_opens_total{provider} (Counter): Open transitions
//   - fetchguard_circuit_rejections_total{provider} (Counter): Calls rejected while open
//
// Queue Metrics (pkg/queue):
//   - fetchguard_task_starts_total{provider} (Counter): Task attempt starts
//   - fetchguard_tasks_total{provider, outcome} (Counter): Settled tasks (success, error, timeout, circuit_open)
//   - fetchguard_coalesced_total{provider} (Counter): Enqueues that shared an in-flight execution
//   - fetchguard_retries_total{provider} (Counter): Retry attempts
//   - fetchguard_retry_backoff_seconds{provider} (Histogram): Backoff durations
//   - fetchguard_retry_exhausted_total{provider} (Counter): Tasks that ran out of retries
//
// Cache Metrics (pkg/cache):
//   - fetchguard_cache_hits_total{layer} (Counter): Hits by layer (primary, stale)
//   - fetchguard_cache_misses_total (Counter): Primary cache misses
//   - fetchguard_cache_errors_total{operation} (Counter): Store operation errors
//   - fetchguard_cache_validation_failures_total{data_type} (Counter): Values rejected by the validator
//   - fetchguard_cache_stale_merges_total{data_type} (Counter): Rejected values repaired from the stale mirror
//
// Fetch Metrics (pkg/fetch):
//   - fetchguard_fetches_total{provider, outcome} (Counter): Safe-fetch calls (cache_hit, fetched, stale_fallback, unavailable)
//   - fetchguard_fetch_duration_seconds{provider} (Histogram): End-to-end safe-fetch duration
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(fetchguard_cache_hits_total{layer="primary"}[5m])) /
//   sum(rate(fetchguard_fetches_total[5m]))
//
//   # Degraded Serving Rate
//   sum(rate(fetchguard_fetches_total{outcome=~"stale_fallback|unavailable"}[5m])) /
//   sum(rate(fetchguard_fetches_total[5m]))
//
//   # Open Circuits
//   fetchguard_circuit_state == 1
//
//   # P95 Fetch Latency
//   histogram_quantile(0.95, rate(fetchguard_fetch_duration_seconds_bucket[5m]))
