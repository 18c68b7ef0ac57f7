package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHits tracks cache hits by layer (primary, stale)
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchguard_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"layer"},
	)

	// cacheMisses tracks primary cache misses
	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fetchguard_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// storeErrors tracks store operation errors
	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchguard_cache_errors_total",
			Help: "Total number of cache store operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "scan", "flush"
	)

	// validationFailures tracks new values rejected by the validator
	validationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchguard_cache_validation_failures_total",
			Help: "Total number of values rejected by the cache validator",
		},
		[]string{"data_type"},
	)

	// staleMergesTotal tracks rejected values repaired from the stale mirror
	staleMergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchguard_cache_stale_merges_total",
			Help: "Total number of rejected values repaired by merging stale fields",
		},
		[]string{"data_type"},
	)
)
