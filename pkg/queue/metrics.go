package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for queue operations.
var (
	taskStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchguard_task_starts_total",
		Help: "Total number of task attempt starts by provider",
	}, []string{"provider"})

	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchguard_tasks_total",
		Help: "Total number of settled tasks by provider and outcome",
	}, []string{"provider", "outcome"})

	coalescedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchguard_coalesced_total",
		Help: "Total number of enqueues that shared an in-flight execution",
	}, []string{"provider"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchguard_retries_total",
		Help: "Total number of retry attempts by provider",
	}, []string{"provider"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fetchguard_retry_backoff_seconds",
		Help:    "Backoff duration before retries by provider",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"provider"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchguard_retry_exhausted_total",
		Help: "Total number of tasks that exhausted their retry attempts",
	}, []string{"provider"})
)
