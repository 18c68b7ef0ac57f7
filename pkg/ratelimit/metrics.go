package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for admission gating.
var (
	rateLimitWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchguard_rate_limit_waits_total",
		Help: "Total number of times a call start waited for a rate window rollover",
	}, []string{"provider"})

	gateInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fetchguard_gate_in_flight",
		Help: "Number of in-flight calls currently holding a concurrency slot",
	}, []string{"provider"})
)
