package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for circuit breaker state tracking.
var (
	circuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fetchguard_circuit_state",
		Help: "Current circuit state by provider (0=closed, 1=open, 2=half-open)",
	}, []string{"provider"})

	circuitOpensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchguard_circuit_opens_total",
		Help: "Total number of circuit open transitions by provider",
	}, []string{"provider"})

	circuitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchguard_circuit_rejections_total",
		Help: "Total number of calls rejected while the circuit was open",
	}, []string{"provider"})
)
