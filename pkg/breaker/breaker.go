// Package breaker implements a per-provider circuit breaker. The breaker
// tracks consecutive failures and fails fast while an upstream is deemed
// unhealthy, allowing a single probe through after the cooldown elapses.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrCircuitOpen is returned when a call is rejected without being attempted
// because the breaker is open. It is never retried by the request queue.
var ErrCircuitOpen = errors.New("circuit open")

// State is the breaker state.
type State int

const (
	// StateClosed admits all calls.
	StateClosed State = iota

	// StateOpen rejects all calls until the cooldown elapses.
	StateOpen

	// StateHalfOpen admits a single probe call.
	StateHalfOpen
)

// String returns the canonical state name used on the status surface.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker is a circuit breaker for one upstream provider.
//
// Transitions:
//   - CLOSED: failures increment a consecutive-failure counter; reaching the
//     threshold opens the circuit. Any success resets the counter.
//   - OPEN: calls are rejected with ErrCircuitOpen until the cooldown has
//     elapsed since the last failure, then a single probe is admitted.
//   - HALF_OPEN: the probe's success closes the circuit and resets the
//     counter; its failure re-opens the circuit and restarts the cooldown.
//
// The breaker wraps one callable at a time and does not retry; retry is the
// request queue's responsibility, layered outside so each attempt is
// separately subject to rejection.
type Breaker struct {
	provider string
	logger   zerolog.Logger

	mu          sync.Mutex
	state       State
	threshold   int
	cooldown    time.Duration
	failures    int
	lastFailure time.Time
	probing     bool
}

// New creates a closed breaker. threshold is the number of consecutive
// failures that opens the circuit; cooldown is how long the circuit stays
// open before a probe is allowed.
func New(provider string, threshold int, cooldown time.Duration, logger zerolog.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	b := &Breaker{
		provider:  provider,
		logger:    logger.With().Str("component", "breaker").Str("provider", provider).Logger(),
		state:     StateClosed,
		threshold: threshold,
		cooldown:  cooldown,
	}
	circuitState.WithLabelValues(provider).Set(float64(StateClosed))
	return b
}

// Call runs fn unless the breaker rejects it, and records the outcome.
func (b *Breaker) Call(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// allow decides whether a call may proceed, transitioning OPEN to HALF_OPEN
// when the cooldown has elapsed.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.lastFailure) >= b.cooldown {
			b.setState(StateHalfOpen)
			b.probing = true
			b.logger.Info().Msg("Cooldown elapsed, admitting probe")
			return nil
		}
		circuitRejectionsTotal.WithLabelValues(b.provider).Inc()
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.probing {
			// One probe is already in flight.
			circuitRejectionsTotal.WithLabelValues(b.provider).Inc()
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	default:
		return ErrCircuitOpen
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.setState(StateClosed)
		b.failures = 0
		b.probing = false
		b.logger.Info().Msg("Probe succeeded, circuit closed")
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.setState(StateOpen)
			circuitOpensTotal.WithLabelValues(b.provider).Inc()
			b.logger.Warn().
				Int("failures", b.failures).
				Dur("cooldown", b.cooldown).
				Msg("Failure threshold reached, circuit opened")
		}
	case StateHalfOpen:
		b.setState(StateOpen)
		b.probing = false
		circuitOpensTotal.WithLabelValues(b.provider).Inc()
		b.logger.Warn().Msg("Probe failed, circuit re-opened")
	}
}

// setState must be called with b.mu held.
func (b *Breaker) setState(s State) {
	b.state = s
	circuitState.WithLabelValues(b.provider).Set(float64(s))
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset returns the breaker to the closed state with a zero failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failures = 0
	b.probing = false
}
