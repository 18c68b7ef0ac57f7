// Package queue provides the per-provider request queue that bounds
// concurrency and request rate, breaks the circuit on persistent failures,
// and retries transient errors with backoff. Work is submitted as
// cache-style keyed tasks; concurrent submissions under the same key are
// coalesced into a single upstream call.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/quantmesh/fetchguard/pkg/breaker"
	"github.com/quantmesh/fetchguard/pkg/ratelimit"
)

// Task is one asynchronous unit of work against an upstream provider.
// The context carries the caller's timeout; a task should stop promptly
// when it is cancelled.
type Task func(ctx context.Context) ([]byte, error)

// Config holds the per-provider queue configuration. All knobs are fixed at
// construction time.
type Config struct {
	// Provider names the upstream this queue fronts.
	Provider string

	// Concurrency is the maximum number of simultaneously in-flight tasks.
	Concurrency int

	// RequestsPerSecond bounds task starts per rolling 1-second window.
	RequestsPerSecond int

	// RetryAttempts is the number of retries after the initial attempt.
	RetryAttempts int

	// BaseDelay and MaxDelay bound the exponential retry backoff.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// CircuitThreshold is the consecutive-failure count that opens the
	// circuit; CircuitTimeout is the open-state cooldown.
	CircuitThreshold int
	CircuitTimeout   time.Duration

	// Logger is the base logger; a component field is attached.
	Logger zerolog.Logger
}

// DefaultConfig returns safe defaults for a moderately rate-limited upstream.
func DefaultConfig(provider string) Config {
	return Config{
		Provider:          provider,
		Concurrency:       5,
		RequestsPerSecond: 10,
		RetryAttempts:     3,
		BaseDelay:         1 * time.Second,
		MaxDelay:          10 * time.Second,
		CircuitThreshold:  5,
		CircuitTimeout:    60 * time.Second,
	}
}

// Status is the monitoring snapshot of one queue.
type Status struct {
	InFlight     int    `json:"in_flight"`
	Queued       int    `json:"queued"`
	CircuitState string `json:"circuit_state"`
	FailureCount int    `json:"failure_count"`
}

// Queue bounds and mediates all calls to one upstream provider. Queues for
// different providers are fully independent.
type Queue struct {
	provider string
	limiter  *ratelimit.WindowLimiter
	gate     *ratelimit.Gate
	breaker  *breaker.Breaker
	policy   Policy
	logger   zerolog.Logger

	mu    sync.Mutex
	group *singleflight.Group

	pending atomic.Int64
}

// New creates a queue with its own limiter, gate, and circuit breaker.
func New(cfg Config) *Queue {
	if cfg.Provider == "" {
		cfg.Provider = "default"
	}
	policy := Policy{
		Attempts:  cfg.RetryAttempts,
		BaseDelay: cfg.BaseDelay,
		MaxDelay:  cfg.MaxDelay,
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 10 * time.Second
	}

	return &Queue{
		provider: cfg.Provider,
		limiter:  ratelimit.NewWindowLimiter(cfg.Provider, cfg.RequestsPerSecond),
		gate:     ratelimit.NewGate(cfg.Provider, cfg.Concurrency),
		breaker:  breaker.New(cfg.Provider, cfg.CircuitThreshold, cfg.CircuitTimeout, cfg.Logger),
		policy:   policy,
		logger:   cfg.Logger.With().Str("component", "queue").Str("provider", cfg.Provider).Logger(),
		group:    &singleflight.Group{},
	}
}

// Enqueue submits a task under the given key and blocks until it settles.
//
// If another call with the same key is currently executing, this call
// attaches to its pending result instead of starting a duplicate upstream
// call; the shared execution runs under the initiating caller's context.
// A caller whose own context ends while attached stops waiting and receives
// the context error, without cancelling the shared call.
//
// Transient failures are retried per the queue's policy; ErrCircuitOpen is
// returned immediately and never retried. After exhaustion the original
// task error is returned unwrapped.
func (q *Queue) Enqueue(ctx context.Context, key string, task Task) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if task == nil {
		return nil, ErrNilTask
	}

	q.pending.Add(1)
	defer q.pending.Add(-1)

	q.mu.Lock()
	group := q.group
	q.mu.Unlock()

	ch := group.DoChan(key, func() (interface{}, error) {
		return q.run(ctx, key, task)
	})

	select {
	case res := <-ch:
		if res.Shared {
			coalescedTotal.WithLabelValues(q.provider).Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run executes the task through the limiter, gate, breaker, and retry
// policy. The gate slot is released on every exit path of each attempt.
func (q *Queue) run(ctx context.Context, key string, task Task) ([]byte, error) {
	var out []byte

	retryable := func(err error) bool {
		if errors.Is(err, breaker.ErrCircuitOpen) {
			// Retrying a rejection would defeat the breaker.
			return false
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		return true
	}

	onRetry := func(attempt int, delay time.Duration, err error) {
		retriesTotal.WithLabelValues(q.provider).Inc()
		retryBackoffSeconds.WithLabelValues(q.provider).Observe(delay.Seconds())
		q.logger.Debug().
			Str("key", key).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(err).
			Msg("Retrying task after backoff")
	}

	err := withRetry(ctx, q.policy, retryable, onRetry, func(attempt int) error {
		if err := q.limiter.Acquire(ctx); err != nil {
			return err
		}
		if err := q.gate.Acquire(ctx); err != nil {
			return err
		}
		defer q.gate.Release()

		taskStartsTotal.WithLabelValues(q.provider).Inc()

		return q.breaker.Call(func() error {
			val, err := task(ctx)
			if err != nil {
				return err
			}
			out = val
			return nil
		})
	})

	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, breaker.ErrCircuitOpen):
			outcome = "circuit_open"
		case errors.Is(err, context.DeadlineExceeded):
			outcome = "timeout"
		}
		tasksTotal.WithLabelValues(q.provider, outcome).Inc()
		if q.policy.Attempts > 0 && outcome == "error" {
			retryExhaustedTotal.WithLabelValues(q.provider).Inc()
		}
		q.logger.Warn().
			Str("key", key).
			Str("outcome", outcome).
			Err(err).
			Msg("Task failed")
		return nil, err
	}

	tasksTotal.WithLabelValues(q.provider, "success").Inc()
	return out, nil
}

// Status returns the monitoring snapshot consumed by health endpoints.
func (q *Queue) Status() Status {
	inFlight := q.gate.InFlight()
	queued := int(q.pending.Load()) - inFlight
	if queued < 0 {
		queued = 0
	}
	return Status{
		InFlight:     inFlight,
		Queued:       queued,
		CircuitState: q.breaker.State().String(),
		FailureCount: q.breaker.Failures(),
	}
}

// Clear detaches pending coalesced submissions from future enqueues and
// resets the circuit breaker. In-flight tasks run to completion.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.group = &singleflight.Group{}
	q.mu.Unlock()
	q.breaker.Reset()
}

// Provider returns the upstream name this queue fronts.
func (q *Queue) Provider() string {
	return q.provider
}

// Breaker exposes the queue's circuit breaker.
func (q *Queue) Breaker() *breaker.Breaker {
	return q.breaker
}
