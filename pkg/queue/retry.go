package queue

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes how transient failures are retried: exponential backoff
// with full jitter, capped at MaxDelay before jitter is applied.
type Policy struct {
	// Attempts is the number of retries after the initial attempt.
	Attempts int

	// BaseDelay is the backoff for the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration

	// Jitter maps a computed delay to the actual sleep. Defaults to full
	// jitter: uniform random in [0, delay].
	Jitter func(time.Duration) time.Duration
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  3,
		BaseDelay: 1 * time.Second,
		MaxDelay:  10 * time.Second,
	}
}

// Delay computes the sleep before retrying the given zero-based attempt:
// min(BaseDelay * 2^attempt, MaxDelay), jittered.
func (p Policy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter != nil {
		return p.Jitter(delay)
	}
	return fullJitter(delay)
}

// fullJitter returns a uniform random duration in [0, d]. Spreading retries
// over the whole interval avoids thundering-herd recoveries across many keys.
func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// withRetry runs fn until it succeeds, fails with a non-retryable error, or
// exhausts the policy's attempts. The last error is returned as-is, never
// wrapped, so callers can distinguish its cause.
//
// retryable decides whether an error is worth another attempt; onRetry is
// invoked before each backoff sleep for observability and may be nil.
func withRetry(ctx context.Context, p Policy, retryable func(error) bool, onRetry func(attempt int, delay time.Duration, err error), fn func(attempt int) error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) || attempt >= p.Attempts {
			return lastErr
		}

		delay := p.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
