// Package ratelimit implements the per-provider admission gates used by the
// request queue: a fixed-window rate limiter that bounds how many calls may
// start per second, and a FIFO concurrency gate that bounds how many calls
// may be in flight at once.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// WindowLimiter bounds the number of call starts per fixed window.
// It counts starts, not completions, and carries no burst credit across
// windows: when the current window's budget is spent, callers wait for
// the rollover.
type WindowLimiter struct {
	provider string

	mu          sync.Mutex
	rate        int
	window      time.Duration
	windowStart time.Time
	started     int
}

// NewWindowLimiter creates a limiter allowing ratePerSecond call starts
// per rolling 1-second window.
func NewWindowLimiter(provider string, ratePerSecond int) *WindowLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	return &WindowLimiter{
		provider: provider,
		rate:     ratePerSecond,
		window:   time.Second,
	}
}

// Acquire blocks until a call slot is available in the current window.
// It never fails on its own; the only error it returns is ctx.Err() when
// the caller gives up while waiting.
func (l *WindowLimiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
			l.windowStart = now
			l.started = 0
		}
		if l.started < l.rate {
			l.started++
			l.mu.Unlock()
			return nil
		}
		wait := l.window - now.Sub(l.windowStart)
		l.mu.Unlock()

		rateLimitWaitsTotal.WithLabelValues(l.provider).Inc()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Rate returns the configured starts-per-window budget.
func (l *WindowLimiter) Rate() int {
	return l.rate
}
