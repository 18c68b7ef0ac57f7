package ratelimit

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of simultaneously in-flight calls for one provider.
// Waiters are admitted in FIFO order, so an early request cannot be starved
// by later arrivals.
type Gate struct {
	provider string
	capacity int
	sem      *semaphore.Weighted
	inFlight atomic.Int64
}

// NewGate creates a gate admitting at most capacity concurrent holders.
func NewGate(provider string, capacity int) *Gate {
	if capacity <= 0 {
		capacity = 1
	}
	return &Gate{
		provider: provider,
		capacity: capacity,
		sem:      semaphore.NewWeighted(int64(capacity)),
	}
}

// Acquire blocks until an in-flight slot is free, then claims it.
// Returns ctx.Err() if the caller gives up while waiting.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	gateInFlight.WithLabelValues(g.provider).Set(float64(g.inFlight.Add(1)))
	return nil
}

// Release frees a slot and wakes the oldest waiter. It must be called
// exactly once for every successful Acquire, on every exit path.
func (g *Gate) Release() {
	gateInFlight.WithLabelValues(g.provider).Set(float64(g.inFlight.Add(-1)))
	g.sem.Release(1)
}

// InFlight returns the number of currently held slots.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Capacity returns the maximum number of concurrent holders.
func (g *Gate) Capacity() int {
	return g.capacity
}
