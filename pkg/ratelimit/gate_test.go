package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGate_BoundsConcurrency(t *testing.T) {
	const capacity = 2
	g := NewGate("test", capacity)
	ctx := context.Background()

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Acquire(ctx); err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			defer g.Release()

			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > capacity {
		t.Errorf("peak concurrency = %d, want <= %d", p, capacity)
	}
	if n := g.InFlight(); n != 0 {
		t.Errorf("InFlight() after all released = %d, want 0", n)
	}
}

func TestGate_ReleaseWakesWaiter(t *testing.T) {
	g := NewGate("test", 1)
	ctx := context.Background()

	if err := g.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		if err := g.Acquire(ctx); err != nil {
			t.Errorf("waiter Acquire() error = %v", err)
			return
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired while gate was full")
	case <-time.After(30 * time.Millisecond):
	}

	g.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Release")
	}
	g.Release()
}

func TestGate_ContextCancelled(t *testing.T) {
	g := NewGate("test", 1)
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer g.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := g.Acquire(ctx); err != context.DeadlineExceeded {
		t.Errorf("Acquire() with expired context error = %v, want DeadlineExceeded", err)
	}
	if n := g.InFlight(); n != 1 {
		t.Errorf("InFlight() = %d, want 1 after failed acquire", n)
	}
}

func TestNewGate_Defaults(t *testing.T) {
	g := NewGate("test", 0)
	if g.Capacity() != 1 {
		t.Errorf("Capacity() = %d, want 1 for non-positive input", g.Capacity())
	}
}
