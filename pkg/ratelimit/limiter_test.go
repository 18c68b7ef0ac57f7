package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// newTestLimiter uses a short window so tests stay fast.
func newTestLimiter(rate int, window time.Duration) *WindowLimiter {
	l := NewWindowLimiter("test", rate)
	l.window = window
	return l
}

func TestWindowLimiter_AllowsUpToRate(t *testing.T) {
	l := newTestLimiter(5, 200*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("first 5 acquires took %v, want near-instant", elapsed)
	}
}

func TestWindowLimiter_DelaysBeyondRate(t *testing.T) {
	l := newTestLimiter(2, 100*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3rd acquire finished after %v, want to wait for window rollover (~100ms)", elapsed)
	}
}

func TestWindowLimiter_BoundsStartsPerWindow(t *testing.T) {
	const rate = 5
	l := newTestLimiter(rate, 300*time.Millisecond)
	ctx := context.Background()

	var started atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx); err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			started.Add(1)
		}()
	}

	// Check mid-window: no more than `rate` starts may have been admitted.
	time.Sleep(150 * time.Millisecond)
	if n := started.Load(); n > rate {
		t.Errorf("%d starts admitted in first window, want <= %d", n, rate)
	}

	wg.Wait()
	if n := started.Load(); n != 12 {
		t.Errorf("total starts = %d, want 12", n)
	}
}

func TestWindowLimiter_ContextCancelled(t *testing.T) {
	l := newTestLimiter(1, time.Second)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	if err != context.DeadlineExceeded {
		t.Errorf("Acquire() with expired context error = %v, want DeadlineExceeded", err)
	}
}

func TestNewWindowLimiter_Defaults(t *testing.T) {
	l := NewWindowLimiter("test", 0)
	if l.Rate() != 1 {
		t.Errorf("Rate() = %d, want 1 for non-positive input", l.Rate())
	}
	if l.window != time.Second {
		t.Errorf("window = %v, want 1s", l.window)
	}
}
