package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/quantmesh/fetchguard/pkg/cache"
	"github.com/quantmesh/fetchguard/pkg/queue"
)

// Target is one cache entry to refresh during a bulk warm-up.
type Target struct {
	Provider string
	Key      cache.Key
	DataType cache.DataType
	Task     queue.Task
}

// WarmConfig holds bulk warm-up configuration.
type WarmConfig struct {
	// MaxConcurrency is the number of worker goroutines. The per-provider
	// queues still bound upstream concurrency and rate underneath.
	MaxConcurrency int

	// Timeout per target fetch.
	Timeout time.Duration
}

// DefaultWarmConfig returns safe defaults for a scheduled refresh job.
func DefaultWarmConfig() WarmConfig {
	return WarmConfig{
		MaxConcurrency: 10,
		Timeout:        15 * time.Second,
	}
}

// WarmStats summarizes a bulk warm-up run.
type WarmStats struct {
	Total       int
	Fresh       int
	Stale       int
	Unavailable int
	Skipped     int
}

// WarmAll refreshes every target through the safe-fetch path using a worker
// pool. Individual failures degrade to stale or placeholder results as
// usual and never abort the run; targets for unconfigured providers are
// counted as skipped.
func (f *Fetcher) WarmAll(ctx context.Context, targets []Target, cfg WarmConfig) WarmStats {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	start := time.Now()
	stats := WarmStats{Total: len(targets)}

	f.logger.Info().
		Int("targets", len(targets)).
		Int("workers", cfg.MaxConcurrency).
		Msg("Starting bulk warm-up")

	work := make(chan Target, len(targets))
	for _, t := range targets {
		work <- t
	}
	close(work)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < cfg.MaxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for target := range work {
				select {
				case <-ctx.Done():
					return
				default:
				}

				res, err := f.Fetch(ctx, target.Provider, target.Key, target.DataType, cfg.Timeout, target.Task)

				mu.Lock()
				switch {
				case err != nil:
					stats.Skipped++
				case res.Unavailable:
					stats.Unavailable++
				case res.Stale:
					stats.Stale++
				default:
					stats.Fresh++
				}
				mu.Unlock()

				if err != nil {
					f.logger.Warn().
						Err(err).
						Str("provider", target.Provider).
						Msg("Warm-up target skipped")
				}
			}
		}()
	}
	wg.Wait()

	f.logger.Info().
		Int("fresh", stats.Fresh).
		Int("stale", stats.Stale).
		Int("unavailable", stats.Unavailable).
		Int("skipped", stats.Skipped).
		Dur("duration", time.Since(start)).
		Msg("Bulk warm-up complete")

	return stats
}
