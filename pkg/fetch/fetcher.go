// Package fetch implements the safe-fetch orchestration: get-or-fetch with
// per-provider request queues, smart-TTL caching, and degraded-but-successful
// fallbacks. Callers receive fresh data, stale data flagged stale=true, or a
// placeholder flagged unavailable=true; upstream flakiness never surfaces as
// an error.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/quantmesh/fetchguard/pkg/breaker"
	"github.com/quantmesh/fetchguard/pkg/cache"
	"github.com/quantmesh/fetchguard/pkg/queue"
)

// Prometheus metrics for fetch orchestration.
var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fetchguard_fetches_total",
		Help: "Total safe-fetch calls by provider and outcome",
	}, []string{"provider", "outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fetchguard_fetch_duration_seconds",
		Help:    "Safe-fetch duration in seconds by provider",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"provider"})
)

// ProviderConfig holds the resilience knobs for one upstream provider.
// All values are fixed at construction time.
type ProviderConfig struct {
	Concurrency       int
	RequestsPerSecond int
	RetryAttempts     int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	CircuitThreshold  int
	CircuitTimeout    time.Duration
}

// DefaultProviderConfig returns safe defaults for a moderately rate-limited
// upstream.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Concurrency:       5,
		RequestsPerSecond: 10,
		RetryAttempts:     3,
		BaseDelay:         1 * time.Second,
		MaxDelay:          10 * time.Second,
		CircuitThreshold:  5,
		CircuitTimeout:    60 * time.Second,
	}
}

// Config holds the fetcher configuration.
type Config struct {
	// Store backs the cache. Required.
	Store cache.Store

	// Validator optionally vets new data before it is cached.
	Validator cache.Validator

	// Providers maps each upstream name to its resilience knobs.
	Providers map[string]ProviderConfig

	// DefaultTimeout bounds a fetch when the caller passes no timeout.
	DefaultTimeout time.Duration

	// Logger is the base logger.
	Logger zerolog.Logger
}

// Result is what a safe fetch returns. Exactly one of the three shapes
// occurs: fresh (no flags), stale (Stale with CachedAt), or placeholder
// (Unavailable with the underlying error message).
type Result struct {
	Value       json.RawMessage `json:"value"`
	Stale       bool            `json:"stale,omitempty"`
	Unavailable bool            `json:"unavailable,omitempty"`
	Error       string          `json:"error,omitempty"`
	CachedAt    time.Time       `json:"cached_at,omitempty"`
}

// Fetcher ties the cache manager and the per-provider request queues
// together. One instance is constructed at startup and passed to every
// handler; there is no global state, so tests get isolated queues and
// breakers.
type Fetcher struct {
	cache   *cache.Manager
	store   cache.Store
	queues  map[string]*queue.Queue
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates a fetcher with one queue (and circuit breaker) per configured
// provider.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}

	queues := make(map[string]*queue.Queue, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		queues[name] = queue.New(queue.Config{
			Provider:          name,
			Concurrency:       pc.Concurrency,
			RequestsPerSecond: pc.RequestsPerSecond,
			RetryAttempts:     pc.RetryAttempts,
			BaseDelay:         pc.BaseDelay,
			MaxDelay:          pc.MaxDelay,
			CircuitThreshold:  pc.CircuitThreshold,
			CircuitTimeout:    pc.CircuitTimeout,
			Logger:            cfg.Logger,
		})
	}

	return &Fetcher{
		cache:   cache.NewManager(cfg.Store, cfg.Validator, cfg.Logger),
		store:   cfg.Store,
		queues:  queues,
		timeout: cfg.DefaultTimeout,
		logger:  cfg.Logger.With().Str("component", "fetch").Logger(),
	}, nil
}

// Fetch is the get-or-fetch path. It consults the cache, else runs fn
// through the provider's queue with a timeout, caches the success, and on
// any failure serves the stale mirror or a placeholder.
//
// The returned error is non-nil only for configuration mistakes (unknown
// provider, nil task); upstream errors, timeouts, and circuit rejections
// all produce a degraded Result instead.
func (f *Fetcher) Fetch(ctx context.Context, provider string, key cache.Key, dataType cache.DataType, timeout time.Duration, fn queue.Task) (Result, error) {
	q, ok := f.queues[provider]
	if !ok {
		return Result{}, fmt.Errorf("unknown provider %q", provider)
	}
	if fn == nil {
		return Result{}, queue.ErrNilTask
	}

	start := time.Now()
	defer func() {
		fetchDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}()

	cacheKey := key.String()

	if value, err := f.cache.Get(ctx, cacheKey); err == nil {
		f.logger.Debug().
			Str("provider", provider).
			Str("key", cacheKey).
			Msg("Cache hit")
		fetchesTotal.WithLabelValues(provider, "cache_hit").Inc()
		return Result{Value: value}, nil
	}

	if timeout <= 0 {
		timeout = f.timeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	value, err := q.Enqueue(fetchCtx, cacheKey, fn)
	if err == nil {
		if cacheErr := f.cache.SetWithSmartTTL(ctx, cacheKey, value, dataType); cacheErr != nil {
			f.logger.Warn().
				Err(cacheErr).
				Str("key", cacheKey).
				Msg("Failed to cache fetched value")
		}
		f.logger.Debug().
			Str("provider", provider).
			Str("key", cacheKey).
			Msg("Fetched from upstream")
		fetchesTotal.WithLabelValues(provider, "fetched").Inc()
		return Result{Value: value}, nil
	}

	kind := classify(err)
	f.logger.Warn().
		Err(err).
		Str("provider", provider).
		Str("key", cacheKey).
		Str("kind", kind).
		Msg("Fetch failed, attempting stale fallback")

	if stale, staleErr := f.cache.GetStale(ctx, cacheKey); staleErr == nil {
		fetchesTotal.WithLabelValues(provider, "stale_fallback").Inc()
		return Result{
			Value:    stale.Value,
			Stale:    true,
			Error:    err.Error(),
			CachedAt: stale.CachedAt,
		}, nil
	}

	fetchesTotal.WithLabelValues(provider, "unavailable").Inc()
	return Result{
		Value:       placeholderFor(dataType),
		Unavailable: true,
		Error:       err.Error(),
	}, nil
}

// classify names the failure kind for logs and metrics.
func classify(err error) string {
	switch {
	case errors.Is(err, breaker.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "upstream"
	}
}

// placeholderFor returns the safe zero value served when neither fresh nor
// stale data exists.
func placeholderFor(dataType cache.DataType) json.RawMessage {
	if dataType == cache.DataTypeAllProtocols {
		return json.RawMessage(`[]`)
	}
	return json.RawMessage(`{}`)
}

// Status returns the monitoring snapshot of every provider queue.
func (f *Fetcher) Status() map[string]queue.Status {
	statuses := make(map[string]queue.Status, len(f.queues))
	for name, q := range f.queues {
		statuses[name] = q.Status()
	}
	return statuses
}

// Queue returns the request queue for a provider, if configured.
func (f *Fetcher) Queue(provider string) (*queue.Queue, bool) {
	q, ok := f.queues[provider]
	return q, ok
}

// Store exposes the raw cache store for admin operations (bulk flush,
// pattern eviction) that bypass manager policy.
func (f *Fetcher) Store() cache.Store {
	return f.store
}

// Cache exposes the cache manager.
func (f *Fetcher) Cache() *cache.Manager {
	return f.cache
}
