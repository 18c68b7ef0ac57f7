package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantmesh/fetchguard/pkg/cache"
	"github.com/quantmesh/fetchguard/pkg/queue"
)

func newTestFetcher(t *testing.T, mods ...func(*Config)) *Fetcher {
	t.Helper()

	cfg := Config{
		Store: cache.NewMemoryStore(),
		Providers: map[string]ProviderConfig{
			"defillama": {
				Concurrency:       4,
				RequestsPerSecond: 1000,
				RetryAttempts:     0,
				BaseDelay:         time.Millisecond,
				MaxDelay:          5 * time.Millisecond,
				CircuitThreshold:  100,
				CircuitTimeout:    time.Minute,
			},
		},
		DefaultTimeout: 2 * time.Second,
		Logger:         zerolog.Nop(),
	}
	for _, mod := range mods {
		mod(&cfg)
	}

	f, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func priceKey(token string) cache.Key {
	return cache.Key{
		Provider:  "defillama",
		Operation: "token-price",
		Params:    map[string]string{"token": token},
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Providers: map[string]ProviderConfig{"p": {}}}); err == nil {
		t.Error("New() without store did not fail")
	}
	if _, err := New(Config{Store: cache.NewMemoryStore()}); err == nil {
		t.Error("New() without providers did not fail")
	}
}

func TestFetch_UnknownProvider(t *testing.T) {
	f := newTestFetcher(t)

	_, err := f.Fetch(context.Background(), "nope", priceKey("eth"), cache.DataTypeTokenPrice, 0,
		func(ctx context.Context) ([]byte, error) { return []byte("{}"), nil })
	if err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Errorf("Fetch() error = %v, want unknown provider error", err)
	}
}

func TestFetch_NilTask(t *testing.T) {
	f := newTestFetcher(t)

	_, err := f.Fetch(context.Background(), "defillama", priceKey("eth"), cache.DataTypeTokenPrice, 0, nil)
	if !errors.Is(err, queue.ErrNilTask) {
		t.Errorf("Fetch() error = %v, want ErrNilTask", err)
	}
}

func TestFetch_MissFetchesAndCaches(t *testing.T) {
	f := newTestFetcher(t)
	ctx := context.Background()

	var invocations atomic.Int64
	task := func(ctx context.Context) ([]byte, error) {
		invocations.Add(1)
		return []byte(`{"price": 42}`), nil
	}

	res, err := f.Fetch(ctx, "defillama", priceKey("eth"), cache.DataTypeTokenPrice, 0, task)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Stale || res.Unavailable {
		t.Errorf("Result flags = %+v, want fresh", res)
	}
	if string(res.Value) != `{"price": 42}` {
		t.Errorf("Value = %s, want the fetched payload", res.Value)
	}

	// Second call must come from cache without touching the upstream.
	res, err = f.Fetch(ctx, "defillama", priceKey("eth"), cache.DataTypeTokenPrice, 0, task)
	if err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if string(res.Value) != `{"price": 42}` {
		t.Errorf("cached Value = %s, want the fetched payload", res.Value)
	}
	if n := invocations.Load(); n != 1 {
		t.Errorf("upstream invocations = %d, want 1", n)
	}
}

func TestFetch_StaleFallback(t *testing.T) {
	f := newTestFetcher(t)
	ctx := context.Background()
	key := priceKey("eth")

	// Seed with a short primary TTL and let it lapse, leaving only the
	// stale mirror (4x TTL).
	payload := []byte(`{"price": 100}`)
	if err := f.Cache().Set(ctx, key.String(), payload, 30*time.Millisecond); err != nil {
		t.Fatalf("seed Set() error = %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	errDown := errors.New("upstream down")
	res, err := f.Fetch(ctx, "defillama", key, cache.DataTypeTokenPrice, 0,
		func(ctx context.Context) ([]byte, error) { return nil, errDown })
	if err != nil {
		t.Fatalf("Fetch() error = %v, want degraded result instead", err)
	}
	if !res.Stale {
		t.Error("Stale = false, want true")
	}
	if res.Unavailable {
		t.Error("Unavailable = true, want false")
	}
	if string(res.Value) != string(payload) {
		t.Errorf("Value = %s, want the stale payload", res.Value)
	}
	if res.Error == "" || !strings.Contains(res.Error, "upstream down") {
		t.Errorf("Error = %q, want the upstream failure message", res.Error)
	}
	if res.CachedAt.IsZero() {
		t.Error("CachedAt is zero, want the original cache time")
	}
}

func TestFetch_PlaceholderWhenNothingCached(t *testing.T) {
	f := newTestFetcher(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		dataType cache.DataType
		want     string
	}{
		{"object placeholder", cache.DataTypeTokenPrice, `{}`},
		{"list placeholder", cache.DataTypeAllProtocols, `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := cache.Key{Provider: "defillama", Operation: tt.name}
			res, err := f.Fetch(ctx, "defillama", key, tt.dataType, 0,
				func(ctx context.Context) ([]byte, error) { return nil, errors.New("boom") })
			if err != nil {
				t.Fatalf("Fetch() error = %v, want degraded result instead", err)
			}
			if !res.Unavailable {
				t.Error("Unavailable = false, want true")
			}
			if string(res.Value) != tt.want {
				t.Errorf("Value = %s, want %s", res.Value, tt.want)
			}
			if res.Error == "" {
				t.Error("Error is empty, want the failure message")
			}
		})
	}
}

func TestFetch_TimeoutDegrades(t *testing.T) {
	f := newTestFetcher(t)
	ctx := context.Background()

	res, err := f.Fetch(ctx, "defillama", priceKey("slow"), cache.DataTypeTokenPrice, 30*time.Millisecond,
		func(taskCtx context.Context) ([]byte, error) {
			select {
			case <-taskCtx.Done():
				return nil, taskCtx.Err()
			case <-time.After(time.Second):
				return []byte("{}"), nil
			}
		})
	if err != nil {
		t.Fatalf("Fetch() error = %v, want degraded result instead", err)
	}
	if !res.Unavailable {
		t.Errorf("Result = %+v, want unavailable placeholder after timeout", res)
	}
}

func TestFetch_CircuitOpenServesStale(t *testing.T) {
	f := newTestFetcher(t, func(c *Config) {
		c.Providers["defillama"] = ProviderConfig{
			Concurrency:       4,
			RequestsPerSecond: 1000,
			RetryAttempts:     0,
			BaseDelay:         time.Millisecond,
			MaxDelay:          5 * time.Millisecond,
			CircuitThreshold:  1,
			CircuitTimeout:    time.Minute,
		}
	})
	ctx := context.Background()
	key := priceKey("eth")

	payload := []byte(`{"price": 100}`)
	if err := f.Cache().Set(ctx, key.String(), payload, 30*time.Millisecond); err != nil {
		t.Fatalf("seed Set() error = %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	// First failure opens the circuit (threshold 1) and serves stale.
	failing := func(ctx context.Context) ([]byte, error) { return nil, errors.New("down") }
	if res, err := f.Fetch(ctx, "defillama", key, cache.DataTypeTokenPrice, 0, failing); err != nil || !res.Stale {
		t.Fatalf("Fetch() = (%+v, %v), want stale result", res, err)
	}

	// Circuit now open: the task must not run, and stale is still served.
	var invoked atomic.Bool
	res, err := f.Fetch(ctx, "defillama", key, cache.DataTypeTokenPrice, 0,
		func(ctx context.Context) ([]byte, error) {
			invoked.Store(true)
			return nil, errors.New("down")
		})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if invoked.Load() {
		t.Error("task invoked while circuit open")
	}
	if !res.Stale {
		t.Errorf("Result = %+v, want stale fallback during open circuit", res)
	}
	if !strings.Contains(res.Error, "circuit") {
		t.Errorf("Error = %q, want circuit rejection message", res.Error)
	}

	status := f.Status()["defillama"]
	if status.CircuitState != "OPEN" {
		t.Errorf("CircuitState = %q, want OPEN", status.CircuitState)
	}
}

func TestFetch_ValidatorRepairsDegradedPayload(t *testing.T) {
	validator := func(next, prev []byte, dataType cache.DataType) bool {
		var obj map[string]interface{}
		if err := json.Unmarshal(next, &obj); err != nil {
			return false
		}
		_, ok := obj["volume"]
		return ok
	}
	f := newTestFetcher(t, func(c *Config) { c.Validator = validator })
	ctx := context.Background()
	key := priceKey("eth")

	complete := []byte(`{"price": 100, "volume": 5000}`)
	if res, err := f.Fetch(ctx, "defillama", key, cache.DataTypeMarketData, 0,
		func(ctx context.Context) ([]byte, error) { return complete, nil }); err != nil || res.Stale {
		t.Fatalf("seed Fetch() = (%+v, %v)", res, err)
	}

	// Expire the primary so the next fetch goes upstream again.
	if err := f.Store().Delete(ctx, key.String()); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	degraded := []byte(`{"price": 42}`)
	res, err := f.Fetch(ctx, "defillama", key, cache.DataTypeMarketData, 0,
		func(ctx context.Context) ([]byte, error) { return degraded, nil })
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(res.Value) != string(degraded) {
		t.Errorf("Value = %s, want the upstream payload returned as fetched", res.Value)
	}

	// The cached copy must have been repaired from the stale mirror.
	cached, err := f.Cache().Get(ctx, key.String())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(cached, &obj); err != nil {
		t.Fatalf("unmarshal cached value: %v", err)
	}
	if obj["price"] != float64(42) {
		t.Errorf("cached price = %v, want 42", obj["price"])
	}
	if obj["volume"] != float64(5000) {
		t.Errorf("cached volume = %v, want 5000 filled from stale", obj["volume"])
	}
}

func TestFetcher_Status(t *testing.T) {
	f := newTestFetcher(t)

	statuses := f.Status()
	if len(statuses) != 1 {
		t.Fatalf("Status() returned %d entries, want 1", len(statuses))
	}
	status, ok := statuses["defillama"]
	if !ok {
		t.Fatal("Status() missing defillama entry")
	}
	if status.CircuitState != "CLOSED" {
		t.Errorf("CircuitState = %q, want CLOSED", status.CircuitState)
	}
}

func TestFetcher_Queue(t *testing.T) {
	f := newTestFetcher(t)

	if _, ok := f.Queue("defillama"); !ok {
		t.Error("Queue(defillama) not found")
	}
	if _, ok := f.Queue("nope"); ok {
		t.Error("Queue(nope) found, want missing")
	}
}
