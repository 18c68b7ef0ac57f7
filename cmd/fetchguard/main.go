package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quantmesh/fetchguard/pkg/cache"
	"github.com/quantmesh/fetchguard/pkg/fetch"
	"github.com/quantmesh/fetchguard/pkg/logging"
	"github.com/quantmesh/fetchguard/pkg/queue"
)

func main() {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "") != "",
		Output: os.Stderr,
	})

	redisURL := getEnv("REDIS_URL", "")
	port := getEnv("PORT", "8080")
	upstreams := parseUpstreams(getEnv("UPSTREAMS",
		"defillama=https://api.llama.fi,coingecko=https://api.coingecko.com/api/v3"))

	// Redis when configured, in-memory otherwise.
	var store cache.Store
	if redisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", redisURL).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("addr", redisURL).Msg("Connected to Redis")
		store = cache.NewRedisStore(redisClient)
	} else {
		logger.Info().Msg("No REDIS_URL set, using in-memory cache store")
		store = cache.NewMemoryStore()
	}

	providers := make(map[string]fetch.ProviderConfig, len(upstreams))
	for name := range upstreams {
		providers[name] = fetch.DefaultProviderConfig()
	}

	fetcher, err := fetch.New(fetch.Config{
		Store:          store,
		Providers:      providers,
		DefaultTimeout: 10 * time.Second,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create fetcher")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/status", statusHandler(fetcher))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/admin/flush", flushHandler(fetcher, logger))
	mux.HandleFunc("/admin/evict", evictHandler(fetcher, logger))
	mux.HandleFunc("/fetch/", fetchHandler(fetcher, upstreams))

	addr := ":" + port
	logger.Info().
		Str("addr", addr).
		Int("providers", len(upstreams)).
		Msg("Starting fetchguard proxy")

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// statusHandler reports every provider queue's in-flight count, queued
// count, circuit state, and failure count.
func statusHandler(fetcher *fetch.Fetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(fetcher.Status())
	}
}

// flushHandler empties the whole cache store, bypassing manager policy.
func flushHandler(fetcher *fetch.Fetcher, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := fetcher.Store().Flush(r.Context()); err != nil {
			http.Error(w, fmt.Sprintf("flush failed: %v", err), http.StatusInternalServerError)
			return
		}
		logger.Info().Msg("Cache flushed")
		w.WriteHeader(http.StatusNoContent)
	}
}

// evictHandler deletes all keys matching a glob pattern, bypassing manager
// policy.
func evictHandler(fetcher *fetch.Fetcher, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		pattern := r.URL.Query().Get("pattern")
		if pattern == "" {
			http.Error(w, "pattern query parameter is required", http.StatusBadRequest)
			return
		}
		deleted, err := fetcher.Store().DeleteByPattern(r.Context(), pattern)
		if err != nil {
			http.Error(w, fmt.Sprintf("evict failed: %v", err), http.StatusInternalServerError)
			return
		}
		logger.Info().Str("pattern", pattern).Int("deleted", deleted).Msg("Cache keys evicted")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"deleted": %d}`, deleted)
	}
}

// fetchHandler proxies GET /fetch/{provider}/{operation...} through the
// safe-fetch path. The data type is selected with the "type" query
// parameter; all other query parameters become part of the cache key.
func fetchHandler(fetcher *fetch.Fetcher, upstreams map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/fetch/")
		provider, operation, ok := strings.Cut(rest, "/")
		if !ok || operation == "" {
			http.Error(w, "expected /fetch/{provider}/{operation}", http.StatusBadRequest)
			return
		}

		baseURL, ok := upstreams[provider]
		if !ok {
			http.Error(w, fmt.Sprintf("unknown provider %q", provider), http.StatusNotFound)
			return
		}

		dataType := cache.DataType(r.URL.Query().Get("type"))
		if dataType == "" {
			dataType = cache.DataTypeDefault
		}

		params := make(map[string]string)
		for name, values := range r.URL.Query() {
			if name == "type" || len(values) == 0 {
				continue
			}
			params[name] = values[0]
		}

		key := cache.Key{
			Provider:  provider,
			Operation: operation,
			Params:    params,
		}

		result, err := fetcher.Fetch(r.Context(), provider, key, dataType, 0,
			upstreamTask(provider, baseURL+"/"+operation, params))
		if err != nil {
			http.Error(w, fmt.Sprintf("fetch failed: %v", err), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if result.Stale {
			w.Header().Set("X-Fetchguard-Stale", "true")
		}
		if result.Unavailable {
			w.Header().Set("X-Fetchguard-Unavailable", "true")
		}
		json.NewEncoder(w).Encode(result)
	}
}

// upstreamTask builds the queue task performing one GET against a provider.
func upstreamTask(provider, url string, params map[string]string) queue.Task {
	return func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		q := req.URL.Query()
		for name, value := range params {
			q.Set(name, value)
		}
		req.URL.RawQuery = q.Encode()

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, &queue.UpstreamError{Provider: provider, Message: "request failed", Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &queue.UpstreamError{Provider: provider, StatusCode: resp.StatusCode, Message: "read body", Err: err}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &queue.UpstreamError{Provider: provider, StatusCode: resp.StatusCode, Message: resp.Status}
		}
		return body, nil
	}
}

// parseUpstreams parses "name=baseURL,name=baseURL" pairs.
func parseUpstreams(s string) map[string]string {
	upstreams := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		name, url, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" || url == "" {
			continue
		}
		upstreams[name] = url
	}
	return upstreams
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
