// Package cache provides the TTL key-value store and the policy layer that
// keeps a longer-lived stale mirror of every entry.
//
// Every successful write stores two entries: the primary at its data-type
// TTL and a ":stale" mirror at four times that TTL. When a fresh fetch
// fails, the orchestrator serves the mirror instead of failing the caller.
//
// The manager chooses TTLs from a fixed table keyed by a semantic data-type
// label (token prices expire in minutes, protocol metadata in hours) and can
// validate new data against the previous value before committing it. A
// rejected value is repaired by merging well-formed stale fields into it;
// the write path always fails open.
//
// # Basic Usage
//
//	// Create Redis-backed store
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//	store := cache.NewRedisStore(redisClient)
//
//	// Create manager (nil validator disables validation)
//	manager := cache.NewManager(store, nil, logger)
//
//	// Build a deterministic key
//	key := cache.Key{
//		Provider:  "defillama",
//		Operation: "token-price",
//		Params:    map[string]string{"chain": "ethereum", "token": "0xdead"},
//	}
//
//	// Write with data-type TTL (also refreshes the stale mirror)
//	err := manager.SetWithSmartTTL(ctx, key.String(), payload, cache.DataTypeTokenPrice)
//
//	// Read fresh, fall back to stale
//	value, err := manager.Get(ctx, key.String())
//	if errors.Is(err, cache.ErrCacheMiss) {
//		entry, err := manager.GetStale(ctx, key.String())
//		...
//	}
//
// For tests and Redis-less deployments, NewMemoryStore provides the same
// Store interface in-process.
package cache
