package cache

import (
	"encoding/json"
	"time"
)

// Entry is the stored envelope for a cached value. Both the primary entry
// and its stale mirror use this shape, so the stale-fallback path always
// knows when the data was originally fetched.
type Entry struct {
	// Value is the cached payload.
	Value json.RawMessage `json:"value"`

	// CachedAt is when the value was fetched from the upstream.
	CachedAt time.Time `json:"cached_at"`
}

// Age returns how long ago the entry was cached.
func (e *Entry) Age() time.Duration {
	return time.Since(e.CachedAt)
}
