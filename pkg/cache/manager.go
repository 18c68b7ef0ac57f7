package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dario.cat/mergo"
	"github.com/rs/zerolog"
)

// DataType labels the semantic kind of cached data and selects its TTL.
type DataType string

const (
	DataTypeProtocolInfo DataType = "protocol-info"
	DataTypeTokenPrice   DataType = "token-price"
	DataTypeProtocolTVL  DataType = "protocol-tvl"
	DataTypeAllProtocols DataType = "all-protocols"
	DataTypeMarketData   DataType = "market-data"
	DataTypeVolumeData   DataType = "volume-data"
	DataTypeDefault      DataType = "default"
)

// StaleTTLFactor scales a primary TTL up for its stale mirror, so the
// mirror outlives transient gaps in the primary entry.
const StaleTTLFactor = 4

// ttlTable maps each data type to its primary TTL.
var ttlTable = map[DataType]time.Duration{
	DataTypeProtocolInfo: 24 * time.Hour,
	DataTypeTokenPrice:   5 * time.Minute,
	DataTypeProtocolTVL:  30 * time.Minute,
	DataTypeAllProtocols: 12 * time.Hour,
	DataTypeMarketData:   30 * time.Minute,
	DataTypeVolumeData:   time.Hour,
	DataTypeDefault:      time.Hour,
}

// TTLFor returns the primary TTL for a data type. Unknown types get the
// default TTL.
func TTLFor(dataType DataType) time.Duration {
	if ttl, ok := ttlTable[dataType]; ok {
		return ttl
	}
	return ttlTable[DataTypeDefault]
}

// Validator inspects freshly fetched data against the previously cached
// value. Returning false flags the new value as suspicious; the manager
// then tries to repair it from the stale mirror instead of rejecting the
// write outright.
type Validator func(next, prev []byte, dataType DataType) bool

// Manager is the policy layer over a Store: it chooses TTLs by data type,
// maintains the stale mirror of every entry, and optionally validates new
// data before committing it.
type Manager struct {
	store     Store
	validator Validator
	logger    zerolog.Logger
}

// NewManager creates a cache manager over the given store. validator may be
// nil to disable validation.
func NewManager(store Store, validator Validator, logger zerolog.Logger) *Manager {
	if store == nil {
		panic("cache store cannot be nil")
	}
	return &Manager{
		store:     store,
		validator: validator,
		logger:    logger.With().Str("component", "cache").Logger(),
	}
}

// Get returns the fresh cached value for key, or ErrCacheMiss.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := m.getEntry(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			cacheMisses.Inc()
		}
		return nil, err
	}
	cacheHits.WithLabelValues("primary").Inc()
	return entry.Value, nil
}

// GetStale returns the stale-mirror entry for a primary key, including when
// it was originally cached, or ErrCacheMiss.
func (m *Manager) GetStale(ctx context.Context, key string) (*Entry, error) {
	entry, err := m.getEntry(ctx, StaleKey(key))
	if err != nil {
		return nil, err
	}
	cacheHits.WithLabelValues("stale").Inc()
	return entry, nil
}

func (m *Manager) getEntry(ctx context.Context, key string) (*Entry, error) {
	data, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

// Set writes the primary entry with the given TTL and refreshes the stale
// mirror at StaleTTLFactor times that TTL. The two writes are best-effort:
// a failed mirror write is logged but does not fail the call.
func (m *Manager) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := Entry{
		Value:    value,
		CachedAt: time.Now(),
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.store.Set(ctx, key, data, ttl); err != nil {
		return err
	}

	if err := m.store.Set(ctx, StaleKey(key), data, ttl*StaleTTLFactor); err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("Failed to refresh stale mirror")
	}

	return nil
}

// SetWithSmartTTL writes value under the TTL for its data type, running the
// validator first when one is configured.
//
// If the validator rejects the new value and a stale copy exists, the
// well-formed stale fields are merged into the new value (new fields win
// unless missing or zero) and the merged result is written, which also
// refreshes the stale mirror now being relied upon. If no stale copy
// exists, the new value is written anyway with a warning: the write path
// fails open, never blocks.
func (m *Manager) SetWithSmartTTL(ctx context.Context, key string, value []byte, dataType DataType) error {
	ttl := TTLFor(dataType)

	if m.validator != nil {
		prev, err := m.Get(ctx, key)
		if err != nil && !errors.Is(err, ErrCacheMiss) {
			m.logger.Warn().Err(err).Str("key", key).Msg("Previous value lookup failed")
		}

		if !m.validator(value, prev, dataType) {
			validationFailures.WithLabelValues(string(dataType)).Inc()

			stale, staleErr := m.GetStale(ctx, key)
			if staleErr == nil {
				merged, mergeErr := mergeStaleFields(value, stale.Value)
				if mergeErr == nil {
					staleMergesTotal.WithLabelValues(string(dataType)).Inc()
					m.logger.Info().
						Str("key", key).
						Str("data_type", string(dataType)).
						Msg("Validation failed, merged stale fields into new value")
					return m.Set(ctx, key, merged, ttl)
				}
				m.logger.Warn().
					Err(mergeErr).
					Str("key", key).
					Msg("Stale merge failed, writing new value as-is")
			} else {
				m.logger.Warn().
					Str("key", key).
					Str("data_type", string(dataType)).
					Msg("Validation failed with no stale copy, writing new value anyway")
			}
		}
	}

	return m.Set(ctx, key, value, ttl)
}

// Delete removes the primary entry and its stale mirror.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.store.Delete(ctx, key); err != nil {
		return err
	}
	return m.store.Delete(ctx, StaleKey(key))
}

// Cleanup is a no-op: both the Redis and memory stores expire entries
// natively.
func (m *Manager) Cleanup() {}

// mergeStaleFields fills fields that are missing or zero in next from the
// stale JSON object. Both payloads must be JSON objects; anything else is
// left to the caller to write as-is.
func mergeStaleFields(next, stale []byte) ([]byte, error) {
	var nextObj, staleObj map[string]interface{}
	if err := json.Unmarshal(next, &nextObj); err != nil {
		return nil, fmt.Errorf("unmarshal new value: %w", err)
	}
	if err := json.Unmarshal(stale, &staleObj); err != nil {
		return nil, fmt.Errorf("unmarshal stale value: %w", err)
	}

	if err := mergo.Merge(&nextObj, staleObj); err != nil {
		return nil, fmt.Errorf("merge stale fields: %w", err)
	}

	return json.Marshal(nextObj)
}
