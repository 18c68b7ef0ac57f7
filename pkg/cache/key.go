package cache

import (
	"fmt"
	"sort"
	"strings"
)

// StaleSuffix is appended to a primary key to address its stale mirror.
const StaleSuffix = ":stale"

// Key identifies one upstream call: the provider, the operation, and a
// deterministic signature of its parameters.
type Key struct {
	// Provider is the upstream name (e.g. "defillama", "coingecko").
	Provider string

	// Operation is the call name (e.g. "token-price", "protocol-tvl").
	Operation string

	// Params are the call parameters included in the signature.
	Params map[string]string
}

// String generates a deterministic cache key string.
// Format: provider:operation:param1=val1:param2=val2
//
// Parameters are sorted so the same call always maps to the same key,
// keeping cache hits stable across process restarts when the store is
// persistent.
//
// Example:
//
//	defillama:token-price:chain=ethereum:token=0xdead
func (k Key) String() string {
	parts := []string{k.Provider, k.Operation}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Params[name]))
		}
	}

	return strings.Join(parts, ":")
}

// StaleKey returns the stale-mirror key for a primary key.
func StaleKey(primary string) string {
	return primary + StaleSuffix
}
