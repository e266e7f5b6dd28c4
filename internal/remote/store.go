// Package remote adapts an external key/value service into the narrow
// contract the cache manager consumes. Absence is reported as ErrNotFound;
// every other failure is wrapped into a generic remote error so callers can
// feed the circuit breaker without inspecting provider-specific types.
package remote

import (
	"context"
	"time"
)

// Store is the collaborator interface for the remote cache tier.
type Store interface {
	// Get returns the payload stored under key and its remaining TTL
	// (0 when the key never expires). Absent keys yield ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, time.Duration, error)
	// Set stores a payload under key with the given expiry. A ttl of 0
	// stores the key without expiry.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	// Delete removes the given keys. Deleting absent keys is not an error.
	Delete(ctx context.Context, keys ...string) error
	// Keys returns the keys matching a glob-style pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases the underlying connections.
	Close() error
}
