package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"tiercache/internal/common/logging"
)

// Memoized is a function wrapped with caching.
type Memoized[A any, R any] func(ctx context.Context, arg A) (R, error)

// Memoize wraps fn so repeated calls with equal arguments are served from
// the cache. The name identifies the function in the key space; two
// functions must not share a name. Functions taking several arguments wrap
// them in a struct. The cached result round-trips through JSON, so R must be
// JSON-representable.
//
// fn's own error is returned untouched and nothing is cached for it.
func Memoize[A any, R any](m *Manager, name string, ttl time.Duration, dataType string, fn func(ctx context.Context, arg A) (R, error)) Memoized[A, R] {
	return func(ctx context.Context, arg A) (R, error) {
		key, err := MemoKey(name, arg)
		if err != nil {
			// An argument that cannot be hashed cannot be cached.
			m.logger.Debug("memoization skipped, argument not hashable",
				logging.String("function", name),
				logging.Err(err),
			)
			return fn(ctx, arg)
		}

		var cached R
		if m.GetJSON(ctx, key, &cached) {
			return cached, nil
		}

		result, err := fn(ctx, arg)
		if err != nil {
			var zero R
			return zero, err
		}

		m.Set(ctx, key, result, ttl, dataType)
		return result, nil
	}
}

// InvalidateMemo deletes the cached result of a memoized function for the
// given argument.
func InvalidateMemo[A any](ctx context.Context, m *Manager, name string, arg A) bool {
	key, err := MemoKey(name, arg)
	if err != nil {
		return false
	}
	return m.Delete(ctx, key)
}

// MemoKey derives the cache key for a memoized call from the function name
// and the JSON form of its argument.
func MemoKey(name string, arg interface{}) (string, error) {
	data, err := json.Marshal(arg)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	return "memo:" + name + ":" + hex.EncodeToString(sum[:8]), nil
}
