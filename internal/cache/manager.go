package cache

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"tiercache/internal/circuitbreaker"
	"tiercache/internal/codec"
	cacheerrors "tiercache/internal/common/errors"
	"tiercache/internal/common/logging"
	"tiercache/internal/remote"
)

// DefaultTTL applies when neither the caller nor the TTL table provides one.
const DefaultTTL = 5 * time.Minute

// DefaultTTLTable returns the per-data-type TTL defaults.
func DefaultTTLTable() map[string]time.Duration {
	return map[string]time.Duration{
		"user":         10 * time.Minute,
		"session":      time.Hour,
		"llm_response": 5 * time.Minute,
		"default":      5 * time.Minute,
	}
}

// Tier selects which tiers a read consults.
type Tier int

const (
	// TierBoth reads L1 first, then the remote tier.
	TierBoth Tier = iota
	// TierL1 reads only the local tier.
	TierL1
	// TierL2 reads only the remote tier and skips promotion.
	TierL2
)

// Options configures a Manager.
type Options struct {
	L1MaxSize            int
	CompressionThreshold int
	// TTLTable maps data types to default TTLs; nil uses DefaultTTLTable.
	TTLTable map[string]time.Duration
	// Remote is the L2 store. nil runs the cache L1-only.
	Remote remote.Store
	// Breaker guards remote calls. nil creates a native breaker with
	// default thresholds.
	Breaker circuitbreaker.Breaker
	Logger  logging.Logger
}

// Manager composes the local tier, the remote tier, the codec and the
// circuit breaker behind one API. No method ever surfaces a cache-layer
// error: remote and serialization failures degrade to misses or skipped
// remote writes, observable only through Stats and logs.
type Manager struct {
	local    *LocalStore
	remote   remote.Store
	breaker  circuitbreaker.Breaker
	codec    *codec.Codec
	ttlTable map[string]time.Duration
	logger   logging.Logger
	stats    counters
	group    singleflight.Group
}

// NewManager creates a Manager. The remote store may be nil; the cache then
// serves from L1 alone.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	breaker := opts.Breaker
	if breaker == nil {
		breaker = circuitbreaker.New("remote-cache", circuitbreaker.DefaultConfig())
	}

	ttlTable := opts.TTLTable
	if ttlTable == nil {
		ttlTable = DefaultTTLTable()
	}

	return &Manager{
		local:    NewLocalStore(opts.L1MaxSize),
		remote:   opts.Remote,
		breaker:  breaker,
		codec:    codec.New(opts.CompressionThreshold),
		ttlTable: ttlTable,
		logger:   logger,
	}
}

// Get returns the cached value for key, consulting both tiers.
func (m *Manager) Get(ctx context.Context, key string) (interface{}, bool) {
	return m.GetTier(ctx, key, TierBoth)
}

// GetTier returns the cached value for key from the selected tiers. L1 hits
// refresh recency; remote hits are decoded and promoted into L1 with their
// remaining TTL. Remote failures feed the breaker and degrade to a miss.
func (m *Manager) GetTier(ctx context.Context, key string, tier Tier) (interface{}, bool) {
	if tier != TierL2 {
		if entry, ok := m.local.Get(key); ok {
			m.stats.recordL1Hit()
			return entry.Value, true
		}
	}

	if tier != TierL1 && m.remote != nil && m.breaker.CanExecute() {
		if value, ok := m.remoteGet(ctx, key, tier); ok {
			m.stats.recordL2Hit()
			return value, true
		}
	}

	m.stats.recordMiss()
	return nil, false
}

// remoteGet fetches and decodes key from the remote tier, promoting hits
// into L1 unless the caller asked for the remote tier alone.
func (m *Manager) remoteGet(ctx context.Context, key string, tier Tier) (interface{}, bool) {
	payload, remaining, err := m.remote.Get(ctx, key)
	if err != nil {
		if cacheerrors.IsNotFound(err) {
			// A clean miss still proves the remote tier is healthy.
			m.breaker.RecordSuccess()
			return nil, false
		}
		m.breaker.RecordFailure()
		m.stats.recordError()
		m.logger.Debug("remote get failed",
			logging.String("key", key),
			logging.Err(err),
		)
		return nil, false
	}
	m.breaker.RecordSuccess()

	var value interface{}
	if decodeErr := m.codec.Decode(payload, &value); decodeErr != nil {
		m.stats.recordError()
		m.logger.Warn("discarding undecodable remote entry",
			logging.String("key", key),
			logging.Err(decodeErr),
		)
		return nil, false
	}

	if tier != TierL2 {
		m.promote(key, value, remaining, codec.Compressed(payload))
	}
	return value, true
}

// promote installs a decoded remote value into L1. The entry keeps the
// remaining remote TTL when one exists, otherwise the default TTL, so a
// promoted entry never outlives its remote original by more than a window.
func (m *Manager) promote(key string, value interface{}, remaining time.Duration, compressed bool) {
	ttl := remaining
	if ttl <= 0 {
		ttl = m.ttlFor(0, "")
	}

	entry := NewEntry(value, ttl)
	entry.Compressed = compressed
	m.local.Set(key, entry)
}

// GetJSON fetches key and unmarshals the cached value into dest, which must
// be a pointer. It reports whether a usable value was found.
func (m *Manager) GetJSON(ctx context.Context, key string, dest interface{}) bool {
	value, found := m.Get(ctx, key)
	if !found {
		return false
	}

	data, err := json.Marshal(value)
	if err == nil {
		err = json.Unmarshal(data, dest)
	}
	if err != nil {
		m.stats.recordError()
		m.logger.Warn("cached value does not fit destination",
			logging.String("key", key),
			logging.Err(err),
		)
		return false
	}
	return true
}

// Set writes value to both tiers. A ttl <= 0 resolves from the data-type
// table ("" means "default"). L1 always receives the value; the remote
// write is skipped when the breaker is open and absorbed when it fails.
func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, dataType string) {
	resolved := m.ttlFor(ttl, dataType)

	payload, compressed, encodeErr := m.codec.Encode(value)
	if encodeErr != nil {
		m.stats.recordError()
		m.logger.Warn("value not serializable, caching in L1 only",
			logging.String("key", key),
			logging.Err(encodeErr),
		)
	}

	entry := NewEntry(value, resolved)
	entry.Compressed = compressed
	m.local.Set(key, entry)

	if encodeErr == nil && m.remote != nil && m.breaker.CanExecute() {
		if err := m.remote.Set(ctx, key, payload, resolved); err != nil {
			m.breaker.RecordFailure()
			m.stats.recordError()
			m.logger.Debug("remote set failed",
				logging.String("key", key),
				logging.Err(err),
			)
		} else {
			m.breaker.RecordSuccess()
		}
	}

	m.stats.recordWrite(compressed)
}

// Delete removes key from both tiers, reporting whether L1 held it. Remote
// failures are recorded and absorbed.
func (m *Manager) Delete(ctx context.Context, key string) bool {
	removed := m.local.Delete(key)

	if m.remote != nil && m.breaker.CanExecute() {
		if err := m.remote.Delete(ctx, key); err != nil {
			m.breaker.RecordFailure()
			m.stats.recordError()
			m.logger.Debug("remote delete failed",
				logging.String("key", key),
				logging.Err(err),
			)
		} else {
			m.breaker.RecordSuccess()
		}
	}

	m.stats.recordDelete()
	return removed
}

// Clear removes entries matching pattern from both tiers and returns how
// many L1 entries were removed. An empty pattern clears everything.
func (m *Manager) Clear(ctx context.Context, pattern string) int {
	removed := m.local.Clear(pattern)

	if m.remote != nil && m.breaker.CanExecute() {
		m.clearRemote(ctx, pattern)
	}

	return removed
}

func (m *Manager) clearRemote(ctx context.Context, pattern string) {
	if pattern == "" {
		pattern = "*"
	}

	keys, err := m.remote.Keys(ctx, pattern)
	if err != nil {
		m.breaker.RecordFailure()
		m.stats.recordError()
		m.logger.Debug("remote scan failed",
			logging.String("pattern", pattern),
			logging.Err(err),
		)
		return
	}
	m.breaker.RecordSuccess()

	if len(keys) == 0 {
		return
	}

	// The scan and the delete are separate remote calls; each admission
	// pairs with exactly one recorded outcome.
	if !m.breaker.CanExecute() {
		return
	}

	if err := m.remote.Delete(ctx, keys...); err != nil {
		m.breaker.RecordFailure()
		m.stats.recordError()
		m.logger.Debug("remote clear failed",
			logging.String("pattern", pattern),
			logging.Err(err),
		)
		return
	}
	m.breaker.RecordSuccess()
}

// GetOrCompute returns the cached value for key, or invokes compute, stores
// its result and returns it. Concurrent misses for the same key share one
// compute invocation. A compute error is the caller's own error: it is
// returned as-is and nothing is stored.
func (m *Manager) GetOrCompute(ctx context.Context, key string, ttl time.Duration, dataType string, compute func(context.Context) (interface{}, error)) (interface{}, error) {
	if value, found := m.Get(ctx, key); found {
		return value, nil
	}

	value, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.computeMiss(ctx, key, ttl, dataType, compute)
	})
	return value, err
}

// computeMiss runs inside the flight for key: it serves a fill left by a
// concurrent flight, or invokes compute and stores the result. The caller's
// miss is already counted, so the re-check records no further outcome.
func (m *Manager) computeMiss(ctx context.Context, key string, ttl time.Duration, dataType string, compute func(context.Context) (interface{}, error)) (interface{}, error) {
	if entry, ok := m.local.Get(key); ok {
		return entry.Value, nil
	}

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	m.Set(ctx, key, value, ttl, dataType)
	return value, nil
}

// TagKey namespaces key under tag so InvalidateTags can find it later.
func TagKey(tag, key string) string {
	return "tag:" + tag + ":" + key
}

// InvalidateTags clears every entry namespaced under each tag and returns
// how many L1 entries were removed.
func (m *Manager) InvalidateTags(ctx context.Context, tags []string) int {
	removed := 0
	for _, tag := range tags {
		removed += m.Clear(ctx, "tag:"+tag+":*")
	}
	return removed
}

// Stats returns a point-in-time statistics snapshot.
func (m *Manager) Stats() Snapshot {
	snap := m.stats.snapshot()
	snap.L1Size = m.local.Len()
	snap.CircuitBreakerState = m.breaker.State().String()
	snap.RemoteAvailable = m.remote != nil && m.breaker.State() != circuitbreaker.StateOpen
	return snap
}

// BreakerSnapshot returns the guarding breaker's counters.
func (m *Manager) BreakerSnapshot() circuitbreaker.Snapshot {
	return m.breaker.Snapshot()
}

// PingRemote checks remote connectivity, bypassing the breaker. It returns
// nil when no remote tier is configured.
func (m *Manager) PingRemote(ctx context.Context) error {
	if m.remote == nil {
		return nil
	}
	return m.remote.Ping(ctx)
}

// RemoteConfigured reports whether a remote tier was wired in.
func (m *Manager) RemoteConfigured() bool {
	return m.remote != nil
}

// Close releases the remote store connections.
func (m *Manager) Close() error {
	if m.remote == nil {
		return nil
	}
	return m.remote.Close()
}

// ttlFor resolves an effective TTL: an explicit positive ttl wins, then the
// data-type table, then DefaultTTL.
func (m *Manager) ttlFor(ttl time.Duration, dataType string) time.Duration {
	if ttl > 0 {
		return ttl
	}

	if dataType == "" {
		dataType = "default"
	}
	if t, ok := m.ttlTable[dataType]; ok {
		return t
	}
	if t, ok := m.ttlTable["default"]; ok {
		return t
	}
	return DefaultTTL
}
