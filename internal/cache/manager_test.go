package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiercache/internal/circuitbreaker"
	"tiercache/internal/codec"
	cacheerrors "tiercache/internal/common/errors"
	"tiercache/internal/remote"
)

// stubStore is an in-memory remote.Store with switchable failures and call
// counters, for exercising the breaker path deterministically.
type stubStore struct {
	mu          sync.Mutex
	data        map[string]stubRecord
	fail        bool
	failDeletes bool

	gets, sets, deletes, scans, pings int
}

type stubRecord struct {
	payload []byte
	ttl     time.Duration
}

func newStubStore() *stubStore {
	return &stubStore{data: make(map[string]stubRecord)}
}

func (s *stubStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *stubStore) setFailDeletes(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDeletes = fail
}

func (s *stubStore) getCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func (s *stubStore) scanCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans
}

func (s *stubStore) Get(ctx context.Context, key string) ([]byte, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.fail {
		return nil, 0, cacheerrors.RemoteError("get", errors.New("stub down")).WithKey(key)
	}
	record, ok := s.data[key]
	if !ok {
		return nil, 0, cacheerrors.ErrNotFound
	}
	return record.payload, record.ttl, nil
}

func (s *stubStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.fail {
		return cacheerrors.RemoteError("set", errors.New("stub down")).WithKey(key)
	}
	s.data[key] = stubRecord{payload: payload, ttl: ttl}
	return nil
}

func (s *stubStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if s.fail || s.failDeletes {
		return cacheerrors.RemoteError("delete", errors.New("stub down"))
	}
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *stubStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++
	if s.fail {
		return nil, cacheerrors.RemoteError("keys", errors.New("stub down"))
	}
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *stubStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	if s.fail {
		return cacheerrors.RemoteError("ping", errors.New("stub down"))
	}
	return nil
}

func (s *stubStore) Close() error { return nil }

func setupRedisManager(t *testing.T) (*Manager, *remote.RedisStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := remote.NewRedisStore(&remote.Config{Address: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	manager := NewManager(Options{
		L1MaxSize:            100,
		CompressionThreshold: 1024,
		Remote:               store,
	})
	return manager, store, mr
}

func TestManagerL1OnlyRoundTrip(t *testing.T) {
	m := NewManager(Options{L1MaxSize: 10})
	ctx := context.Background()

	m.Set(ctx, "user:1", "alice", time.Minute, "user")

	value, found := m.Get(ctx, "user:1")
	require.True(t, found)
	assert.Equal(t, "alice", value)

	snap := m.Stats()
	assert.Equal(t, int64(1), snap.L1Hits)
	assert.Equal(t, int64(1), snap.Writes)
	assert.False(t, snap.RemoteAvailable)
}

func TestManagerWritesBothTiers(t *testing.T) {
	m, store, _ := setupRedisManager(t)
	ctx := context.Background()

	m.Set(ctx, "user:1", map[string]string{"name": "alice"}, time.Minute, "user")

	payload, _, err := store.Get(ctx, "user:1")
	require.NoError(t, err)

	var decoded interface{}
	require.NoError(t, codec.New(1024).Decode(payload, &decoded))
	assert.Equal(t, map[string]interface{}{"name": "alice"}, decoded)
}

func TestManagerPromotion(t *testing.T) {
	m, store, mr := setupRedisManager(t)
	ctx := context.Background()

	m.Set(ctx, "user:1", map[string]string{"name": "alice"}, 10*time.Second, "user")

	mr.FastForward(4 * time.Second)

	// A second manager shares the remote tier but starts with an empty L1.
	other := NewManager(Options{L1MaxSize: 100, Remote: store})

	value, found := other.Get(ctx, "user:1")
	require.True(t, found)
	assert.Equal(t, map[string]interface{}{"name": "alice"}, value)
	assert.Equal(t, int64(1), other.Stats().L2Hits)

	// The hit was promoted with the remaining TTL, not a fresh one.
	entry, ok := other.local.Get("user:1")
	require.True(t, ok)
	assert.Greater(t, entry.TTL, time.Duration(0))
	assert.LessOrEqual(t, entry.TTL, 6*time.Second)

	// The next read is served from L1.
	_, found = other.Get(ctx, "user:1")
	require.True(t, found)
	assert.Equal(t, int64(1), other.Stats().L1Hits)
}

func TestManagerTierSelection(t *testing.T) {
	ctx := context.Background()

	t.Run("L2 tier skips promotion", func(t *testing.T) {
		m, store, _ := setupRedisManager(t)
		m.Set(ctx, "k", "v", time.Minute, "")

		other := NewManager(Options{L1MaxSize: 100, Remote: store})

		value, found := other.GetTier(ctx, "k", TierL2)
		require.True(t, found)
		assert.Equal(t, "v", value)
		assert.Equal(t, 0, other.local.Len())
	})

	t.Run("L1 tier never calls remote", func(t *testing.T) {
		stub := newStubStore()
		m := NewManager(Options{L1MaxSize: 10, Remote: stub})

		_, found := m.GetTier(ctx, "absent", TierL1)
		assert.False(t, found)
		assert.Equal(t, 0, stub.getCalls())
	})
}

func TestManagerGracefulDegradation(t *testing.T) {
	stub := newStubStore()
	stub.setFail(true)

	breaker := circuitbreaker.New("remote-cache", circuitbreaker.Config{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		HalfOpenTrials:   1,
	})
	m := NewManager(Options{L1MaxSize: 10, Remote: stub, Breaker: breaker})
	ctx := context.Background()

	// The cache keeps serving from L1 while the remote tier is down.
	m.Set(ctx, "k", "v", time.Minute, "")
	value, found := m.Get(ctx, "k")
	require.True(t, found)
	assert.Equal(t, "v", value)

	removed := m.Delete(ctx, "k")
	assert.True(t, removed)

	assert.Greater(t, m.Stats().Errors, int64(0))

	// Enough failing lookups trip the breaker.
	for i := 0; i < 5; i++ {
		m.Get(ctx, fmt.Sprintf("absent-%d", i))
	}
	assert.Equal(t, "open", m.Stats().CircuitBreakerState)
	assert.False(t, m.Stats().RemoteAvailable)

	// An open breaker stops remote traffic entirely.
	callsWhenOpened := stub.getCalls()
	for i := 0; i < 5; i++ {
		m.Get(ctx, fmt.Sprintf("gated-%d", i))
	}
	assert.Equal(t, callsWhenOpened, stub.getCalls())
}

func TestManagerBreakerUpdatedOncePerCall(t *testing.T) {
	stub := newStubStore()
	stub.setFail(true)

	breaker := circuitbreaker.New("remote-cache", circuitbreaker.Config{
		FailureThreshold: 100,
		RecoveryTimeout:  time.Minute,
		HalfOpenTrials:   1,
	})
	m := NewManager(Options{L1MaxSize: 10, Remote: stub, Breaker: breaker})
	ctx := context.Background()

	m.Get(ctx, "absent")
	assert.Equal(t, 1, breaker.Snapshot().Failures)

	m.Get(ctx, "absent")
	assert.Equal(t, 2, breaker.Snapshot().Failures)
}

func TestManagerBreakerRecovery(t *testing.T) {
	stub := newStubStore()
	stub.setFail(true)

	breaker := circuitbreaker.New("remote-cache", circuitbreaker.Config{
		FailureThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
		HalfOpenTrials:   1,
	})
	m := NewManager(Options{L1MaxSize: 10, Remote: stub, Breaker: breaker})
	ctx := context.Background()

	m.Get(ctx, "a")
	m.Get(ctx, "b")
	require.Equal(t, circuitbreaker.StateOpen, breaker.State())

	// Remote comes back; the probe after the recovery window closes the
	// breaker again.
	stub.setFail(false)
	payload, _, err := codec.New(1024).Encode("restored")
	require.NoError(t, err)
	require.NoError(t, stub.Set(ctx, "a", payload, 0))

	time.Sleep(60 * time.Millisecond)

	value, found := m.Get(ctx, "a")
	require.True(t, found)
	assert.Equal(t, "restored", value)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
	assert.True(t, m.Stats().RemoteAvailable)
}

func TestManagerClearUpdatesBreakerPerRemoteCall(t *testing.T) {
	ctx := context.Background()

	engines := []circuitbreaker.Engine{circuitbreaker.EngineNative, circuitbreaker.EngineGoBreaker}
	for _, engine := range engines {
		t.Run(string(engine), func(t *testing.T) {
			stub := newStubStore()
			require.NoError(t, stub.Set(ctx, "sess:1", []byte("x"), 0))
			stub.setFailDeletes(true)

			breaker := circuitbreaker.ForEngine(engine, "remote-cache", circuitbreaker.Config{
				FailureThreshold: 1,
				RecoveryTimeout:  time.Minute,
				HalfOpenTrials:   1,
			}, nil)
			m := NewManager(Options{L1MaxSize: 10, Remote: stub, Breaker: breaker})

			// The scan succeeds, the delete fails; the delete failure must
			// reach the breaker.
			for i := 0; i < 5; i++ {
				m.Clear(ctx, "sess:*")
			}
			assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

			// Open means no further remote traffic, scans included.
			scans := stub.scanCalls()
			m.Clear(ctx, "sess:*")
			assert.Equal(t, scans, stub.scanCalls())
		})
	}
}

func TestManagerGoBreakerEngine(t *testing.T) {
	stub := newStubStore()
	breaker := circuitbreaker.ForEngine(circuitbreaker.EngineGoBreaker, "remote-cache", circuitbreaker.Config{
		FailureThreshold: 4,
		RecoveryTimeout:  50 * time.Millisecond,
		HalfOpenTrials:   1,
	}, nil)
	m := NewManager(Options{L1MaxSize: 10, Remote: stub, Breaker: breaker})
	ctx := context.Background()

	// Healthy remote: admitted calls complete as successes.
	m.Set(ctx, "k", "v", time.Minute, "")
	require.Equal(t, circuitbreaker.StateClosed, breaker.State())

	// Remote dies: every failed operation counts toward the threshold.
	stub.setFail(true)
	m.Set(ctx, "a", 1, time.Minute, "")
	m.Get(ctx, "absent-1")
	m.Delete(ctx, "a")
	m.Get(ctx, "absent-2")
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	// Open gates all remote traffic; L1 keeps serving.
	gets := stub.getCalls()
	value, found := m.Get(ctx, "k")
	require.True(t, found)
	assert.Equal(t, "v", value)
	m.Get(ctx, "gated")
	assert.Equal(t, gets, stub.getCalls())

	// Recovery: the remote returns and the first admitted write closes the
	// breaker.
	stub.setFail(false)
	time.Sleep(60 * time.Millisecond)
	m.Set(ctx, "back", 2, time.Minute, "")
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
	assert.True(t, m.Stats().RemoteAvailable)
}

func TestManagerRemoteSetFailureAbsorbed(t *testing.T) {
	stub := newStubStore()
	stub.setFail(true)
	m := NewManager(Options{L1MaxSize: 10, Remote: stub})
	ctx := context.Background()

	m.Set(ctx, "k", "v", time.Minute, "")

	value, found := m.Get(ctx, "k")
	require.True(t, found)
	assert.Equal(t, "v", value)
	assert.Greater(t, m.Stats().Errors, int64(0))
}

func TestManagerGetOrCompute(t *testing.T) {
	ctx := context.Background()

	t.Run("computes once and caches", func(t *testing.T) {
		m := NewManager(Options{L1MaxSize: 10})
		var calls int32

		compute := func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return "computed", nil
		}

		value, err := m.GetOrCompute(ctx, "k", time.Minute, "", compute)
		require.NoError(t, err)
		assert.Equal(t, "computed", value)

		value, err = m.GetOrCompute(ctx, "k", time.Minute, "", compute)
		require.NoError(t, err)
		assert.Equal(t, "computed", value)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("concurrent misses share one compute", func(t *testing.T) {
		m := NewManager(Options{L1MaxSize: 10})
		var calls int32

		compute := func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			time.Sleep(50 * time.Millisecond)
			return "shared", nil
		}

		var wg sync.WaitGroup
		results := make([]interface{}, 10)
		errs := make([]error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				results[n], errs[n] = m.GetOrCompute(ctx, "herd", time.Minute, "", compute)
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		for i := 0; i < 10; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, "shared", results[i])
		}

		snap := m.Stats()
		assert.Equal(t, int64(10), snap.Hits+snap.Misses, "each caller records exactly one lookup outcome")
	})

	t.Run("flight re-check serves a concurrent fill without double counting", func(t *testing.T) {
		m := NewManager(Options{L1MaxSize: 10})

		// The caller missed, then a concurrent flight filled L1 before this
		// caller's flight started.
		_, found := m.Get(ctx, "k")
		require.False(t, found)
		m.local.Set("k", NewEntry("filled", time.Minute))

		var calls int32
		value, err := m.computeMiss(ctx, "k", time.Minute, "", func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return "recomputed", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "filled", value)
		assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

		snap := m.Stats()
		assert.Equal(t, int64(1), snap.Misses, "the call's single outcome is its recorded miss")
		assert.Equal(t, int64(0), snap.Hits)
	})

	t.Run("compute error is returned and not cached", func(t *testing.T) {
		m := NewManager(Options{L1MaxSize: 10})
		var calls int32
		boom := errors.New("upstream down")

		compute := func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&calls, 1)
			return nil, boom
		}

		_, err := m.GetOrCompute(ctx, "k", time.Minute, "", compute)
		assert.ErrorIs(t, err, boom)

		_, err = m.GetOrCompute(ctx, "k", time.Minute, "", compute)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})
}

func TestManagerInvalidateTags(t *testing.T) {
	m, store, _ := setupRedisManager(t)
	ctx := context.Background()

	m.Set(ctx, TagKey("users", "1"), "alice", time.Minute, "")
	m.Set(ctx, TagKey("users", "2"), "bob", time.Minute, "")
	m.Set(ctx, TagKey("orders", "1"), "order", time.Minute, "")
	m.Set(ctx, "plain", "value", time.Minute, "")

	removed := m.InvalidateTags(ctx, []string{"users"})
	assert.Equal(t, 2, removed)

	_, found := m.Get(ctx, TagKey("users", "1"))
	assert.False(t, found)
	_, found = m.Get(ctx, TagKey("orders", "1"))
	assert.True(t, found)
	_, found = m.Get(ctx, "plain")
	assert.True(t, found)

	keys, err := store.Keys(ctx, "tag:users:*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestManagerClearMirroredAcrossTiers(t *testing.T) {
	m, store, _ := setupRedisManager(t)
	ctx := context.Background()

	m.Set(ctx, "sess:1", "a", time.Minute, "")
	m.Set(ctx, "sess:2", "b", time.Minute, "")
	m.Set(ctx, "keep", "c", time.Minute, "")

	removed := m.Clear(ctx, "sess:*")
	assert.Equal(t, 2, removed)

	keys, err := store.Keys(ctx, "*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"keep"}, keys)

	// Clearing both tiers means the next lookup misses even through L2.
	_, found := m.Get(ctx, "sess:1")
	assert.False(t, found)
}

func TestManagerStats(t *testing.T) {
	m := NewManager(Options{L1MaxSize: 10})
	ctx := context.Background()

	m.Set(ctx, "a", 1, time.Minute, "")
	m.Set(ctx, "b", 2, time.Minute, "")

	for i := 0; i < 3; i++ {
		_, found := m.Get(ctx, "a")
		require.True(t, found)
	}
	for i := 0; i < 2; i++ {
		_, found := m.Get(ctx, "absent")
		require.False(t, found)
	}

	m.Delete(ctx, "b")

	snap := m.Stats()
	assert.Equal(t, int64(3), snap.Hits)
	assert.Equal(t, int64(2), snap.Misses)
	assert.InDelta(t, 0.6, snap.HitRate, 1e-9)
	assert.Equal(t, int64(2), snap.Writes)
	assert.Equal(t, int64(1), snap.Deletes)
	assert.Equal(t, 1, snap.L1Size)
	assert.Equal(t, "closed", snap.CircuitBreakerState)
}

func TestManagerCompressedWrites(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := remote.NewRedisStore(&remote.Config{Address: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := NewManager(Options{L1MaxSize: 10, CompressionThreshold: 50, Remote: store})
	ctx := context.Background()

	m.Set(ctx, "small", "tiny", time.Minute, "")
	assert.Equal(t, int64(0), m.Stats().CompressedWrites)

	big := strings.Repeat("all work and no play ", 100)
	m.Set(ctx, "big", big, time.Minute, "")
	assert.Equal(t, int64(1), m.Stats().CompressedWrites)

	payload, _, err := store.Get(ctx, "big")
	require.NoError(t, err)
	assert.True(t, codec.Compressed(payload))

	entry, ok := m.local.Get("big")
	require.True(t, ok)
	assert.True(t, entry.Compressed)

	// The compressed payload still round-trips through a fresh manager.
	other := NewManager(Options{L1MaxSize: 10, CompressionThreshold: 50, Remote: store})
	value, found := other.Get(ctx, "big")
	require.True(t, found)
	assert.Equal(t, big, value)
}

func TestManagerGetJSON(t *testing.T) {
	type profile struct {
		Name  string `json:"name"`
		Score int    `json:"score"`
	}
	ctx := context.Background()

	t.Run("from L1", func(t *testing.T) {
		m := NewManager(Options{L1MaxSize: 10})
		m.Set(ctx, "p", profile{Name: "alice", Score: 7}, time.Minute, "")

		var got profile
		require.True(t, m.GetJSON(ctx, "p", &got))
		assert.Equal(t, profile{Name: "alice", Score: 7}, got)
	})

	t.Run("from L2", func(t *testing.T) {
		m, store, _ := setupRedisManager(t)
		m.Set(ctx, "p", profile{Name: "bob", Score: 3}, time.Minute, "")

		other := NewManager(Options{L1MaxSize: 10, Remote: store})
		var got profile
		require.True(t, other.GetJSON(ctx, "p", &got))
		assert.Equal(t, profile{Name: "bob", Score: 3}, got)
	})

	t.Run("miss", func(t *testing.T) {
		m := NewManager(Options{L1MaxSize: 10})
		var got profile
		assert.False(t, m.GetJSON(ctx, "absent", &got))
	})
}

func TestManagerTTLResolution(t *testing.T) {
	m := NewManager(Options{
		L1MaxSize: 10,
		TTLTable: map[string]time.Duration{
			"user":    10 * time.Minute,
			"default": 5 * time.Minute,
		},
	})
	ctx := context.Background()

	t.Run("explicit ttl wins", func(t *testing.T) {
		m.Set(ctx, "a", 1, 42*time.Second, "user")
		entry, ok := m.local.Get("a")
		require.True(t, ok)
		assert.Equal(t, 42*time.Second, entry.TTL)
	})

	t.Run("data type table", func(t *testing.T) {
		m.Set(ctx, "b", 2, 0, "user")
		entry, ok := m.local.Get("b")
		require.True(t, ok)
		assert.Equal(t, 10*time.Minute, entry.TTL)
	})

	t.Run("unknown data type falls back to default", func(t *testing.T) {
		m.Set(ctx, "c", 3, 0, "mystery")
		entry, ok := m.local.Get("c")
		require.True(t, ok)
		assert.Equal(t, 5*time.Minute, entry.TTL)
	})

	t.Run("empty data type is default", func(t *testing.T) {
		m.Set(ctx, "d", 4, 0, "")
		entry, ok := m.local.Get("d")
		require.True(t, ok)
		assert.Equal(t, 5*time.Minute, entry.TTL)
	})
}

func TestManagerUnserializableValueStaysLocal(t *testing.T) {
	stub := newStubStore()
	m := NewManager(Options{L1MaxSize: 10, Remote: stub})
	ctx := context.Background()

	ch := make(chan int)
	m.Set(ctx, "weird", ch, time.Minute, "")

	value, found := m.Get(ctx, "weird")
	require.True(t, found)
	assert.Equal(t, ch, value)

	stub.mu.Lock()
	sets := stub.sets
	stub.mu.Unlock()
	assert.Equal(t, 0, sets)
	assert.Equal(t, int64(1), m.Stats().Errors)
}

func TestManagerExpiredL1FallsThroughToL2(t *testing.T) {
	m, _, _ := setupRedisManager(t)
	ctx := context.Background()

	// L1 entry expires quickly, the remote copy lives longer.
	m.Set(ctx, "k", "v", 10*time.Second, "")
	entry, ok := m.local.Get("k")
	require.True(t, ok)
	entry.CreatedAt = time.Now().Add(-time.Minute)

	value, found := m.Get(ctx, "k")
	require.True(t, found)
	assert.Equal(t, "v", value)
	assert.Equal(t, int64(1), m.Stats().L2Hits)
}

func TestManagerL1OnlyLifecycle(t *testing.T) {
	m := NewManager(Options{L1MaxSize: 10})
	ctx := context.Background()

	m.Set(ctx, "k", "v", 0, "")
	m.Clear(ctx, "")
	m.InvalidateTags(ctx, []string{"users"})
	assert.False(t, m.Delete(ctx, "k"))
	assert.NoError(t, m.PingRemote(ctx))
	assert.False(t, m.RemoteConfigured())
	assert.NoError(t, m.Close())
}
