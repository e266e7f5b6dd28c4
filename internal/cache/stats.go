package cache

import (
	"sync/atomic"
)

// counters holds the monotonic cache statistics. All fields are updated
// atomically; the counters observe behavior and never influence it.
type counters struct {
	l1Hits           int64
	l2Hits           int64
	misses           int64
	writes           int64
	deletes          int64
	errors           int64
	compressedWrites int64
}

func (c *counters) recordL1Hit()  { atomic.AddInt64(&c.l1Hits, 1) }
func (c *counters) recordL2Hit()  { atomic.AddInt64(&c.l2Hits, 1) }
func (c *counters) recordMiss()   { atomic.AddInt64(&c.misses, 1) }
func (c *counters) recordDelete() { atomic.AddInt64(&c.deletes, 1) }
func (c *counters) recordError()  { atomic.AddInt64(&c.errors, 1) }

func (c *counters) recordWrite(compressed bool) {
	atomic.AddInt64(&c.writes, 1)
	if compressed {
		atomic.AddInt64(&c.compressedWrites, 1)
	}
}

// Snapshot is a point-in-time view of the cache statistics.
type Snapshot struct {
	Hits             int64   `json:"hits"`
	Misses           int64   `json:"misses"`
	L1Hits           int64   `json:"l1_hits"`
	L2Hits           int64   `json:"l2_hits"`
	Writes           int64   `json:"writes"`
	Deletes          int64   `json:"deletes"`
	Errors           int64   `json:"errors"`
	CompressedWrites int64   `json:"compressed_writes"`
	HitRate          float64 `json:"hit_rate"`

	L1Size              int    `json:"l1_size"`
	CircuitBreakerState string `json:"circuit_breaker_state"`
	RemoteAvailable     bool   `json:"remote_available"`
}

// snapshot copies the counters and derives the hit rate. The composite
// fields (L1Size, breaker state, remote availability) are filled in by the
// Manager.
func (c *counters) snapshot() Snapshot {
	l1 := atomic.LoadInt64(&c.l1Hits)
	l2 := atomic.LoadInt64(&c.l2Hits)
	misses := atomic.LoadInt64(&c.misses)

	snap := Snapshot{
		Hits:             l1 + l2,
		Misses:           misses,
		L1Hits:           l1,
		L2Hits:           l2,
		Writes:           atomic.LoadInt64(&c.writes),
		Deletes:          atomic.LoadInt64(&c.deletes),
		Errors:           atomic.LoadInt64(&c.errors),
		CompressedWrites: atomic.LoadInt64(&c.compressedWrites),
	}

	if total := snap.Hits + snap.Misses; total > 0 {
		snap.HitRate = float64(snap.Hits) / float64(total)
	}

	return snap
}
