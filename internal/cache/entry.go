// Package cache implements the multi-tier cache: a bounded in-process LRU
// tier in front of an optional remote tier, composed by Manager.
package cache

import (
	"time"
)

// Entry is a single cached value with its bookkeeping. Entries are owned by
// exactly one tier; promotion from the remote tier builds a fresh Entry from
// the decoded payload rather than sharing one across tiers.
type Entry struct {
	Value          interface{}   `json:"value"`
	CreatedAt      time.Time     `json:"created_at"`
	TTL            time.Duration `json:"ttl"`
	AccessCount    int64         `json:"access_count"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
	Compressed     bool          `json:"compressed"`
}

// NewEntry creates an entry for value. A ttl of 0 means the entry never
// expires.
func NewEntry(value interface{}, ttl time.Duration) *Entry {
	now := time.Now()
	return &Entry{
		Value:          value,
		CreatedAt:      now,
		TTL:            ttl,
		LastAccessedAt: now,
	}
}

// Expired reports whether the entry's TTL has elapsed.
func (e *Entry) Expired() bool {
	return e.expiredAt(time.Now())
}

func (e *Entry) expiredAt(now time.Time) bool {
	return e.TTL > 0 && now.After(e.CreatedAt.Add(e.TTL))
}

// touch records an access. Callers must hold the store lock.
func (e *Entry) touch() {
	e.AccessCount++
	e.LastAccessedAt = time.Now()
}
