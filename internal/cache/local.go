package cache

import (
	"container/list"
	"strings"
	"sync"
)

// DefaultL1MaxSize bounds the local tier when no capacity is configured.
const DefaultL1MaxSize = 1000

// LocalStore is the bounded in-process tier. A map indexes entries while a
// doubly linked list tracks recency; the least-recently-used entry is at the
// back. One mutex serializes every operation, so the map and recency order
// are never observed inconsistent.
type LocalStore struct {
	mu        sync.Mutex
	maxSize   int
	items     map[string]*list.Element
	evictList *list.List
}

type localRecord struct {
	key   string
	entry *Entry
}

// NewLocalStore creates a store bounded to maxSize entries.
func NewLocalStore(maxSize int) *LocalStore {
	if maxSize <= 0 {
		maxSize = DefaultL1MaxSize
	}
	return &LocalStore{
		maxSize:   maxSize,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
	}
}

// Get returns the entry for key. An expired entry is removed and reported
// absent. Hits refresh recency and access bookkeeping.
func (s *LocalStore) Get(key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return nil, false
	}

	record := elem.Value.(*localRecord)
	if record.entry.Expired() {
		s.removeElement(elem)
		return nil, false
	}

	s.evictList.MoveToFront(elem)
	record.entry.touch()
	return record.entry, true
}

// Set inserts or replaces the entry for key, evicting least-recently-used
// entries until the store fits its capacity again.
func (s *LocalStore) Set(key string, entry *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key]; ok {
		elem.Value.(*localRecord).entry = entry
		s.evictList.MoveToFront(elem)
		return
	}

	s.items[key] = s.evictList.PushFront(&localRecord{key: key, entry: entry})

	for s.evictList.Len() > s.maxSize {
		if oldest := s.evictList.Back(); oldest != nil {
			s.removeElement(oldest)
		}
	}
}

// Delete removes the entry for key, reporting whether it was present.
func (s *LocalStore) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return false
	}
	s.removeElement(elem)
	return true
}

// Clear removes entries matching pattern and returns how many were removed.
// An empty pattern or "*" empties the store. Any other pattern is a simple
// prefix match; a trailing "*" is stripped first.
func (s *LocalStore) Clear(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pattern == "" || pattern == "*" {
		removed := len(s.items)
		s.items = make(map[string]*list.Element)
		s.evictList.Init()
		return removed
	}

	prefix := strings.TrimSuffix(pattern, "*")
	removed := 0
	for key, elem := range s.items {
		if strings.HasPrefix(key, prefix) {
			s.removeElement(elem)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries.
func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Keys returns a snapshot of the stored keys, most recently used first.
func (s *LocalStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, s.evictList.Len())
	for elem := s.evictList.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*localRecord).key)
	}
	return keys
}

// removeElement unlinks an entry. Callers must hold the lock.
func (s *LocalStore) removeElement(elem *list.Element) {
	s.evictList.Remove(elem)
	delete(s.items, elem.Value.(*localRecord).key)
}
