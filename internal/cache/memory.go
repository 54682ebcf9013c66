package cache

import (
	"sync"
	"sync/atomic"
)

// Memory is the fast in-process tier: a sharded bounded map with FIFO
// eviction. Sharding keeps lock contention low when many evaluations land
// at once.
type Memory struct {
	shards      [256]*memShard
	maxPerShard int
	hits        atomic.Uint64
	misses      atomic.Uint64
}

type memShard struct {
	mu    sync.RWMutex
	items map[string][]byte
	order []string // FIFO order for eviction
}

// NewMemory creates a memory tier bounded to roughly maxEntries entries.
func NewMemory(maxEntries int) *Memory {
	maxPerShard := maxEntries / 256
	if maxPerShard < 4 {
		maxPerShard = 4 // minimum per shard
	}

	m := &Memory{maxPerShard: maxPerShard}
	for i := range m.shards {
		m.shards[i] = &memShard{
			items: make(map[string][]byte),
			order: make([]string, 0, maxPerShard),
		}
	}
	return m
}

// fnvHash computes FNV-1a over the key; the low byte picks the shard.
func fnvHash(key string) uint64 {
	const prime = 1099511628211
	h := uint64(14695981039346656037)
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= prime
	}
	return h
}

func (m *Memory) shard(key string) *memShard {
	return m.shards[byte(fnvHash(key))]
}

// Get retrieves a value. The returned slice must not be mutated.
func (m *Memory) Get(key string) ([]byte, bool) {
	s := m.shard(key)

	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()

	if ok {
		m.hits.Add(1)
		return v, true
	}
	m.misses.Add(1)
	return nil, false
}

// Put adds or updates a value, evicting the oldest entries in the shard
// when at capacity.
func (m *Memory) Put(key string, val []byte) {
	s := m.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[key]; exists {
		// Update in place, keep the original insertion order
		s.items[key] = val
		return
	}

	for len(s.items) >= m.maxPerShard && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.items, oldest)
	}

	s.items[key] = val
	s.order = append(s.order, key)
}

// Len returns the number of entries across all shards.
func (m *Memory) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Counters returns hit/miss counts.
func (m *Memory) Counters() (hits, misses uint64) {
	return m.hits.Load(), m.misses.Load()
}
