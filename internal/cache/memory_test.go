package cache

import (
	"fmt"
	"testing"
)

func TestMemoryRoundtrip(t *testing.T) {
	m := NewMemory(1024)

	if _, ok := m.Get("missing"); ok {
		t.Error("expected miss on empty cache")
	}

	m.Put("k1", []byte("v1"))
	v, ok := m.Get("k1")
	if !ok || string(v) != "v1" {
		t.Fatalf("Get(k1) = %q, %v", v, ok)
	}

	m.Put("k1", []byte("v2"))
	v, _ = m.Get("k1")
	if string(v) != "v2" {
		t.Errorf("update lost, got %q", v)
	}

	hits, misses := m.Counters()
	if hits != 2 || misses != 1 {
		t.Errorf("counters = %d hits, %d misses; want 2, 1", hits, misses)
	}
}

func TestMemoryEvictionBound(t *testing.T) {
	// 256 shards at the 4-entry minimum each.
	m := NewMemory(1)
	limit := 256 * 4

	for i := 0; i < limit*4; i++ {
		m.Put(fmt.Sprintf("key-%d", i), []byte("v"))
	}

	if got := m.Len(); got > limit {
		t.Errorf("entries = %d, want <= %d", got, limit)
	}
}

func TestMemoryEvictsOldestFirst(t *testing.T) {
	m := NewMemory(1) // 4 per shard

	// Find 5 keys landing in the same shard; the first inserted must go.
	target := m.shard("seed")
	keys := []string{}
	for i := 0; len(keys) < 5; i++ {
		k := fmt.Sprintf("key-%d", i)
		if m.shard(k) == target {
			keys = append(keys, k)
		}
	}

	for _, k := range keys {
		m.Put(k, []byte(k))
	}

	if _, ok := m.Get(keys[0]); ok {
		t.Errorf("oldest key %q should have been evicted", keys[0])
	}
	for _, k := range keys[1:] {
		if _, ok := m.Get(k); !ok {
			t.Errorf("key %q should still be present", k)
		}
	}
}
