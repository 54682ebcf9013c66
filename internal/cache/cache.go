// Package cache is the two-tier deduplicating store in front of the engine
// pool: a fast in-process tier, a durable file tier, and single-flight
// collapsing so concurrent identical requests trigger one computation.
package cache

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrUnavailable marks durable-tier failures. It never surfaces to
// callers; the layer degrades to fast-tier-only operation instead.
// Exposed for the stats endpoint and tests.
var ErrUnavailable = fmt.Errorf("durable cache unavailable")

// Durable is the cross-process tier capability. Implementations must make
// writes atomic with respect to reads.
type Durable interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, val []byte) error
}

// Layer owns all cache entries. Callers receive copies, never references
// into internal storage.
type Layer struct {
	mem      *Memory
	durable  Durable // nil when no durable tier is configured
	sf       singleflight.Group
	log      zerolog.Logger
	warnOnce sync.Once
	degraded atomic.Bool

	durableHits atomic.Int64
	computes    atomic.Int64
}

// New creates a cache layer. durable may be nil.
func New(mem *Memory, durable Durable, log zerolog.Logger) *Layer {
	return &Layer{mem: mem, durable: durable, log: log}
}

// GetOrCompute returns the cached value for key, or runs compute exactly
// once across all concurrent callers for the same key, stores the result
// in both tiers, and hands every caller the same bytes.
func (l *Layer) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok := l.mem.Get(key); ok {
		return bytes.Clone(v), nil
	}
	if v, ok := l.durableGet(key); ok {
		l.mem.Put(key, v)
		return bytes.Clone(v), nil
	}

	ch := l.sf.DoChan(key, func() (any, error) {
		// Re-check the tiers: another flight may have landed between the
		// misses above and acquiring the slot.
		if v, ok := l.mem.Get(key); ok {
			return v, nil
		}
		if v, ok := l.durableGet(key); ok {
			l.mem.Put(key, v)
			return v, nil
		}

		val, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		l.computes.Add(1)
		l.mem.Put(key, val)
		l.durablePut(key, val)
		return val, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return bytes.Clone(res.Val.([]byte)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetReport looks up a completed-report entry. Reports live only in the
// durable tier; process restarts should not lose them and the fast tier
// should not fill with large payloads.
func (l *Layer) GetReport(key string) ([]byte, bool) {
	v, ok := l.durableGet(key)
	if !ok {
		return nil, false
	}
	return bytes.Clone(v), true
}

// PutReport stores a completed-report entry in the durable tier.
func (l *Layer) PutReport(key string, val []byte) {
	l.durablePut(key, val)
}

func (l *Layer) durableGet(key string) ([]byte, bool) {
	if l.durable == nil || l.degraded.Load() {
		return nil, false
	}
	v, ok, err := l.durable.Get(key)
	if err != nil {
		l.degrade(err)
		return nil, false
	}
	if ok {
		l.durableHits.Add(1)
	}
	return v, ok
}

func (l *Layer) durablePut(key string, val []byte) {
	if l.durable == nil || l.degraded.Load() {
		return
	}
	if err := l.durable.Put(key, val); err != nil {
		l.degrade(err)
	}
}

func (l *Layer) degrade(err error) {
	l.degraded.Store(true)
	l.warnOnce.Do(func() {
		l.log.Warn().Err(err).Msg("durable cache unavailable, continuing with in-memory tier only")
	})
}

// ReportKey builds the durable key for a user's completed report, bucketed
// to the hour so a fresh report short-circuits resubmission.
func ReportKey(username string, now time.Time) string {
	return fmt.Sprintf("report:%s:%s", strings.ToLower(username), now.UTC().Truncate(time.Hour).Format("2006010215"))
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	MemEntries  int    `json:"mem_entries"`
	MemHits     uint64 `json:"mem_hits"`
	MemMisses   uint64 `json:"mem_misses"`
	DurableHits int64  `json:"durable_hits"`
	Computes    int64  `json:"computes"`
	Degraded    bool   `json:"degraded"`
}

// Stats returns current cache statistics.
func (l *Layer) Stats() Stats {
	hits, misses := l.mem.Counters()
	return Stats{
		MemEntries:  l.mem.Len(),
		MemHits:     hits,
		MemMisses:   misses,
		DurableHits: l.durableHits.Load(),
		Computes:    l.computes.Load(),
		Degraded:    l.degraded.Load(),
	}
}
