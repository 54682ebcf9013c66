package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeDurable struct {
	mu    sync.Mutex
	items map[string][]byte
	fail  bool
	gets  int
	puts  int
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{items: make(map[string][]byte)}
}

func (f *fakeDurable) Get(key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.fail {
		return nil, false, errors.New("disk gone")
	}
	v, ok := f.items[key]
	return v, ok, nil
}

func (f *fakeDurable) Put(key string, val []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.fail {
		return errors.New("disk gone")
	}
	f.items[key] = val
	return nil
}

func TestGetOrComputeSingleFlight(t *testing.T) {
	layer := New(NewMemory(1024), newFakeDurable(), zerolog.Nop())

	var computes atomic.Int64
	release := make(chan struct{})

	const callers = 16
	results := make([][]byte, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := layer.GetOrCompute(context.Background(), "pos1", func(context.Context) ([]byte, error) {
				computes.Add(1)
				<-release
				return []byte("eval1"), nil
			})
			if err != nil {
				t.Errorf("GetOrCompute: %v", err)
				return
			}
			results[i] = v
		}()
	}

	// Let every caller miss the tiers and pile onto the flight.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := computes.Load(); got != 1 {
		t.Errorf("compute ran %d times, want 1", got)
	}
	for i, v := range results {
		if !bytes.Equal(v, []byte("eval1")) {
			t.Errorf("caller %d got %q, want eval1", i, v)
		}
	}
}

func TestTierPromotion(t *testing.T) {
	durable := newFakeDurable()
	durable.items["pos1"] = []byte("stored")

	layer := New(NewMemory(1024), durable, zerolog.Nop())

	compute := func(context.Context) ([]byte, error) {
		t.Fatal("compute should not run on a durable hit")
		return nil, nil
	}

	v, err := layer.GetOrCompute(context.Background(), "pos1", compute)
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if !bytes.Equal(v, []byte("stored")) {
		t.Fatalf("got %q, want stored", v)
	}

	// Second read must come from the fast tier.
	before := durable.gets
	if _, err := layer.GetOrCompute(context.Background(), "pos1", compute); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if durable.gets != before {
		t.Errorf("durable tier consulted again after promotion")
	}
}

func TestDurableFailureDegrades(t *testing.T) {
	durable := newFakeDurable()
	durable.fail = true

	layer := New(NewMemory(1024), durable, zerolog.Nop())

	v, err := layer.GetOrCompute(context.Background(), "pos1", func(context.Context) ([]byte, error) {
		return []byte("computed"), nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute with broken durable tier: %v", err)
	}
	if !bytes.Equal(v, []byte("computed")) {
		t.Fatalf("got %q, want computed", v)
	}
	if !layer.Stats().Degraded {
		t.Error("layer should be degraded after a durable failure")
	}

	// Degraded layer stops touching the durable tier entirely.
	before := durable.gets + durable.puts
	if _, err := layer.GetOrCompute(context.Background(), "pos2", func(context.Context) ([]byte, error) {
		return []byte("computed2"), nil
	}); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if durable.gets+durable.puts != before {
		t.Error("degraded layer still calling the durable tier")
	}
}

func TestNilDurable(t *testing.T) {
	layer := New(NewMemory(1024), nil, zerolog.Nop())

	v, err := layer.GetOrCompute(context.Background(), "pos1", func(context.Context) ([]byte, error) {
		return []byte("computed"), nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if !bytes.Equal(v, []byte("computed")) {
		t.Fatalf("got %q, want computed", v)
	}

	if _, ok := layer.GetReport("report:x:2026010112"); ok {
		t.Error("report lookup should miss with no durable tier")
	}
	layer.PutReport("report:x:2026010112", []byte("rep")) // must not panic
}

func TestComputeErrorNotCached(t *testing.T) {
	layer := New(NewMemory(1024), nil, zerolog.Nop())

	wantErr := errors.New("engine unavailable")
	_, err := layer.GetOrCompute(context.Background(), "pos1", func(context.Context) ([]byte, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected compute error, got %v", err)
	}

	v, err := layer.GetOrCompute(context.Background(), "pos1", func(context.Context) ([]byte, error) {
		return []byte("recovered"), nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute after failure: %v", err)
	}
	if !bytes.Equal(v, []byte("recovered")) {
		t.Fatalf("got %q, want recovered", v)
	}
}

func TestReportRoundtrip(t *testing.T) {
	durable := newFakeDurable()
	layer := New(NewMemory(1024), durable, zerolog.Nop())

	key := ReportKey("Magnus", time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC))
	layer.PutReport(key, []byte(`{"games":[]}`))

	v, ok := layer.GetReport(key)
	if !ok {
		t.Fatal("expected report hit")
	}
	if !bytes.Equal(v, []byte(`{"games":[]}`)) {
		t.Fatalf("got %q", v)
	}

	// Reports bypass the fast tier.
	if _, ok := layer.mem.Get(key); ok {
		t.Error("report leaked into the memory tier")
	}
}

func TestReportKey(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	got := ReportKey("Magnus", now)
	want := "report:magnus:2026010215"
	if got != want {
		t.Errorf("ReportKey = %q, want %q", got, want)
	}

	// Same hour, same key; case-insensitive username.
	if ReportKey("MAGNUS", now.Add(30*time.Minute)) != want {
		t.Error("key should be stable within the hour and across username case")
	}
	if ReportKey("magnus", now.Add(time.Hour)) == want {
		t.Error("key should change across hour buckets")
	}
}

func TestGetOrComputeContextCancelled(t *testing.T) {
	layer := New(NewMemory(1024), nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	_, err := layer.GetOrCompute(ctx, "pos1", func(context.Context) ([]byte, error) {
		close(started)
		time.Sleep(time.Second)
		return []byte("late"), nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStatsCounters(t *testing.T) {
	layer := New(NewMemory(1024), newFakeDurable(), zerolog.Nop())

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("pos%d", i)
		if _, err := layer.GetOrCompute(context.Background(), key, func(context.Context) ([]byte, error) {
			return []byte(key), nil
		}); err != nil {
			t.Fatalf("GetOrCompute: %v", err)
		}
	}

	stats := layer.Stats()
	if stats.Computes != 3 {
		t.Errorf("computes = %d, want 3", stats.Computes)
	}
	if stats.MemEntries != 3 {
		t.Errorf("mem entries = %d, want 3", stats.MemEntries)
	}
	if stats.Degraded {
		t.Error("layer should not be degraded")
	}
}
