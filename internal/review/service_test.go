package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gamereview/api/internal/cache"
)

type sourceFunc func(ctx context.Context, username string, maxGames int) ([]Game, error)

func (f sourceFunc) FetchGames(ctx context.Context, username string, maxGames int) ([]Game, error) {
	return f(ctx, username, maxGames)
}

type mapDurable struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMapDurable() *mapDurable {
	return &mapDurable{items: make(map[string][]byte)}
}

func (m *mapDurable) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *mapDurable) Put(key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = val
	return nil
}

func newTestService(source GameSource, layer *cache.Layer) *Service {
	evals := evalFunc(func(ctx context.Context, fen string) (Evaluation, error) {
		return openingEval(), nil
	})
	agg := NewAggregator(evals, AggregatorConfig{Logger: zerolog.Nop()})
	return NewService(source, agg, layer, ServiceConfig{Logger: zerolog.Nop()})
}

func TestAnalyzeProducesAndCachesReport(t *testing.T) {
	source := sourceFunc(func(ctx context.Context, username string, maxGames int) ([]Game, error) {
		if maxGames != 5 {
			t.Errorf("maxGames = %d, want default 5", maxGames)
		}
		return []Game{gameWith("g1", "e4", "d4"), gameWith("g2", "e4")}, nil
	})
	layer := cache.New(cache.NewMemory(64), newMapDurable(), zerolog.Nop())
	svc := newTestService(source, layer)

	var messages []string
	var mu sync.Mutex
	rep, err := svc.Analyze(context.Background(), "magnus", func(done, total int, message string) {
		mu.Lock()
		messages = append(messages, message)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(rep.Games) != 2 {
		t.Fatalf("got %d games, want 2", len(rep.Games))
	}
	if rep.Username != "magnus" {
		t.Errorf("username = %q", rep.Username)
	}
	if len(messages) != 2 {
		t.Errorf("progress messages = %v, want one per game", messages)
	}

	cached, ok := svc.CachedReport(context.Background(), "magnus")
	if !ok {
		t.Fatal("expected the finished report to be cached")
	}
	if len(cached.Games) != 2 {
		t.Errorf("cached report has %d games", len(cached.Games))
	}

	// Same hour, different case: still a hit.
	if _, ok := svc.CachedReport(context.Background(), "MAGNUS"); !ok {
		t.Error("report lookup should be case-insensitive")
	}
}

func TestAnalyzeNoGames(t *testing.T) {
	source := sourceFunc(func(context.Context, string, int) ([]Game, error) {
		return nil, nil
	})
	layer := cache.New(cache.NewMemory(64), newMapDurable(), zerolog.Nop())
	svc := newTestService(source, layer)

	rep, err := svc.Analyze(context.Background(), "newplayer", nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if rep.Games == nil || len(rep.Games) != 0 {
		t.Errorf("expected an empty games list, got %v", rep.Games)
	}
	if rep.AnalysisTime != 0 {
		t.Errorf("analysis_time = %v, want 0", rep.AnalysisTime)
	}

	// Even the empty report is cached to absorb resubmissions.
	if _, ok := svc.CachedReport(context.Background(), "newplayer"); !ok {
		t.Error("empty report should be cached")
	}
}

func TestAnalyzeFetchError(t *testing.T) {
	wantErr := errors.New("upstream fetch failed")
	source := sourceFunc(func(context.Context, string, int) ([]Game, error) {
		return nil, wantErr
	})
	svc := newTestService(source, nil)

	if _, err := svc.Analyze(context.Background(), "magnus", nil); !errors.Is(err, wantErr) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestCachedReportExpiresWithHourBucket(t *testing.T) {
	source := sourceFunc(func(context.Context, string, int) ([]Game, error) {
		return nil, nil
	})
	layer := cache.New(cache.NewMemory(64), newMapDurable(), zerolog.Nop())
	svc := newTestService(source, layer)

	base := time.Date(2026, 1, 2, 15, 10, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	if _, err := svc.Analyze(context.Background(), "magnus", nil); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, ok := svc.CachedReport(context.Background(), "magnus"); !ok {
		t.Fatal("expected a hit within the hour")
	}

	svc.now = func() time.Time { return base.Add(time.Hour) }
	if _, ok := svc.CachedReport(context.Background(), "magnus"); ok {
		t.Error("report from the previous hour bucket should miss")
	}
}

func TestCachedReportWithoutLayer(t *testing.T) {
	source := sourceFunc(func(context.Context, string, int) ([]Game, error) {
		return nil, nil
	})
	svc := newTestService(source, nil)

	if _, ok := svc.CachedReport(context.Background(), "magnus"); ok {
		t.Error("no layer, no cached reports")
	}
}
