package review

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gamereview/api/internal/cache"
	"github.com/gamereview/api/internal/notation"
)

// Evaluator produces an Evaluation for one FEN.
type Evaluator interface {
	Evaluate(ctx context.Context, fen string) (Evaluation, error)
}

// CachedEvaluator fronts an engine-backed Evaluator with the cache layer.
// Concurrent requests for the same position collapse to one engine call,
// and repeated positions across games and jobs never recompute.
type CachedEvaluator struct {
	cache  *cache.Layer
	engine Evaluator
}

// NewCachedEvaluator wraps engine with layer.
func NewCachedEvaluator(layer *cache.Layer, engine Evaluator) *CachedEvaluator {
	return &CachedEvaluator{cache: layer, engine: engine}
}

// Evaluate looks the position up by its normalized packed key, computing
// through the engine only on a full miss.
func (e *CachedEvaluator) Evaluate(ctx context.Context, fen string) (Evaluation, error) {
	_, key, err := notation.ParseFEN(fen)
	if err != nil {
		return Evaluation{}, err
	}

	raw, err := e.cache.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		ev, err := e.engine.Evaluate(ctx, fen)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ev)
	})
	if err != nil {
		return Evaluation{}, err
	}

	var ev Evaluation
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Evaluation{}, fmt.Errorf("decode cached evaluation: %w", err)
	}
	return ev, nil
}
