package review

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gamereview/api/internal/notation"
)

// AggregatorConfig configures report assembly.
type AggregatorConfig struct {
	Thresholds      Thresholds
	GameConcurrency int // games analyzed at once
	PlyConcurrency  int // in-flight evaluations per game
	Logger          zerolog.Logger
}

// Aggregator turns upstream games plus per-position evaluations into game
// reports. Evaluations for one game run concurrently, but each report's
// move sequence strictly preserves play order.
type Aggregator struct {
	evals Evaluator
	cfg   AggregatorConfig
	log   zerolog.Logger
}

// NewAggregator creates an aggregator over the given evaluator.
func NewAggregator(evals Evaluator, cfg AggregatorConfig) *Aggregator {
	if cfg.GameConcurrency == 0 {
		cfg.GameConcurrency = 3
	}
	if cfg.PlyConcurrency == 0 {
		cfg.PlyConcurrency = 8
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds
	}
	return &Aggregator{evals: evals, cfg: cfg, log: cfg.Logger}
}

// AnalyzeGames produces one report per game, in the order the games were
// given. onGame fires once per finished game with the completed count.
func (a *Aggregator) AnalyzeGames(ctx context.Context, games []Game, onGame func(done, total int)) ([]GameReport, error) {
	reports := make([]GameReport, len(games))

	var mu sync.Mutex
	completed := 0

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.GameConcurrency)
	for i, gm := range games {
		g.Go(func() error {
			rep, err := a.analyzeGame(ctx, gm)
			if err != nil {
				return err
			}
			reports[i] = rep

			mu.Lock()
			completed++
			done := completed
			mu.Unlock()
			if onGame != nil {
				onGame(done, len(games))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (a *Aggregator) analyzeGame(ctx context.Context, gm Game) (GameReport, error) {
	moves := make([]MoveRecord, len(gm.Plies))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.PlyConcurrency)
	for i, ply := range gm.Plies {
		g.Go(func() error {
			ev, err := a.evals.Evaluate(ctx, ply.FEN)
			if err != nil {
				// A malformed position spoils only its own ply; the
				// report carries an explicit no-evaluation marker.
				if errors.Is(err, notation.ErrMalformed) {
					a.log.Warn().Err(err).Str("game_id", gm.ID).Int("move", ply.MoveNumber).Msg("skipping unparseable position")
					moves[i] = unevaluatedRecord(ply)
					return nil
				}
				return fmt.Errorf("evaluate game %s move %d: %w", gm.ID, ply.MoveNumber, err)
			}
			moves[i] = buildRecord(ply, ev, a.cfg.Thresholds)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return GameReport{}, err
	}

	return GameReport{
		GameID:      gm.ID,
		TimeControl: gm.TimeControl,
		Moves:       moves,
	}, nil
}

// buildRecord attaches the engine's view to one ply and grades the played
// move against the top candidate.
func buildRecord(ply Ply, ev Evaluation, t Thresholds) MoveRecord {
	rec := MoveRecord{
		FEN:        ply.FEN,
		MoveNumber: ply.MoveNumber,
		PlayedMove: ply.PlayedSAN,
		BestMoves:  ev.Candidates,
		Verdict:    VerdictUnknown,
	}

	best, ok := ev.Best()
	if !ok {
		return rec
	}

	for i, c := range ev.Candidates {
		if c.Move == ply.PlayedSAN {
			rec.PlayedMoveEval = c.Eval
			rec.Verdict = t.Classify(c.Eval, best.Eval, i == 0)
			return rec
		}
	}

	// Played move outside the candidate list: no eval available for it.
	return rec
}

func unevaluatedRecord(ply Ply) MoveRecord {
	return MoveRecord{
		FEN:        ply.FEN,
		MoveNumber: ply.MoveNumber,
		PlayedMove: ply.PlayedSAN,
		BestMoves:  []CandidateMove{},
		Verdict:    VerdictUnknown,
	}
}
