package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/freeeve/pgn/v3"
	"github.com/freeeve/uci"
	"github.com/rs/zerolog"

	"github.com/gamereview/api/internal/notation"
	"github.com/gamereview/api/internal/review"
)

// proc abstracts one UCI engine process so crash and timeout recovery can be
// exercised without a real binary.
type proc interface {
	SetFEN(fen string) error
	Search(depth int) (*uci.Results, error)
	Close()
}

type uciProc struct {
	eng *uci.Engine
}

func newUCIProc(cfg Config) (proc, error) {
	eng, err := uci.NewEngine(cfg.EnginePath)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	opts := uci.Options{
		Hash:    cfg.HashMB,
		Threads: cfg.Threads,
		MultiPV: cfg.MultiPV,
		Ponder:  false,
		OwnBook: false,
	}
	if err := eng.SetOptions(opts); err != nil {
		eng.Close()
		return nil, fmt.Errorf("set options: %w", err)
	}
	return &uciProc{eng: eng}, nil
}

func (u *uciProc) SetFEN(fen string) error { return u.eng.SetFEN(fen) }

func (u *uciProc) Search(depth int) (*uci.Results, error) {
	return u.eng.GoDepth(depth, uci.HighestDepthOnly)
}

func (u *uciProc) Close() { u.eng.Close() }

// worker owns one engine process. It handles exactly one request at a time;
// the underlying process is stateful and not reentrant.
type worker struct {
	id   int
	pool *Pool
	log  zerolog.Logger
	proc proc
}

func (w *worker) ensureStarted() error {
	if w.proc != nil {
		return nil
	}
	p, err := w.pool.cfg.newProc(w.pool.cfg)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	w.proc = p
	return nil
}

// recycle kills the current process and immediately tries to bring up a
// fresh one. A failed start is retried lazily on the next request.
func (w *worker) recycle() {
	if w.proc != nil {
		w.proc.Close()
		w.proc = nil
	}
	w.pool.restarts.Add(1)
	if err := w.ensureStarted(); err != nil {
		w.log.Warn().Err(err).Msg("engine restart failed, will retry on next request")
		return
	}
	w.log.Info().Msg("engine process restarted")
}

func (w *worker) close() {
	if w.proc != nil {
		w.proc.Close()
		w.proc = nil
	}
}

type searchOutcome struct {
	results *uci.Results
	err     error
}

// evaluate runs one position through the engine. On timeout the process is
// presumed wedged and is recycled before returning ErrTimeout.
func (w *worker) evaluate(ctx context.Context, fen string) (review.Evaluation, error) {
	pos, _, err := notation.ParseFEN(fen)
	if err != nil {
		return review.Evaluation{}, err
	}

	// Checkmate and stalemate have no candidates; the engine is not asked.
	if len(pgn.GenerateLegalMoves(pos)) == 0 {
		return review.Evaluation{}, nil
	}

	if err := w.ensureStarted(); err != nil {
		return review.Evaluation{}, err
	}

	if err := w.proc.SetFEN(fen); err != nil {
		return review.Evaluation{}, fmt.Errorf("set FEN: %w", err)
	}

	// Search runs on its own goroutine; the buffered channel lets an
	// abandoned search finish without leaking the goroutine.
	outcome := make(chan searchOutcome, 1)
	p := w.proc
	go func() {
		results, err := p.Search(w.pool.cfg.Depth)
		outcome <- searchOutcome{results: results, err: err}
	}()

	timer := time.NewTimer(w.pool.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		w.close()
		return review.Evaluation{}, ctx.Err()
	case <-timer.C:
		w.pool.timeouts.Add(1)
		w.recycle()
		return review.Evaluation{}, ErrTimeout
	case out := <-outcome:
		if out.err != nil {
			return review.Evaluation{}, fmt.Errorf("engine search: %w", out.err)
		}
		return toEvaluation(pos, out.results)
	}
}

// toEvaluation converts raw engine output into the report model: candidate
// moves in SAN, scores in pawns from the side to move, ordered best first.
func toEvaluation(pos *pgn.GameState, results *uci.Results) (review.Evaluation, error) {
	if results == nil || len(results.Results) == 0 {
		return review.Evaluation{}, fmt.Errorf("no results from engine")
	}

	maxDepth := 0
	for _, r := range results.Results {
		if r.Depth > maxDepth {
			maxDepth = r.Depth
		}
	}

	seen := make(map[string]bool)
	candidates := make([]review.CandidateMove, 0, len(results.Results))
	for _, r := range results.Results {
		if r.Depth < maxDepth || len(r.BestMoves) == 0 {
			continue
		}
		uciMove := r.BestMoves[0]
		if seen[uciMove] {
			continue
		}
		mv, ok := notation.FindLegal(pos, uciMove)
		if !ok {
			continue
		}
		seen[uciMove] = true
		candidates = append(candidates, review.CandidateMove{
			Move: notation.ToSAN(pos, mv),
			Eval: normalizeScore(r.Score, r.Mate),
		})
	}

	if len(candidates) == 0 {
		return review.Evaluation{}, fmt.Errorf("no usable candidate moves in engine response")
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Eval > candidates[j].Eval
	})

	return review.Evaluation{
		Score:      candidates[0].Eval,
		Depth:      maxDepth,
		Candidates: candidates,
	}, nil
}

// normalizeScore converts a centipawn or mate score to pawns from the side
// to move's perspective. Mates collapse to +/-100 pawns.
func normalizeScore(score int, mate bool) float64 {
	if mate {
		if score > 0 {
			return 100.0
		}
		return -100.0
	}
	return float64(score) / 100.0
}
