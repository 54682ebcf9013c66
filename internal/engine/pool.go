package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/gamereview/api/internal/notation"
	"github.com/gamereview/api/internal/review"
)

// Config configures the evaluation pool.
type Config struct {
	EnginePath     string
	Logger         zerolog.Logger
	Workers        int           // number of engine processes
	Depth          int           // search depth per position
	MultiPV        int           // candidate moves per position
	HashMB         int           // engine hash table size per worker
	Threads        int           // engine threads per worker
	RequestTimeout time.Duration // per-request budget before the worker is recycled
	QueueSize      int           // pending request queue size
	MaxRetries     int           // retries per request after a worker failure

	// newProc overrides engine process creation in tests.
	newProc func(Config) (proc, error)
}

type request struct {
	fen     string
	attempt int
	done    chan outcome
}

type outcome struct {
	eval review.Evaluation
	err  error
}

// Pool serializes position evaluations over a fixed set of engine workers.
// Requests beyond capacity wait in a FIFO queue; each worker handles one
// request at a time.
type Pool struct {
	cfg      Config
	log      zerolog.Logger
	requests chan *request
	wg       sync.WaitGroup

	evaluated atomic.Int64
	timeouts  atomic.Int64
	restarts  atomic.Int64
	retries   atomic.Int64
}

// NewPool creates an evaluation pool. The engine binary must exist; this is
// checked up front so a misconfigured path fails at startup, not mid-job.
func NewPool(cfg Config) (*Pool, error) {
	if cfg.Workers == 0 {
		cfg.Workers = 8
	}
	if cfg.Depth == 0 {
		cfg.Depth = 18
	}
	if cfg.MultiPV == 0 {
		cfg.MultiPV = 3
	}
	if cfg.HashMB == 0 {
		cfg.HashMB = 128
	}
	if cfg.Threads == 0 {
		cfg.Threads = 1
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 1
	}
	if cfg.newProc == nil {
		if cfg.EnginePath == "" {
			return nil, fmt.Errorf("engine path required")
		}
		if _, err := os.Stat(cfg.EnginePath); err != nil {
			return nil, fmt.Errorf("engine not found at %s (download Stockfish from https://stockfishchess.org/download/): %w", cfg.EnginePath, err)
		}
		cfg.newProc = newUCIProc
	}

	return &Pool{
		cfg:      cfg,
		log:      cfg.Logger,
		requests: make(chan *request, cfg.QueueSize),
	}, nil
}

// Run starts the workers and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info().
		Int("workers", p.cfg.Workers).
		Int("depth", p.cfg.Depth).
		Int("multipv", p.cfg.MultiPV).
		Dur("request_timeout", p.cfg.RequestTimeout).
		Msg("engine pool started")

	for i := 0; i < p.cfg.Workers; i++ {
		workerID := i
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runWorker(ctx, workerID)
		}()
	}

	<-ctx.Done()
	p.wg.Wait()

	p.log.Info().
		Int64("evaluated", p.evaluated.Load()).
		Int64("restarts", p.restarts.Load()).
		Msg("engine pool stopped")

	return ctx.Err()
}

// Evaluate submits one position and blocks until a worker produces its
// evaluation or ctx is cancelled. Safe for any number of concurrent callers.
func (p *Pool) Evaluate(ctx context.Context, fen string) (review.Evaluation, error) {
	if _, _, err := notation.ParseFEN(fen); err != nil {
		return review.Evaluation{}, err
	}

	req := &request{fen: fen, done: make(chan outcome, 1)}
	select {
	case p.requests <- req:
	case <-ctx.Done():
		return review.Evaluation{}, ctx.Err()
	}

	select {
	case out := <-req.done:
		return out.eval, out.err
	case <-ctx.Done():
		return review.Evaluation{}, ctx.Err()
	}
}

func (p *Pool) runWorker(ctx context.Context, workerID int) {
	log := p.log.With().Int("worker_id", workerID).Logger()

	w := &worker{id: workerID, pool: p, log: log}
	defer w.close()

	if err := w.ensureStarted(); err != nil {
		log.Warn().Err(err).Msg("initial engine start failed, will retry on first request")
	} else {
		log.Info().Msg("worker started")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-p.requests:
			ev, err := w.evaluate(ctx, req.fen)
			if err == nil {
				p.evaluated.Add(1)
				req.done <- outcome{eval: ev}
				continue
			}
			if ctx.Err() != nil {
				req.done <- outcome{err: ctx.Err()}
				return
			}
			if errors.Is(err, ErrMalformedPosition) {
				req.done <- outcome{err: err}
				continue
			}

			// Timeouts recycle the worker inside evaluate; anything else
			// is a crash or malformed response, recycled here.
			if !errors.Is(err, ErrTimeout) {
				log.Warn().Err(err).Str("fen", req.fen).Msg("engine failure")
				w.recycle()
			}

			if req.attempt < p.cfg.MaxRetries {
				req.attempt++
				p.retries.Add(1)
				log.Warn().Err(err).Int("attempt", req.attempt).Msg("requeueing request")
				p.requeue(req)
				continue
			}

			if errors.Is(err, ErrTimeout) {
				req.done <- outcome{err: ErrTimeout}
			} else {
				req.done <- outcome{err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
			}
		}
	}
}

// requeue puts a failed request back on the queue without blocking the
// worker loop when the queue is full.
func (p *Pool) requeue(req *request) {
	select {
	case p.requests <- req:
	default:
		go func() { p.requests <- req }()
	}
}

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Workers   int   `json:"workers"`
	QueueLen  int   `json:"queue_len"`
	Evaluated int64 `json:"evaluated"`
	Timeouts  int64 `json:"timeouts"`
	Restarts  int64 `json:"restarts"`
	Retries   int64 `json:"retries"`
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.cfg.Workers,
		QueueLen:  len(p.requests),
		Evaluated: p.evaluated.Load(),
		Timeouts:  p.timeouts.Load(),
		Restarts:  p.restarts.Load(),
		Retries:   p.retries.Load(),
	}
}
