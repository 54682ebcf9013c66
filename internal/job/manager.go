package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gamereview/api/internal/review"
)

// subscriberBuffer bounds each subscriber's event channel. A subscriber
// that falls this far behind starts losing intermediate progress events;
// the terminal event is still delivered because channels are drained by
// then or the subscriber is dropped.
const subscriberBuffer = 64

// Analyzer is the capability that performs the actual analysis work.
type Analyzer interface {
	// CachedReport returns a still-fresh completed report for the user,
	// if one exists.
	CachedReport(ctx context.Context, username string) (*review.AnalysisReport, bool)
	// Analyze produces a report, calling progress after each finished game.
	Analyze(ctx context.Context, username string, progress func(done, total int, message string)) (*review.AnalysisReport, error)
}

// Manager creates jobs, dispatches their work to background goroutines,
// and answers status and subscription requests.
type Manager struct {
	analyzer Analyzer
	log      zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*jobState

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type jobState struct {
	mu      sync.Mutex
	snap    Snapshot
	subs    map[int]chan Event
	nextSub int
}

// NewManager creates a job manager. Close releases its background work.
func NewManager(analyzer Analyzer, log zerolog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		analyzer: analyzer,
		log:      log,
		jobs:     make(map[string]*jobState),
		runCtx:   ctx,
		cancel:   cancel,
	}
}

// Close cancels in-flight jobs and waits for their goroutines to finish.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// Submit creates a job for the user and returns its initial snapshot
// without blocking on the analysis. If a fresh report is already cached,
// the job completes immediately without doing any work.
func (m *Manager) Submit(ctx context.Context, username string) Snapshot {
	id := uuid.NewString()
	st := &jobState{
		snap: Snapshot{
			JobID:    id,
			Status:   StatusQueued,
			Progress: 0,
			Message:  "queued",
		},
		subs: make(map[int]chan Event),
	}

	m.mu.Lock()
	m.jobs[id] = st
	m.mu.Unlock()

	if rep, ok := m.analyzer.CachedReport(ctx, username); ok {
		m.log.Info().Str("job_id", id).Str("username", username).Msg("serving cached report")
		st.complete(rep, "analysis complete (cached)")
		return st.snapshot()
	}

	m.log.Info().Str("job_id", id).Str("username", username).Msg("job submitted")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(st, username)
	}()

	return st.snapshot()
}

func (m *Manager) run(st *jobState, username string) {
	st.transition(StatusRunning, fmt.Sprintf("fetching games for %s", username))

	rep, err := m.analyzer.Analyze(m.runCtx, username, func(done, total int, message string) {
		st.progress(progressFor(done, total), message)
	})
	if err != nil {
		m.log.Error().Err(err).Str("job_id", st.snapshot().JobID).Msg("analysis failed")
		st.fail(err)
		return
	}

	m.log.Info().
		Str("job_id", st.snapshot().JobID).
		Int("games", len(rep.Games)).
		Float64("analysis_time", rep.AnalysisTime).
		Msg("analysis complete")
	st.complete(rep, "analysis complete")
}

// progressFor scales finished games to 0-100 but holds back 100 for the
// completion transition itself.
func progressFor(done, total int) int {
	if total <= 0 {
		return 99
	}
	p := done * 100 / total
	if p > 99 {
		p = 99
	}
	return p
}

// GetStatus returns a point-in-time copy of the job's state.
func (m *Manager) GetStatus(jobID string) (Snapshot, error) {
	m.mu.Lock()
	st, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return st.snapshot(), nil
}

// Subscribe registers an observer for the job's progress events. The
// current state is delivered immediately, so a subscriber to an already
// terminal job sees the terminal event right away. The channel closes
// after the terminal event; cancel unregisters early.
func (m *Manager) Subscribe(jobID string) (<-chan Event, func(), error) {
	m.mu.Lock()
	st, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, ErrNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	ch <- st.snap.event()

	if st.snap.Status.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}

	id := st.nextSub
	st.nextSub++
	st.subs[id] = ch

	cancel := func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		if c, ok := st.subs[id]; ok {
			delete(st.subs, id)
			close(c)
		}
	}
	return ch, cancel, nil
}

func (st *jobState) snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snap
}

// publishLocked pushes the current state to every subscriber. A full
// subscriber loses this event rather than stalling the job.
func (st *jobState) publishLocked() {
	ev := st.snap.event()
	for _, ch := range st.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (st *jobState) closeSubsLocked() {
	for id, ch := range st.subs {
		delete(st.subs, id)
		close(ch)
	}
}

func (st *jobState) transition(status Status, message string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.snap.Status.Terminal() {
		return
	}
	st.snap.Status = status
	st.snap.Message = message
	st.publishLocked()
}

func (st *jobState) progress(p int, message string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.snap.Status.Terminal() {
		return
	}
	if p < st.snap.Progress {
		p = st.snap.Progress
	}
	st.snap.Progress = p
	st.snap.Message = message
	st.publishLocked()
}

func (st *jobState) complete(rep *review.AnalysisReport, message string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.snap.Status.Terminal() {
		return
	}
	st.snap.Status = StatusCompleted
	st.snap.Progress = 100
	st.snap.Message = message
	st.snap.Result = rep
	st.publishLocked()
	st.closeSubsLocked()
}

// fail transitions to Failed with progress frozen at its last value. No
// partial report is kept.
func (st *jobState) fail(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.snap.Status.Terminal() {
		return
	}
	st.snap.Status = StatusFailed
	st.snap.Message = fmt.Sprintf("analysis failed: %v", err)
	st.snap.Error = err.Error()
	st.snap.Result = nil
	st.publishLocked()
	st.closeSubsLocked()
}
