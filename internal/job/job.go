// Package job owns the lifecycle of submitted analysis jobs: status
// tracking, monotonic progress, and fan-out of progress events to any
// number of subscribers.
package job

import (
	"errors"

	"github.com/gamereview/api/internal/review"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrNotFound is returned for lookups of unknown job identifiers.
var ErrNotFound = errors.New("job not found")

// Event is one progress update pushed to subscribers. Result is set only
// on the completion event.
type Event struct {
	JobID    string                 `json:"job_id"`
	Status   Status                 `json:"status"`
	Progress int                    `json:"progress"`
	Message  string                 `json:"message"`
	Result   *review.AnalysisReport `json:"result,omitempty"`
}

// Snapshot is a point-in-time copy of a job's state.
type Snapshot struct {
	JobID    string                 `json:"job_id"`
	Status   Status                 `json:"status"`
	Progress int                    `json:"progress"`
	Message  string                 `json:"message"`
	Result   *review.AnalysisReport `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

func (s Snapshot) event() Event {
	ev := Event{
		JobID:    s.JobID,
		Status:   s.Status,
		Progress: s.Progress,
		Message:  s.Message,
	}
	if s.Status == StatusCompleted {
		ev.Result = s.Result
	}
	return ev
}
