package engine

import (
	"errors"

	"github.com/gamereview/api/internal/notation"
)

var (
	// ErrTimeout means a request exceeded the per-call search budget even
	// after the retry; the worker that held it was recycled.
	ErrTimeout = errors.New("engine timeout")

	// ErrUnavailable means the pool exhausted its retries for a request
	// (worker crashes or malformed engine responses).
	ErrUnavailable = errors.New("engine unavailable")

	// ErrMalformedPosition means the input FEN could not be parsed; the
	// request never reaches a worker.
	ErrMalformedPosition = notation.ErrMalformed
)
