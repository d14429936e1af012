package queue

import "errors"

var (
	// ErrAlreadyStarted is returned when starting a queue whose worker is running.
	ErrAlreadyStarted = errors.New("queued handler already started")

	// ErrNotStarted is returned when stopping a queue that was never started.
	ErrNotStarted = errors.New("queued handler not started")

	// ErrStopped is returned by Enqueue after the queue has been stopped.
	ErrStopped = errors.New("queued handler stopped")

	// ErrShutdownTimeout is returned when the worker fails to drain and exit
	// within the Stop timeout.
	ErrShutdownTimeout = errors.New("queued handler shutdown timeout exceeded")
)
