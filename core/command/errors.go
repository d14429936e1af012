package command

import "errors"

var (
	// ErrNoHandler is returned when a command has no registered handler.
	// Commands fail loudly; they are never silently dropped.
	ErrNoHandler = errors.New("no handler registered for command")

	// ErrDuplicateHandler is returned when registering a second handler for
	// a command type. The original registration remains active.
	ErrDuplicateHandler = errors.New("handler already registered for command")

	// ErrNilCommand is returned when sending a nil command.
	ErrNilCommand = errors.New("command cannot be nil")

	// ErrDispatcherStopped is returned when sending after Stop.
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)
