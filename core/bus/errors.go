package bus

import "errors"

var (
	// ErrBusStopped is returned when publishing or subscribing after Stop.
	ErrBusStopped = errors.New("bus stopped")

	// ErrNilHandler is returned when subscribing a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrAlreadySubscribed is returned when the same handler instance is
	// subscribed twice.
	ErrAlreadySubscribed = errors.New("handler already subscribed")

	// ErrNotSubscribed is returned when unsubscribing a handler that has no
	// active subscription.
	ErrNotSubscribed = errors.New("handler not subscribed")

	// ErrGroupRequiresRegistry is returned when a group subscription is made
	// on a bus constructed without a type registry.
	ErrGroupRequiresRegistry = errors.New("group subscription requires a registry")
)
