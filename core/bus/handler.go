package bus

import (
	"fmt"

	"github.com/relaybus/relaybus/core/message"
)

// Handler consumes messages of a single type from the bus.
type Handler interface {
	// MessageType returns the exact type name this handler consumes.
	MessageType() string

	// Handle processes one message. Errors are logged by the subscription's
	// queue worker and never affect other subscribers.
	Handle(msg message.Message) error
}

// HandlerOf creates a type-safe handler from a function. The message type
// name is derived from the type parameter.
//
// Example:
//
//	h := bus.HandlerOf(func(evt AccountCredited) error {
//	    return apply(evt)
//	})
func HandlerOf[T message.Message](fn func(T) error) Handler {
	var zero T
	return &typedHandler[T]{
		name: message.TypeNameOf(zero),
		fn:   fn,
	}
}

type typedHandler[T message.Message] struct {
	name string
	fn   func(T) error
}

func (h *typedHandler[T]) MessageType() string { return h.name }

func (h *typedHandler[T]) Handle(msg message.Message) error {
	m, ok := msg.(T)
	if !ok {
		return fmt.Errorf("unexpected payload type: want %s, got %T", h.name, msg)
	}
	return h.fn(m)
}
