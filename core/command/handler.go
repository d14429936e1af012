package command

import (
	"context"
	"fmt"

	"github.com/relaybus/relaybus/core/message"
)

// Handler processes commands of a single type.
type Handler interface {
	// CommandType returns the command type name this handler processes.
	CommandType() string

	// Handle executes the command. A nil return maps to a Success
	// response, message.ErrCanceled to Canceled, any other error to
	// Failed. The context is canceled when the command's cancellation
	// token fires.
	Handle(ctx context.Context, cmd message.Command) error
}

// HandlerOf creates a type-safe handler from a function. The command type
// name is derived from the type parameter.
func HandlerOf[T message.Command](fn func(context.Context, T) error) Handler {
	var zero T
	return &typedHandler[T]{
		name: message.TypeNameOf(zero),
		fn:   fn,
	}
}

type typedHandler[T message.Command] struct {
	name string
	fn   func(context.Context, T) error
}

func (h *typedHandler[T]) CommandType() string { return h.name }

func (h *typedHandler[T]) Handle(ctx context.Context, cmd message.Command) error {
	c, ok := cmd.(T)
	if !ok {
		return fmt.Errorf("unexpected payload type: want %s, got %T", h.name, cmd)
	}
	return h.fn(ctx, c)
}

// safeHandle invokes the handler, converting panics into errors so a
// misbehaving handler yields a Failed response instead of crashing a pool
// worker.
func safeHandle(h Handler, ctx context.Context, cmd message.Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, cmd)
}
