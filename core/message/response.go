package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrCanceled is returned by command handlers that observed cooperative
// cancellation. The dispatcher maps it to a Canceled response instead of a
// failure.
var ErrCanceled = errors.New("command canceled")

// ErrTimedOut marks a Canceled response produced by the timeout scheduler
// rather than by cooperative cancellation. It wraps ErrCanceled: a
// timeout is a cancellation initiated by the bus, so callers matching on
// ErrCanceled catch both.
var ErrTimedOut = fmt.Errorf("%w: deadline elapsed", ErrCanceled)

// ResponseKind is the outcome of command processing.
type ResponseKind int

const (
	// Success means the handler completed without error.
	Success ResponseKind = iota + 1
	// Failed means the handler returned or panicked with an error.
	Failed
	// Canceled means the command was canceled or timed out before completion.
	Canceled
)

// String returns the kind's wire and log representation.
func (k ResponseKind) String() string {
	switch k {
	case Success:
		return "success"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the kind by name; enums travel as strings on the
// wire.
func (k ResponseKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a kind encoded by name.
func (k *ResponseKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "success":
		*k = Success
	case "failed":
		*k = Failed
	case "canceled":
		*k = Canceled
	default:
		return fmt.Errorf("unknown response kind %q", s)
	}
	return nil
}

// CommandResponse reports the outcome of a command back to its sender.
// Its correlation id is copied from the command and its causation id is
// the command's message id, so a response always continues the command's
// correlation chain.
//
// The response borrows the source command; it is only available on the
// side that created the response and is nil after wire decoding.
type CommandResponse struct {
	Envelope

	Kind      ResponseKind `json:"kind"`
	CommandID uuid.UUID    `json:"command_id"`
	Reason    string       `json:"reason,omitempty"`

	source Command
	err    error
}

// Succeed creates a Success response for the given command.
func Succeed(cmd Command) *CommandResponse {
	return newResponse(cmd, Success, nil)
}

// Fail creates a Failed response carrying the handler error.
func Fail(cmd Command, err error) *CommandResponse {
	return newResponse(cmd, Failed, err)
}

// Cancel creates a Canceled response for a command whose cancellation
// token fired.
func Cancel(cmd Command) *CommandResponse {
	return newResponse(cmd, Canceled, ErrCanceled)
}

// Expire creates a Canceled response for a command whose deadline elapsed
// before a handler produced a result.
func Expire(cmd Command) *CommandResponse {
	return newResponse(cmd, Canceled, ErrTimedOut)
}

func newResponse(cmd Command, kind ResponseKind, err error) *CommandResponse {
	r := &CommandResponse{
		Envelope:  DeriveFrom(cmd),
		Kind:      kind,
		CommandID: cmd.MsgID(),
		source:    cmd,
		err:       err,
	}
	if err != nil {
		r.Reason = err.Error()
	}
	return r
}

// SourceCommand returns the command this response answers, or nil if the
// response was decoded from the wire.
func (r *CommandResponse) SourceCommand() Command { return r.source }

// Err returns the failure or cancellation error, reconstructing it from
// the wire-level reason when the response arrived from a peer. Success
// responses return nil.
func (r *CommandResponse) Err() error {
	if r.err != nil {
		return r.err
	}
	if r.Kind == Canceled {
		return ErrCanceled
	}
	if r.Reason != "" {
		return errors.New(r.Reason)
	}
	return nil
}
