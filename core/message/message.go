package message

import (
	"time"

	"github.com/google/uuid"
)

// Message is the minimal contract every bus message satisfies.
type Message interface {
	// MsgID returns the globally unique identifier assigned at construction.
	MsgID() uuid.UUID
}

// Correlated extends Message with the correlation-chain metadata.
type Correlated interface {
	Message

	// CorrelationID groups all messages belonging to one business transaction.
	CorrelationID() uuid.UUID

	// CausationID is the MsgID of the message that directly produced this one.
	CausationID() uuid.UUID
}

// Envelope carries the identity and correlation metadata of a message.
// Concrete message types embed it by value; the zero value is not valid,
// use NewEnvelope or DeriveFrom.
type Envelope struct {
	ID          uuid.UUID `json:"id"`
	Correlation uuid.UUID `json:"correlation_id"`
	Causation   uuid.UUID `json:"causation_id"`
	At          time.Time `json:"created_at"`
}

// NewEnvelope creates a root envelope: the start of a new correlation
// chain, with ID, Correlation, and Causation all equal.
func NewEnvelope() Envelope {
	id := uuid.New()
	return Envelope{
		ID:          id,
		Correlation: id,
		Causation:   id,
		At:          time.Now(),
	}
}

// DeriveFrom creates an envelope continuing the parent's correlation chain:
// the correlation id is inherited and the causation id is set to the
// parent's message id.
func DeriveFrom(parent Correlated) Envelope {
	return Envelope{
		ID:          uuid.New(),
		Correlation: parent.CorrelationID(),
		Causation:   parent.MsgID(),
		At:          time.Now(),
	}
}

// MsgID implements Message.
func (e Envelope) MsgID() uuid.UUID { return e.ID }

// CorrelationID implements Correlated.
func (e Envelope) CorrelationID() uuid.UUID { return e.Correlation }

// CausationID implements Correlated.
func (e Envelope) CausationID() uuid.UUID { return e.Causation }

// CreatedAt returns the construction time of the message.
func (e Envelope) CreatedAt() time.Time { return e.At }
