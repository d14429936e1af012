package message

// Command is a correlated message routed to exactly one handler.
type Command interface {
	Correlated

	// Cancellation returns the command's cancellation token.
	// May be nil for commands constructed without one.
	Cancellation() *CancelToken
}

// CommandEnvelope is the embeddable base for command messages. It carries
// the correlation envelope plus an optional cancellation token. The token
// is process-local and never crosses the wire; a command decoded from a
// peer has no token.
type CommandEnvelope struct {
	Envelope

	cancel *CancelToken
}

// NewCommand creates a root command envelope without cancellation.
func NewCommand() CommandEnvelope {
	return CommandEnvelope{Envelope: NewEnvelope()}
}

// NewCancelableCommand creates a root command envelope bound to the given
// cancellation token.
func NewCancelableCommand(token *CancelToken) CommandEnvelope {
	return CommandEnvelope{Envelope: NewEnvelope(), cancel: token}
}

// CommandFrom creates a command envelope continuing the parent's
// correlation chain.
func CommandFrom(parent Correlated) CommandEnvelope {
	return CommandEnvelope{Envelope: DeriveFrom(parent)}
}

// Cancellation implements Command.
func (c CommandEnvelope) Cancellation() *CancelToken { return c.cancel }
