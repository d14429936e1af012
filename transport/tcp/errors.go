package tcp

import "errors"

var (
	// ErrConnectionClosed is the transport-level failure: the socket was
	// closed by error, framing failure, or explicit shutdown. In-flight
	// commands resolve to Failed responses carrying this error.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotConnected is returned when sending before the client has
	// established its connection.
	ErrNotConnected = errors.New("client not connected")

	// ErrAlreadyStarted is returned when Start is called on a running
	// server or client.
	ErrAlreadyStarted = errors.New("transport already started")

	// ErrStopped is returned when using a server or client after Stop.
	ErrStopped = errors.New("transport stopped")
)
