package wire

import "errors"

var (
	// ErrFraming is a fatal framing error: a malformed or oversized length
	// header. The connection carrying the stream must be torn down; the
	// framer does not resynchronize.
	ErrFraming = errors.New("message framing error")

	// ErrFrameTooLarge is joined with ErrFraming when an outbound payload
	// exceeds the maximum frame size.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrUnknownType is returned when decoding a payload whose type name
	// has no registration.
	ErrUnknownType = errors.New("unknown message type on wire")
)
