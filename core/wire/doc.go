// Package wire implements the on-wire message format: a length-prefix
// framer that reconstructs message boundaries from a raw byte stream, and
// a codec that converts messages to and from the framed payload.
//
// Frame layout, all integers little-endian:
//
//	uint32 totalLength | payload (totalLength bytes)
//
// Payload layout produced by the codec:
//
//	uint32 typeNameLength | utf8 typeName | uint32 jsonLength | utf8 json
//
// The framer is a re-entrant state machine: TCP provides no message
// boundaries, so Unframe may receive partial, overlapping, or multiple
// concatenated frames per call and still delivers each complete frame to
// the registered callback exactly once. A header claiming zero bytes or
// more than the configured maximum (default 64 MiB) is a fatal framing
// error for the connection; no body allocation is attempted for it.
package wire
