package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/relaybus/relaybus/core/message"
)

// Serializer converts messages to and from framed payload bytes. The
// default implementation is Codec; transports accept any Serializer so an
// application can inject its own encoding.
type Serializer interface {
	// Encode produces the wire payload for a message.
	Encode(msg message.Message) ([]byte, error)

	// Decode reconstructs a typed message from a wire payload.
	Decode(payload []byte) (message.Message, error)
}

// Codec is the canonical payload encoding: the message type name followed
// by its JSON body, each length-prefixed with a little-endian uint32.
// Types are resolved through the registry on decode, so both peers must
// register the message types they exchange.
//
// JSON conventions on the wire follow struct tags: optional fields carry
// omitempty, enums marshal as strings (see message.ResponseKind).
type Codec struct {
	registry *message.Registry
}

// NewCodec creates a codec resolving types through the given registry.
func NewCodec(registry *message.Registry) *Codec {
	return &Codec{registry: registry}
}

// Encode implements Serializer.
func (c *Codec) Encode(msg message.Message) ([]byte, error) {
	name := message.TypeNameOf(msg)
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}

	out := make([]byte, 0, 8+len(name)+len(body))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(name)))
	out = append(out, name...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	out = append(out, body...)
	return out, nil
}

// Decode implements Serializer. The payload's type name must be
// registered; unknown types return ErrUnknownType.
func (c *Codec) Decode(payload []byte) (message.Message, error) {
	name, rest, err := readChunk(payload)
	if err != nil {
		return nil, fmt.Errorf("decode type name: %w", err)
	}
	body, rest, err := readChunk(rest)
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", name, err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %s", ErrFraming, len(rest), name)
	}

	instance, err := c.registry.New(string(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	if err := json.Unmarshal(body, instance); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}

	msg, ok := dereference(instance).(message.Message)
	if !ok {
		return nil, fmt.Errorf("decode %s: type does not implement message.Message", name)
	}
	return msg, nil
}

// dereference unwraps the pointer the registry handed back so subscribers
// receive messages by value, the same shape local publishers produce.
func dereference(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		return rv.Elem().Interface()
	}
	return v
}

// readChunk consumes one uint32-length-prefixed chunk from the payload.
func readChunk(p []byte) (chunk, rest []byte, err error) {
	if len(p) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated length prefix", ErrFraming)
	}
	n := binary.LittleEndian.Uint32(p)
	p = p[4:]
	if uint64(n) > uint64(len(p)) {
		return nil, nil, fmt.Errorf("%w: chunk claims %d of %d bytes", ErrFraming, n, len(p))
	}
	return p[:n], p[n:], nil
}
