package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	// DefaultMaxFrameSize is the largest frame the framer accepts, header
	// excluded.
	DefaultMaxFrameSize = 64 << 20 // 64 MiB

	headerSize = 4
)

// FrameHandler receives one complete, reconstructed frame. The slice is
// owned by the handler; the framer never reuses it.
type FrameHandler func(frame []byte)

// Framer reconstructs length-prefixed frames from an arbitrary byte
// stream. One Framer serves one connection; it is not safe for concurrent
// use, matching the single read loop per connection.
type Framer struct {
	maxFrame uint32
	onFrame  FrameHandler

	header     [headerSize]byte
	headerRead int
	expected   uint32
	body       []byte
}

// FramerOption configures a Framer.
type FramerOption func(*Framer)

// WithMaxFrameSize overrides the maximum accepted frame size.
func WithMaxFrameSize(n uint32) FramerOption {
	return func(f *Framer) {
		if n > 0 {
			f.maxFrame = n
		}
	}
}

// NewFramer creates a framer delivering complete frames to onFrame.
func NewFramer(onFrame FrameHandler, opts ...FramerOption) *Framer {
	f := &Framer{
		maxFrame: DefaultMaxFrameSize,
		onFrame:  onFrame,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Frame prepends the 4-byte little-endian length header to the payload,
// returning the bytes to write to the socket.
func (f *Framer) Frame(payload []byte) ([]byte, error) {
	if len(payload) == 0 || uint64(len(payload)) > uint64(f.maxFrame) {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrFrameTooLarge, len(payload))
	}

	out := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(len(payload)))
	copy(out[headerSize:], payload)
	return out, nil
}

// Unframe consumes the next chunk of the stream. Chunks may split or
// concatenate frames arbitrarily; every completed frame is delivered to
// the callback before Unframe returns. A malformed length header returns
// ErrFraming, after which the framer must be discarded along with its
// connection.
func (f *Framer) Unframe(p []byte) error {
	for len(p) > 0 {
		if f.headerRead < headerSize {
			n := copy(f.header[f.headerRead:], p)
			f.headerRead += n
			p = p[n:]

			if f.headerRead < headerSize {
				return nil
			}

			length := binary.LittleEndian.Uint32(f.header[:])
			// Validate before allocating: a hostile header must not drive
			// a large allocation.
			if length == 0 || length > f.maxFrame {
				return fmt.Errorf("%w: header claims %d bytes (max %d)", ErrFraming, length, f.maxFrame)
			}
			f.expected = length
			f.body = make([]byte, 0, length)
		}

		remaining := int(f.expected) - len(f.body)
		if remaining > len(p) {
			remaining = len(p)
		}
		f.body = append(f.body, p[:remaining]...)
		p = p[remaining:]

		if len(f.body) == int(f.expected) {
			frame := f.body
			f.reset()
			f.onFrame(frame)
		}
	}
	return nil
}

// Reset discards any partially read frame, returning the framer to the
// await-header state.
func (f *Framer) Reset() { f.reset() }

func (f *Framer) reset() {
	f.headerRead = 0
	f.expected = 0
	f.body = nil
}
