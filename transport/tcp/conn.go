package tcp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/relaybus/relaybus/core/logger"
	"github.com/relaybus/relaybus/core/message"
	"github.com/relaybus/relaybus/core/wire"
)

// State is the lifecycle of a single connection.
type State int32

const (
	// StateConnecting means the socket exists but the loops have not started.
	StateConnecting State = iota
	// StateConnected means the read and write loops are running.
	StateConnected
	// StateClosed is terminal: reached by socket error, framing failure,
	// or explicit close.
	StateClosed
)

// String returns the state's log representation.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const readBufferSize = 32 * 1024

// connection wraps one socket with a framer, a write queue, and the
// echo-suppression set. Shared by server and client sides.
type connection struct {
	nc         net.Conn
	framer     *wire.Framer
	serializer wire.Serializer
	logger     *slog.Logger

	outbound chan []byte
	state    atomic.Int32

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error

	// seen holds ids of messages delivered from this peer, so the
	// outbound path can skip republishing them back. Entries are removed
	// when the outbound subscriber consumes them.
	seenMu sync.Mutex
	seen   map[uuid.UUID]struct{}

	onMessage func(c *connection, msg message.Message)
	onClose   func(c *connection, reason error)
}

func newConnection(
	nc net.Conn,
	serializer wire.Serializer,
	maxFrame uint32,
	queueSize int,
	log *slog.Logger,
	onMessage func(*connection, message.Message),
	onClose func(*connection, error),
) *connection {
	c := &connection{
		nc:         nc,
		serializer: serializer,
		logger:     log,
		outbound:   make(chan []byte, queueSize),
		closed:     make(chan struct{}),
		seen:       make(map[uuid.UUID]struct{}),
		onMessage:  onMessage,
		onClose:    onClose,
	}
	c.framer = wire.NewFramer(c.handleFrame, wire.WithMaxFrameSize(maxFrame))
	c.state.Store(int32(StateConnecting))
	return c
}

// start launches the read and write loops and moves to Connected.
func (c *connection) start() {
	c.state.Store(int32(StateConnected))
	go c.readLoop()
	go c.writeLoop()

	c.logger.Info("connection established", logger.Peer(c.remoteAddr()))
}

// State returns the connection's current lifecycle state.
func (c *connection) State() State {
	return State(c.state.Load())
}

func (c *connection) remoteAddr() string {
	if addr := c.nc.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

// send serializes, frames, and queues the message for the write loop.
func (c *connection) send(msg message.Message) error {
	payload, err := c.serializer.Encode(msg)
	if err != nil {
		return err
	}
	framed, err := c.framer.Frame(payload)
	if err != nil {
		return err
	}

	select {
	case c.outbound <- framed:
		return nil
	case <-c.closed:
		return ErrConnectionClosed
	}
}

// close tears the connection down exactly once and reports the reason to
// the owner. Safe to call from any goroutine.
func (c *connection) close(reason error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		c.closeErr = reason
		close(c.closed)
		_ = c.nc.Close()

		c.logger.Info("connection closed",
			logger.Peer(c.remoteAddr()),
			logger.Error(reason))

		if c.onClose != nil {
			c.onClose(c, reason)
		}
	})
}

// readLoop feeds raw socket bytes into the framer until the socket or the
// framing state machine fails. A framing failure is connection-fatal: the
// framer cannot resynchronize a corrupt stream.
func (c *connection) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			if ferr := c.framer.Unframe(buf[:n]); ferr != nil {
				c.logger.Error("framing failure",
					logger.Peer(c.remoteAddr()),
					logger.Error(ferr))
				c.close(ferr)
				return
			}
		}
		if err != nil {
			c.close(fmt.Errorf("%w: %v", ErrConnectionClosed, err))
			return
		}
	}
}

// writeLoop drains the outbound queue onto the socket.
func (c *connection) writeLoop() {
	for {
		select {
		case framed := <-c.outbound:
			if _, err := c.nc.Write(framed); err != nil {
				c.close(fmt.Errorf("%w: %v", ErrConnectionClosed, err))
				return
			}
		case <-c.closed:
			return
		}
	}
}

// handleFrame decodes one complete frame and hands the message to the
// owner. Unknown types are logged and skipped; the peer may legitimately
// speak types this side never registered.
func (c *connection) handleFrame(frame []byte) {
	msg, err := c.serializer.Decode(frame)
	if err != nil {
		if errors.Is(err, wire.ErrUnknownType) {
			c.logger.Warn("dropping message of unknown type",
				logger.Peer(c.remoteAddr()),
				logger.Error(err))
			return
		}
		c.logger.Error("frame decode failed",
			logger.Peer(c.remoteAddr()),
			logger.Error(err))
		c.close(err)
		return
	}

	c.onMessage(c, msg)
}

// markSeen records that the message was delivered from this peer and must
// not be sent back to it.
func (c *connection) markSeen(id uuid.UUID) {
	c.seenMu.Lock()
	c.seen[id] = struct{}{}
	c.seenMu.Unlock()
}

// consumeSeen reports whether the message originated from this peer,
// removing the record. Each republished message passes the outbound
// subscriber exactly once, so removal keeps the set bounded.
func (c *connection) consumeSeen(id uuid.UUID) bool {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()

	if _, ok := c.seen[id]; ok {
		delete(c.seen, id)
		return true
	}
	return false
}
