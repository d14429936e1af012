package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaybus/relaybus/core/bus"
	"github.com/relaybus/relaybus/core/command"
	"github.com/relaybus/relaybus/core/logger"
	"github.com/relaybus/relaybus/core/message"
	"github.com/relaybus/relaybus/core/queue"
	"github.com/relaybus/relaybus/core/wire"
)

// Server accepts bridge connections and serves the listening side of the
// bus bridge. Inbound commands are routed through the local dispatcher
// and answered over the same connection; other inbound messages are
// republished on the local bus. Locally published messages in the bridged
// groups are forwarded to every connected peer except their origin.
type Server struct {
	cfg        Config
	local      *bus.Bus
	dispatcher *command.Dispatcher
	serializer wire.Serializer
	logger     *slog.Logger
	groups     []string

	mu      sync.Mutex
	lis     net.Listener
	conns   map[*connection]*queue.QueuedHandler
	bridges []bus.Handler
	started bool
	stopped bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the structured logger. The default discards all
// output.
func WithServerLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.logger = log
		}
	}
}

// WithServerDispatcher routes inbound commands through the dispatcher and
// sends the resulting response back to the originating peer. Without a
// dispatcher, inbound commands are republished on the local bus like any
// other message.
func WithServerDispatcher(d *command.Dispatcher) ServerOption {
	return func(s *Server) {
		s.dispatcher = d
	}
}

// WithServerGroups overrides the registry groups bridged to peers.
func WithServerGroups(groups ...string) ServerOption {
	return func(s *Server) {
		s.groups = groups
	}
}

// NewServer creates a Server for the given local bus and serializer.
func NewServer(cfg Config, local *bus.Bus, serializer wire.Serializer, opts ...ServerOption) *Server {
	s := &Server{
		cfg:        cfg,
		local:      local,
		serializer: serializer,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		groups:     cfg.BridgeGroups,
		conns:      make(map[*connection]*queue.QueuedHandler),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Listen binds the configured address and registers the outbound bridge
// subscriptions. Addr is valid afterwards.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.lis != nil {
		return ErrAlreadyStarted
	}

	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.lis = lis

	for _, group := range s.groups {
		h := &bridgeHandler{label: "tcp-out:" + group, fn: s.forward}
		if err := s.local.SubscribeGroup(group, h); err != nil {
			for _, sub := range s.bridges {
				_ = s.local.Unsubscribe(sub)
			}
			s.bridges = nil
			_ = lis.Close()
			s.lis = nil
			return err
		}
		s.bridges = append(s.bridges, h)
	}

	s.logger.Info("server listening", logger.Peer(lis.Addr().String()))
	return nil
}

// Addr returns the bound listen address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Serve accepts connections until the context is cancelled. This is a
// blocking operation; use Run for the errgroup pattern or call it in a
// goroutine after Listen.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.lis == nil {
		s.mu.Unlock()
		return fmt.Errorf("serve: not listening, call Listen first")
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	lis := s.lis
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		_ = lis.Close()
		s.closeAll(ErrStopped)
		return ctx.Err()
	})

	g.Go(func() error {
		for {
			nc, err := lis.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
					return fmt.Errorf("accept: %w", err)
				}
			}
			s.accept(nc)
		}
	})

	return g.Wait()
}

// Start is Listen followed by Serve.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Run provides errgroup compatibility for coordinated lifecycle
// management.
func (s *Server) Run(ctx context.Context) func() error {
	return func() error {
		err := s.Start(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
}

// Stop closes the listener and every live connection and removes the
// bridge subscriptions.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.stopped = true
	lis := s.lis
	bridges := s.bridges
	s.bridges = nil
	s.mu.Unlock()

	if lis != nil {
		_ = lis.Close()
	}
	for _, h := range bridges {
		_ = s.local.Unsubscribe(h)
	}
	s.closeAll(ErrStopped)

	s.logger.Info("server stopped")
	return nil
}

// accept wires a freshly accepted socket: a connection with its framer
// plus a per-connection command queue so inbound commands are processed
// strictly in arrival order without spawning a goroutine per message.
func (s *Server) accept(nc net.Conn) {
	conn := newConnection(
		nc,
		s.serializer,
		s.cfg.MaxFrameSize,
		s.cfg.WriteQueueSize,
		s.logger,
		s.handleInbound,
		s.handleClose,
	)

	var cmds *queue.QueuedHandler
	if s.dispatcher != nil {
		cmds = queue.New(
			"tcp-in/"+conn.remoteAddr(),
			func(msg message.Message) error {
				return s.respond(conn, msg.(message.Command))
			},
			queue.WithLogger(s.logger),
		)
		if err := cmds.Start(); err != nil {
			s.logger.Error("inbound command queue failed to start", logger.Error(err))
			_ = nc.Close()
			return
		}
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = nc.Close()
		return
	}
	s.conns[conn] = cmds
	s.mu.Unlock()

	conn.start()
}

// forward is the outbound bridge: every locally published message in a
// bridged group goes to each peer, except the peer it came from.
func (s *Server) forward(msg message.Message) error {
	s.mu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		if conn.consumeSeen(msg.MsgID()) {
			continue
		}
		if err := conn.send(msg); err != nil {
			s.logger.Warn("forward failed",
				logger.Peer(conn.remoteAddr()),
				logger.MsgID(msg.MsgID()),
				logger.Error(err))
		}
	}
	return nil
}

// handleInbound routes one decoded message from a peer: commands to the
// dispatcher via the connection's command queue, everything else back
// onto the local bus.
func (s *Server) handleInbound(c *connection, msg message.Message) {
	if cmd, ok := msg.(message.Command); ok && s.dispatcher != nil {
		s.mu.Lock()
		cmds := s.conns[c]
		s.mu.Unlock()

		if cmds != nil {
			if err := cmds.Enqueue(cmd); err != nil {
				s.logger.Warn("inbound command dropped",
					logger.Peer(c.remoteAddr()),
					logger.MsgID(cmd.MsgID()),
					logger.Error(err))
			}
			return
		}
	}

	// Only bridged types can echo back through an outbound subscription;
	// a seen entry for anything else would never be consumed.
	if bridgedType(s.local.Registry(), s.groups, msg) {
		c.markSeen(msg.MsgID())
	}
	if err := s.local.Publish(msg); err != nil {
		s.logger.Error("republish failed",
			logger.Peer(c.remoteAddr()),
			logger.MsgID(msg.MsgID()),
			logger.Error(err))
	}
}

// respond runs one inbound command through the dispatcher and writes the
// response back to the originating peer.
func (s *Server) respond(c *connection, cmd message.Command) error {
	resp, err := s.dispatcher.Send(cmd)
	if err != nil {
		// Local dispatch errors (no handler) still answer the caller.
		resp = message.Fail(cmd, err)
	}
	if err := c.send(resp); err != nil {
		return fmt.Errorf("send response for %s: %w", cmd.MsgID(), err)
	}
	return nil
}

// handleClose drops the connection's bookkeeping and drains its command
// queue.
func (s *Server) handleClose(c *connection, reason error) {
	s.mu.Lock()
	cmds, ok := s.conns[c]
	delete(s.conns, c)
	s.mu.Unlock()

	if !ok {
		return
	}
	if cmds != nil {
		go func() {
			if err := cmds.Stop(5 * time.Second); err != nil {
				s.logger.Warn("inbound command queue did not drain", logger.Error(err))
			}
		}()
	}
}

// closeAll closes every live connection with the given reason.
func (s *Server) closeAll(reason error) {
	s.mu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.close(reason)
	}
}
