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

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/relaybus/relaybus/core/bus"
	"github.com/relaybus/relaybus/core/logger"
	"github.com/relaybus/relaybus/core/message"
	"github.com/relaybus/relaybus/core/timeout"
	"github.com/relaybus/relaybus/core/wire"
)

// Client dials the bridge server and maintains the connection, retrying
// with a fixed backoff on connect failure and reconnecting after a drop.
//
// Send transmits a command to the peer and blocks until a response with
// the same command id arrives, the local deadline elapses, or the
// connection fails, whichever happens first.
type Client struct {
	cfg        Config
	local      *bus.Bus
	serializer wire.Serializer
	logger     *slog.Logger
	groups     []string

	scheduler     *timeout.Scheduler
	ownsScheduler bool

	mu      sync.RWMutex
	conn    *connection
	bridges []bus.Handler
	started bool
	stopped bool
	cancel  context.CancelFunc

	pendingMu sync.Mutex
	pending   map[uuid.UUID]*pendingCommand
}

// pendingCommand is one in-flight round trip awaiting its response.
type pendingCommand struct {
	cmd message.Command
	ch  chan *message.CommandResponse
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the structured logger. The default discards all
// output.
func WithClientLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.logger = log
		}
	}
}

// WithClientGroups overrides the registry groups bridged to the peer.
func WithClientGroups(groups ...string) ClientOption {
	return func(c *Client) {
		c.groups = groups
	}
}

// WithClientScheduler injects a shared timeout scheduler for command
// deadlines. The caller owns its lifecycle. Without this option the
// client runs its own.
func WithClientScheduler(s *timeout.Scheduler) ClientOption {
	return func(c *Client) {
		c.scheduler = s
		c.ownsScheduler = false
	}
}

// NewClient creates a Client for the given local bus and serializer.
func NewClient(cfg Config, local *bus.Bus, serializer wire.Serializer, opts ...ClientOption) *Client {
	c := &Client{
		cfg:           cfg,
		local:         local,
		serializer:    serializer,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		groups:        cfg.BridgeGroups,
		ownsScheduler: true,
		pending:       make(map[uuid.UUID]*pendingCommand),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.scheduler == nil {
		c.scheduler = timeout.New(timeout.WithLogger(c.logger))
	}

	return c
}

// Start connects and maintains the bridge until the context is
// cancelled: a failed dial retries after the configured interval, a
// dropped connection reconnects. This is a blocking operation; use Run
// for the errgroup pattern or call it in a goroutine.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	for _, group := range c.groups {
		h := &bridgeHandler{label: "tcp-out:" + group, fn: c.forward}
		if err := c.local.SubscribeGroup(group, h); err != nil {
			c.rollbackStart()
			return err
		}
		c.mu.Lock()
		c.bridges = append(c.bridges, h)
		c.mu.Unlock()
	}

	if c.ownsScheduler {
		go func() {
			if err := c.scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("timeout scheduler exited", logger.Error(err))
			}
		}()
	}

	for {
		nc, err := c.dial(ctx)
		if err != nil {
			return err
		}

		conn := newConnection(
			nc,
			c.serializer,
			c.cfg.MaxFrameSize,
			c.cfg.WriteQueueSize,
			c.logger,
			c.handleInbound,
			c.handleClose,
		)

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		conn.start()

		select {
		case <-conn.closed:
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			c.logger.Info("reconnecting", logger.Peer(c.cfg.Addr))
		case <-ctx.Done():
			conn.close(ErrStopped)
			return ctx.Err()
		}
	}
}

// Run provides errgroup compatibility for coordinated lifecycle
// management.
func (c *Client) Run(ctx context.Context) func() error {
	return func() error {
		err := c.Start(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
}

// Stop tears the client down. In-flight commands resolve with Failed
// responses.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	c.stopped = true
	cancel := c.cancel
	conn := c.conn
	bridges := c.bridges
	c.bridges = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.close(ErrStopped)
	}
	for _, h := range bridges {
		_ = c.local.Unsubscribe(h)
	}

	c.logger.Info("client stopped")
	return nil
}

// Connected reports whether the bridge connection is currently up.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.State() == StateConnected
}

// Send transmits the command with the configured default timeout. See
// SendTimeout.
func (c *Client) Send(cmd message.Command) (*message.CommandResponse, error) {
	return c.SendTimeout(cmd, c.cfg.CommandTimeout)
}

// SendTimeout transmits the command to the peer and blocks until a
// response carrying the same command id arrives, the deadline elapses
// (Canceled response), the command's cancellation token fires (Canceled
// response), or the connection drops (Failed response). Responses are
// matched by command id, never by arrival order.
func (c *Client) SendTimeout(cmd message.Command, deadline time.Duration) (*message.CommandResponse, error) {
	if cmd == nil {
		return nil, fmt.Errorf("send: command cannot be nil")
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || conn.State() != StateConnected {
		return nil, ErrNotConnected
	}

	p := &pendingCommand{
		cmd: cmd,
		ch:  make(chan *message.CommandResponse, 1),
	}
	c.pendingMu.Lock()
	c.pending[cmd.MsgID()] = p
	c.pendingMu.Unlock()

	if err := c.scheduler.Schedule(cmd.MsgID(), time.Now().Add(deadline), cmd, func(timeout.Request) {
		c.logger.Warn("command round trip timed out",
			logger.MsgID(cmd.MsgID()),
			slog.Duration("timeout", deadline))
		c.complete(cmd.MsgID(), message.Expire(cmd))
	}); err != nil {
		c.retire(cmd.MsgID())
		return nil, err
	}

	cmd.Cancellation().OnCancel(func() {
		c.complete(cmd.MsgID(), message.Cancel(cmd))
	})

	if err := conn.send(cmd); err != nil {
		c.retire(cmd.MsgID())
		c.scheduler.Cancel(cmd.MsgID())
		return nil, err
	}

	return <-p.ch, nil
}

// rollbackStart undoes a partially completed Start so a corrected retry
// is possible: bridge subscriptions made so far are removed and the
// started flag is cleared.
func (c *Client) rollbackStart() {
	c.mu.Lock()
	bridges := c.bridges
	c.bridges = nil
	c.started = false
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	for _, h := range bridges {
		_ = c.local.Unsubscribe(h)
	}
	if cancel != nil {
		cancel()
	}
}

// dial connects with the configured timeout, retrying on a fixed
// interval until the context is cancelled.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var nc net.Conn

	operation := func() error {
		d := net.Dialer{Timeout: c.cfg.DialTimeout}
		conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
		if err != nil {
			c.logger.Debug("dial failed, retrying",
				logger.Peer(c.cfg.Addr),
				logger.Error(err))
			return err
		}
		nc = conn
		return nil
	}

	bo := backoff.WithContext(backoff.NewConstantBackOff(c.cfg.RetryInterval), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return nc, nil
}

// forward is the outbound bridge: locally published messages in bridged
// groups go to the peer unless they came from it.
func (c *Client) forward(msg message.Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || conn.State() != StateConnected {
		c.logger.Debug("dropping outbound message, not connected",
			logger.MsgID(msg.MsgID()))
		return nil
	}
	if conn.consumeSeen(msg.MsgID()) {
		return nil
	}
	if err := conn.send(msg); err != nil {
		return fmt.Errorf("forward %s: %w", msg.MsgID(), err)
	}
	return nil
}

// handleInbound completes a pending round trip when a response arrives;
// every other message is republished on the local bus.
func (c *Client) handleInbound(conn *connection, msg message.Message) {
	if resp, ok := msg.(message.CommandResponse); ok {
		r := resp
		if c.complete(resp.CommandID, &r) {
			return
		}
		// A response nobody here is waiting for still reaches local
		// subscribers.
	}

	if bridgedType(c.local.Registry(), c.groups, msg) {
		conn.markSeen(msg.MsgID())
	}
	if err := c.local.Publish(msg); err != nil {
		c.logger.Error("republish failed",
			logger.Peer(conn.remoteAddr()),
			logger.MsgID(msg.MsgID()),
			logger.Error(err))
	}
}

// handleClose fails every in-flight command: a closed connection must
// resolve callers, never leave them hanging.
func (c *Client) handleClose(_ *connection, reason error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[uuid.UUID]*pendingCommand)
	c.pendingMu.Unlock()

	for id, p := range pending {
		c.scheduler.Cancel(id)
		p.ch <- message.Fail(p.cmd, fmt.Errorf("%w: %v", ErrConnectionClosed, reason))
	}
}

// complete resolves the pending round trip for the command id. Returns
// false if no caller is waiting (already resolved, or not ours).
func (c *Client) complete(id uuid.UUID, resp *message.CommandResponse) bool {
	p := c.retire(id)
	if p == nil {
		return false
	}
	c.scheduler.Cancel(id)
	p.ch <- resp
	return true
}

// retire removes and returns the pending entry for the command id.
func (c *Client) retire(id uuid.UUID) *pendingCommand {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}
