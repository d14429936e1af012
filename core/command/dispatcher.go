package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/relaybus/relaybus/core/logger"
	"github.com/relaybus/relaybus/core/message"
	"github.com/relaybus/relaybus/core/queue"
	"github.com/relaybus/relaybus/core/timeout"
)

const (
	// DefaultShutdownTimeout bounds how long Stop waits for each pool
	// worker to drain.
	DefaultShutdownTimeout = 10 * time.Second
)

// Dispatcher routes commands to their single registered handler over a
// fixed pool of QueuedHandlers and correlates responses back to callers
// by command id.
type Dispatcher struct {
	name string

	mu       sync.RWMutex
	handlers map[string]Handler

	pool []*queue.QueuedHandler

	scheduler     *timeout.Scheduler
	ownsScheduler bool

	pendingMu sync.Mutex
	pending   map[uuid.UUID]chan *message.CommandResponse

	defaultTimeout  time.Duration
	slowThreshold   time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool

	// Observability metrics
	sent     atomic.Int64
	timedOut atomic.Int64
}

// Stats provides observability metrics for monitoring and debugging.
type Stats struct {
	Sent      int64 // Commands accepted by Send
	TimedOut  int64 // Commands resolved by the timeout scheduler
	Pending   int   // Callers currently awaiting a response
	IsRunning bool  // Whether the pool workers are active
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the structured logger. The default discards all output.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.logger = log
		}
	}
}

// WithPoolSize sets the number of pool workers. Default is 4. Commands
// sharing a correlation id always run on the same worker.
func WithPoolSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.pool = make([]*queue.QueuedHandler, n)
		}
	}
}

// WithDefaultTimeout sets the deadline Send applies when the caller does
// not specify one. Default is 500ms.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.defaultTimeout = timeout
		}
	}
}

// WithSlowThreshold sets the duration above which a handler that
// eventually succeeds still logs a slow-handler warning. Default is 100ms.
func WithSlowThreshold(threshold time.Duration) Option {
	return func(d *Dispatcher) {
		d.slowThreshold = threshold
	}
}

// WithScheduler injects a shared timeout scheduler. The caller owns its
// lifecycle. Without this option the dispatcher runs its own.
func WithScheduler(s *timeout.Scheduler) Option {
	return func(d *Dispatcher) {
		d.scheduler = s
		d.ownsScheduler = false
	}
}

// WithShutdownTimeout sets how long Stop waits per pool worker.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.shutdownTimeout = timeout
		}
	}
}

// New creates a Dispatcher with the given diagnostic name and starts its
// pool workers and, unless one was injected, its timeout scheduler.
func New(name string, opts ...Option) (*Dispatcher, error) {
	cfg := DefaultConfig()
	d := &Dispatcher{
		name:            name,
		handlers:        make(map[string]Handler),
		pending:         make(map[uuid.UUID]chan *message.CommandResponse),
		pool:            make([]*queue.QueuedHandler, cfg.PoolSize),
		defaultTimeout:  cfg.DefaultTimeout,
		slowThreshold:   cfg.SlowThreshold,
		shutdownTimeout: DefaultShutdownTimeout,
		ownsScheduler:   true,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(d)
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())

	if d.scheduler == nil {
		d.scheduler = timeout.New(timeout.WithLogger(d.logger))
	}
	if d.ownsScheduler {
		go func() {
			if err := d.scheduler.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("timeout scheduler exited", logger.Error(err))
			}
		}()
	}

	for i := range d.pool {
		d.pool[i] = queue.New(
			fmt.Sprintf("%s/worker-%d", name, i),
			d.process,
			queue.WithLogger(d.logger),
			queue.WithSlowThreshold(d.slowThreshold),
		)
		if err := d.pool[i].Start(); err != nil {
			d.cancel()
			return nil, err
		}
	}

	return d, nil
}

// NewFromConfig creates a Dispatcher from configuration. Additional
// options override config values.
func NewFromConfig(name string, cfg Config, opts ...Option) (*Dispatcher, error) {
	allOpts := append([]Option{
		WithPoolSize(cfg.PoolSize),
		WithDefaultTimeout(cfg.DefaultTimeout),
		WithSlowThreshold(cfg.SlowThreshold),
	}, opts...)

	return New(name, allOpts...)
}

// Subscribe registers the single handler for a command type. A second
// registration for the same type returns ErrDuplicateHandler and leaves
// the original registration active.
func (d *Dispatcher) Subscribe(h Handler) error {
	if h == nil {
		return fmt.Errorf("subscribe: handler cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	name := h.CommandType()
	if _, exists := d.handlers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, name)
	}
	d.handlers[name] = h

	d.logger.Debug("command handler registered",
		logger.Bus(d.name),
		logger.MsgType(name))
	return nil
}

// Send dispatches the command with the default timeout. See SendTimeout.
func (d *Dispatcher) Send(cmd message.Command) (*message.CommandResponse, error) {
	return d.SendTimeout(cmd, d.defaultTimeout)
}

// SendTimeout dispatches the command and blocks until its handler
// produces a response, the deadline elapses, or the command's
// cancellation token fires, whichever happens first. The returned
// response is always one of Success, Failed, or Canceled; an error is
// returned only for local programming mistakes (nil command, no handler).
func (d *Dispatcher) SendTimeout(cmd message.Command, deadline time.Duration) (*message.CommandResponse, error) {
	if cmd == nil {
		return nil, ErrNilCommand
	}
	if d.stopped.Load() {
		return nil, ErrDispatcherStopped
	}

	typeName := message.TypeNameOf(cmd)
	d.mu.RLock()
	_, exists := d.handlers[typeName]
	d.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, typeName)
	}

	ch := make(chan *message.CommandResponse, 1)
	d.pendingMu.Lock()
	d.pending[cmd.MsgID()] = ch
	d.pendingMu.Unlock()

	d.sent.Add(1)

	if err := d.scheduler.Schedule(cmd.MsgID(), time.Now().Add(deadline), cmd, func(timeout.Request) {
		d.timedOut.Add(1)
		d.logger.Warn("command timed out",
			logger.Bus(d.name),
			logger.MsgType(typeName),
			logger.MsgID(cmd.MsgID()),
			slog.Duration("timeout", deadline))
		d.complete(cmd.MsgID(), message.Expire(cmd))
	}); err != nil {
		d.retire(cmd.MsgID())
		return nil, err
	}

	cmd.Cancellation().OnCancel(func() {
		d.complete(cmd.MsgID(), message.Cancel(cmd))
	})

	worker := d.pool[d.route(cmd)]
	if err := worker.Enqueue(cmd); err != nil {
		d.retire(cmd.MsgID())
		d.scheduler.Cancel(cmd.MsgID())
		return nil, err
	}

	return <-ch, nil
}

// Stop drains and stops the pool workers and, if owned, the timeout
// scheduler. Outstanding callers resolve through their pending channels
// as workers drain; commands still queued resolve normally before the
// workers exit.
func (d *Dispatcher) Stop() error {
	if !d.stopped.CompareAndSwap(false, true) {
		return ErrDispatcherStopped
	}

	var firstErr error
	for _, w := range d.pool {
		if err := w.Stop(d.shutdownTimeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	d.cancel()

	d.logger.Info("dispatcher stopped", logger.Bus(d.name))
	return firstErr
}

// Stats returns a snapshot of the dispatcher's counters.
func (d *Dispatcher) Stats() Stats {
	d.pendingMu.Lock()
	pending := len(d.pending)
	d.pendingMu.Unlock()

	return Stats{
		Sent:      d.sent.Load(),
		TimedOut:  d.timedOut.Load(),
		Pending:   pending,
		IsRunning: !d.stopped.Load(),
	}
}

// route selects the pool worker by a stable hash of the command's
// correlation id: same target, same worker, strict order.
func (d *Dispatcher) route(cmd message.Command) int {
	key := cmd.CorrelationID()
	return int(xxhash.Sum64(key[:]) % uint64(len(d.pool)))
}

// process runs on a pool worker: executes the handler and resolves the
// pending call with the outcome. First resolution wins; a handler result
// arriving after the timeout fired is dropped.
func (d *Dispatcher) process(msg message.Message) error {
	cmd, ok := msg.(message.Command)
	if !ok {
		return fmt.Errorf("pool received non-command message %T", msg)
	}

	if cmd.Cancellation().IsCanceled() {
		d.complete(cmd.MsgID(), message.Cancel(cmd))
		return nil
	}

	typeName := message.TypeNameOf(cmd)
	d.mu.RLock()
	h, exists := d.handlers[typeName]
	d.mu.RUnlock()
	if !exists {
		// Registration cannot be removed, but a transport may enqueue a
		// command this side never handles.
		d.complete(cmd.MsgID(), message.Fail(cmd, fmt.Errorf("%w: %s", ErrNoHandler, typeName)))
		return nil
	}

	ctx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	cmd.Cancellation().OnCancel(cancel)

	start := time.Now()
	err := safeHandle(h, ctx, cmd)
	took := time.Since(start)

	if d.slowThreshold > 0 && took > d.slowThreshold {
		d.logger.Warn("slow command handler",
			logger.Bus(d.name),
			logger.MsgType(typeName),
			logger.MsgID(cmd.MsgID()),
			logger.Took(took),
			slog.Duration("threshold", d.slowThreshold))
	}

	var resp *message.CommandResponse
	switch {
	case errors.Is(err, message.ErrCanceled) || cmd.Cancellation().IsCanceled():
		resp = message.Cancel(cmd)
	case err != nil:
		resp = message.Fail(cmd, err)
	default:
		resp = message.Succeed(cmd)
	}

	d.complete(cmd.MsgID(), resp)
	return nil
}

// complete resolves the pending call for the command id with the given
// response, retiring its timeout. No-op if the call was already resolved.
func (d *Dispatcher) complete(id uuid.UUID, resp *message.CommandResponse) {
	ch := d.retire(id)
	if ch == nil {
		return
	}
	d.scheduler.Cancel(id)
	ch <- resp
}

// retire removes and returns the pending channel for the command id.
func (d *Dispatcher) retire(id uuid.UUID) chan *message.CommandResponse {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	ch, ok := d.pending[id]
	if !ok {
		return nil
	}
	delete(d.pending, id)
	return ch
}
