package queue

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaybus/relaybus/core/logger"
	"github.com/relaybus/relaybus/core/message"
)

// Handler processes a single dequeued message. A non-nil error is logged
// by the worker; it does not stop the queue.
type Handler func(msg message.Message) error

// QueuedHandler is a single-worker FIFO dispatch primitive. Enqueue
// appends to an unbounded queue and returns immediately; a dedicated
// goroutine drains the queue strictly in arrival order.
type QueuedHandler struct {
	name    string
	handler Handler

	mu       sync.Mutex
	notEmpty *sync.Cond
	pending  []message.Message
	stopping bool

	started atomic.Bool
	done    chan struct{}

	slowThreshold time.Duration
	logger        *slog.Logger

	// Observability metrics
	processed atomic.Int64
	failed    atomic.Int64
	depth     atomic.Int32
}

// Stats provides observability metrics for monitoring and debugging.
type Stats struct {
	Processed int64 // Total messages handled, including failures
	Failed    int64 // Messages whose handler returned an error or panicked
	Depth     int32 // Messages currently waiting in the queue
	IsRunning bool  // Whether the worker goroutine is active
}

// Option configures a QueuedHandler.
type Option func(*QueuedHandler)

// WithLogger sets the structured logger. The default discards all output.
func WithLogger(log *slog.Logger) Option {
	return func(q *QueuedHandler) {
		if log != nil {
			q.logger = log
		}
	}
}

// WithSlowThreshold sets the duration above which handling a single
// message logs a slow-message warning. Zero disables the warning.
func WithSlowThreshold(d time.Duration) Option {
	return func(q *QueuedHandler) {
		q.slowThreshold = d
	}
}

// New creates a QueuedHandler with the given diagnostic name and handler.
// The worker does not run until Start is called.
func New(name string, handler Handler, opts ...Option) *QueuedHandler {
	q := &QueuedHandler{
		name:    name,
		handler: handler,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	q.notEmpty = sync.NewCond(&q.mu)

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Name returns the queue's diagnostic name.
func (q *QueuedHandler) Name() string { return q.name }

// Start launches the worker goroutine. It returns ErrAlreadyStarted if
// the worker is already running and ErrStopped if the queue was stopped.
func (q *QueuedHandler) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopping {
		return ErrStopped
	}
	if !q.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	q.done = make(chan struct{})
	go q.run()

	q.logger.Info("queued handler started", logger.Queue(q.name))
	return nil
}

// Enqueue appends the message to the queue and returns immediately. It is
// safe for concurrent use and never blocks on the handler. Returns
// ErrStopped once Stop has been called.
func (q *QueuedHandler) Enqueue(msg message.Message) error {
	q.mu.Lock()
	if q.stopping {
		q.mu.Unlock()
		return ErrStopped
	}
	q.pending = append(q.pending, msg)
	q.depth.Add(1)
	q.mu.Unlock()

	q.notEmpty.Signal()
	return nil
}

// Stop signals the worker to drain the queue and exit, waiting up to
// timeout. Messages already enqueued are still processed; Enqueue fails
// from this point on. Returns ErrShutdownTimeout if the worker does not
// finish in time.
func (q *QueuedHandler) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if !q.started.Load() {
		q.mu.Unlock()
		return ErrNotStarted
	}
	q.stopping = true
	done := q.done
	q.mu.Unlock()

	q.notEmpty.Broadcast()

	select {
	case <-done:
		q.logger.Info("queued handler stopped", logger.Queue(q.name))
		return nil
	case <-time.After(timeout):
		q.logger.Warn("queued handler shutdown timeout exceeded - worker abandoned",
			logger.Queue(q.name),
			slog.Duration("timeout", timeout),
			slog.Int("depth", int(q.depth.Load())))
		return fmt.Errorf("%w: %s after %s", ErrShutdownTimeout, q.name, timeout)
	}
}

// Stats returns a snapshot of the queue's counters. Safe to call at any time.
func (q *QueuedHandler) Stats() Stats {
	return Stats{
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
		Depth:     q.depth.Load(),
		IsRunning: q.started.Load(),
	}
}

// run is the worker loop: park while empty, drain in FIFO order, exit
// once stopping and drained.
func (q *QueuedHandler) run() {
	defer close(q.done)
	defer q.started.Store(false)

	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.stopping {
			q.notEmpty.Wait()
		}
		if len(q.pending) == 0 && q.stopping {
			q.mu.Unlock()
			return
		}
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()

		for _, msg := range batch {
			q.dispatch(msg)
			q.depth.Add(-1)
		}
	}
}

// dispatch invokes the handler for one message, recovering panics so a
// bad message cannot kill the worker.
func (q *QueuedHandler) dispatch(msg message.Message) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			q.logger.Error("handler panicked",
				logger.Queue(q.name),
				logger.MsgID(msg.MsgID()),
				slog.Any("panic", r))
		}

		took := time.Since(start)
		if q.slowThreshold > 0 && took > q.slowThreshold {
			q.logger.Warn("slow message",
				logger.Queue(q.name),
				logger.MsgID(msg.MsgID()),
				logger.Took(took),
				slog.Duration("threshold", q.slowThreshold))
		}
	}()

	q.processed.Add(1)
	if err := q.handler(msg); err != nil {
		q.failed.Add(1)
		q.logger.Error("handler failed",
			logger.Queue(q.name),
			logger.MsgID(msg.MsgID()),
			logger.Error(err))
	}
}
