package bus

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/relaybus/relaybus/core/logger"
	"github.com/relaybus/relaybus/core/message"
	"github.com/relaybus/relaybus/core/queue"
)

const (
	// DefaultShutdownTimeout bounds how long Stop waits for each
	// subscription queue to drain.
	DefaultShutdownTimeout = 10 * time.Second
)

// Bus is a publish/subscribe message bus. Each subscription runs on its
// own QueuedHandler, preserving per-subscriber FIFO order and isolating
// subscribers from each other's latency.
type Bus struct {
	name     string
	registry *message.Registry
	logger   *slog.Logger

	slowThreshold   time.Duration
	shutdownTimeout time.Duration

	mu      sync.RWMutex
	subs    []*subscription
	stopped bool
	nextSub int
}

// subscription binds a handler to its private dispatch queue. A
// subscription matches either an exact type name or a registry group.
type subscription struct {
	handler  Handler
	queue    *queue.QueuedHandler
	typeName string
	group    string
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the structured logger. The default discards all output.
func WithLogger(log *slog.Logger) Option {
	return func(b *Bus) {
		if log != nil {
			b.logger = log
		}
	}
}

// WithRegistry sets the type registry used to resolve group (wildcard)
// subscriptions. A bus without a registry supports exact-type
// subscriptions only.
func WithRegistry(reg *message.Registry) Option {
	return func(b *Bus) {
		b.registry = reg
	}
}

// WithSlowThreshold sets the slow-message warning threshold applied to
// every subscription queue.
func WithSlowThreshold(d time.Duration) Option {
	return func(b *Bus) {
		b.slowThreshold = d
	}
}

// WithShutdownTimeout sets how long Stop waits per subscription queue.
func WithShutdownTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.shutdownTimeout = d
		}
	}
}

// New creates a Bus with the given diagnostic name.
func New(name string, opts ...Option) *Bus {
	b := &Bus{
		name:            name,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		shutdownTimeout: DefaultShutdownTimeout,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Name returns the bus's diagnostic name.
func (b *Bus) Name() string { return b.name }

// Registry returns the type registry group subscriptions resolve
// against, or nil for a bus without one.
func (b *Bus) Registry() *message.Registry { return b.registry }

// Subscribe registers a handler for its exact message type. The handler
// gets a dedicated queue started immediately. Subscribing the same
// handler instance twice returns ErrAlreadySubscribed.
func (b *Bus) Subscribe(h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	return b.subscribe(h, h.MessageType(), "")
}

// SubscribeGroup registers a handler for every message type belonging to
// the registry group, resolved at publish time so types registered later
// are still matched. Requires a registry.
func (b *Bus) SubscribeGroup(group string, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	if b.registry == nil {
		return ErrGroupRequiresRegistry
	}
	return b.subscribe(h, "", group)
}

func (b *Bus) subscribe(h Handler, typeName, group string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return ErrBusStopped
	}
	for _, sub := range b.subs {
		if sub.handler == h {
			return ErrAlreadySubscribed
		}
	}

	b.nextSub++
	label := typeName
	if label == "" {
		label = "group:" + group
	}
	q := queue.New(
		fmt.Sprintf("%s/%s#%d", b.name, label, b.nextSub),
		h.Handle,
		queue.WithLogger(b.logger),
		queue.WithSlowThreshold(b.slowThreshold),
	)
	if err := q.Start(); err != nil {
		return err
	}

	b.subs = append(b.subs, &subscription{
		handler:  h,
		queue:    q,
		typeName: typeName,
		group:    group,
	})

	b.logger.Debug("subscribed",
		logger.Bus(b.name),
		logger.MsgType(label))
	return nil
}

// Unsubscribe removes the handler's subscription. Deliveries already
// enqueued to the handler still complete; the subscription queue drains
// in the background.
func (b *Bus) Unsubscribe(h Handler) error {
	b.mu.Lock()
	idx := -1
	for i, sub := range b.subs {
		if sub.handler == h {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.mu.Unlock()
		return ErrNotSubscribed
	}
	sub := b.subs[idx]
	b.subs = append(b.subs[:idx], b.subs[idx+1:]...)
	b.mu.Unlock()

	go func() {
		if err := sub.queue.Stop(b.shutdownTimeout); err != nil {
			b.logger.Warn("subscription queue did not drain",
				logger.Bus(b.name),
				logger.Queue(sub.queue.Name()),
				logger.Error(err))
		}
	}()

	return nil
}

// Publish delivers the message to every matching subscription by
// enqueuing it onto each subscriber's queue. It returns once all enqueues
// complete and never waits on a handler. Publishing an event with zero
// subscribers is legal.
func (b *Bus) Publish(msg message.Message) error {
	if msg == nil {
		return fmt.Errorf("publish: message cannot be nil")
	}

	typeName := message.TypeNameOf(msg)

	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		return ErrBusStopped
	}
	var targets []*subscription
	for _, sub := range b.subs {
		if sub.matches(typeName, b.registry) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.queue.Enqueue(msg); err != nil {
			b.logger.Error("enqueue failed",
				logger.Bus(b.name),
				logger.Queue(sub.queue.Name()),
				logger.MsgID(msg.MsgID()),
				logger.Error(err))
		}
	}

	b.logger.Debug("published",
		logger.Bus(b.name),
		logger.MsgType(typeName),
		logger.MsgID(msg.MsgID()),
		slog.Int("subscribers", len(targets)))
	return nil
}

// Stop shuts down every subscription queue, waiting up to the shutdown
// timeout per queue. The bus rejects publishes and subscriptions
// afterwards.
func (b *Bus) Stop() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrBusStopped
	}
	b.stopped = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.queue.Stop(b.shutdownTimeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	b.logger.Info("bus stopped", logger.Bus(b.name))
	return firstErr
}

func (s *subscription) matches(typeName string, reg *message.Registry) bool {
	if s.typeName != "" {
		return s.typeName == typeName
	}
	if reg == nil {
		return false
	}
	return reg.InGroup(typeName, s.group)
}
