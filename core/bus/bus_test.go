package bus_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybus/relaybus/core/bus"
	"github.com/relaybus/relaybus/core/message"
)

type OrderPlaced struct {
	message.Envelope
	Total int `json:"total"`
}

type OrderShipped struct {
	message.Envelope
}

// collector records delivered messages and signals each arrival.
type collector struct {
	mu   sync.Mutex
	got  []message.Message
	wake chan struct{}
}

func newCollector() *collector {
	return &collector{wake: make(chan struct{}, 128)}
}

func (c *collector) record(msg message.Message) error {
	c.mu.Lock()
	c.got = append(c.got, msg)
	c.mu.Unlock()
	c.wake <- struct{}{}
	return nil
}

func (c *collector) waitFor(t *testing.T, n int) []message.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.got) >= n {
			out := append([]message.Message(nil), c.got...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.wake:
		case <-deadline:
			t.Fatalf("timed out waiting for %d deliveries", n)
		}
	}
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func TestBus_Subscribe(t *testing.T) {
	t.Parallel()

	t.Run("delivers to matching type", func(t *testing.T) {
		t.Parallel()

		b := bus.New("test")
		defer func() { _ = b.Stop() }()

		c := newCollector()
		require.NoError(t, b.Subscribe(bus.HandlerOf(func(evt OrderPlaced) error {
			return c.record(evt)
		})))

		require.NoError(t, b.Publish(OrderPlaced{Envelope: message.NewEnvelope(), Total: 42}))

		got := c.waitFor(t, 1)
		assert.Equal(t, 42, got[0].(OrderPlaced).Total)
	})

	t.Run("does not deliver other types", func(t *testing.T) {
		t.Parallel()

		b := bus.New("test")
		defer func() { _ = b.Stop() }()

		c := newCollector()
		require.NoError(t, b.Subscribe(bus.HandlerOf(func(evt OrderPlaced) error {
			return c.record(evt)
		})))

		require.NoError(t, b.Publish(OrderShipped{Envelope: message.NewEnvelope()}))
		time.Sleep(50 * time.Millisecond)

		assert.Zero(t, c.count())
	})

	t.Run("nil handler", func(t *testing.T) {
		t.Parallel()

		b := bus.New("test")
		defer func() { _ = b.Stop() }()

		assert.ErrorIs(t, b.Subscribe(nil), bus.ErrNilHandler)
	})

	t.Run("same handler instance twice", func(t *testing.T) {
		t.Parallel()

		b := bus.New("test")
		defer func() { _ = b.Stop() }()

		h := bus.HandlerOf(func(evt OrderPlaced) error { return nil })
		require.NoError(t, b.Subscribe(h))
		assert.ErrorIs(t, b.Subscribe(h), bus.ErrAlreadySubscribed)
	})

	t.Run("independent handlers for the same type", func(t *testing.T) {
		t.Parallel()

		b := bus.New("test")
		defer func() { _ = b.Stop() }()

		first := newCollector()
		second := newCollector()
		require.NoError(t, b.Subscribe(bus.HandlerOf(func(evt OrderPlaced) error {
			return first.record(evt)
		})))
		require.NoError(t, b.Subscribe(bus.HandlerOf(func(evt OrderPlaced) error {
			return second.record(evt)
		})))

		require.NoError(t, b.Publish(OrderPlaced{Envelope: message.NewEnvelope()}))

		first.waitFor(t, 1)
		second.waitFor(t, 1)
	})
}

func TestBus_SubscribeGroup(t *testing.T) {
	t.Parallel()

	t.Run("requires a registry", func(t *testing.T) {
		t.Parallel()

		b := bus.New("test")
		defer func() { _ = b.Stop() }()

		h := bus.HandlerOf(func(evt OrderPlaced) error { return nil })
		assert.ErrorIs(t, b.SubscribeGroup("orders", h), bus.ErrGroupRequiresRegistry)
	})

	t.Run("matches every type in the group", func(t *testing.T) {
		t.Parallel()

		reg := message.NewRegistry()
		require.NoError(t, message.Register[OrderPlaced](reg, "orders"))
		require.NoError(t, message.Register[OrderShipped](reg, "orders"))

		b := bus.New("test", bus.WithRegistry(reg))
		defer func() { _ = b.Stop() }()

		c := newCollector()
		h := &groupHandler{c: c}
		require.NoError(t, b.SubscribeGroup("orders", h))

		require.NoError(t, b.Publish(OrderPlaced{Envelope: message.NewEnvelope()}))
		require.NoError(t, b.Publish(OrderShipped{Envelope: message.NewEnvelope()}))

		c.waitFor(t, 2)
	})

	t.Run("matches types registered after subscribing", func(t *testing.T) {
		t.Parallel()

		reg := message.NewRegistry()
		b := bus.New("test", bus.WithRegistry(reg))
		defer func() { _ = b.Stop() }()

		c := newCollector()
		h := &groupHandler{c: c}
		require.NoError(t, b.SubscribeGroup("orders", h))

		require.NoError(t, message.Register[OrderPlaced](reg, "orders"))
		require.NoError(t, b.Publish(OrderPlaced{Envelope: message.NewEnvelope()}))

		c.waitFor(t, 1)
	})
}

type groupHandler struct{ c *collector }

func (h *groupHandler) MessageType() string { return "group:orders" }

func (h *groupHandler) Handle(msg message.Message) error { return h.c.record(msg) }

func TestBus_Publish(t *testing.T) {
	t.Parallel()

	t.Run("zero subscribers is legal", func(t *testing.T) {
		t.Parallel()

		b := bus.New("test")
		defer func() { _ = b.Stop() }()

		assert.NoError(t, b.Publish(OrderPlaced{Envelope: message.NewEnvelope()}))
	})

	t.Run("slow subscriber does not delay others", func(t *testing.T) {
		t.Parallel()

		b := bus.New("test")
		defer func() { _ = b.Stop() }()

		block := make(chan struct{})
		defer close(block)
		require.NoError(t, b.Subscribe(bus.HandlerOf(func(evt OrderPlaced) error {
			<-block
			return nil
		})))

		fast := newCollector()
		require.NoError(t, b.Subscribe(bus.HandlerOf(func(evt OrderPlaced) error {
			return fast.record(evt)
		})))

		require.NoError(t, b.Publish(OrderPlaced{Envelope: message.NewEnvelope()}))
		fast.waitFor(t, 1)
	})

	t.Run("per-subscriber order preserved", func(t *testing.T) {
		t.Parallel()

		b := bus.New("test")
		defer func() { _ = b.Stop() }()

		c := newCollector()
		require.NoError(t, b.Subscribe(bus.HandlerOf(func(evt OrderPlaced) error {
			return c.record(evt)
		})))

		const total = 100
		for i := 0; i < total; i++ {
			require.NoError(t, b.Publish(OrderPlaced{Envelope: message.NewEnvelope(), Total: i}))
		}

		got := c.waitFor(t, total)
		for i, msg := range got {
			require.Equal(t, i, msg.(OrderPlaced).Total)
		}
	})
}

func TestBus_Unsubscribe(t *testing.T) {
	t.Parallel()

	t.Run("stops future deliveries", func(t *testing.T) {
		t.Parallel()

		b := bus.New("test")
		defer func() { _ = b.Stop() }()

		c := newCollector()
		h := bus.HandlerOf(func(evt OrderPlaced) error { return c.record(evt) })
		require.NoError(t, b.Subscribe(h))
		require.NoError(t, b.Unsubscribe(h))

		require.NoError(t, b.Publish(OrderPlaced{Envelope: message.NewEnvelope()}))
		time.Sleep(50 * time.Millisecond)

		assert.Zero(t, c.count())
	})

	t.Run("unknown handler", func(t *testing.T) {
		t.Parallel()

		b := bus.New("test")
		defer func() { _ = b.Stop() }()

		h := bus.HandlerOf(func(evt OrderPlaced) error { return nil })
		assert.ErrorIs(t, b.Unsubscribe(h), bus.ErrNotSubscribed)
	})
}

func TestBus_Stop(t *testing.T) {
	t.Parallel()

	b := bus.New("test")

	c := newCollector()
	require.NoError(t, b.Subscribe(bus.HandlerOf(func(evt OrderPlaced) error {
		return c.record(evt)
	})))

	require.NoError(t, b.Publish(OrderPlaced{Envelope: message.NewEnvelope()}))
	require.NoError(t, b.Stop())

	assert.Equal(t, 1, c.count(), "stop must drain in-flight deliveries")
	assert.ErrorIs(t, b.Publish(OrderPlaced{Envelope: message.NewEnvelope()}), bus.ErrBusStopped)
	assert.ErrorIs(t, b.Stop(), bus.ErrBusStopped)
	h := bus.HandlerOf(func(evt OrderPlaced) error { return nil })
	assert.ErrorIs(t, b.Subscribe(h), bus.ErrBusStopped)
}
