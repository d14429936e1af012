package command_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybus/relaybus/core/command"
	"github.com/relaybus/relaybus/core/message"
)

type DebitAccount struct {
	message.CommandEnvelope
	Amount int `json:"amount"`
}

type CreditAccount struct {
	message.CommandEnvelope
	Amount int `json:"amount"`
}

func TestDispatcher_Subscribe(t *testing.T) {
	t.Parallel()

	t.Run("duplicate keeps the original", func(t *testing.T) {
		t.Parallel()

		d, err := command.New("test")
		require.NoError(t, err)
		defer func() { _ = d.Stop() }()

		var handledBy string
		require.NoError(t, d.Subscribe(command.HandlerOf(func(_ context.Context, cmd DebitAccount) error {
			handledBy = "first"
			return nil
		})))

		err = d.Subscribe(command.HandlerOf(func(_ context.Context, cmd DebitAccount) error {
			handledBy = "second"
			return nil
		}))
		require.ErrorIs(t, err, command.ErrDuplicateHandler)

		resp, err := d.Send(DebitAccount{CommandEnvelope: message.NewCommand()})
		require.NoError(t, err)
		assert.Equal(t, message.Success, resp.Kind)
		assert.Equal(t, "first", handledBy)
	})

	t.Run("nil handler", func(t *testing.T) {
		t.Parallel()

		d, err := command.New("test")
		require.NoError(t, err)
		defer func() { _ = d.Stop() }()

		assert.Error(t, d.Subscribe(nil))
	})
}

func TestDispatcher_Send(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		d, err := command.New("test")
		require.NoError(t, err)
		defer func() { _ = d.Stop() }()

		require.NoError(t, d.Subscribe(command.HandlerOf(func(_ context.Context, cmd DebitAccount) error {
			return nil
		})))

		cmd := DebitAccount{CommandEnvelope: message.NewCommand(), Amount: 10}
		resp, err := d.Send(cmd)
		require.NoError(t, err)

		assert.Equal(t, message.Success, resp.Kind)
		assert.Equal(t, cmd.MsgID(), resp.CommandID)
		assert.Equal(t, cmd.CorrelationID(), resp.CorrelationID())
		assert.Equal(t, cmd.MsgID(), resp.CausationID())
	})

	t.Run("handler error maps to failed", func(t *testing.T) {
		t.Parallel()

		d, err := command.New("test")
		require.NoError(t, err)
		defer func() { _ = d.Stop() }()

		require.NoError(t, d.Subscribe(command.HandlerOf(func(_ context.Context, cmd DebitAccount) error {
			return assert.AnError
		})))

		resp, err := d.Send(DebitAccount{CommandEnvelope: message.NewCommand()})
		require.NoError(t, err)

		assert.Equal(t, message.Failed, resp.Kind)
		assert.ErrorIs(t, resp.Err(), assert.AnError)
	})

	t.Run("handler panic maps to failed", func(t *testing.T) {
		t.Parallel()

		d, err := command.New("test")
		require.NoError(t, err)
		defer func() { _ = d.Stop() }()

		require.NoError(t, d.Subscribe(command.HandlerOf(func(_ context.Context, cmd DebitAccount) error {
			panic("boom")
		})))

		resp, err := d.Send(DebitAccount{CommandEnvelope: message.NewCommand()})
		require.NoError(t, err)

		assert.Equal(t, message.Failed, resp.Kind)
		assert.Contains(t, resp.Reason, "boom")
	})

	t.Run("no handler is a call-time error", func(t *testing.T) {
		t.Parallel()

		d, err := command.New("test")
		require.NoError(t, err)
		defer func() { _ = d.Stop() }()

		_, err = d.Send(DebitAccount{CommandEnvelope: message.NewCommand()})
		assert.ErrorIs(t, err, command.ErrNoHandler)
	})

	t.Run("nil command", func(t *testing.T) {
		t.Parallel()

		d, err := command.New("test")
		require.NoError(t, err)
		defer func() { _ = d.Stop() }()

		_, err = d.Send(nil)
		assert.ErrorIs(t, err, command.ErrNilCommand)
	})

	t.Run("send after stop", func(t *testing.T) {
		t.Parallel()

		d, err := command.New("test")
		require.NoError(t, err)
		require.NoError(t, d.Stop())

		_, err = d.Send(DebitAccount{CommandEnvelope: message.NewCommand()})
		assert.ErrorIs(t, err, command.ErrDispatcherStopped)
	})
}

func TestDispatcher_Timeout(t *testing.T) {
	t.Parallel()

	t.Run("deadline elapses before the handler finishes", func(t *testing.T) {
		t.Parallel()

		d, err := command.New("test")
		require.NoError(t, err)
		defer func() { _ = d.Stop() }()

		block := make(chan struct{})
		defer close(block)
		require.NoError(t, d.Subscribe(command.HandlerOf(func(_ context.Context, cmd DebitAccount) error {
			<-block
			return nil
		})))

		start := time.Now()
		resp, err := d.SendTimeout(DebitAccount{CommandEnvelope: message.NewCommand()}, 50*time.Millisecond)
		require.NoError(t, err)

		assert.Equal(t, message.Canceled, resp.Kind)
		assert.ErrorIs(t, resp.Err(), message.ErrCanceled)
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, int64(1), d.Stats().TimedOut)
	})

	t.Run("late handler result is dropped", func(t *testing.T) {
		t.Parallel()

		d, err := command.New("test")
		require.NoError(t, err)
		defer func() { _ = d.Stop() }()

		release := make(chan struct{})
		require.NoError(t, d.Subscribe(command.HandlerOf(func(_ context.Context, cmd DebitAccount) error {
			<-release
			return nil
		})))

		resp, err := d.SendTimeout(DebitAccount{CommandEnvelope: message.NewCommand()}, 20*time.Millisecond)
		require.NoError(t, err)
		require.Equal(t, message.Canceled, resp.Kind)

		// The handler completing afterwards must not disturb anything.
		close(release)
		time.Sleep(20 * time.Millisecond)
		assert.Zero(t, d.Stats().Pending)
	})
}

func TestDispatcher_Cancellation(t *testing.T) {
	t.Parallel()

	t.Run("token fired before processing", func(t *testing.T) {
		t.Parallel()

		d, err := command.New("test")
		require.NoError(t, err)
		defer func() { _ = d.Stop() }()

		require.NoError(t, d.Subscribe(command.HandlerOf(func(_ context.Context, cmd DebitAccount) error {
			t.Error("handler must not run for a canceled command")
			return nil
		})))

		tok := message.NewCancelToken()
		tok.Cancel()
		resp, err := d.Send(DebitAccount{CommandEnvelope: message.NewCancelableCommand(tok)})
		require.NoError(t, err)

		assert.Equal(t, message.Canceled, resp.Kind)
	})

	t.Run("token cancels the handler context", func(t *testing.T) {
		t.Parallel()

		d, err := command.New("test")
		require.NoError(t, err)
		defer func() { _ = d.Stop() }()

		entered := make(chan struct{})
		require.NoError(t, d.Subscribe(command.HandlerOf(func(ctx context.Context, cmd DebitAccount) error {
			close(entered)
			<-ctx.Done()
			return message.ErrCanceled
		})))

		tok := message.NewCancelToken()
		go func() {
			<-entered
			tok.Cancel()
		}()

		resp, err := d.SendTimeout(DebitAccount{CommandEnvelope: message.NewCancelableCommand(tok)}, 5*time.Second)
		require.NoError(t, err)

		assert.Equal(t, message.Canceled, resp.Kind)
	})
}

func TestDispatcher_Ordering(t *testing.T) {
	t.Parallel()

	// Commands derived from the same root share a correlation id and must
	// execute in send order even with a multi-worker pool.
	d, err := command.New("test", command.WithPoolSize(4), command.WithDefaultTimeout(5*time.Second))
	require.NoError(t, err)
	defer func() { _ = d.Stop() }()

	var (
		mu   sync.Mutex
		seen []int
	)
	require.NoError(t, d.Subscribe(command.HandlerOf(func(_ context.Context, cmd DebitAccount) error {
		mu.Lock()
		seen = append(seen, cmd.Amount)
		mu.Unlock()
		return nil
	})))

	root := message.NewEnvelope()
	const total = 50

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		cmd := DebitAccount{
			CommandEnvelope: message.CommandFrom(root),
			Amount:          i,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := d.Send(cmd)
			assert.NoError(t, err)
			assert.Equal(t, message.Success, resp.Kind)
		}()
		// Give the enqueue a head start so arrival order matches send
		// order; delivery order past that point is the property under
		// test.
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, total)
	for i, n := range seen {
		require.Equal(t, i, n, "same-correlation commands must run in send order")
	}
}

func TestDispatcher_DistinctTypes(t *testing.T) {
	t.Parallel()

	d, err := command.New("test")
	require.NoError(t, err)
	defer func() { _ = d.Stop() }()

	require.NoError(t, d.Subscribe(command.HandlerOf(func(_ context.Context, cmd DebitAccount) error {
		return nil
	})))
	require.NoError(t, d.Subscribe(command.HandlerOf(func(_ context.Context, cmd CreditAccount) error {
		return assert.AnError
	})))

	debit, err := d.Send(DebitAccount{CommandEnvelope: message.NewCommand()})
	require.NoError(t, err)
	credit, err := d.Send(CreditAccount{CommandEnvelope: message.NewCommand()})
	require.NoError(t, err)

	assert.Equal(t, message.Success, debit.Kind)
	assert.Equal(t, message.Failed, credit.Kind)
}

func TestDispatcher_Stats(t *testing.T) {
	t.Parallel()

	d, err := command.New("test")
	require.NoError(t, err)
	defer func() { _ = d.Stop() }()

	require.NoError(t, d.Subscribe(command.HandlerOf(func(_ context.Context, cmd DebitAccount) error {
		return nil
	})))

	for i := 0; i < 3; i++ {
		_, err := d.Send(DebitAccount{CommandEnvelope: message.NewCommand()})
		require.NoError(t, err)
	}

	stats := d.Stats()
	assert.Equal(t, int64(3), stats.Sent)
	assert.Zero(t, stats.Pending)
	assert.True(t, stats.IsRunning)
}

func TestDispatcher_NewFromConfig(t *testing.T) {
	t.Parallel()

	cfg := command.DefaultConfig()
	cfg.PoolSize = 2
	cfg.DefaultTimeout = time.Second

	d, err := command.NewFromConfig("test", cfg)
	require.NoError(t, err)
	defer func() { _ = d.Stop() }()

	require.NoError(t, d.Subscribe(command.HandlerOf(func(_ context.Context, cmd DebitAccount) error {
		return nil
	})))

	resp, err := d.Send(DebitAccount{CommandEnvelope: message.NewCommand()})
	require.NoError(t, err)
	assert.Equal(t, message.Success, resp.Kind)
}
