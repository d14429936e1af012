package message

import (
	"context"
	"sync"
)

// CancelToken is a cooperative cancellation flag for commands. Handlers
// poll IsCanceled or register cleanup callbacks via OnCancel; the bus never
// forcibly interrupts a running handler.
//
// A nil *CancelToken is valid and behaves as a token that never cancels,
// so commands without cancellation need no special casing.
type CancelToken struct {
	mu        sync.Mutex
	canceled  bool
	callbacks []func()
}

// NewCancelToken creates an unfired cancellation token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// TokenFromContext creates a token that fires when the context is done.
// The watch goroutine exits once the context is canceled.
func TokenFromContext(ctx context.Context) *CancelToken {
	t := NewCancelToken()
	go func() {
		<-ctx.Done()
		t.Cancel()
	}()
	return t
}

// Cancel fires the token and runs all registered callbacks exactly once.
// Subsequent calls are no-ops.
func (t *CancelToken) Cancel() {
	if t == nil {
		return
	}

	t.mu.Lock()
	if t.canceled {
		t.mu.Unlock()
		return
	}
	t.canceled = true
	callbacks := t.callbacks
	t.callbacks = nil
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// IsCanceled reports whether the token has fired.
func (t *CancelToken) IsCanceled() bool {
	if t == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// OnCancel registers a cleanup callback. If the token has already fired,
// the callback runs immediately in the caller's goroutine.
func (t *CancelToken) OnCancel(fn func()) {
	if t == nil || fn == nil {
		return
	}

	t.mu.Lock()
	if t.canceled {
		t.mu.Unlock()
		fn()
		return
	}
	t.callbacks = append(t.callbacks, fn)
	t.mu.Unlock()
}
