package timeout

import (
	"container/heap"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/relaybus/relaybus/core/logger"
	"github.com/relaybus/relaybus/core/message"
)

const (
	// DefaultCapacity is the number of requests the heap is preallocated
	// for. The heap grows past it without dropping requests.
	DefaultCapacity = 5000

	// lateThreshold is how far past its deadline a callback may fire
	// before the scheduler logs a warning.
	lateThreshold = 100 * time.Millisecond
)

var (
	// ErrSchedulerStopped is returned when scheduling after the scheduler
	// has shut down.
	ErrSchedulerStopped = errors.New("timeout scheduler stopped")

	// ErrSchedulerAlreadyStarted is returned when Start is called twice.
	ErrSchedulerAlreadyStarted = errors.New("timeout scheduler already started")

	// ErrSchedulerNotStarted is returned when stopping a scheduler that is
	// not running.
	ErrSchedulerNotStarted = errors.New("timeout scheduler not started")
)

// Scheduler fires callbacks when deadlines pass. All state is mutated
// under a single lock dedicated to the heap; callbacks run outside it.
type Scheduler struct {
	mu      sync.Mutex
	pending requestHeap
	byKey   map[uuid.UUID][]*Request
	nextSeq uint64
	stopped bool

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	logger *slog.Logger

	// Observability metrics
	scheduled atomic.Int64
	fired     atomic.Int64
	canceled  atomic.Int64
	running   atomic.Bool
}

// Stats provides observability metrics for monitoring and debugging.
type Stats struct {
	Scheduled int64 // Total requests accepted
	Fired     int64 // Callbacks invoked
	Canceled  int64 // Requests retired before firing
	Depth     int   // Requests currently pending
	IsRunning bool  // Whether the scheduler goroutine is active
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger. The default discards all output.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.logger = log
		}
	}
}

// WithCapacity preallocates heap space for n requests.
func WithCapacity(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.pending = make(requestHeap, 0, n)
		}
	}
}

// New creates a Scheduler. Start must be called before deadlines fire.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		pending: make(requestHeap, 0, DefaultCapacity),
		byKey:   make(map[uuid.UUID][]*Request),
		wake:    make(chan struct{}, 1),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Schedule inserts a timeout request. The callback fires once the
// deadline passes, on the scheduler goroutine. Requests are never
// silently dropped; scheduling fails only after Stop.
func (s *Scheduler) Schedule(targetID uuid.UUID, deadline time.Time, source message.Message, callback func(Request)) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}

	s.nextSeq++
	r := &Request{
		TargetID: targetID,
		Deadline: deadline,
		Source:   source,
		Callback: callback,
		seq:      s.nextSeq,
	}
	preempts := len(s.pending) == 0 || deadline.Before(s.pending[0].Deadline)
	heap.Push(&s.pending, r)
	s.byKey[targetID] = append(s.byKey[targetID], r)
	s.mu.Unlock()

	s.scheduled.Add(1)

	// Wake the loop only when the new request becomes the earliest;
	// otherwise the current sleep already covers it.
	if preempts {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Cancel retires every pending request for the target. Returns true if at
// least one request was retired. Canceled requests stay in the heap and
// are discarded when they surface (lazy deletion).
func (s *Scheduler) Cancel(targetID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	requests, ok := s.byKey[targetID]
	if !ok {
		return false
	}
	delete(s.byKey, targetID)

	retired := false
	for _, r := range requests {
		if !r.canceled {
			r.canceled = true
			retired = true
			s.canceled.Add(1)
		}
	}
	return retired
}

// Start runs the scheduling loop until the context is cancelled. This is
// a blocking operation; use Run for the errgroup pattern or call it in a
// goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrSchedulerAlreadyStarted
	}
	if s.stopped {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.running.Store(true)
	defer s.running.Store(false)
	defer close(s.done)

	s.logger.Info("timeout scheduler started")

	for {
		fired := s.fireDue()
		if fired > 0 {
			// New requests may have become due while callbacks ran.
			continue
		}

		s.mu.Lock()
		var timer *time.Timer
		var timerC <-chan time.Time
		if len(s.pending) > 0 {
			timer = time.NewTimer(time.Until(s.pending[0].Deadline))
			timerC = timer.C
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			s.logger.Info("timeout scheduler stopping")
			return ctx.Err()
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
		}
	}
}

// Stop terminates the scheduling loop and waits for it to exit. Pending
// requests are discarded without firing.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return ErrSchedulerNotStarted
	}
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.stopped = true
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Run provides errgroup compatibility for coordinated lifecycle
// management.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		err := s.Start(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
}

// Stats returns a snapshot of the scheduler's counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	depth := len(s.pending)
	s.mu.Unlock()

	return Stats{
		Scheduled: s.scheduled.Load(),
		Fired:     s.fired.Load(),
		Canceled:  s.canceled.Load(),
		Depth:     depth,
		IsRunning: s.running.Load(),
	}
}

// fireDue pops and invokes every request whose deadline has passed,
// returning the number of callbacks fired. Canceled requests surface here
// and are discarded.
func (s *Scheduler) fireDue() int {
	now := time.Now()

	s.mu.Lock()
	var due []*Request
	for len(s.pending) > 0 && !s.pending[0].Deadline.After(now) {
		r := heap.Pop(&s.pending).(*Request)
		s.dropKey(r)
		if !r.canceled {
			due = append(due, r)
		}
	}
	s.mu.Unlock()

	for _, r := range due {
		if late := now.Sub(r.Deadline); late > lateThreshold {
			s.logger.Warn("timeout fired late",
				slog.String("target_id", r.TargetID.String()),
				logger.Took(late))
		}
		r.Callback(*r)
		s.fired.Add(1)
	}
	return len(due)
}

// dropKey removes one request from the byKey index. Caller holds the lock.
func (s *Scheduler) dropKey(r *Request) {
	requests := s.byKey[r.TargetID]
	for i, candidate := range requests {
		if candidate == r {
			requests = append(requests[:i], requests[i+1:]...)
			break
		}
	}
	if len(requests) == 0 {
		delete(s.byKey, r.TargetID)
	} else {
		s.byKey[r.TargetID] = requests
	}
}
