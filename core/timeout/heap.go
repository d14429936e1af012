package timeout

import (
	"time"

	"github.com/google/uuid"

	"github.com/relaybus/relaybus/core/message"
)

// Request is a scheduled timeout. It is owned exclusively by the
// Scheduler from Schedule until its callback fires or it is canceled.
type Request struct {
	// TargetID identifies what the timeout guards, typically a command's
	// message id. Cancel retires requests by this key.
	TargetID uuid.UUID

	// Deadline is the instant the callback becomes due.
	Deadline time.Time

	// Source is the message that caused the timeout to be scheduled.
	Source message.Message

	// Callback runs inline on the scheduler goroutine once the deadline
	// passes. It must not block.
	Callback func(Request)

	seq      uint64
	canceled bool
}

// requestHeap is a binary min-heap over deadlines, FIFO on equal
// deadlines via the insertion sequence number. Implements
// container/heap.Interface.
type requestHeap []*Request

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].Deadline.Equal(h[j].Deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].Deadline.Before(h[j].Deadline)
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) { *h = append(*h, x.(*Request)) }

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return r
}
