// Package queue provides the QueuedHandler: a single-worker, strictly
// FIFO dispatch primitive with a non-blocking enqueue.
//
// A QueuedHandler owns one long-lived goroutine that drains an unbounded
// in-memory queue in arrival order and invokes the configured handler per
// message. The worker parks when the queue is empty and wakes on enqueue.
// Handler errors and panics are logged and never kill the worker: one bad
// message must not stop the queue.
//
// Example:
//
//	q := queue.New("orders", func(msg message.Message) error {
//	    return handle(msg)
//	})
//	if err := q.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Stop(5 * time.Second)
//
//	q.Enqueue(msg) // returns immediately
//
// Buses and dispatchers are built out of QueuedHandlers; they are the
// leaves of the dependency graph and depend on nothing but the message
// model.
package queue
