// Package timeout implements the deadline scheduler used for command
// timeouts. It is the single scheduling authority: callers schedule a
// callback against a deadline and never poll.
//
// Requests live in a binary min-heap keyed by deadline, ties broken by
// insertion order. One scheduler goroutine sleeps until the earliest
// deadline or until an earlier request preempts the sleep, then fires due
// callbacks inline. A callback firing more than 100ms past its deadline
// logs a warning.
//
// Example:
//
//	s := timeout.New(timeout.WithLogger(log))
//	go s.Start(ctx)
//	defer s.Stop()
//
//	s.Schedule(cmd.MsgID(), time.Now().Add(500*time.Millisecond), cmd, onExpired)
//	...
//	s.Cancel(cmd.MsgID()) // response arrived first
package timeout
