// Package command implements the command bus: routing with
// exactly-one-handler semantics, ordered-per-target dispatch over a fixed
// worker pool, deadline enforcement, and cooperative cancellation.
//
// Commands for the same correlation id always land on the same pool
// worker, preserving their relative order; unrelated commands spread
// across the pool (competing consumers, ordered per key).
//
// Send always resolves to a CommandResponse (Success, Failed, or
// Canceled), never a bare handler error. Only local programming errors
// (no handler registered, nil command) fail at call time.
//
// Example:
//
//	d, err := command.New("main",
//	    command.WithLogger(log),
//	    command.WithPoolSize(4),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer d.Stop()
//
//	err = d.Subscribe(command.HandlerOf(func(ctx context.Context, cmd DepositFunds) error {
//	    return apply(ctx, cmd)
//	}))
//
//	resp, err := d.Send(DepositFunds{CommandEnvelope: message.NewCommand(), Amount: 10})
package command
