// Package bus implements the publish/subscribe message bus.
//
// Each subscription owns its own QueuedHandler, so a slow or failing
// subscriber never delays delivery to another. Publish enqueues the
// message onto every matching subscription and returns; it never blocks
// the caller beyond the enqueue itself.
//
// Subscriptions match either an exact message type or a registry group
// (wildcard): subscribing to the "command" group receives every type
// registered as a member of that group.
//
// Example:
//
//	b := bus.New("main", bus.WithRegistry(reg))
//	sub := bus.HandlerOf(func(evt OrderPlaced) error {
//	    return project(evt)
//	})
//	b.Subscribe(sub)
//	b.Publish(OrderPlaced{Envelope: message.NewEnvelope(), OrderID: id})
package bus
