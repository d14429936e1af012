// Package message defines the message model shared by every bus component:
// immutable envelopes with correlation metadata, commands with cooperative
// cancellation, command responses, and the type registry used for wildcard
// subscriptions and wire-format decoding.
//
// Every message in one business transaction shares a correlation id; each
// message additionally records the id of the message that caused it. The
// resulting chain forms a tree rooted at the first message and can be
// reconstructed from the two fields alone:
//
//	root := message.NewEnvelope()          // ID == Correlation == Causation
//	child := message.DeriveFrom(root)      // Correlation inherited, Causation = root.ID
//
// Concrete messages are plain structs embedding Envelope (or
// CommandEnvelope for commands):
//
//	type DepositFunds struct {
//	    message.CommandEnvelope
//	    AccountID string `json:"account_id"`
//	    Amount    int64  `json:"amount"`
//	}
//
// The Registry maps type names to small integer ids and reflect.Types, and
// records group ("is-a") memberships so a subscriber can receive every
// member of a group. It is an explicit, constructed-once object handed to
// buses and transports; there is no package-level registry.
package message
