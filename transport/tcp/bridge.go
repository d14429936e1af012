package tcp

import (
	"github.com/relaybus/relaybus/core/message"
)

// bridgedType reports whether the message's type belongs to one of the
// bridged registry groups, meaning a locally republished copy will pass
// an outbound bridge subscription on its way back out.
func bridgedType(reg *message.Registry, groups []string, msg message.Message) bool {
	if reg == nil {
		return false
	}
	name := message.TypeNameOf(msg)
	for _, group := range groups {
		if reg.InGroup(name, group) {
			return true
		}
	}
	return false
}

// bridgeHandler adapts a function to the bus.Handler interface for the
// outbound path: it receives every message published locally in a bridged
// group and forwards it to the peer.
type bridgeHandler struct {
	label string
	fn    func(msg message.Message) error
}

func (h *bridgeHandler) MessageType() string { return h.label }

func (h *bridgeHandler) Handle(msg message.Message) error { return h.fn(msg) }
