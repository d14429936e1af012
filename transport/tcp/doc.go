// Package tcp bridges two buses over a single point-to-point TCP link
// using the length-prefix wire format from core/wire.
//
// A Server listens for one side of the bridge; a Client dials the other
// and retries with a fixed backoff until connected. Each connection runs
// one read loop and one write loop; inbound frames are decoded and
// republished on the local bus, outbound messages published locally are
// serialized, framed, and queued for the socket.
//
// Messages that arrived from the peer are remembered by id and skipped by
// the outbound path, so a bridged message never bounces back to its
// origin (echo suppression).
//
// Commands sent through Client.Send are matched to their responses by
// command id, not arrival order, so concurrent commands may be in flight
// simultaneously. A connection loss resolves every in-flight command with
// a Failed response; callers never hang.
//
// Both peers must register the message types they exchange, including
// message.CommandResponse, in the registry behind the serializer.
package tcp
