// Package transport defines the contract shared by the UDP and TCP
// transports: a pull-model Receive/Send loop over an opaque Message
// envelope, so the application loop in
// internal/rulerd can drive either transport identically.
package transport

import (
	"context"
	"net"

	"github.com/hydraforge/rulerd/internal/dnswire"
)

// Message is the envelope a transport hands to the application loop: the
// raw bytes received, the parsed Packet (nil if parsing failed), the
// remote peer, and an opaque per-transport handle Send uses to route the
// reply back to the right socket/connection.
type Message struct {
	Raw    []byte
	Packet *dnswire.Packet
	Remote net.Addr

	// Handle is opaque to callers; each transport interprets its own
	// handle type in Send (e.g. a *net.UDPAddr for UDP, a connection
	// cache key for TCP).
	Handle any
}

// Transport is implemented by internal/transport/udp.Transport and
// internal/transport/tcp.Transport.
type Transport interface {
	// Start binds the listening socket and, for transports that run an
	// internal event loop (TCP), starts it. Must be called before
	// Receive. A bind failure here is fatal.
	Start(ctx context.Context) error

	// Receive blocks until a message is available, ctx is cancelled, or
	// an unrecoverable transport error occurs. A malformed-message
	// (InvalidMessageError) result is reported via the returned error
	// with msg non-nil but msg.Packet nil, letting the caller log and
	// continue without a reply.
	Receive(ctx context.Context) (*Message, error)

	// Send serializes reply and routes it back to msg's origin.
	Send(ctx context.Context, msg *Message, reply *dnswire.Packet) error

	// Close shuts down the listening socket and any cached connections.
	Close() error
}
