// Package udp implements the UDP transport: a single-threaded,
// request-at-a-time datagram receiver/sender. PooledTransport is the
// parallel variant: a SO_REUSEPORT multi-socket worker farm for
// deployments that want one receive loop per core.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/hydraforge/rulerd/internal/dnswire"
	"github.com/hydraforge/rulerd/internal/transport"
)

// Socket buffer sizes, sized generously for burst handling.
const (
	socketRecvBufferSize = 4 * 1024 * 1024
	socketSendBufferSize = 4 * 1024 * 1024
)

// maxDatagramSize is the classic DNS UDP datagram limit (RFC 1035);
// EDNS0 payload negotiation is not supported.
const maxDatagramSize = 512

// bindRetryInterval and bindRetryTimeout bound the retry loop for
// "address already in use" at bind time.
const (
	bindRetryInterval = 5 * time.Second
	bindRetryTimeout  = 60 * time.Second
)

// Network selects the UDP address family: "udp4" or "udp6".
type Network string

const (
	NetworkV4 Network = "udp4"
	NetworkV6 Network = "udp6"
)

// Transport is the single-threaded default: one socket, one request in
// flight at a time, no worker pool.
type Transport struct {
	network Network
	addr    string

	conn *net.UDPConn
}

// New builds a Transport bound to addr (host:port) over network once
// Start is called.
func New(network Network, addr string) *Transport {
	return &Transport{network: network, addr: addr}
}

// Start binds the datagram socket, retrying on "address already in use"
// until the retry window runs out. A failure here is fatal to the
// caller.
func (t *Transport) Start(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr(string(t.network), t.addr)
	if err != nil {
		return fmt.Errorf("udp: resolving %q: %w", t.addr, err)
	}

	deadline := time.Now().Add(bindRetryTimeout)
	var lastErr error
	for {
		conn, err := net.ListenUDP(string(t.network), udpAddr)
		if err == nil {
			_ = conn.SetReadBuffer(socketRecvBufferSize)
			_ = conn.SetWriteBuffer(socketSendBufferSize)
			t.conn = conn
			return nil
		}
		lastErr = err
		if !isAddrInUse(err) {
			return fmt.Errorf("udp: bind %s: %w", t.addr, err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("udp: bind %s: %w (last error: %v)", t.addr, transport.ErrBindTimeout, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bindRetryInterval):
		}
	}
}

// Receive reads one datagram (up to 512 bytes) and attempts to parse it
// as a DNS packet. A parse failure is reported as
// transport.ErrInvalidMessage with msg.Packet left nil; the caller logs
// and sends no reply.
func (t *Transport) Receive(ctx context.Context) (*transport.Message, error) {
	buf := make([]byte, maxDatagramSize)

	type result struct {
		n    int
		addr *net.UDPAddr
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		n, addr, err := t.conn.ReadFromUDP(buf)
		resultCh <- result{n, addr, err}
	}()

	select {
	case <-ctx.Done():
		_ = t.conn.SetReadDeadline(time.Now())
		<-resultCh
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return nil, fmt.Errorf("udp: receive: %w", r.err)
		}
		raw := append([]byte(nil), buf[:r.n]...)
		msg := &transport.Message{Raw: raw, Remote: r.addr, Handle: r.addr}

		pkt, err := dnswire.ParseRequestBounded(raw)
		if err != nil {
			return msg, fmt.Errorf("udp: %w: %v", transport.ErrInvalidMessage, err)
		}
		msg.Packet = &pkt
		return msg, nil
	}
}

// Send serializes reply and sends it to the remote address the request
// arrived from.
func (t *Transport) Send(_ context.Context, msg *transport.Message, reply *dnswire.Packet) error {
	addr, ok := msg.Handle.(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("udp: message handle is not a *net.UDPAddr")
	}
	data, err := reply.Marshal()
	if err != nil {
		return fmt.Errorf("udp: marshaling reply: %w", err)
	}
	_, err = t.conn.WriteToUDP(data, addr)
	if err != nil {
		return fmt.Errorf("udp: send: %w", err)
	}
	return nil
}

// Close closes the datagram socket.
func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// isAddrInUse reports whether err is the "address already in use" OS
// error the bind-retry-loop is meant to ride out.
func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
