package udp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hydraforge/rulerd/internal/dnswire"
	"github.com/hydraforge/rulerd/internal/pool"
)

// DefaultWorkersPerSocket bounds in-flight packets per socket.
const DefaultWorkersPerSocket = 1024

var bufferPool = pool.New(func() *[]byte {
	buf := make([]byte, maxDatagramSize)
	return &buf
})

// RawHandler answers one decoded packet, as QueryAdaptor-wrapped chains
// do. Returning a nil reply means no response is sent.
type RawHandler func(*dnswire.Packet) (*dnswire.Packet, error)

// PooledTransport is the parallel UDP variant: one SO_REUSEPORT socket
// per CPU core, each with a fixed worker pool. Unlike the default
// Transport, PooledTransport owns its own run loop rather than exposing
// Receive/Send, since per-packet work happens on worker goroutines, not
// on the caller's pull loop.
type PooledTransport struct {
	Logger           *slog.Logger
	WorkersPerSocket int
	Network          Network

	conns []*net.UDPConn
	wg    sync.WaitGroup
}

type packet struct {
	bufPtr *[]byte
	n      int
	peer   *net.UDPAddr
}

// Run starts one UDP socket per CPU core with SO_REUSEPORT and blocks
// until ctx is cancelled or a socket fails to bind.
func (p *PooledTransport) Run(ctx context.Context, addr string, handle RawHandler) error {
	if p.WorkersPerSocket <= 0 {
		p.WorkersPerSocket = DefaultWorkersPerSocket
	}
	network := p.Network
	if network == "" {
		network = NetworkV4
	}

	socketCount := runtime.NumCPU()
	p.conns = make([]*net.UDPConn, 0, socketCount)

	for range socketCount {
		conn, err := listenReusePort(network, addr)
		if err != nil {
			for _, c := range p.conns {
				_ = c.Close()
			}
			return err
		}
		_ = conn.SetReadBuffer(socketRecvBufferSize)
		_ = conn.SetWriteBuffer(socketSendBufferSize)
		p.conns = append(p.conns, conn)

		packetCh := make(chan packet, p.WorkersPerSocket*2)
		c := conn
		ch := packetCh

		p.wg.Go(func() {
			p.recvLoop(ctx, c, ch)
		})
		for range p.WorkersPerSocket {
			p.wg.Go(func() {
				p.workerLoop(ctx, c, ch, handle)
			})
		}
	}

	<-ctx.Done()
	return p.Stop(5 * time.Second)
}

func (p *PooledTransport) recvLoop(ctx context.Context, conn *net.UDPConn, out chan<- packet) {
	for {
		bufPtr := bufferPool.Get()
		buf := *bufPtr

		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			bufferPool.Put(bufPtr)
			return
		}

		select {
		case out <- packet{bufPtr, n, peer}:
		default:
			bufferPool.Put(bufPtr)
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func (p *PooledTransport) workerLoop(ctx context.Context, conn *net.UDPConn, in <-chan packet, handle RawHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-in:
			if !ok {
				return
			}
			p.handlePacket(conn, pkt, handle)
		}
	}
}

func (p *PooledTransport) handlePacket(conn *net.UDPConn, pk packet, handle RawHandler) {
	defer bufferPool.Put(pk.bufPtr)

	raw := (*pk.bufPtr)[:pk.n]
	parsed, err := dnswire.ParseRequestBounded(raw)
	if err != nil {
		if p.Logger != nil {
			p.Logger.Warn("udp: dropping invalid message", "peer", pk.peer, "err", err)
		}
		return
	}

	reply, err := handle(&parsed)
	if err != nil || reply == nil {
		return
	}
	data, err := reply.Marshal()
	if err != nil {
		return
	}
	_, _ = conn.WriteToUDP(data, pk.peer)
}

// Stop closes every socket and waits up to timeout for worker goroutines
// to drain.
func (p *PooledTransport) Stop(timeout time.Duration) error {
	for _, c := range p.conns {
		_ = c.Close()
	}
	if timeout <= 0 {
		p.wg.Wait()
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("udp: pooled transport: timeout waiting for workers to exit")
	}
}

func listenReusePort(network Network, addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr(string(network), addr)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
		},
	}

	pc, err := lc.ListenPacket(context.Background(), string(network), udpAddr.String())
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
