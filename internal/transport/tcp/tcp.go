// Package tcp implements the TCP transport and connection cache: a
// non-blocking accept loop, a size-capped connection cache with idle and
// CLOSE_WAIT eviction, and pipelined per-connection reads per RFC 7766.
//
// Rather than goroutine-per-connection with blocking reads, the
// transport runs a single non-blocking event loop with an explicit cache
// and FIFO ready-queue, built directly on golang.org/x/sys/unix (epoll,
// accept4, TCP_INFO). Keeping the multiplexing explicit is what makes
// the keepalive, viability-probe, and size-pressure eviction policies
// enforceable in one place.
package tcp

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hydraforge/rulerd/internal/dnswire"
	"github.com/hydraforge/rulerd/internal/pool"
	"github.com/hydraforge/rulerd/internal/transport"
)

// Default tuning parameters.
const (
	DefaultSelectTimeout   = 100 * time.Millisecond
	DefaultKeepalive       = 30 * time.Second
	DefaultCacheCap        = 200
	DefaultVacuumTarget    = 180
	DefaultCleanupInterval = 10 * time.Second
	DefaultReadTimeout     = 10 * time.Second

	maxMessageSize = 65535
	maxEpollEvents = 256
)

var lenBufPool = pool.New(func() *[]byte {
	buf := make([]byte, 2)
	return &buf
})

// Config tunes the cache and event loop. Zero values fall back to the
// defaults above.
type Config struct {
	Address         string
	SelectTimeout   time.Duration
	Keepalive       time.Duration
	CacheCap        int
	VacuumTarget    int
	CleanupInterval time.Duration
	ReadTimeout     time.Duration
	Logger          *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.SelectTimeout <= 0 {
		c.SelectTimeout = DefaultSelectTimeout
	}
	if c.Keepalive <= 0 {
		c.Keepalive = DefaultKeepalive
	}
	if c.CacheCap <= 0 {
		c.CacheCap = DefaultCacheCap
	}
	if c.VacuumTarget <= 0 {
		c.VacuumTarget = DefaultVacuumTarget
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	return c
}

// Transport is a single-event-loop TCP transport: one instance owns one
// listening socket, one epoll set, and one connection cache.
type Transport struct {
	cfg Config

	listenFD int
	epfd     int

	mu        sync.Mutex
	cache     *cache
	lastClean time.Time

	out     chan *transport.Message
	loopErr chan error
	closed  chan struct{}
	closeOnce sync.Once
}

// New builds a Transport; call Start to bind and begin the event loop.
func New(cfg Config) *Transport {
	return &Transport{
		cfg:   cfg.withDefaults(),
		cache: newCache(),
		out:   make(chan *transport.Message, 64),
		loopErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

// Start binds the listening socket (non-blocking, SO_REUSEADDR), creates
// the epoll instance, registers the listener, and starts the event loop
// goroutine.
func (t *Transport) Start(ctx context.Context) error {
	host, portStr, err := net.SplitHostPort(t.cfg.Address)
	if err != nil {
		return fmt.Errorf("tcp: parsing address %q: %w", t.cfg.Address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("tcp: invalid port %q: %w", portStr, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("tcp: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("tcp: SO_REUSEADDR: %w", err)
	}

	sa, err := sockaddr4(host, port)
	if err != nil {
		_ = unix.Close(fd)
		return err
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("tcp: bind %s: %w", t.cfg.Address, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("tcp: listen: %w", err)
	}
	t.listenFD = fd

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("tcp: epoll_create1: %w", err)
	}
	t.epfd = epfd
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}); err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(fd)
		return fmt.Errorf("tcp: epoll_ctl listener: %w", err)
	}

	go t.loop(ctx)
	return nil
}

// Addr returns the listening socket's bound local address, useful when
// Config.Address's port is 0 and the kernel assigned one.
func (t *Transport) Addr() (*net.TCPAddr, error) {
	sa, err := unix.Getsockname(t.listenFD)
	if err != nil {
		return nil, err
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return nil, fmt.Errorf("tcp: unexpected sockaddr type %T", sa)
	}
	return &net.TCPAddr{IP: net.IPv4(sa4.Addr[0], sa4.Addr[1], sa4.Addr[2], sa4.Addr[3]), Port: sa4.Port}, nil
}

// Receive blocks for the next fully-assembled, length-prefixed message
// the event loop has read off a cached connection.
func (t *Transport) Receive(ctx context.Context) (*transport.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-t.loopErr:
		return nil, err
	case msg := <-t.out:
		if msg.Packet == nil {
			return msg, fmt.Errorf("tcp: %w", transport.ErrInvalidMessage)
		}
		return msg, nil
	}
}

// Send serializes reply, prepends its 2-byte length, and writes it back
// to msg's originating connection with sendall semantics. A broken pipe
// drops the response and evicts the connection without error, per
// RFC 7766 §6.2.4. The connection is left open after a normal reply to
// support pipelining.
func (t *Transport) Send(_ context.Context, msg *transport.Message, reply *dnswire.Packet) error {
	fd, ok := msg.Handle.(int)
	if !ok {
		return fmt.Errorf("tcp: message handle is not a connection fd")
	}

	data, err := reply.Marshal()
	if err != nil {
		return fmt.Errorf("tcp: marshaling reply: %w", err)
	}
	if len(data) > maxMessageSize {
		return fmt.Errorf("tcp: reply too large (%d bytes)", len(data))
	}

	lenBufPtr := lenBufPool.Get()
	lenBuf := *lenBufPtr
	binary.BigEndian.PutUint16(lenBuf, uint16(len(data)))
	framed := append(append([]byte(nil), lenBuf...), data...)
	lenBufPool.Put(lenBufPtr)

	_ = setWriteTimeout(fd, t.cfg.ReadTimeout)
	if err := writeAll(fd, framed); err != nil {
		t.mu.Lock()
		t.evictLocked(fd)
		t.mu.Unlock()
		if isBrokenPipe(err) {
			return nil
		}
		return fmt.Errorf("tcp: send: %w", err)
	}
	return nil
}

// Close shuts down the listening socket, then iterates the cache and
// removes every connection.
func (t *Transport) Close() error {
	var closeErr error
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.listenFD != 0 {
			closeErr = unix.Close(t.listenFD)
		}
		if t.epfd != 0 {
			_ = unix.Close(t.epfd)
		}

		t.mu.Lock()
		fds := make([]int, 0, t.cache.len())
		for fd := range t.cache.byFD {
			fds = append(fds, fd)
		}
		for _, fd := range fds {
			t.evictLocked(fd)
		}
		t.mu.Unlock()
	})
	return closeErr
}
