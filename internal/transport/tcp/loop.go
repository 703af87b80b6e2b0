package tcp

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hydraforge/rulerd/internal/dnswire"
	"github.com/hydraforge/rulerd/internal/transport"
)

// loop is the event-loop goroutine started by Start:
//
//  1. if the ready-queue is non-empty, pop the next connection; evict and
//     continue if it fails viability;
//  2. otherwise block on the selector for up to SelectTimeout;
//  3. for each ready descriptor: accept new connections on the listener,
//     or mark cached connections ready and bump their last-data-time;
//  4. if no events fired and the last cleanup was over CleanupInterval
//     ago, run cleanup.
func (t *Transport) loop(ctx context.Context) {
	events := make([]unix.EpollEvent, maxEpollEvents)
	t.lastClean = time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closed:
			return
		default:
		}

		t.mu.Lock()
		fd, havePending := t.cache.popReady()
		t.mu.Unlock()

		if havePending {
			t.mu.Lock()
			_, stillCached := t.cache.get(fd)
			t.mu.Unlock()
			if !stillCached {
				continue
			}
			if !viable(fd) {
				t.mu.Lock()
				t.evictLocked(fd)
				t.mu.Unlock()
				continue
			}
			t.readOne(fd)
			continue
		}

		n, err := unix.EpollWait(t.epfd, events, int(t.cfg.SelectTimeout.Milliseconds()))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			select {
			case t.loopErr <- err:
			default:
			}
			continue
		}

		if n == 0 {
			if time.Since(t.lastClean) >= t.cfg.CleanupInterval {
				t.runCleanup()
			}
			continue
		}

		for i := 0; i < n; i++ {
			evFD := int(events[i].Fd)
			if evFD == t.listenFD {
				t.acceptAll()
				continue
			}
			t.mu.Lock()
			e, ok := t.cache.get(evFD)
			if !ok {
				t.mu.Unlock()
				continue
			}
			if !viable(evFD) {
				t.evictLocked(evFD)
				t.mu.Unlock()
				continue
			}
			e.lastData = time.Now()
			t.cache.markReady(evFD)
			t.mu.Unlock()
		}
	}
}

// acceptAll drains the listener's accept queue: a single readiness
// event on the listening socket can represent more than one pending
// connection.
func (t *Transport) acceptAll() {
	for {
		fd, sa, err := unix.Accept4(t.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			return
		}
		// Reads happen off the select loop, bounded by a per-read
		// socket timeout instead of non-blocking retries; clear
		// O_NONBLOCK so a read simply blocks up to that timeout.
		_ = unix.SetNonblock(fd, false)

		if err := unix.EpollCtl(t.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}); err != nil {
			_ = unix.Close(fd)
			continue
		}

		remote := remoteString(sa)
		t.mu.Lock()
		t.cache.add(&entry{fd: fd, remote: remote, lastData: time.Now()})
		t.mu.Unlock()
	}
}

// readOne reads exactly one length-prefixed frame from fd and pushes it
// to the output channel. A parse failure or I/O error drops the
// connection.
func (t *Transport) readOne(fd int) {
	_ = setReadTimeout(fd, t.cfg.ReadTimeout)

	lenBuf := make([]byte, 2)
	if err := readFull(fd, lenBuf); err != nil {
		t.mu.Lock()
		t.evictLocked(fd)
		t.mu.Unlock()
		return
	}
	msgLen := int(binary.BigEndian.Uint16(lenBuf))
	if msgLen == 0 {
		return
	}

	_ = setReadTimeout(fd, t.cfg.ReadTimeout)
	body := make([]byte, msgLen)
	if err := readFull(fd, body); err != nil {
		t.mu.Lock()
		t.evictLocked(fd)
		t.mu.Unlock()
		return
	}

	msg := &transport.Message{Raw: body, Handle: fd}
	t.mu.Lock()
	if e, ok := t.cache.get(fd); ok {
		msg.Remote = tcpAddrFromString(e.remote)
	}
	t.mu.Unlock()

	pkt, err := dnswire.ParsePacket(body)
	if err != nil {
		select {
		case t.out <- msg:
		default:
		}
		t.mu.Lock()
		t.evictLocked(fd)
		t.mu.Unlock()
		return
	}
	msg.Packet = &pkt

	select {
	case t.out <- msg:
	default:
		// Receiver not keeping up; drop rather than block the single
		// event-loop goroutine indefinitely.
	}
}

// runCleanup executes the cache's two-pass eviction algorithm and records
// the cleanup time.
func (t *Transport) runCleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.cleanup(t.cfg.Keepalive, t.cfg.CacheCap, t.cfg.VacuumTarget, t.evictLocked)
	t.lastClean = time.Now()
}

// evictLocked closes fd's socket, deregisters it from epoll, and removes
// it from the cache. Caller must hold t.mu.
func (t *Transport) evictLocked(fd int) {
	_ = unix.EpollCtl(t.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	_ = unix.Shutdown(fd, unix.SHUT_RDWR)
	_ = unix.Close(fd)
	t.cache.remove(fd)
}

func readFull(fd int, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := unix.Read(fd, buf[read:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			return io.EOF
		}
		read += n
	}
	return nil
}

func writeAll(fd int, buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := unix.Write(fd, buf[written:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		written += n
	}
	return nil
}

func setReadTimeout(fd int, d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

func setWriteTimeout(fd int, d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv)
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET)
}

func sockaddr4(host string, port int) (unix.Sockaddr, error) {
	sa := &unix.SockaddrInet4{Port: port}
	if host == "" || host == "0.0.0.0" {
		return sa, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip4", host)
		if err != nil {
			return nil, err
		}
		ip = resolved.IP
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, errors.New("tcp: address is not IPv4")
	}
	copy(sa.Addr[:], ip4)
	return sa, nil
}

func remoteString(sa unix.Sockaddr) string {
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return ""
	}
	ip := net.IPv4(sa4.Addr[0], sa4.Addr[1], sa4.Addr[2], sa4.Addr[3])
	return net.JoinHostPort(ip.String(), strconv.Itoa(sa4.Port))
}

func tcpAddrFromString(s string) net.Addr {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil
	}
	return &net.TCPAddr{IP: net.ParseIP(host), Port: port}
}
