package tcp

import (
	"sort"
	"time"

	"golang.org/x/sys/unix"
)

// closeWait is the Linux TCP_CLOSE_WAIT state value from
// <netinet/tcp.h>'s tcp_state enum (TCP_ESTABLISHED=1, ..., 8=CLOSE_WAIT).
// golang.org/x/sys/unix doesn't export the generic tcp_states enum (only
// the BPF conntrack variant, which uses different numbering), so the
// value is reproduced here directly.
const closeWait = 8

// entry is a TCP connection cache entry: the connection, its remote
// address, last-data time, and the fd doubling as both its epoll
// registration and its cache key.
type entry struct {
	fd       int
	remote   string
	lastData time.Time
	inReady  bool
}

// cache owns the set of live connections and their FIFO ready-queue. Not
// safe for concurrent use; its callers (the event loop in loop.go, and
// Send/Close in tcp.go) hold Transport.mu around every access.
// probe is the viability check applied during cleanup, swappable so the
// eviction policy can be tested without real sockets.
type cache struct {
	byFD  map[int]*entry
	ready []int
	probe func(fd int) bool
}

func newCache() *cache {
	return &cache{byFD: make(map[int]*entry), probe: viable}
}

func (c *cache) add(e *entry) {
	c.byFD[e.fd] = e
}

func (c *cache) get(fd int) (*entry, bool) {
	e, ok := c.byFD[fd]
	return e, ok
}

func (c *cache) len() int {
	return len(c.byFD)
}

func (c *cache) markReady(fd int) {
	e, ok := c.byFD[fd]
	if !ok || e.inReady {
		return
	}
	e.inReady = true
	c.ready = append(c.ready, fd)
}

// popReady removes and returns the next ready fd, FIFO order.
func (c *cache) popReady() (int, bool) {
	if len(c.ready) == 0 {
		return 0, false
	}
	fd := c.ready[0]
	c.ready = c.ready[1:]
	if e, ok := c.byFD[fd]; ok {
		e.inReady = false
	}
	return fd, true
}

// remove deletes fd from the cache and the ready queue without closing
// it; the caller is responsible for closing the socket.
func (c *cache) remove(fd int) {
	delete(c.byFD, fd)
	for i, rfd := range c.ready {
		if rfd == fd {
			c.ready = append(c.ready[:i], c.ready[i+1:]...)
			break
		}
	}
}

// viable reports whether fd's socket is still open and not in
// CLOSE_WAIT. CLOSE_WAIT means the peer already sent FIN; acting on a
// readiness event there would only produce a zero-length read.
func viable(fd int) bool {
	info, err := unix.GetsockoptTCPInfo(fd, unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return false
	}
	return info.State != closeWait
}

// cleanup runs the two-pass eviction algorithm:
//
//  1. evict every connection whose idle time exceeds keepalive, or which
//     fails the viability probe, unless it is in the ready-queue;
//  2. if the cache is still over cap, sort the remaining not-in-ready
//     connections by last-data-time ascending and evict enough to reach
//     the vacuum target (or all of them, if too few are quiet).
//
// evict is called once per fd to evict, and is responsible for closing
// the socket, deregistering it from the selector, and removing it from
// the cache.
func (c *cache) cleanup(keepalive time.Duration, cap_, vacuumTarget int, evict func(fd int)) {
	now := time.Now()

	inReady := make(map[int]struct{}, len(c.ready))
	for _, fd := range c.ready {
		inReady[fd] = struct{}{}
	}

	var toEvict []int
	for fd, e := range c.byFD {
		if _, ready := inReady[fd]; ready {
			continue
		}
		if now.Sub(e.lastData) > keepalive || !c.probe(fd) {
			toEvict = append(toEvict, fd)
		}
	}
	for _, fd := range toEvict {
		evict(fd)
	}

	if c.len() <= cap_ {
		return
	}

	type candidate struct {
		fd       int
		lastData time.Time
	}
	var quiet []candidate
	for fd, e := range c.byFD {
		if _, ready := inReady[fd]; ready {
			continue
		}
		quiet = append(quiet, candidate{fd, e.lastData})
	}
	sort.Slice(quiet, func(i, j int) bool {
		return quiet[i].lastData.Before(quiet[j].lastData)
	})

	need := c.len() - vacuumTarget
	if need > len(quiet) {
		need = len(quiet)
	}
	for i := 0; i < need; i++ {
		evict(quiet[i].fd)
	}
}
