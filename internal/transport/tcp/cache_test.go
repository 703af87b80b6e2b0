package tcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheReadyQueueIsFIFO(t *testing.T) {
	c := newCache()
	c.add(&entry{fd: 1, lastData: time.Now()})
	c.add(&entry{fd: 2, lastData: time.Now()})
	c.add(&entry{fd: 3, lastData: time.Now()})

	c.markReady(2)
	c.markReady(1)
	c.markReady(3)

	fd, ok := c.popReady()
	require.True(t, ok)
	assert.Equal(t, 2, fd)

	fd, ok = c.popReady()
	require.True(t, ok)
	assert.Equal(t, 1, fd)

	fd, ok = c.popReady()
	require.True(t, ok)
	assert.Equal(t, 3, fd)

	_, ok = c.popReady()
	assert.False(t, ok)
}

func TestCacheMarkReadyIsIdempotent(t *testing.T) {
	c := newCache()
	c.add(&entry{fd: 1, lastData: time.Now()})

	c.markReady(1)
	c.markReady(1)

	assert.Len(t, c.ready, 1)
}

func TestCacheRemoveDropsFromReadyQueue(t *testing.T) {
	c := newCache()
	c.add(&entry{fd: 1, lastData: time.Now()})
	c.add(&entry{fd: 2, lastData: time.Now()})
	c.markReady(1)
	c.markReady(2)

	c.remove(1)

	fd, ok := c.popReady()
	require.True(t, ok)
	assert.Equal(t, 2, fd)
	_, ok = c.get(1)
	assert.False(t, ok)
}

// TestCacheCleanupEvictsIdleConnections exercises the first pass of
// cleanup directly: connections idle past keepalive are evicted even
// though the cache is under cap.
func TestCacheCleanupEvictsIdleConnections(t *testing.T) {
	c := newCache()
	c.probe = func(int) bool { return true }
	c.add(&entry{fd: 1, lastData: time.Now().Add(-time.Hour)})
	c.add(&entry{fd: 2, lastData: time.Now()})

	var evicted []int
	c.cleanup(time.Minute, 200, 180, func(fd int) {
		evicted = append(evicted, fd)
		c.remove(fd)
	})

	assert.Equal(t, []int{1}, evicted)
	assert.Equal(t, 1, c.len())
}

// TestCacheCleanupEvictsNonViableConnections: a connection that fails
// the viability probe is evicted regardless of how recently it had data.
func TestCacheCleanupEvictsNonViableConnections(t *testing.T) {
	c := newCache()
	c.probe = func(fd int) bool { return fd != 2 }
	c.add(&entry{fd: 1, lastData: time.Now()})
	c.add(&entry{fd: 2, lastData: time.Now()})

	var evicted []int
	c.cleanup(time.Minute, 200, 180, func(fd int) {
		evicted = append(evicted, fd)
		c.remove(fd)
	})

	assert.Equal(t, []int{2}, evicted)
}

// TestCacheCleanupVacuumsToTarget exercises the second pass: once over
// cap, the cache is vacuumed down to vacuumTarget by oldest-last-data-time
// first, leaving ready-queue entries untouched.
func TestCacheCleanupVacuumsToTarget(t *testing.T) {
	c := newCache()
	c.probe = func(int) bool { return true }
	base := time.Now()
	for i := 1; i <= 5; i++ {
		c.add(&entry{fd: i, lastData: base.Add(time.Duration(i) * time.Second)})
	}
	// fd 5 is mid-request; must survive the vacuum regardless of age.
	c.markReady(5)

	var evicted []int
	c.cleanup(time.Hour, 3, 2, func(fd int) {
		evicted = append(evicted, fd)
		c.remove(fd)
	})

	assert.LessOrEqual(t, c.len(), 3)
	assert.NotContains(t, evicted, 5)
	assert.Contains(t, evicted, 1)
	assert.Contains(t, evicted, 2)
}
