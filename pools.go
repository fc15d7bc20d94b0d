package qdriver

import (
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// writePool hands out pooled byte buffers for frame assembly: callers
// submitting a query borrow a buffer, append the header and payload,
// send it, and return it.
var writePool bytebufferpool.Pool

func acquireWriteBuf() *bytebufferpool.ByteBuffer { return writePool.Get() }
func releaseWriteBuf(b *bytebufferpool.ByteBuffer) { writePool.Put(b) }

// timerPool recycles the *time.Timer handles backing per-receiver
// timeouts: acquire resets an existing timer rather than allocating,
// release drains a fired-but-unconsumed channel before returning the
// timer to the pool.
type timerKind struct {
	sp sync.Pool
	m  PoolMetrics
}

var timerPool timerKind

// PoolMetrics counts allocations vs. reuse vs. release for a pool, for
// tests and operators wanting pool-pressure visibility.
type PoolMetrics struct {
	na uint32 // number of new acquires
	nr uint32 // number of reuse from pool
	np uint32 // number of put back to pool
}

// Snapshot returns the current (new, reused, released) counts.
func (m *PoolMetrics) Snapshot() (na, nr, np uint32) {
	return atomic.LoadUint32(&m.na), atomic.LoadUint32(&m.nr), atomic.LoadUint32(&m.np)
}

// TimerPoolMetrics reports the per-receiver timer pool's current
// allocation counters.
func TimerPoolMetrics() (na, nr, np uint32) { return timerPool.m.Snapshot() }
