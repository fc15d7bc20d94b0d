package qdriver

import (
	"sync/atomic"
	"time"
)

// acquire returns a timer armed to fire after timeout, reusing a
// previously released timer when one is available. There is only ever
// one kind here, the per-receiver timeout timer, so the struct stays a
// thin wrapper over sync.Pool.
func (k *timerKind) acquire(timeout time.Duration) *time.Timer {
	v := k.sp.Get()
	if v == nil {
		atomic.AddUint32(&k.m.na, 1)
		return time.NewTimer(timeout)
	}
	atomic.AddUint32(&k.m.nr, 1)
	t := v.(*time.Timer)
	t.Reset(timeout)
	return t
}

func (k *timerKind) release(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	atomic.AddUint32(&k.m.np, 1)
	k.sp.Put(t)
}
