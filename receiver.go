package qdriver

import "time"

// receiverKind distinguishes the two Receiver variants from spec.md §3.
type receiverKind int

const (
	receiverRun receiverKind = iota
	receiverCursor
)

// runResult is what a Run receiver's caller ultimately gets back: either
// a decoded scalar value, a freshly bound Cursor, or an error.
type runResult struct {
	value  interface{}
	cursor *Cursor
	err    error
}

// receiver is the driver-side record describing who is waiting for a
// token's response. At most one receiver exists per token at any time;
// the receiver table is the single source of truth for what is in
// flight, exactly as spec.md §3 requires.
type receiver struct {
	kind receiverKind

	replyCh chan runResult // set when kind == receiverRun
	cursor  *Cursor        // set when kind == receiverCursor, or after a Run receiver is upgraded to own a streaming cursor

	timeout     time.Duration
	timer       *time.Timer
	tag         uint64        // unique per (re)arm; stale timer fires with a mismatched tag are ignored
	cancelTimer chan struct{} // closed to stop the timer's watcher goroutine without waiting for it to fire
}

// receiverTable owns every in-flight receiver for one Connection, plus
// the monotonically increasing tag counter used to defeat the
// token-reuse-vs-stale-timer hazard described in spec.md §9.
type receiverTable struct {
	byToken map[uint64]*receiver
	nextTag uint64
}

func newReceiverTable() *receiverTable {
	return &receiverTable{byToken: make(map[uint64]*receiver)}
}

func (t *receiverTable) nextTagValue() uint64 {
	t.nextTag++
	return t.nextTag
}

func (t *receiverTable) get(token uint64) (*receiver, bool) {
	r, ok := t.byToken[token]
	return r, ok
}

func (t *receiverTable) put(token uint64, r *receiver) {
	t.byToken[token] = r
}

func (t *receiverTable) delete(token uint64) {
	delete(t.byToken, token)
}

func (t *receiverTable) len() int { return len(t.byToken) }

// all returns every currently registered receiver, for connection-close
// fanout.
func (t *receiverTable) all() map[uint64]*receiver {
	return t.byToken
}
