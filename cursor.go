package qdriver

import "sync/atomic"

// CursorState is the lifecycle state of a Cursor, per spec.md §3.
type CursorState int32

const (
	CursorOpen CursorState = iota
	CursorDrained
	CursorErrored
	CursorClosed
)

func (s CursorState) String() string {
	switch s {
	case CursorOpen:
		return "open"
	case CursorDrained:
		return "drained"
	case CursorErrored:
		return "errored"
	case CursorClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type cursorUpdate struct {
	batch    []interface{}
	hasBatch bool // false for a wait_complete-style terminal with no batch
	terminal bool
	err      error
}

// Cursor is an externally-owned handle iterating a multi-batch result
// stream via continuations. It holds a back-reference to the owning
// Connection only to request continuations — the connection never
// retains the Cursor itself beyond the receiver table entry that
// references it (spec.md §4.5, §9 "Cursor back-reference").
type Cursor struct {
	conn  *Connection
	token uint64

	state CursorState // atomic

	firstBatch      []interface{}
	firstConsumed   bool
	initialTerminal bool

	updates chan cursorUpdate
}

func newCursor(conn *Connection, token uint64, firstBatch []interface{}, terminal bool) *Cursor {
	c := &Cursor{
		conn:            conn,
		token:           token,
		firstBatch:      firstBatch,
		initialTerminal: terminal,
		updates:         make(chan cursorUpdate, 1),
	}
	if terminal {
		c.state = CursorDrained
	}
	return c
}

// State returns the cursor's current lifecycle state.
func (c *Cursor) State() CursorState { return CursorState(atomic.LoadInt32((*int32)(&c.state))) }

// deliverSuccess is called by the multiplexer's driver goroutine with a
// newly arrived batch. Open -> Open on a partial batch, Open -> Drained
// on the terminal sequence batch.
func (c *Cursor) deliverSuccess(batch []interface{}, terminal bool) {
	if terminal {
		atomic.StoreInt32((*int32)(&c.state), int32(CursorDrained))
	}
	c.updates <- cursorUpdate{batch: batch, hasBatch: true, terminal: terminal}
}

// deliverDone is called by the multiplexer for a wait_complete response:
// terminal, per spec.md §4.4's dispatch table, but with no batch to
// deliver.
func (c *Cursor) deliverDone() {
	atomic.StoreInt32((*int32)(&c.state), int32(CursorDrained))
	c.updates <- cursorUpdate{terminal: true}
}

// deliverError is terminal: called by the multiplexer when the server
// reports an error for this cursor's token.
func (c *Cursor) deliverError(err error) {
	atomic.StoreInt32((*int32)(&c.state), int32(CursorErrored))
	c.updates <- cursorUpdate{err: err, terminal: true}
}

// deliverCloseError is the close-time counterpart of deliverError: it is
// called from failAll while the driver goroutine is tearing down every
// outstanding receiver. The send is non-blocking because the updates
// channel may already hold a batch the consumer hasn't drained yet —
// blocking here would deadlock the driver goroutine inside handleClose.
// Dropping the error when the channel is full is safe: the consumer
// drains the buffered update first, then its next continueCursor call
// observes the now-closed connection and fails with ErrClosed on its
// own (a stopCursor call on a closed connection returns nil).
func (c *Cursor) deliverCloseError(err error) {
	atomic.StoreInt32((*int32)(&c.state), int32(CursorErrored))
	select {
	case c.updates <- cursorUpdate{err: err, terminal: true}:
	default:
	}
}

// All pulls batches until the cursor is Drained, issuing a continuation
// after each batch it consumes, and returns every batch it saw in order.
func (c *Cursor) All() ([][]interface{}, error) {
	var all [][]interface{}

	if !c.firstConsumed {
		c.firstConsumed = true
		all = append(all, c.firstBatch)
		if c.initialTerminal {
			return all, nil
		}
	}

	for {
		if err := c.conn.continueCursor(c); err != nil {
			atomic.StoreInt32((*int32)(&c.state), int32(CursorErrored))
			return all, err
		}
		upd := <-c.updates
		if upd.err != nil {
			return all, upd.err
		}
		if upd.hasBatch {
			all = append(all, upd.batch)
		}
		if upd.terminal {
			return all, nil
		}
	}
}

// Activate switches the cursor to push mode: onBatch is invoked for
// every batch (starting with whatever first batch the cursor was
// constructed with), then exactly one of onDone or onError fires and no
// further calls follow. Runs on its own goroutine.
func (c *Cursor) Activate(onBatch func([]interface{}), onDone func(), onError func(error)) {
	go func() {
		if !c.firstConsumed {
			c.firstConsumed = true
			onBatch(c.firstBatch)
			if c.initialTerminal {
				onDone()
				return
			}
		}

		for {
			if err := c.conn.continueCursor(c); err != nil {
				atomic.StoreInt32((*int32)(&c.state), int32(CursorErrored))
				onError(err)
				return
			}
			upd := <-c.updates
			if upd.err != nil {
				onError(upd.err)
				return
			}
			if upd.hasBatch {
				onBatch(upd.batch)
			}
			if upd.terminal {
				onDone()
				return
			}
		}
	}()
}

// Close releases the cursor, asking the server to discard the rest of
// the stream if it is still open.
func (c *Cursor) Close() error {
	state := c.State()
	if state == CursorDrained || state == CursorErrored || state == CursorClosed {
		atomic.StoreInt32((*int32)(&c.state), int32(CursorClosed))
		return nil
	}
	atomic.StoreInt32((*int32)(&c.state), int32(CursorClosed))
	return c.conn.stopCursor(c)
}
