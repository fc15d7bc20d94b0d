package qdriver

import (
	"fmt"
	"sync"
	"time"
)

// Connection is a single authenticated session against one server. All
// of its mutable state (the token counter, the receiver table, the
// frame buffer) is owned exclusively by one goroutine (loop); every
// other method communicates with that goroutine over channels.
type Connection struct {
	opts      Options
	transport Transport
	codec     Codec
	scram     ScramClient
	qb        QueryBuilder

	counter *tokenCounter
	recvs   *receiverTable
	buf     frameBuffer

	cmdCh     chan command
	chunkCh   chan []byte
	ackCh     chan struct{}
	readErrCh chan error

	closed    chan struct{} // closed once, signals every blocked goroutine to give up
	stopped   chan struct{} // closed when loop() returns
	closeOnce sync.Once
}

// Connect dials host:port, drives the handshake, and starts the driver
// goroutine. On any handshake failure the transport is closed and the
// error is returned synchronously, per spec.md §4.2/§7.
func Connect(opts Options) (*Connection, error) {
	if opts.Codec == nil || opts.Scram == nil || opts.QueryBuilder == nil {
		return nil, fmt.Errorf("qdriver: Options.Codec, Options.Scram and Options.QueryBuilder are required")
	}

	transport, err := dialTCP(opts.Host, opts.Port, opts.TCP, opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(opts.ConnectTimeout)
	if err := runHandshake(transport, opts, deadline); err != nil {
		_ = transport.Close()
		return nil, err
	}

	c := &Connection{
		opts:      opts,
		transport: transport,
		codec:     opts.Codec,
		scram:     opts.Scram,
		qb:        opts.QueryBuilder,
		counter:   newTokenCounter(),
		recvs:     newReceiverTable(),
		cmdCh:     make(chan command),
		chunkCh:   make(chan []byte),
		ackCh:     make(chan struct{}, 1),
		readErrCh: make(chan error, 1),
		closed:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	go c.readLoop()
	go c.loop()
	c.ackCh <- struct{}{} // arm the first read

	return c, nil
}

// readLoop is the background reader: it waits to be rearmed, reads
// whatever is available, and hands the chunk to the driver goroutine.
// One outstanding read at a time, per spec.md §4.1's one-shot
// receive-notification mode.
func (c *Connection) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-c.ackCh:
		case <-c.closed:
			return
		}

		n, err := c.transport.Read(buf)
		if err != nil {
			select {
			case c.readErrCh <- err:
			case <-c.closed:
			}
			return
		}

		chunk := make([]byte, n)
		copy(chunk, buf[:n])

		select {
		case c.chunkCh <- chunk:
		case <-c.closed:
			return
		}
	}
}

// Query submits a fresh query built from term and opts, with timeout
// falling back to the connection's default per-query timeout when zero.
// It returns a decoded scalar value, or a Cursor when the result is a
// (possibly streamed) sequence.
func (c *Connection) Query(term interface{}, queryOpts map[string]interface{}, timeout time.Duration) (interface{}, *Cursor, error) {
	payload, err := c.qb.Start(term, queryOpts)
	if err != nil {
		return nil, nil, err
	}
	return c.submit(payload, c.opts.queryTimeout(timeout))
}

// InsertRaw submits an insert whose document body is caller-supplied
// raw JSON, spliced into the query template without being re-parsed
// (spec.md §4.4 submit_insert_raw, §9 "Query builder coupling").
func (c *Connection) InsertRaw(db, table string, rawJSON []byte, queryOpts map[string]interface{}, timeout time.Duration) (interface{}, *Cursor, error) {
	payload := c.qb.SpliceInsert(db, table, rawJSON, queryOpts)
	return c.submit(payload, c.opts.queryTimeout(timeout))
}

// SubmitClosure invokes fn to obtain the wire payload and frames it
// identically to Query, per spec.md §4.4 submit_closure.
func (c *Connection) SubmitClosure(fn func() ([]byte, error), timeout time.Duration) (interface{}, *Cursor, error) {
	payload, err := fn()
	if err != nil {
		return nil, nil, err
	}
	return c.submit(payload, c.opts.queryTimeout(timeout))
}

func (c *Connection) submit(payload []byte, timeout time.Duration) (interface{}, *Cursor, error) {
	replyCh := make(chan runResult, 1)
	select {
	case c.cmdCh <- command{kind: cmdSubmit, payload: payload, timeout: timeout, replyRun: replyCh}:
	case <-c.closed:
		return nil, nil, &TransportError{Reason: "submit", Err: ErrClosed}
	}

	select {
	case res := <-replyCh:
		return res.value, res.cursor, res.err
	case <-time.After(c.opts.CallTimeout):
		return nil, nil, fmt.Errorf("qdriver: call timeout exceeded waiting for driver goroutine")
	}
}

// continueCursor sends a continuation frame using the cursor's existing
// token, registering or refreshing a Cursor receiver for it.
func (c *Connection) continueCursor(cur *Cursor) error {
	errCh := make(chan error, 1)
	payload := c.qb.Continue()
	select {
	case c.cmdCh <- command{kind: cmdContinue, token: cur.token, cursor: cur, payload: payload, timeout: c.opts.QueryTimeout, replyErr: errCh}:
	case <-c.closed:
		return &TransportError{Reason: "continue", Err: ErrClosed}
	}

	select {
	case err := <-errCh:
		return err
	case <-time.After(c.opts.CallTimeout):
		return fmt.Errorf("qdriver: call timeout exceeded waiting for driver goroutine")
	}
}

// stopCursor asks the server to discard the rest of a streaming cursor.
func (c *Connection) stopCursor(cur *Cursor) error {
	errCh := make(chan error, 1)
	payload := c.qb.Stop()
	select {
	case c.cmdCh <- command{kind: cmdStop, token: cur.token, payload: payload, replyErr: errCh}:
	case <-c.closed:
		return nil // already closed: nothing to stop
	}

	select {
	case err := <-errCh:
		return err
	case <-time.After(c.opts.CallTimeout):
		return fmt.Errorf("qdriver: call timeout exceeded waiting for driver goroutine")
	}
}

// Close closes the transport and fails every outstanding receiver with
// ErrClosed. Idempotent.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		doneCh := make(chan struct{})
		select {
		case c.cmdCh <- command{kind: cmdClose, replyDone: doneCh}:
			<-doneCh
		case <-c.closed:
		}
	})
	return nil
}
