package qdriver

import (
	"fmt"
	"time"
)

type cmdKind int

const (
	cmdSubmit cmdKind = iota
	cmdContinue
	cmdStop
	cmdClose
	cmdTimerFired
)

// command is the single message shape every caller-facing operation is
// translated into before crossing onto the driver goroutine. Only the
// driver goroutine ever reads cmdCh, so Connection's mutable state
// (counter, receiver table, frame buffer) needs no locking.
type command struct {
	kind cmdKind

	payload []byte
	timeout time.Duration

	token  uint64
	cursor *Cursor
	tag    uint64

	replyRun  chan runResult
	replyErr  chan error
	replyDone chan struct{}
}

// loop is the single driver goroutine: it owns the token counter, the
// receiver table and the frame buffer, and is the only code that ever
// mutates them. Everything else communicates with it by message passing.
func (c *Connection) loop() {
	defer close(c.stopped)

	for {
		select {
		case cmd := <-c.cmdCh:
			if c.handleCommand(cmd) {
				return
			}
		case chunk := <-c.chunkCh:
			c.handleChunk(chunk)
		case err := <-c.readErrCh:
			close(c.closed)
			c.failAll(&TransportError{Reason: "closed", Err: err})
			_ = c.transport.Close()
			return
		}
	}
}

func (c *Connection) handleChunk(chunk []byte) {
	frames, err := c.buf.feed(chunk)
	for _, f := range frames {
		c.dispatch(f)
	}
	if err != nil {
		c.opts.Logger.Printf("qdriver: framer error, resetting receive buffer: %s", err)
	}
	select {
	case c.ackCh <- struct{}{}:
	case <-c.closed:
	}
}

func (c *Connection) handleCommand(cmd command) bool {
	switch cmd.kind {
	case cmdSubmit:
		c.handleSubmit(cmd)
	case cmdContinue:
		c.handleContinue(cmd)
	case cmdStop:
		c.handleStop(cmd)
	case cmdTimerFired:
		c.handleTimerFired(cmd)
	case cmdClose:
		c.handleClose(cmd)
		return true
	}
	return false
}

func (c *Connection) handleSubmit(cmd command) {
	token := c.counter.allocate()

	buf := acquireWriteBuf()
	buf.B = appendHeader(buf.B, token, uint32(len(cmd.payload)))
	buf.B = append(buf.B, cmd.payload...)
	err := c.transport.Send(buf.B)
	releaseWriteBuf(buf)

	if err != nil {
		cmd.replyRun <- runResult{err: err}
		return
	}

	r := &receiver{kind: receiverRun, replyCh: cmd.replyRun}
	if cmd.timeout > 0 {
		timer, tag, cancel := c.armTimer(token, cmd.timeout)
		r.timer, r.tag, r.cancelTimer, r.timeout = timer, tag, cancel, cmd.timeout
	}
	c.recvs.put(token, r)
}

func (c *Connection) handleContinue(cmd command) {
	buf := acquireWriteBuf()
	buf.B = appendHeader(buf.B, cmd.token, uint32(len(cmd.payload)))
	buf.B = append(buf.B, cmd.payload...)
	err := c.transport.Send(buf.B)
	releaseWriteBuf(buf)

	if err != nil {
		cmd.replyErr <- err
		return
	}

	r, ok := c.recvs.get(cmd.token)
	if !ok {
		r = &receiver{}
		c.recvs.put(cmd.token, r)
	} else if r.timer != nil {
		c.cancelReceiverTimer(r)
	}
	r.kind = receiverCursor
	r.cursor = cmd.cursor

	if cmd.timeout > 0 {
		timer, tag, cancel := c.armTimer(cmd.token, cmd.timeout)
		r.timer, r.tag, r.cancelTimer, r.timeout = timer, tag, cancel, cmd.timeout
	}

	cmd.replyErr <- nil
}

func (c *Connection) handleStop(cmd command) {
	buf := acquireWriteBuf()
	buf.B = appendHeader(buf.B, cmd.token, uint32(len(cmd.payload)))
	buf.B = append(buf.B, cmd.payload...)
	err := c.transport.Send(buf.B)
	releaseWriteBuf(buf)

	if r, ok := c.recvs.get(cmd.token); ok {
		c.cancelReceiverTimer(r)
		c.recvs.delete(cmd.token)
	}

	cmd.replyErr <- err
}

func (c *Connection) handleTimerFired(cmd command) {
	r, ok := c.recvs.get(cmd.token)
	if !ok || r.tag != cmd.tag {
		return // stale fire: token completed or was reused already
	}
	c.recvs.delete(cmd.token)
	timerPool.release(r.timer)

	err := &TimeoutError{Token: cmd.token}
	if r.kind == receiverRun {
		r.replyCh <- runResult{err: err}
	} else {
		r.cursor.deliverError(err)
	}
}

func (c *Connection) handleClose(cmd command) {
	close(c.closed)
	c.failAll(&TransportError{Reason: "closed", Err: ErrClosed})
	_ = c.transport.Close()
	close(cmd.replyDone)
}

// failAll fails every outstanding receiver with err and empties the
// table; used for both explicit Close and a transport-closed/error
// event (spec.md §4.4/§5).
func (c *Connection) failAll(err error) {
	for token, r := range c.recvs.all() {
		if r.timer != nil {
			c.cancelReceiverTimer(r)
		}
		if r.kind == receiverRun {
			r.replyCh <- runResult{err: err}
		} else if r.cursor != nil {
			r.cursor.deliverCloseError(err)
		}
		c.recvs.delete(token)
	}
}

// dispatch maps one decoded (token, payload) frame onto its receiver per
// the response-type table in spec.md §4.4.
func (c *Connection) dispatch(f rawFrame) {
	r, ok := c.recvs.get(f.token)
	if !ok {
		return // stale response after timeout/close: drop
	}
	if r.timer != nil {
		c.cancelReceiverTimer(r)
	}

	var raw RawResponse
	if err := c.codec.Decode(f.payload, &raw); err != nil {
		c.failReceiver(f.token, r, &ProtocolError{Reason: "undecodable response frame", Err: err})
		return
	}

	rt := c.qb.ResponseType(raw.Type)

	if rt.IsError() {
		var payload interface{}
		if len(raw.Result) > 0 {
			payload = raw.Result[0]
		}
		c.failReceiver(f.token, r, &QueryError{Kind: rt, Payload: payload})
		return
	}

	switch rt {
	case ResponseSuccessAtom:
		var val interface{}
		if len(raw.Result) > 0 {
			val = raw.Result[0]
		}
		c.completeReceiver(f.token, r, runResult{value: val})

	case ResponseSuccessSequence:
		if r.kind == receiverRun {
			cur := newCursor(c, f.token, raw.Result, true)
			c.completeReceiver(f.token, r, runResult{cursor: cur})
		} else {
			r.cursor.deliverSuccess(raw.Result, true)
			c.recvs.delete(f.token)
		}

	case ResponseSuccessPartial:
		if r.kind == receiverRun {
			cur := newCursor(c, f.token, raw.Result, false)
			r.kind = receiverCursor
			r.cursor = cur
			r.replyCh <- runResult{cursor: cur}
			// receiver stays registered: the cursor's consumer will drive
			// continuations, each of which re-arms the timer.
		} else {
			r.cursor.deliverSuccess(raw.Result, false)
		}

	case ResponseWaitComplete:
		c.completeReceiver(f.token, r, runResult{})

	case ResponseServerInfo:
		var val interface{}
		if len(raw.Result) > 0 {
			val = raw.Result[0]
		}
		c.completeReceiver(f.token, r, runResult{value: val})

	default:
		c.failReceiver(f.token, r, &ProtocolError{Reason: fmt.Sprintf("unexpected response type code %d", raw.Type)})
	}
}

func (c *Connection) completeReceiver(token uint64, r *receiver, res runResult) {
	if r.kind == receiverRun {
		r.replyCh <- res
	} else if r.cursor != nil {
		r.cursor.deliverDone()
	}
	c.recvs.delete(token)
}

func (c *Connection) failReceiver(token uint64, r *receiver, err error) {
	if r.kind == receiverRun {
		r.replyCh <- runResult{err: err}
	} else if r.cursor != nil {
		r.cursor.deliverError(err)
	}
	c.recvs.delete(token)
}

// armTimer starts a fresh unique-tagged timer for token and returns the
// pooled timer, its tag, and the channel that cancels the watcher
// goroutine without waiting for the timer to fire (spec.md §9: "do not
// identify receivers by token alone across time").
func (c *Connection) armTimer(token uint64, timeout time.Duration) (timer *time.Timer, tag uint64, cancel chan struct{}) {
	tag = c.recvs.nextTagValue()
	t := timerPool.acquire(timeout)
	cancel = make(chan struct{})

	go func() {
		select {
		case <-t.C:
			select {
			case c.cmdCh <- command{kind: cmdTimerFired, token: token, tag: tag}:
			case <-c.closed:
			}
		case <-cancel:
		}
	}()

	return t, tag, cancel
}

func (c *Connection) cancelReceiverTimer(r *receiver) {
	if r.timer == nil {
		return
	}
	if !r.timer.Stop() {
		select {
		case <-r.timer.C:
		default:
		}
	}
	close(r.cancelTimer)
	timerPool.release(r.timer)
	r.timer = nil
}
