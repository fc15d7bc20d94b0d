package qdriver

import (
	"bufio"
	"fmt"
	"net"
	"time"
)

// Transport is the bidirectional byte stream to one server endpoint.
// connect(), send(), recv() and close() from spec.md §4.1 map to
// dial/Send/RecvLine/Close here; after the handshake the driver reads
// the transport directly through a background goroutine rather than
// through a recv() call, so Transport only needs to expose the raw
// net.Conn-shaped surface plus a deadline setter.
type Transport interface {
	Send(b []byte) error
	// RecvLine reads until a NUL byte and returns the bytes before it,
	// used only during the handshake.
	RecvLine(deadline time.Time) ([]byte, error)
	// Read services the post-handshake background reader.
	Read(p []byte) (int, error)
	SetDeadline(t time.Time) error
	Close() error
}

// tcpTransport is the default Transport over a plain TCP net.Conn. It
// forces binary framing and a single outstanding read at a time; tcp_opts
// that would otherwise toggle active/passive or text/binary framing are
// never consulted here — the driver's own choices are asserted instead.
type tcpTransport struct {
	conn   net.Conn
	w      *bufio.Writer
	closed bool
}

func dialTCP(host string, port int, opts TCPOptions, timeout time.Duration) (*tcpTransport, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, &TransportError{Reason: "connect", Err: err}
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if opts.NoDelay {
			_ = tc.SetNoDelay(true)
		}
		if opts.KeepAlive > 0 {
			_ = tc.SetKeepAlive(true)
			_ = tc.SetKeepAlivePeriod(opts.KeepAlive)
		}
		if opts.ReadBufBytes > 0 {
			_ = tc.SetReadBuffer(opts.ReadBufBytes)
		}
	}
	bufSize := opts.WriteBufBytes
	if bufSize <= 0 {
		bufSize = 4096
	}
	return &tcpTransport{conn: conn, w: bufio.NewWriterSize(conn, bufSize)}, nil
}

func (t *tcpTransport) Send(b []byte) error {
	if t.closed {
		return &TransportError{Reason: "send", Err: ErrClosed}
	}
	if _, err := t.w.Write(b); err != nil {
		return &TransportError{Reason: "send", Err: err}
	}
	if err := t.w.Flush(); err != nil {
		return &TransportError{Reason: "send", Err: err}
	}
	return nil
}

func (t *tcpTransport) RecvLine(deadline time.Time) ([]byte, error) {
	if t.closed {
		return nil, &TransportError{Reason: "recv", Err: ErrClosed}
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, &TransportError{Reason: "recv", Err: err}
	}
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := t.conn.Read(buf)
		if n == 1 {
			if buf[0] == 0x00 {
				return line, nil
			}
			line = append(line, buf[0])
		}
		if err != nil {
			return nil, &TransportError{Reason: "recv", Err: err}
		}
	}
}

func (t *tcpTransport) Read(p []byte) (int, error) {
	if t.closed {
		return 0, &TransportError{Reason: "read", Err: ErrClosed}
	}
	return t.conn.Read(p)
}

func (t *tcpTransport) SetDeadline(d time.Time) error { return t.conn.SetDeadline(d) }

func (t *tcpTransport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}
