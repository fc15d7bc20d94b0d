package qdriver

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeServer is a minimal stand-in for the document database's socket
// protocol: it accepts exactly one connection, completes a trivial
// handshake (no real SCRAM checking — it answers with a fixed
// server-first message that does not echo the client's nonce, and
// accepts any proof), then hands the connection's
// post-handshake frames to a caller-supplied handler.
type fakeServer struct {
	ln net.Listener
}

func newFakeServer(t *testing.T) *fakeServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return &fakeServer{ln: ln}
}

func (s *fakeServer) addr() string { return s.ln.Addr().String() }

func (s *fakeServer) close() error { return s.ln.Close() }

// serveOne accepts a single connection, drives the fixed three-step
// handshake to success, then calls handle with the raw connection for
// the caller to exchange frames over.
func (s *fakeServer) serveOne(t *testing.T, handle func(conn net.Conn)) {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	if !acceptHandshake(t, conn) {
		return
	}
	handle(conn)
}

func acceptHandshake(t *testing.T, conn net.Conn) bool {
	magicBuf := make([]byte, 4)
	if _, err := readFull(conn, magicBuf); err != nil {
		return false
	}

	// Step 1: version check.
	if err := sendNUL(conn, map[string]interface{}{"success": true}); err != nil {
		return false
	}

	// Step 2: client-first. We don't validate SCRAM; we just echo a
	// server-first with a fixed salt/iteration count.
	if _, err := recvNUL(conn); err != nil {
		return false
	}
	serverFirst := "r=fixed-nonce,s=" + "c2FsdA==" + ",i=4096"
	if err := sendNUL(conn, map[string]interface{}{"success": true, "authentication": serverFirst}); err != nil {
		return false
	}

	// Step 3: client-final.
	if _, err := recvNUL(conn); err != nil {
		return false
	}
	if err := sendNUL(conn, map[string]interface{}{"success": true}); err != nil {
		return false
	}

	return true
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func sendNUL(conn net.Conn, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	body = append(body, 0x00)
	_, err = conn.Write(body)
	return err
}

func recvNUL(conn net.Conn) ([]byte, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := conn.Read(buf)
		if n == 1 {
			if buf[0] == 0x00 {
				return line, nil
			}
			line = append(line, buf[0])
		}
		if err != nil {
			return nil, err
		}
	}
}

// sendFrame writes one (token, payload) frame to conn.
func sendFrame(t *testing.T, conn net.Conn, token uint64, payload interface{}) {
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	var hdr []byte
	hdr = appendHeader(hdr, token, uint32(len(body)))
	_, err = conn.Write(hdr)
	require.NoError(t, err)
	_, err = conn.Write(body)
	require.NoError(t, err)
}

// recvFrame reads exactly one (token, payload) frame from conn.
func recvFrame(t *testing.T, conn net.Conn) (uint64, []byte) {
	hdr := make([]byte, headerSize)
	_, err := readFull(conn, hdr)
	require.NoError(t, err)
	token, length := decodeHeader(hdr)

	payload := make([]byte, length)
	_, err = readFull(conn, payload)
	require.NoError(t, err)
	return token, payload
}

func testDialOpts(addr string) (string, int) {
	host, portStr, _ := net.SplitHostPort(addr)
	port := 0
	for _, r := range portStr {
		port = port*10 + int(r-'0')
	}
	return host, port
}

const shortTimeout = 2 * time.Second
const shortQueryTimeout = 50 * time.Millisecond
