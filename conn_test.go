package qdriver

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestConnectHandshakeAndQueryAtom(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := newFakeServer(t)
	defer srv.close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.serveOne(t, func(conn net.Conn) {
			token, _ := recvFrame(t, conn)
			sendFrame(t, conn, token, map[string]interface{}{"t": 1, "r": []interface{}{"hello"}})
		})
	}()

	host, port := testDialOpts(srv.addr())
	conn, err := Connect(testOptions(host, port))
	require.NoError(t, err)

	val, cur, err := conn.Query(map[string]interface{}{"op": "get"}, nil, 0)
	require.NoError(t, err)
	require.Nil(t, cur)
	require.Equal(t, "hello", val)

	na, nr, np := TimerPoolMetrics()
	t.Logf("Timer Pool => new:%d,reuse:%d,putback:%d", na, nr, np)

	require.NoError(t, conn.Close())
	wg.Wait()
}

func TestConnectHandshakeRejected(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		magicBuf := make([]byte, 4)
		_, _ = readFull(conn, magicBuf)
		_ = sendNUL(conn, map[string]interface{}{"success": false, "error": "unsupported protocol version"})
	}()

	host, port := testDialOpts(ln.Addr().String())
	_, err = Connect(testOptions(host, port))
	require.Error(t, err)

	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
}

func TestQueryTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := newFakeServer(t)
	defer srv.close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.serveOne(t, func(conn net.Conn) {
			// Never respond to the query frame; just keep the socket open
			// until the test closes the connection.
			buf := make([]byte, 1)
			for {
				if _, err := conn.Read(buf); err != nil {
					return
				}
			}
		})
	}()

	host, port := testDialOpts(srv.addr())
	opts := testOptions(host, port)
	opts.QueryTimeout = shortQueryTimeout
	conn, err := Connect(opts)
	require.NoError(t, err)

	_, _, err = conn.Query(map[string]interface{}{"op": "get"}, nil, shortQueryTimeout)
	require.Error(t, err)

	var toErr *TimeoutError
	require.ErrorAs(t, err, &toErr)

	require.NoError(t, conn.Close())
	wg.Wait()
}

func TestCloseFailsOutstandingReceivers(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := newFakeServer(t)
	defer srv.close()

	frameReceived := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.serveOne(t, func(conn net.Conn) {
			// Read the query frame but never answer it, then block until
			// the client closes the socket.
			recvFrame(t, conn)
			close(frameReceived)
			buf := make([]byte, 1)
			for {
				if _, err := conn.Read(buf); err != nil {
					return
				}
			}
		})
	}()

	host, port := testDialOpts(srv.addr())
	conn, err := Connect(testOptions(host, port))
	require.NoError(t, err)

	resultCh := make(chan error, 1)
	go func() {
		_, _, err := conn.Query(map[string]interface{}{"op": "get"}, nil, 0)
		resultCh <- err
	}()

	// Wait for the query frame to actually reach the server before
	// closing, so Close observes a genuinely outstanding receiver.
	<-frameReceived

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close()) // idempotent

	err = <-resultCh
	require.Error(t, err)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)

	wg.Wait()
}
