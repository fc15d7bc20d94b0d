package qdriver

import "github.com/lithdew/bytesutil"

// headerSize is the 8-byte token plus the 4-byte length that precede
// every post-handshake frame's payload.
const headerSize = 8 + 4

// tokenCounter allocates 8-byte tokens by post-increment, wrapping from
// the maximum uint64 back to 0 and continuing from there. It is only
// ever touched by the driver goroutine, so it needs no locking.
type tokenCounter struct {
	next uint64
}

// newTokenCounter starts allocation at 1, per spec.
func newTokenCounter() *tokenCounter { return &tokenCounter{next: 1} }

func (c *tokenCounter) allocate() uint64 {
	t := c.next
	if c.next == ^uint64(0) {
		c.next = 0
	} else {
		c.next++
	}
	return t
}

// appendHeader appends the 8-byte big-endian token and the 4-byte
// little-endian payload length to dst, returning the extended slice.
func appendHeader(dst []byte, token uint64, payloadLen uint32) []byte {
	dst = bytesutil.AppendUint64BE(dst, token)
	dst = bytesutil.AppendUint32LE(dst, payloadLen)
	return dst
}

// decodeHeader reads a token and payload length from the first 12
// bytes of buf. The caller must ensure len(buf) >= headerSize.
func decodeHeader(buf []byte) (token uint64, payloadLen uint32) {
	token = bytesutil.Uint64BE(buf[:8])
	payloadLen = bytesutil.Uint32LE(buf[8:12])
	return
}
