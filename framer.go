package qdriver

import "fmt"

// maxFramePayload is the sanity bound the framer enforces on a declared
// frame length; nothing in this protocol legitimately sends a payload
// anywhere near this large in one frame.
const maxFramePayload = 128 << 20 // 128 MiB

// rawFrame is one demultiplexed (token, payload) pair handed from the
// framer to the multiplexer. The framer itself holds no knowledge of
// receivers.
type rawFrame struct {
	token   uint64
	payload []byte
}

// frameBuffer is the receive-buffer state machine from the spec: Idle
// while waiting for a fresh 12-byte header, Filling while accumulating a
// declared-length payload. It is reentrant over arbitrary byte chunks:
// a single feed may complete zero, one, or many frames, and may leave
// a partial header or partial payload as residue.
type frameBuffer struct {
	residue []byte // undispatched bytes carried over from the previous feed

	token           uint64
	declaredLength  uint32
	accumulated     []byte
	filling         bool
}

// feed appends chunk to any carried-over residue and advances the state
// machine greedily, returning every frame completed in the process. On
// a structural error (a declared length beyond the sanity bound) it
// resets to Idle, discards whatever was accumulated, and returns the
// error alongside any frames that completed before the bad header was
// read.
func (b *frameBuffer) feed(chunk []byte) ([]rawFrame, error) {
	buf := append(b.residue, chunk...)
	b.residue = nil

	var frames []rawFrame

	for {
		if !b.filling {
			if len(buf) < headerSize {
				break
			}
			token, length := decodeHeader(buf[:headerSize])
			if length > maxFramePayload {
				b.reset()
				return frames, fmt.Errorf("declared frame length %d exceeds sanity bound %d", length, maxFramePayload)
			}
			buf = buf[headerSize:]
			b.token = token
			b.declaredLength = length
			b.accumulated = make([]byte, 0, length)
			b.filling = true
		}

		remaining := int(b.declaredLength) - len(b.accumulated)
		if remaining < 0 {
			remaining = 0
		}
		if len(buf) < remaining {
			b.accumulated = append(b.accumulated, buf...)
			buf = nil
			break
		}

		b.accumulated = append(b.accumulated, buf[:remaining]...)
		buf = buf[remaining:]

		frames = append(frames, rawFrame{token: b.token, payload: b.accumulated})
		b.filling = false
		b.accumulated = nil
	}

	if len(buf) > 0 {
		b.residue = buf
	}

	return frames, nil
}

func (b *frameBuffer) reset() {
	b.residue = nil
	b.filling = false
	b.accumulated = nil
	b.declaredLength = 0
}
