// Package qdriver implements a client driver for a document database
// that speaks a length-prefixed, token-multiplexed binary query protocol
// over TCP: a handshake sequencer, a receive-buffer framer, and a
// multiplexer that demultiplexes a single byte stream into many
// outstanding in-flight queries.
//
// A single goroutine owns all connection state (the transport, the
// token counter, the receiver table and the receive buffer). Callers
// never touch that state directly; they submit requests and the driver
// goroutine replies on a channel.
package qdriver
