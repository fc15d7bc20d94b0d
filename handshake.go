package qdriver

import (
	"fmt"
	"strings"
	"time"
)

// magic is the 4-byte literal that opens every handshake, per spec.md
// §4.2.
var magic = []byte{0xC3, 0xBD, 0xC2, 0x34}

type handshakeReply struct {
	Success       bool   `json:"success"`
	Authentication string `json:"authentication"`
	Error         string `json:"error"`
}

// runHandshake drives the four-step dialogue as one straight-line
// function: on any failure it returns immediately without reusing the
// post-handshake request-dispatch path, resolving the "handshake reply
// state-mixing bug" design note in spec.md §9 by construction — there
// is no request handler here to re-enter.
func runHandshake(t Transport, opts Options, deadline time.Time) error {
	if err := t.Send(magic); err != nil {
		return &TransportError{Reason: "send magic", Err: err}
	}

	reply, raw, err := recvHandshakeReply(t, opts.Codec, deadline)
	if err != nil {
		return &HandshakeError{Step: 1, Err: err}
	}
	if !reply.Success {
		return &HandshakeError{Step: 1, Body: raw}
	}

	nonce := opts.Scram.Nonce()
	clientFirstBare := fmt.Sprintf("n=%s,r=%s", opts.User, nonce)
	clientFirst := "n,," + clientFirstBare

	step2 := map[string]interface{}{
		"protocol_version":      0,
		"authentication_method": opts.Scram.Method(),
		"authentication":        clientFirst,
	}
	if err := sendJSON(t, opts.Codec, step2); err != nil {
		return &HandshakeError{Step: 2, Err: err}
	}

	reply, raw, err = recvHandshakeReply(t, opts.Codec, deadline)
	if err != nil {
		return &HandshakeError{Step: 2, Err: err}
	}
	if !reply.Success {
		return &HandshakeError{Step: 2, Body: raw}
	}

	serverFirst := reply.Authentication
	parsed, err := opts.Scram.ParseServerFirst(serverFirst)
	if err != nil {
		return &AuthError{Reason: err.Error()}
	}
	if !strings.HasPrefix(parsed.Nonce, nonce) {
		return &AuthError{Reason: "server nonce does not extend client nonce"}
	}

	clientFinalWithoutProof := "c=biws,r=" + parsed.Nonce
	proof, err := opts.Scram.ClientProof(clientFirstBare, serverFirst, clientFinalWithoutProof, opts.Password, parsed.Salt, parsed.Iterations)
	if err != nil {
		return &AuthError{Reason: err.Error()}
	}
	clientFinal := clientFinalWithoutProof + ",p=" + proof

	step3 := map[string]interface{}{"authentication": clientFinal}
	if err := sendJSON(t, opts.Codec, step3); err != nil {
		return &HandshakeError{Step: 3, Err: err}
	}

	reply, raw, err = recvHandshakeReply(t, opts.Codec, deadline)
	if err != nil {
		return &HandshakeError{Step: 3, Err: err}
	}
	if !reply.Success {
		return &HandshakeError{Step: 3, Body: raw}
	}

	return nil
}

func sendJSON(t Transport, codec Codec, v interface{}) error {
	body, err := codec.Encode(v)
	if err != nil {
		return err
	}
	body = append(body, 0x00)
	return t.Send(body)
}

// recvHandshakeReply reads one NUL-terminated JSON document. Reading
// stops at the first NUL byte; any bytes the server sent after it are
// left unread on the transport and are not checked, so a multi-document
// reply is not detected here.
func recvHandshakeReply(t Transport, codec Codec, deadline time.Time) (handshakeReply, []byte, error) {
	line, err := t.RecvLine(deadline)
	if err != nil {
		return handshakeReply{}, nil, err
	}

	var reply handshakeReply
	if err := codec.Decode(line, &reply); err != nil {
		return handshakeReply{}, line, fmt.Errorf("undecodable handshake reply: %w", err)
	}

	return reply, line, nil
}
