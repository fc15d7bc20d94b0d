// Package scram implements the client half of SCRAM-SHA-256 needed to
// drive the handshake sequencer in qdriver: nonce generation, parsing of
// a server-first attribute list, and computation of the client proof
// per RFC 5802. It satisfies qdriver.ScramClient.
package scram

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/TheSmallBoat/qdriver"
	"golang.org/x/crypto/pbkdf2"
)

// Client is the default qdriver.ScramClient implementation.
type Client struct{}

// New returns a ready-to-use SCRAM-SHA-256 client.
func New() Client { return Client{} }

func (Client) Method() string { return "SCRAM-SHA-256" }

// Nonce returns a fresh base64-encoded random client nonce.
func (Client) Nonce() string {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("scram: failed to read random nonce: %s", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// ParseServerFirst splits a SCRAM server-first message of the form
// "r=<nonce>,s=<salt>,i=<iterations>" into its attributes.
func (Client) ParseServerFirst(serverFirst string) (qdriver.ServerFirst, error) {
	attrs := splitAttributes(serverFirst)

	nonce, ok := attrs["r"]
	if !ok {
		return qdriver.ServerFirst{}, fmt.Errorf("server-first message missing nonce attribute 'r'")
	}
	saltAttr, ok := attrs["s"]
	if !ok {
		return qdriver.ServerFirst{}, fmt.Errorf("server-first message missing salt attribute 's'")
	}
	iterAttr, ok := attrs["i"]
	if !ok {
		return qdriver.ServerFirst{}, fmt.Errorf("server-first message missing iteration attribute 'i'")
	}

	salt, err := base64.StdEncoding.DecodeString(saltAttr)
	if err != nil {
		return qdriver.ServerFirst{}, fmt.Errorf("malformed salt attribute: %w", err)
	}
	iterations, err := strconv.Atoi(iterAttr)
	if err != nil {
		return qdriver.ServerFirst{}, fmt.Errorf("malformed iteration attribute: %w", err)
	}

	return qdriver.ServerFirst{Nonce: nonce, Salt: salt, Iterations: iterations}, nil
}

// ClientProof computes the SCRAM client proof per RFC 5802 §3:
//
//	SaltedPassword  = PBKDF2(password, salt, iterations)
//	ClientKey       = HMAC(SaltedPassword, "Client Key")
//	StoredKey       = H(ClientKey)
//	AuthMessage     = clientFirstBare + "," + serverFirst + "," + clientFinalWithoutProof
//	ClientSignature = HMAC(StoredKey, AuthMessage)
//	ClientProof     = ClientKey XOR ClientSignature
func (Client) ClientProof(clientFirstBare, serverFirst, clientFinalWithoutProof, password string, salt []byte, iterations int) (string, error) {
	saltedPassword := pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)

	clientKey := hmacSum(saltedPassword, []byte("Client Key"))
	storedKeySum := sha256.Sum256(clientKey)
	storedKey := storedKeySum[:]

	authMessage := clientFirstBare + "," + serverFirst + "," + clientFinalWithoutProof
	clientSignature := hmacSum(storedKey, []byte(authMessage))

	proof := make([]byte, len(clientKey))
	for i := range proof {
		proof[i] = clientKey[i] ^ clientSignature[i]
	}

	return base64.StdEncoding.EncodeToString(proof), nil
}

func hmacSum(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// splitAttributes parses a comma-separated "k=v" attribute list.
func splitAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		attrs[kv[0]] = kv[1]
	}
	return attrs
}
