// Package wire provides the default qdriver.Codec, a JSON encoder/
// decoder backed by github.com/json-iterator/go configured to match
// encoding/json's behavior exactly (field tags, map ordering on encode,
// number handling) while avoiding its reflection overhead on the
// handshake and per-frame decode hot path.
package wire

import jsoniter "github.com/json-iterator/go"

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONCodec is the default qdriver.Codec implementation.
type JSONCodec struct{}

// New returns a ready-to-use JSON codec.
func New() JSONCodec { return JSONCodec{} }

func (JSONCodec) Encode(v interface{}) ([]byte, error) {
	return api.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v interface{}) error {
	return api.Unmarshal(data, v)
}
