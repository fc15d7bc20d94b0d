package qdriver

import "encoding/json"

// testCodec, testScram and testQueryBuilder are minimal collaborator
// stand-ins used only by this package's own tests, so the tests never
// need to import the scram/wire/ql subpackages (scram and ql themselves
// import qdriver) and risk an import cycle through the test binary.

type testCodec struct{}

func (testCodec) Encode(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (testCodec) Decode(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

type testScram struct{}

func (testScram) Method() string { return "TEST-SCRAM" }
func (testScram) Nonce() string  { return "client-nonce" }
func (testScram) ParseServerFirst(serverFirst string) (ServerFirst, error) {
	return ServerFirst{Nonce: "client-nonce-fixed-nonce", Salt: []byte("salt"), Iterations: 4096}, nil
}
func (testScram) ClientProof(clientFirstBare, serverFirst, clientFinalWithoutProof, password string, salt []byte, iterations int) (string, error) {
	return "proof", nil
}

type testQueryBuilder struct{}

func (testQueryBuilder) Start(term interface{}, opts map[string]interface{}) ([]byte, error) {
	return json.Marshal(map[string]interface{}{"term": term, "opts": opts})
}
func (testQueryBuilder) Continue() []byte { return []byte(`"continue"`) }
func (testQueryBuilder) Stop() []byte     { return []byte(`"stop"`) }
func (testQueryBuilder) SpliceInsert(db, table string, rawJSON []byte, opts map[string]interface{}) []byte {
	wrapper := []byte(`{"db":"` + db + `","table":"` + table + `","doc":`)
	wrapper = append(wrapper, rawJSON...)
	wrapper = append(wrapper, '}')
	return wrapper
}
func (testQueryBuilder) ResponseType(code int) ResponseType {
	switch code {
	case 1:
		return ResponseSuccessAtom
	case 2:
		return ResponseSuccessSequence
	case 3:
		return ResponseSuccessPartial
	case 4:
		return ResponseWaitComplete
	case 5:
		return ResponseServerInfo
	case 16:
		return ResponseClientError
	case 17:
		return ResponseCompileError
	case 18:
		return ResponseRuntimeError
	default:
		return ResponseUnknown
	}
}

func testOptions(host string, port int) Options {
	return NewOptions(
		WithHost(host),
		WithPort(port),
		WithCredentials("admin", "secret"),
		WithConnectTimeout(shortTimeout),
		WithQueryTimeout(shortTimeout),
		WithCallTimeout(shortTimeout),
		WithCodec(testCodec{}),
		WithScram(testScram{}),
		WithQueryBuilder(testQueryBuilder{}),
	)
}
