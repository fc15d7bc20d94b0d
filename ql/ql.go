// Package ql is a minimal query-tree builder and wire encoder: it
// satisfies qdriver.QueryBuilder by turning term values into the
// [query-type, term, options] envelopes the driver frames, and by
// mapping the server's numeric response-type codes onto
// qdriver.ResponseType.
//
// Term trees are plain Go values shaped the way the wire protocol
// expects them: a Term is either a literal (string, number, bool, nil),
// a map[string]interface{}, a []interface{}, or a *Term node built with
// the helpers below ([Db], [Table], [Filter], [Insert], ...).
package ql

import (
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/TheSmallBoat/qdriver"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// Query-type codes for the envelope's first element.
const (
	queryTypeStart    = 1
	queryTypeContinue = 2
	queryTypeStop     = 3
)

// Term-type codes used inside a term tree and by SpliceInsert.
const (
	termTypeDatum   = 1
	termTypeMakeArr = 2
	termTypeDb      = 14
	termTypeTable   = 15
	termTypeInsert  = 56
	termTypeFilter  = 39
)

// Response-type codes, as reported on the wire in a frame's "t" field.
const (
	codeSuccessAtom     = 1
	codeSuccessSequence = 2
	codeSuccessPartial  = 3
	codeWaitComplete    = 4
	codeServerInfo      = 5
	codeClientError     = 16
	codeCompileError    = 17
	codeRuntimeError    = 18
)

// Builder is the default qdriver.QueryBuilder implementation.
type Builder struct{}

// New returns a ready-to-use query builder.
func New() Builder { return Builder{} }

// Term is a single node of a query tree: [termType, args, optargs].
type Term struct {
	Type    int
	Args    []interface{}
	OptArgs map[string]interface{}
}

// MarshalJSON encodes a Term as the wire's [type, args, optargs] tuple,
// omitting optargs entirely when empty rather than emitting "{}".
func (t *Term) MarshalJSON() ([]byte, error) {
	if len(t.OptArgs) == 0 {
		return api.Marshal([]interface{}{t.Type, t.Args})
	}
	return api.Marshal([]interface{}{t.Type, t.Args, t.OptArgs})
}

// Db builds a database-selection term.
func Db(name string) *Term {
	return &Term{Type: termTypeDb, Args: []interface{}{name}}
}

// Table builds a table-selection term rooted at db.
func Table(db *Term, name string) *Term {
	return &Term{Type: termTypeTable, Args: []interface{}{db, name}}
}

// Filter builds a predicate-selection term over source.
func Filter(source *Term, predicate interface{}) *Term {
	return &Term{Type: termTypeFilter, Args: []interface{}{source, predicate}}
}

// Insert builds an insert of documents (a slice of maps) into table.
func Insert(table *Term, documents []interface{}, opts map[string]interface{}) *Term {
	return &Term{Type: termTypeInsert, Args: []interface{}{table, documents}, OptArgs: opts}
}

// Expr returns a plain Go value (map, slice, scalar) unchanged, to be
// used wherever a term is expected; the value is encoded as-is and is
// not wrapped in a MAKE_ARRAY or datum term.
func Expr(v interface{}) interface{} { return v }

// Start builds the wire payload for a fresh query: [1, term, globalOpts].
func (Builder) Start(term interface{}, opts map[string]interface{}) ([]byte, error) {
	envelope := make([]interface{}, 0, 3)
	envelope = append(envelope, queryTypeStart, term)
	if len(opts) > 0 {
		envelope = append(envelope, opts)
	}
	return api.Marshal(envelope)
}

// Continue builds the fixed [2] continuation envelope.
func (Builder) Continue() []byte {
	return []byte("[" + strconv.Itoa(queryTypeContinue) + "]")
}

// Stop builds the fixed [3] stop envelope.
func (Builder) Stop() []byte {
	return []byte("[" + strconv.Itoa(queryTypeStop) + "]")
}

// splicePlaceholder is a zero-length JSON array, used to measure the
// wrapper's length around the spliced document slot without encoding
// any document. It must be a jsoniter.RawMessage, not a plain []byte:
// ConfigCompatibleWithStandardLibrary marshals a bare []byte as a
// base64 string, which would never appear verbatim in the wrapper.
var splicePlaceholder = jsoniter.RawMessage("[]")

// SpliceInsert builds an insert envelope whose document array is the
// caller's raw JSON spliced in verbatim, never re-parsed: the wrapper
// is marshaled once with a placeholder empty array in the document
// slot, then split at the placeholder and the raw bytes are inserted
// between the two halves (spec.md §4.4 submit_insert_raw, §9 "zero-
// reparse insert splice").
func (Builder) SpliceInsert(db, table string, rawJSON []byte, opts map[string]interface{}) []byte {
	term := Insert(Table(Db(db), table), nil, opts)
	term.Args[1] = splicePlaceholder

	wrapper, err := api.Marshal([]interface{}{queryTypeStart, term})
	if err != nil {
		// Insert's shape is fixed and always marshals; a failure here
		// means jsoniter itself is broken.
		panic("ql: SpliceInsert: failed to marshal fixed envelope: " + err.Error())
	}

	slot := indexOf(wrapper, splicePlaceholder)
	if slot < 0 {
		panic("ql: SpliceInsert: placeholder not found in marshaled wrapper")
	}

	out := make([]byte, 0, len(wrapper)-len(splicePlaceholder)+len(rawJSON))
	out = append(out, wrapper[:slot]...)
	out = append(out, rawJSON...)
	out = append(out, wrapper[slot+len(splicePlaceholder):]...)
	return out
}

func indexOf(haystack, needle []byte) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// ResponseType maps a wire response-type code to its symbolic form.
func (Builder) ResponseType(code int) qdriver.ResponseType {
	switch code {
	case codeSuccessAtom:
		return qdriver.ResponseSuccessAtom
	case codeSuccessSequence:
		return qdriver.ResponseSuccessSequence
	case codeSuccessPartial:
		return qdriver.ResponseSuccessPartial
	case codeWaitComplete:
		return qdriver.ResponseWaitComplete
	case codeServerInfo:
		return qdriver.ResponseServerInfo
	case codeClientError:
		return qdriver.ResponseClientError
	case codeCompileError:
		return qdriver.ResponseCompileError
	case codeRuntimeError:
		return qdriver.ResponseRuntimeError
	default:
		return qdriver.ResponseUnknown
	}
}
