package database

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies which variant of Value is set.
type Kind uint8

// Value kinds.
const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindText
	KindBlob
	KindRaw
)

var kindNames = [...]string{
	KindNull:  "null",
	KindBool:  "bool",
	KindInt:   "int",
	KindFloat: "float",
	KindText:  "text",
	KindBlob:  "blob",
	KindRaw:   "raw",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is the dynamically typed value used for bound parameters and decoded
// columns. The zero Value is Null.
//
// Only the field matching Kind is meaningful. Raw holds opaque JSON text for
// arrays and objects that arrive from a JSON caller.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	raw  []byte
}

// Null returns the null Value.
func Null() Value { return Value{} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns a 64-bit integer Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a 64-bit floating point Value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Text returns a string Value.
func Text(s string) Value { return Value{kind: KindText, s: s} }

// Blob returns a byte-sequence Value. The slice is not copied.
func Blob(b []byte) Value { return Value{kind: KindBlob, raw: b} }

// Raw returns an opaque JSON Value. The slice is not copied.
func Raw(msg json.RawMessage) Value { return Value{kind: KindRaw, raw: msg} }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean and whether v is a Bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer and whether v is an Int.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float and whether v is a Float.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsText returns the string and whether v is Text.
func (v Value) AsText() (string, bool) { return v.s, v.kind == KindText }

// AsBlob returns the bytes and whether v is a Blob.
func (v Value) AsBlob() ([]byte, bool) {
	if v.kind != KindBlob {
		return nil, false
	}
	return v.raw, true
}

// AsRaw returns the JSON text and whether v is Raw.
func (v Value) AsRaw() (json.RawMessage, bool) {
	if v.kind != KindRaw {
		return nil, false
	}
	return v.raw, true
}

// Equal reports whether v and o hold the same variant and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindText:
		return v.s == o.s
	default:
		return bytes.Equal(v.raw, o.raw)
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return strconv.Quote(v.s)
	case KindBlob:
		return fmt.Sprintf("blob(%d)", len(v.raw))
	default:
		return string(v.raw)
	}
}

// MarshalJSON encodes v as plain JSON. Blobs become arrays of byte values and
// non-finite floats become null, since JSON has no representation for either.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	case KindInt:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.f)
	case KindText:
		return json.Marshal(v.s)
	case KindBlob:
		return marshalBlob(v.raw), nil
	case KindRaw:
		if len(v.raw) == 0 {
			return []byte("null"), nil
		}
		return v.raw, nil
	}
	return nil, fmt.Errorf("marshal value: unknown kind %d", v.kind)
}

func marshalBlob(b []byte) []byte {
	buf := make([]byte, 0, 2+len(b)*4)
	buf = append(buf, '[')
	for i, c := range b {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendUint(buf, uint64(c), 10)
	}
	return append(buf, ']')
}

// UnmarshalJSON decodes a JSON value. Integers that fit in int64 become Int,
// every other number becomes Float, arrays and objects become Raw.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("unmarshal value: empty input")
	}

	switch data[0] {
	case 'n':
		*v = Null()
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("unmarshal value: %w", err)
		}
		*v = Bool(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("unmarshal value: %w", err)
		}
		*v = Text(s)
		return nil
	case '[', '{':
		if !json.Valid(data) {
			return fmt.Errorf("unmarshal value: invalid JSON")
		}
		*v = Raw(append(json.RawMessage(nil), data...))
		return nil
	}

	num := string(data)
	if i, err := strconv.ParseInt(num, 10, 64); err == nil {
		*v = Int(i)
		return nil
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return fmt.Errorf("unmarshal value: invalid number %q", num)
	}
	*v = Float(f)
	return nil
}
