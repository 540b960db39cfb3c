package cache

import (
	"bytes"
	"errors"
	"strconv"
)

// ValueKind discriminates the payload stored in a Value.
type ValueKind uint8

const (
	KindAbsent ValueKind = iota
	KindInt
	KindFloat
	KindBytes
)

// Value is the typed currency of every store operation. The kind is chosen
// explicitly at the call site: numeric values travel as backend numbers so
// the backend can apply arithmetic to them, everything else is an opaque
// byte payload the store never inspects. A string that merely looks
// numeric stays opaque.
type Value struct {
	kind ValueKind
	n    int64
	f    float64
	b    []byte
}

var errAbsentValue = errors.New("cache: cannot store an absent value")

// IntValue wraps an integer for storage in the backend's numeric form.
// @group Values
//
// Example: store a counter seed
//
//	_ = store.Set(ctx, "visits", cache.IntValue(10), time.Minute)
func IntValue(n int64) Value {
	return Value{kind: KindInt, n: n}
}

// FloatValue wraps a float for storage in the backend's numeric form.
// Integral floats re-read as integers, mirroring how the backend reports
// numbers without a float/int distinction.
// @group Values
func FloatValue(f float64) Value {
	return Value{kind: KindFloat, f: f}
}

// BytesValue wraps an opaque payload. The bytes are cloned.
// @group Values
func BytesValue(b []byte) Value {
	return Value{kind: KindBytes, b: cloneBytes(b)}
}

// StringValue wraps a string as an opaque payload. "42" stays a string.
// @group Values
func StringValue(s string) Value {
	return Value{kind: KindBytes, b: []byte(s)}
}

// Kind reports which payload the value carries.
func (v Value) Kind() ValueKind { return v.kind }

// IsAbsent reports whether v is the zero Value.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Int returns the integer payload. It does not coerce floats.
func (v Value) Int() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.n, true
}

// Float returns the numeric payload as a float. Integer values convert.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.n), true
	default:
		return 0, false
	}
}

// Bytes returns a clone of the opaque payload, nil for other kinds.
func (v Value) Bytes() []byte {
	if v.kind != KindBytes {
		return nil
	}
	return cloneBytes(v.b)
}

// String renders the payload: opaque bytes verbatim, numerics in their
// canonical decimal form, absent as the empty string.
func (v Value) String() string {
	switch v.kind {
	case KindBytes:
		return string(v.b)
	case KindInt:
		return strconv.FormatInt(v.n, 10)
	case KindFloat:
		return formatFloat(v.f)
	default:
		return ""
	}
}

// opaqueWireMagic marks opaque payloads in byte-oriented backends so that
// numerics can stay unprefixed and remain usable by native backend
// arithmetic (e.g. INCRBY).
var opaqueWireMagic = []byte("OPQ1")

// wireEncode flattens a Value for backends that store plain bytes.
func wireEncode(v Value) ([]byte, error) {
	switch v.kind {
	case KindInt:
		return []byte(strconv.FormatInt(v.n, 10)), nil
	case KindFloat:
		return []byte(formatFloat(v.f)), nil
	case KindBytes:
		out := make([]byte, 0, len(opaqueWireMagic)+len(v.b))
		out = append(out, opaqueWireMagic...)
		out = append(out, v.b...)
		return out, nil
	default:
		return nil, errAbsentValue
	}
}

// wireDecode reverses wireEncode. Unprefixed payloads written by foreign
// clients decode integer-first, then float, else opaque.
func wireDecode(body []byte) Value {
	if bytes.HasPrefix(body, opaqueWireMagic) {
		return BytesValue(body[len(opaqueWireMagic):])
	}
	return numericOrBytes(string(body), body)
}

// numericOrBytes applies the integer-first read rule shared by all stores.
func numericOrBytes(text string, raw []byte) Value {
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return IntValue(n)
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return FloatValue(f)
	}
	return BytesValue(raw)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func cloneBytes(value []byte) []byte {
	if len(value) == 0 {
		return nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out
}
