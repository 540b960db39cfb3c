package codec

import "github.com/fxamacker/cbor/v2"

// CBOR round-trips values with fxamacker/cbor. The zero value is not ready
// to use; construct with NewCBOR or MustCBOR.
//
// With deterministic=true encoding follows RFC 8949 Core Deterministic
// rules, giving byte-for-byte stable payloads for equal values; otherwise
// the preferred unsorted options apply. Times are encoded as RFC3339Nano
// either way.
type CBOR[T any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

// NewCBOR builds a CBOR codec with the chosen encoding profile.
func NewCBOR[T any](deterministic bool) (CBOR[T], error) {
	var opts cbor.EncOptions
	if deterministic {
		opts = cbor.CoreDetEncOptions()
	} else {
		opts = cbor.PreferredUnsortedEncOptions()
	}
	opts.Time = cbor.TimeRFC3339Nano

	enc, err := opts.EncMode()
	if err != nil {
		return CBOR[T]{}, err
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return CBOR[T]{}, err
	}
	return CBOR[T]{enc: enc, dec: dec}, nil
}

// MustCBOR is NewCBOR panicking on error, for package-level variables.
func MustCBOR[T any](deterministic bool) CBOR[T] {
	c, err := NewCBOR[T](deterministic)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR[T]) Encode(v T) ([]byte, error) { return c.enc.Marshal(v) }

func (c CBOR[T]) Decode(b []byte) (T, error) {
	var v T
	err := c.dec.Unmarshal(b, &v)
	return v, err
}
