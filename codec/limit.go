package codec

import "fmt"

// Limit wraps another codec and rejects oversized payloads before they
// reach Inner's Decode. Encode is forwarded unchanged. A MaxDecode of zero
// or less disables the check.
//
// Put this in front of decoders fed from a shared cache, where another
// writer may have stored something far larger than the caller expects.
type Limit[T any] struct {
	Inner     Codec[T]
	MaxDecode int
}

var _ Codec[struct{}] = Limit[struct{}]{}

func (c Limit[T]) Encode(v T) ([]byte, error) { return c.Inner.Encode(v) }

func (c Limit[T]) Decode(b []byte) (T, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero T
		return zero, fmt.Errorf("codec: payload too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
