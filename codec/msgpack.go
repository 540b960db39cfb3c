package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack round-trips values with vmihailenco/msgpack. Payloads are more
// compact than JSON; field naming follows `msgpack:"..."` struct tags, which
// do not fall back to `json:"..."` tags. The zero value is ready to use.
type Msgpack[T any] struct{}

var _ Codec[struct{}] = Msgpack[struct{}]{}

func (Msgpack[T]) Encode(v T) ([]byte, error) { return msgpack.Marshal(v) }

func (Msgpack[T]) Decode(b []byte) (T, error) {
	var v T
	err := msgpack.Unmarshal(b, &v)
	return v, err
}
