package codec

import "encoding/json"

// JSON round-trips values with encoding/json. It is the format the typed
// cache helpers default to, provided here so it can be wrapped or swapped
// explicitly. The zero value is ready to use.
type JSON[T any] struct{}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }

func (JSON[T]) Decode(b []byte) (T, error) {
	var v T
	err := json.Unmarshal(b, &v)
	return v, err
}
