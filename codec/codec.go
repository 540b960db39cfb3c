// Package codec provides wire formats for typed cache values.
//
// A Codec turns a Go value into the byte payload stored behind a key and
// back again. Every codec here also satisfies cache.ValueCodec, so any of
// them can be handed to the typed remember helpers:
//
//	profile, err := cache.RememberValueWithCodec(ctx, c, "profile:9", time.Minute, load, codec.Msgpack[Profile]{})
package codec

// Codec encodes and decodes values of type T for storage.
type Codec[T any] interface {
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}
