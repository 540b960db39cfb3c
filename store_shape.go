package cache

import (
	"context"
	"time"
)

// shapingStore enforces data shaping concerns (compression, size limits)
// transparently on top of any concrete Store implementation. Only opaque
// payloads are transformed: numeric values stay bare so the backend can
// keep running its own arithmetic on them.
type shapingStore struct {
	inner Store
	codec CompressionCodec
	max   int
}

func newShapingStore(inner Store, codec CompressionCodec, max int) Store {
	if codec == CompressionNone && max <= 0 {
		return inner
	}
	return &shapingStore{inner: inner, codec: codec, max: max}
}

// Unwrap exposes the decorated store so capability probes can walk the
// wrapper chain.
func (s *shapingStore) Unwrap() Store { return s.inner }

func (s *shapingStore) Driver() Driver { return s.inner.Driver() }

func (s *shapingStore) Prefix() string { return s.inner.Prefix() }

func (s *shapingStore) WithPrefix(prefix string) Store {
	return &shapingStore{inner: s.inner.WithPrefix(prefix), codec: s.codec, max: s.max}
}

func (s *shapingStore) Ready(ctx context.Context) error {
	return s.inner.Ready(ctx)
}

func (s *shapingStore) Get(ctx context.Context, key string) (Value, bool, error) {
	v, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}
	return s.decodeValue(v)
}

func (s *shapingStore) Set(ctx context.Context, key string, value Value, ttl time.Duration) error {
	encoded, err := s.encodeValue(value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, encoded, ttl)
}

func (s *shapingStore) Add(ctx context.Context, key string, value Value, ttl time.Duration) (bool, error) {
	encoded, err := s.encodeValue(value)
	if err != nil {
		return false, err
	}
	return s.inner.Add(ctx, key, encoded, ttl)
}

func (s *shapingStore) Increment(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return s.inner.Increment(ctx, key, delta)
}

func (s *shapingStore) Decrement(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return s.inner.Decrement(ctx, key, delta)
}

func (s *shapingStore) Forever(ctx context.Context, key string, value Value) error {
	encoded, err := s.encodeValue(value)
	if err != nil {
		return err
	}
	return s.inner.Forever(ctx, key, encoded)
}

func (s *shapingStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *shapingStore) DeleteMany(ctx context.Context, keys ...string) error {
	return s.inner.DeleteMany(ctx, keys...)
}

func (s *shapingStore) Flush(ctx context.Context) error {
	return s.inner.Flush(ctx)
}

func (s *shapingStore) encodeValue(value Value) (Value, error) {
	if value.Kind() != KindBytes {
		return value, nil
	}
	body, err := compressBody(s.codec, s.max, value.Bytes())
	if err != nil {
		return Value{}, err
	}
	return BytesValue(body), nil
}

func (s *shapingStore) decodeValue(value Value) (Value, bool, error) {
	if value.Kind() != KindBytes {
		return value, true, nil
	}
	body, err := decompressBody(value.Bytes())
	if err != nil {
		return Value{}, false, err
	}
	return BytesValue(body), true, nil
}
