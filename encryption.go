package cache

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
	"time"
)

var (
	encryptionMagic = []byte("ENC1")

	ErrEncryptionKey = errors.New("cache: encryption key must be 16, 24, or 32 bytes")
	ErrDecryptFailed = errors.New("cache: decrypt failed")
)

// encryptingStore seals opaque payloads with AES-GCM before they reach the
// backend. Numeric values pass through in the clear so counters keep their
// server-side arithmetic; keep secrets in opaque payloads.
type encryptingStore struct {
	inner Store
	aead  cipher.AEAD
}

func newEncryptingStore(inner Store, key []byte) (Store, error) {
	if len(key) == 0 {
		return inner, nil
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrEncryptionKey
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &encryptingStore{inner: inner, aead: aead}, nil
}

// Unwrap exposes the decorated store so capability probes can walk the
// wrapper chain.
func (s *encryptingStore) Unwrap() Store { return s.inner }

func (s *encryptingStore) Driver() Driver { return s.inner.Driver() }

func (s *encryptingStore) Prefix() string { return s.inner.Prefix() }

func (s *encryptingStore) WithPrefix(prefix string) Store {
	clone := *s
	clone.inner = s.inner.WithPrefix(prefix)
	return &clone
}

func (s *encryptingStore) Ready(ctx context.Context) error {
	return s.inner.Ready(ctx)
}

func (s *encryptingStore) Get(ctx context.Context, key string) (Value, bool, error) {
	v, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}
	if v.Kind() != KindBytes {
		return v, true, nil
	}
	plain, err := s.decrypt(v.Bytes())
	if err != nil {
		return Value{}, false, err
	}
	return BytesValue(plain), true, nil
}

func (s *encryptingStore) Set(ctx context.Context, key string, value Value, ttl time.Duration) error {
	enc, err := s.encodeValue(value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, enc, ttl)
}

func (s *encryptingStore) Add(ctx context.Context, key string, value Value, ttl time.Duration) (bool, error) {
	enc, err := s.encodeValue(value)
	if err != nil {
		return false, err
	}
	return s.inner.Add(ctx, key, enc, ttl)
}

func (s *encryptingStore) Increment(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return s.inner.Increment(ctx, key, delta)
}

func (s *encryptingStore) Decrement(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return s.inner.Decrement(ctx, key, delta)
}

func (s *encryptingStore) Forever(ctx context.Context, key string, value Value) error {
	enc, err := s.encodeValue(value)
	if err != nil {
		return err
	}
	return s.inner.Forever(ctx, key, enc)
}

func (s *encryptingStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *encryptingStore) DeleteMany(ctx context.Context, keys ...string) error {
	return s.inner.DeleteMany(ctx, keys...)
}

func (s *encryptingStore) Flush(ctx context.Context) error {
	return s.inner.Flush(ctx)
}

func (s *encryptingStore) encodeValue(value Value) (Value, error) {
	if value.Kind() != KindBytes {
		return value, nil
	}
	body, err := s.encrypt(value.Bytes())
	if err != nil {
		return Value{}, err
	}
	return BytesValue(body), nil
}

func (s *encryptingStore) encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ct := s.aead.Seal(nil, nonce, plain, nil)
	buf := make([]byte, 0, len(encryptionMagic)+1+len(nonce)+len(ct))
	buf = append(buf, encryptionMagic...)
	buf = append(buf, byte(len(nonce)))
	buf = append(buf, nonce...)
	buf = append(buf, ct...)
	return buf, nil
}

// decrypt opens a sealed payload. Payloads without the magic pass through
// untouched, which keeps values written before encryption was enabled
// readable.
func (s *encryptingStore) decrypt(in []byte) ([]byte, error) {
	if len(in) < len(encryptionMagic)+1 {
		return in, nil
	}
	if !bytes.Equal(in[:len(encryptionMagic)], encryptionMagic) {
		return in, nil
	}
	nonceLen := int(in[len(encryptionMagic)])
	offset := len(encryptionMagic) + 1
	if len(in) < offset+nonceLen {
		return nil, ErrDecryptFailed
	}
	nonce := in[offset : offset+nonceLen]
	ct := in[offset+nonceLen:]
	plain, err := s.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}
