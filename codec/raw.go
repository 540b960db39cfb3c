package codec

// Bytes is the identity codec for []byte values. Both directions return the
// input unchanged; use it when the caller already holds encoded bytes and
// only wants the cache's framing.
type Bytes struct{}

var _ Codec[[]byte] = Bytes{}

func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) { return b, nil }

// String converts between string and []byte with no validation.
type String struct{}

var _ Codec[string] = String{}

func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }
