package cache

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"

	"github.com/klauspost/compress/snappy"
)

// CompressionCodec selects the algorithm applied to opaque payloads.
type CompressionCodec string

const (
	CompressionNone   CompressionCodec = ""
	CompressionGzip   CompressionCodec = "gzip"
	CompressionSnappy CompressionCodec = "snappy"
)

var (
	compressMagic = []byte("CMP1")

	ErrValueTooLarge      = errors.New("cache: value exceeds max size")
	ErrUnsupportedCodec   = errors.New("cache: unsupported compression codec")
	ErrCorruptCompression = errors.New("cache: corrupt compressed payload")
)

// compressBody wraps an opaque payload as magic + codec byte + compressed
// bytes. The size ceiling applies to the payload as offered and to the
// encoded result, so compression can never smuggle an oversized value past
// the limit.
func compressBody(codec CompressionCodec, max int, body []byte) ([]byte, error) {
	if max > 0 && len(body) > max {
		return nil, ErrValueTooLarge
	}
	var out []byte
	switch codec {
	case CompressionNone:
		return body, nil
	case CompressionGzip:
		var buf bytes.Buffer
		buf.Write(compressMagic)
		_ = buf.WriteByte('g')
		zw, _ := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
		if _, err := zw.Write(body); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		out = buf.Bytes()
	case CompressionSnappy:
		encoded := snappy.Encode(nil, body)
		out = make([]byte, 0, len(compressMagic)+1+len(encoded))
		out = append(out, compressMagic...)
		out = append(out, 's')
		out = append(out, encoded...)
	default:
		return nil, ErrUnsupportedCodec
	}
	if max > 0 && len(out) > max {
		return nil, ErrValueTooLarge
	}
	return out, nil
}

// decompressBody reverses compressBody. Payloads without the magic pass
// through untouched, which keeps values written before compression was
// enabled readable.
func decompressBody(in []byte) ([]byte, error) {
	if len(in) < len(compressMagic)+1 {
		return in, nil
	}
	if !bytes.Equal(in[:len(compressMagic)], compressMagic) {
		return in, nil
	}
	codec := in[len(compressMagic)]
	payload := in[len(compressMagic)+1:]
	switch codec {
	case 'g':
		gr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, ErrCorruptCompression
		}
		defer gr.Close()
		out, err := io.ReadAll(gr)
		if err != nil {
			return nil, ErrCorruptCompression
		}
		return out, nil
	case 's':
		out, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, ErrCorruptCompression
		}
		return out, nil
	default:
		return nil, ErrUnsupportedCodec
	}
}
