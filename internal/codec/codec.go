// Package codec implements the wire encoding shared by both cache tiers.
//
// Every payload starts with a single tag byte identifying the encoding of the
// rest: raw JSON, or gzip-compressed JSON for values that cross the
// compression threshold. The format is schema-free and portable, so entries
// written by one service version remain readable by another.
package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	cacheerrors "tiercache/internal/common/errors"
)

const (
	// TagRaw marks an uncompressed JSON payload.
	TagRaw byte = 0x00
	// TagGzip marks a gzip-compressed JSON payload.
	TagGzip byte = 0x01
)

// Codec encodes cache values for the remote tier.
type Codec struct {
	compressionThreshold int
}

// New creates a Codec. Payloads whose JSON form exceeds compressionThreshold
// bytes are compressed when compression actually shrinks them; a threshold
// <= 0 disables compression.
func New(compressionThreshold int) *Codec {
	return &Codec{compressionThreshold: compressionThreshold}
}

// Encode serializes a value into a tagged payload. The second return reports
// whether the payload was compressed.
func (c *Codec) Encode(value interface{}) ([]byte, bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, false, cacheerrors.SerializationError("value is not serializable", err)
	}

	if c.compressionThreshold > 0 && len(raw) > c.compressionThreshold {
		compressed, err := gzipBytes(raw)
		if err != nil {
			return nil, false, cacheerrors.SerializationError("compression failed", err)
		}
		// Fall back to raw when gzip does not shrink the payload.
		if len(compressed) < len(raw) {
			payload := make([]byte, 0, len(compressed)+1)
			payload = append(payload, TagGzip)
			payload = append(payload, compressed...)
			return payload, true, nil
		}
	}

	payload := make([]byte, 0, len(raw)+1)
	payload = append(payload, TagRaw)
	payload = append(payload, raw...)
	return payload, false, nil
}

// Decode deserializes a tagged payload into dest, which must be a pointer.
func (c *Codec) Decode(payload []byte, dest interface{}) error {
	if len(payload) == 0 {
		return cacheerrors.SerializationError("empty payload", nil)
	}

	switch payload[0] {
	case TagRaw:
		if err := json.Unmarshal(payload[1:], dest); err != nil {
			return cacheerrors.SerializationError("payload decode failed", err)
		}
		return nil
	case TagGzip:
		raw, err := gunzipBytes(payload[1:])
		if err != nil {
			return cacheerrors.SerializationError("payload decompression failed", err)
		}
		if err := json.Unmarshal(raw, dest); err != nil {
			return cacheerrors.SerializationError("payload decode failed", err)
		}
		return nil
	default:
		return cacheerrors.SerializationError("unknown payload tag", nil).
			WithContext("tag", fmt.Sprintf("0x%02x", payload[0]))
	}
}

// Compressed reports whether a payload carries the gzip tag.
func Compressed(payload []byte) bool {
	return len(payload) > 0 && payload[0] == TagGzip
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
