package protocol

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

// maxDecodedBytes caps how far a ceiling-compliant response may inflate.
// Legitimate payloads stay well under this; a crafted high-ratio frame
// must not be able to exhaust memory on the device.
const maxDecodedBytes = 8 << 20

// Codec serializes wire payloads as zstd-compressed compact JSON.
// The encoder and decoder are reused across calls and safe for
// concurrent use via EncodeAll/DecodeAll.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec creates a Codec at the default compression level.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedBytes))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Marshal encodes v to JSON and compresses it.
func (c *Codec) Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return c.enc.EncodeAll(raw, nil), nil
}

// MarshalLimit encodes v like Marshal but returns ErrCompressionLimit when
// the compressed form exceeds limit bytes.
func (c *Codec) MarshalLimit(v any, limit int) ([]byte, error) {
	data, err := c.Marshal(v)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(data) > limit {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrCompressionLimit, len(data), limit)
	}
	return data, nil
}

// Unmarshal decompresses data and decodes the JSON into v.
func (c *Codec) Unmarshal(data []byte, v any) error {
	raw, err := c.dec.DecodeAll(data, nil)
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
		return fmt.Errorf("%w: decompressed payload over %d bytes", ErrCompressionLimit, maxDecodedBytes)
	}
	if err != nil {
		return fmt.Errorf("decompress payload: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// Close releases codec resources.
func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}
