package cache

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
)

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// Marshal encodes an entry as JSON
func Marshal(e *Entry) ([]byte, error) {
	data, err := sonic.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry: %w", err)
	}
	return data, nil
}

// Unmarshal decodes an entry produced by Marshal
func Unmarshal(data []byte) (*Entry, error) {
	var e Entry
	if err := sonic.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &e, nil
}

// Compress zstd-compresses a body for backends that store bytes at rest
func Compress(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	return encoder.EncodeAll(src, make([]byte, 0, len(src)))
}

// Decompress reverses Compress
func Decompress(src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}
	out, err := decoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress body: %w", err)
	}
	return out, nil
}

// Pack encodes an entry with a compressed body
func Pack(e *Entry) ([]byte, error) {
	packed := *e
	packed.Body = Compress(e.Body)
	return Marshal(&packed)
}

// Unpack reverses Pack
func Unpack(data []byte) (*Entry, error) {
	e, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	body, err := Decompress(e.Body)
	if err != nil {
		return nil, err
	}
	e.Body = body
	return e, nil
}
