package encoding

import (
	"errors"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic prefixes every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// ErrNotCompressed is returned by Decompress for input that is not a zstd frame.
var ErrNotCompressed = errors.New("data is not zstd compressed")

// Compress returns src as a single zstd frame.
func Compress(src []byte) []byte {
	return zstdEncoder.EncodeAll(src, make([]byte, 0, len(src)))
}

// Decompress reverses Compress.
func Decompress(src []byte) ([]byte, error) {
	if !IsCompressed(src) {
		return nil, ErrNotCompressed
	}
	return zstdDecoder.DecodeAll(src, nil)
}

// IsCompressed reports whether src starts with the zstd frame magic.
// Msgpack maps never start with these bytes, so stores can hold a mix of
// compressed and plain values.
func IsCompressed(src []byte) bool {
	if len(src) < len(zstdMagic) {
		return false
	}
	for i, b := range zstdMagic {
		if src[i] != b {
			return false
		}
	}
	return true
}
