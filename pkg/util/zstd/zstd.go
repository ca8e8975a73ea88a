package zstd

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Magic 是 zstd 帧头，消息内容是否压缩靠它判断。
var Magic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	decoderOnce sync.Once
	decoder     *zstd.Decoder

	encoderOnce sync.Once
	encoder     *zstd.Encoder
)

// IsCompressed reports whether b starts with the zstd frame magic.
func IsCompressed(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], Magic)
}

// Decompress decodes a complete zstd frame.
func Decompress(b []byte) ([]byte, error) {
	var err error
	decoderOnce.Do(func() {
		decoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	if err != nil {
		return nil, err
	}
	return decoder.DecodeAll(b, nil)
}

// Compress encodes b as a single zstd frame.
func Compress(b []byte) ([]byte, error) {
	var err error
	encoderOnce.Do(func() {
		encoder, err = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	})
	if err != nil {
		return nil, err
	}
	return encoder.EncodeAll(b, nil), nil
}
