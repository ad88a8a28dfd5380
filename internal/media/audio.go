package media

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// zstd.Encoder and zstd.Decoder are safe for concurrent use, so one pair
// serves every capture.
var (
	audioEncoder *zstd.Encoder
	audioDecoder *zstd.Decoder
)

func init() {
	var err error
	audioEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("media: zstd encoder initialization failed: " + err.Error())
	}

	audioDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("media: zstd decoder initialization failed: " + err.Error())
	}
}

// CompressAudio compresses a raw PCM sample buffer
func CompressAudio(samples []byte) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot compress empty audio buffer")
	}
	return audioEncoder.EncodeAll(samples, make([]byte, 0, len(samples)/2)), nil
}

// DecompressAudio reverses CompressAudio
func DecompressAudio(compressed []byte) ([]byte, error) {
	samples, err := audioDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress audio: %w", err)
	}
	return samples, nil
}
