package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioRoundTrip(t *testing.T) {
	samples := bytes.Repeat([]byte{0x00, 0x10, 0x20, 0x10}, 4096)

	compressed, err := CompressAudio(samples)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(samples))

	restored, err := DecompressAudio(compressed)
	require.NoError(t, err)
	assert.Equal(t, samples, restored)
}

func TestCompressAudioRejectsEmpty(t *testing.T) {
	_, err := CompressAudio(nil)
	assert.Error(t, err)
}

func TestDecompressAudioRejectsGarbage(t *testing.T) {
	_, err := DecompressAudio([]byte("not zstd"))
	assert.Error(t, err)
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for x := 0; x < 32; x++ {
		for y := 0; y < 32; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCompressImageProducesJPEG(t *testing.T) {
	out, err := CompressImage(testPNG(t), 50)
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Width)
	assert.Equal(t, 32, cfg.Height)
}

func TestCompressImageRejectsGarbage(t *testing.T) {
	_, err := CompressImage([]byte("definitely not an image"), 50)
	assert.Error(t, err)
}

func TestDigest(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Digest(nil),
	)
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		Digest([]byte("hello")),
	)
	assert.Len(t, Digest([]byte("x")), 64)
}
