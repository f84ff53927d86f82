package codec

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestDecodePNG(t *testing.T) {
	payload, err := EncodePNG(solid(4, 3, color.RGBA{R: 128, G: 64, A: 255}))
	require.NoError(t, err)

	img, err := Decode(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, "png", img.Format)
	assert.Equal(t, 4, img.Width)
	assert.Equal(t, 3, img.Height)
	assert.Equal(t, payload, img.Encoded)

	r, g, _, _ := img.Pixels.At(1, 1).RGBA()
	assert.Equal(t, uint32(128), r>>8)
	assert.Equal(t, uint32(64), g>>8)
}

func TestDecodeJPEG(t *testing.T) {
	payload, err := EncodeJPEG(solid(16, 16, color.RGBA{B: 200, A: 255}), 90)
	require.NoError(t, err)

	img, err := Decode(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", img.Format)
	assert.Equal(t, 16, img.Width)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"), 0)
	var codecErr *CodecError
	require.ErrorAs(t, err, &codecErr)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Decode(nil, 0)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestDecodeRejectsTruncatedPNG(t *testing.T) {
	payload, err := EncodePNG(solid(32, 32, color.RGBA{G: 255, A: 255}))
	require.NoError(t, err)

	_, err = Decode(payload[:len(payload)/2], 0)
	var codecErr *CodecError
	assert.ErrorAs(t, err, &codecErr)
}

func TestDecodeEnforcesPixelLimit(t *testing.T) {
	payload, err := EncodePNG(solid(10, 10, color.RGBA{A: 255}))
	require.NoError(t, err)

	_, err = Decode(payload, 99)
	assert.ErrorIs(t, err, ErrTooLarge)
}
