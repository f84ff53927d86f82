package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
)

// DefaultMaxPixels bounds the decoded size of a single image.
const DefaultMaxPixels = 8192 * 8192

var (
	ErrEmpty       = errors.New("empty image payload")
	ErrUnsupported = errors.New("unsupported image format")
	ErrTooLarge    = errors.New("image dimensions exceed limit")
)

// CodecError wraps any failure to turn a payload into an image.
type CodecError struct {
	Size int
	Err  error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec: decode %d byte payload: %v", e.Size, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// Image is a decoded payload. Encoded keeps the original bytes so consumers
// can forward them without re-encoding.
type Image struct {
	Format  string
	Width   int
	Height  int
	Encoded []byte
	Pixels  image.Image
}

// Decode validates and decodes a JPEG or PNG payload. maxPixels <= 0 selects
// DefaultMaxPixels.
func Decode(payload []byte, maxPixels int) (*Image, error) {
	if len(payload) == 0 {
		return nil, &CodecError{Err: ErrEmpty}
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			err = ErrUnsupported
		}
		return nil, &CodecError{Size: len(payload), Err: err}
	}
	if format != "jpeg" && format != "png" {
		return nil, &CodecError{Size: len(payload), Err: fmt.Errorf("%w: %s", ErrUnsupported, format)}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, &CodecError{Size: len(payload), Err: fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)}
	}

	pixels, _, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, &CodecError{Size: len(payload), Err: err}
	}
	return &Image{
		Format:  format,
		Width:   cfg.Width,
		Height:  cfg.Height,
		Encoded: payload,
		Pixels:  pixels,
	}, nil
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
