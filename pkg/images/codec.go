package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
)

// DefaultMaxPixels caps decoded images at 16 megapixels, 64 MiB of NRGBA.
const DefaultMaxPixels = 16 * 1024 * 1024

var (
	ErrEmptyData     = errors.New("empty image data")
	ErrImageTooLarge = errors.New("image dimensions exceed pixel limit")
)

// ICodec converts between decoded images and the encoded bytes kept by the
// durable tier. Encode(Decode(b)) must yield a pixel-equal image.
type ICodec interface {
	Encode(img *Image) ([]byte, error)
	Decode(data []byte) (*Image, error)
}

// PNGCodec encodes losslessly as PNG. Decode also accepts JPEG and GIF, which
// is what most image URLs serve. Images declaring more than MaxPixels pixels
// are rejected from their header, before any pixel buffer is allocated; zero
// disables the check.
type PNGCodec struct {
	CompressionLevel png.CompressionLevel
	MaxPixels        uint64
}

func NewPNGCodec() *PNGCodec {
	return &PNGCodec{CompressionLevel: png.BestSpeed, MaxPixels: DefaultMaxPixels}
}

func (c *PNGCodec) Encode(img *Image) ([]byte, error) {
	if img == nil {
		return nil, errors.New("cannot encode nil image")
	}
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: c.CompressionLevel}
	if err := encoder.Encode(&buf, img.NRGBA()); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *PNGCodec) Decode(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}
	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image header: %w", err)
	}
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("decoded %s image has no pixels", format)
	}
	if pixels := uint64(config.Width) * uint64(config.Height); c.MaxPixels > 0 && pixels > c.MaxPixels {
		return nil, fmt.Errorf("%w: %s image is %dx%d, limit %d pixels",
			ErrImageTooLarge, format, config.Width, config.Height, c.MaxPixels)
	}

	decoded, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if decoded.Bounds().Empty() {
		return nil, fmt.Errorf("decoded %s image has no pixels", format)
	}
	return FromImage(decoded), nil
}
