// Package images holds the decoded pixel buffer handed to callers and the
// codec that converts it to and from the encoded bytes kept on disk.
package images

import (
	"bytes"
	"image"
	"image/draw"
)

// Image is a decoded RGBA pixel buffer. It is a value owned by whoever holds
// it; caches keep their own copy and hand out clones.
type Image struct {
	pixels *image.NRGBA
}

// FromImage converts any decoded image into an Image, copying the pixels.
func FromImage(src image.Image) *Image {
	if n, ok := src.(*image.NRGBA); ok {
		return &Image{pixels: cloneNRGBA(n)}
	}
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return &Image{pixels: dst}
}

func (img *Image) Width() int {
	return img.pixels.Bounds().Dx()
}

func (img *Image) Height() int {
	return img.pixels.Bounds().Dy()
}

// Size is the number of bytes held by the pixel buffer.
func (img *Image) Size() int {
	return len(img.pixels.Pix)
}

// NRGBA exposes the underlying buffer for encoders.
func (img *Image) NRGBA() *image.NRGBA {
	return img.pixels
}

func (img *Image) Clone() *Image {
	return &Image{pixels: cloneNRGBA(img.pixels)}
}

// Equal reports whether both images have the same dimensions and pixels.
func (img *Image) Equal(other *Image) bool {
	if img == nil || other == nil {
		return img == other
	}
	if img.Width() != other.Width() || img.Height() != other.Height() {
		return false
	}
	for y := 0; y < img.Height(); y++ {
		if !bytes.Equal(img.row(y), other.row(y)) {
			return false
		}
	}
	return true
}

// row returns the pixels of line y. Buffers always start at the origin.
func (img *Image) row(y int) []byte {
	start := y * img.pixels.Stride
	return img.pixels.Pix[start : start+4*img.Width()]
}

// cloneNRGBA copies row by row; draw.Draw would round-trip through
// premultiplied alpha and alter translucent pixels.
func cloneNRGBA(src *image.NRGBA) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	rowLen := 4 * b.Dx()
	for y := 0; y < b.Dy(); y++ {
		from := src.PixOffset(b.Min.X, b.Min.Y+y)
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+rowLen], src.Pix[from:from+rowLen])
	}
	return dst
}
