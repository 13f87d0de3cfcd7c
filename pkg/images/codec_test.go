package images

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPattern(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8(x ^ y), A: uint8(128 + x%128)})
		}
	}
	return img
}

func TestPNGCodec_RoundTrip(t *testing.T) {
	codec := NewPNGCodec()
	original := FromImage(testPattern(31, 17))

	data, err := codec.Encode(original)
	require.NoError(t, err)

	decoded, err := codec.Decode(data)
	require.NoError(t, err)
	assert.True(t, original.Equal(decoded))
	assert.Equal(t, 31, decoded.Width())
	assert.Equal(t, 17, decoded.Height())
}

func TestPNGCodec_DecodeJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testPattern(8, 8), nil))

	decoded, err := NewPNGCodec().Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 8, decoded.Width())
	assert.Equal(t, 8*8*4, decoded.Size())
}

func TestPNGCodec_DecodeErrors(t *testing.T) {
	codec := NewPNGCodec()

	_, err := codec.Decode(nil)
	assert.ErrorIs(t, err, ErrEmptyData)

	_, err = codec.Decode([]byte("<html>not an image</html>"))
	assert.Error(t, err)
}

// pngWithDimensions encodes a 1x1 PNG and rewrites its IHDR to declare w x h,
// so only the header claims a large image.
func pngWithDimensions(t *testing.T, w, h uint32) []byte {
	t.Helper()
	data, err := NewPNGCodec().Encode(FromImage(testPattern(1, 1)))
	require.NoError(t, err)

	// signature(8) | length(4) | "IHDR" | width | height | ... | crc at 29
	require.Equal(t, "IHDR", string(data[12:16]))
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestPNGCodec_RejectsOversizedDimensions(t *testing.T) {
	// a few hundred bytes claiming 30000x30000, 3.6 GB once decoded
	data := pngWithDimensions(t, 30000, 30000)
	require.Less(t, len(data), 1024)

	_, err := NewPNGCodec().Decode(data)
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestPNGCodec_MaxPixels(t *testing.T) {
	codec := NewPNGCodec()
	codec.MaxPixels = 100

	data, err := codec.Encode(FromImage(testPattern(10, 10)))
	require.NoError(t, err)
	_, err = codec.Decode(data)
	assert.NoError(t, err, "exactly at the limit")

	data, err = codec.Encode(FromImage(testPattern(11, 10)))
	require.NoError(t, err)
	_, err = codec.Decode(data)
	assert.ErrorIs(t, err, ErrImageTooLarge)

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testPattern(20, 20), nil))
	_, err = codec.Decode(buf.Bytes())
	assert.ErrorIs(t, err, ErrImageTooLarge)

	codec.MaxPixels = 0
	_, err = codec.Decode(buf.Bytes())
	assert.NoError(t, err, "zero disables the limit")
}

func TestPNGCodec_EncodeNil(t *testing.T) {
	_, err := NewPNGCodec().Encode(nil)
	assert.Error(t, err)
}

func TestImage_FromSubImageNormalizesOrigin(t *testing.T) {
	full := testPattern(10, 10)
	sub := full.SubImage(image.Rect(2, 3, 6, 9))

	img := FromImage(sub)
	assert.Equal(t, 4, img.Width())
	assert.Equal(t, 6, img.Height())
	assert.Equal(t, image.Pt(0, 0), img.NRGBA().Bounds().Min)
	assert.Equal(t, full.NRGBAAt(2, 3), img.NRGBA().NRGBAAt(0, 0))
}

func TestImage_CloneIsIndependent(t *testing.T) {
	img := FromImage(testPattern(4, 4))
	clone := img.Clone()
	require.True(t, img.Equal(clone))

	clone.NRGBA().SetNRGBA(0, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 4})
	assert.False(t, img.Equal(clone))
}

func TestImage_EqualDimensions(t *testing.T) {
	a := FromImage(testPattern(4, 4))
	b := FromImage(testPattern(4, 5))
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(nil))
	var none *Image
	assert.True(t, none.Equal(nil))
}
