package utils

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestIsSupported(t *testing.T) {
	cases := []struct {
		path     string
		image    bool
		document bool
	}{
		{"a.jpg", true, true},
		{"b.JPEG", true, true},
		{"c.png", true, true},
		{"d.tiff", true, true},
		{"e.pdf", false, true},
		{"f.txt", false, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.image, IsSupportedImage(c.path), c.path)
		assert.Equal(t, c.document, IsSupportedDocument(c.path), c.path)
	}
}

func TestDecodeImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 40, 20))
	data := encodePNG(t, img)

	decoded, meta, err := DecodeImage(data)
	require.NoError(t, err)
	assert.Equal(t, 40, decoded.Bounds().Dx())
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, 20, meta.Height)
	assert.Zero(t, meta.DPI)

	_, _, err = DecodeImage([]byte("not an image"))
	var ipe *ImageProcessingError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "decode", ipe.Operation)

	_, _, err = DecodeImage(nil)
	require.Error(t, err)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF([]byte("%PDF-1.7\n...")))
	assert.False(t, IsPDF([]byte{0x89, 'P', 'N', 'G'}))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "page.png")
	require.NoError(t, os.WriteFile(p, encodePNG(t, image.NewGray(image.Rect(0, 0, 2, 2))), 0o600))

	data, err := LoadFile(p)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	_, err = LoadFile(filepath.Join(dir, "notes.txt"))
	assert.Error(t, err)
	_, err = LoadFile("")
	assert.Error(t, err)
}

func TestDetectDPI_JFIF(t *testing.T) {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.Black)
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	data := buf.Bytes()

	// Go's encoder writes no JFIF segment; splice one in after SOI.
	app0 := []byte{0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x01, 0x01, 0x2C, 0x01, 0x2C, 0x00, 0x00}
	withJFIF := append(append([]byte{0xFF, 0xD8}, app0...), data[2:]...)

	dpi, ok := DetectDPI(withJFIF)
	require.True(t, ok)
	assert.InDelta(t, 300, dpi, 1e-9)

	_, ok = DetectDPI(data)
	assert.False(t, ok)
}

func TestDetectDPI_PNG(t *testing.T) {
	data := encodePNG(t, image.NewGray(image.Rect(0, 0, 4, 4)))

	// pHYs: 11811 px/m (~300 dpi), unit meter.
	chunk := []byte{0, 0, 0, 9, 'p', 'H', 'Y', 's', 0, 0, 0x2E, 0x23, 0, 0, 0x2E, 0x23, 1, 0, 0, 0, 0}
	ihdrEnd := len(pngSignature) + 8 + 13 + 4
	withPhys := append(append(append([]byte{}, data[:ihdrEnd]...), chunk...), data[ihdrEnd:]...)

	dpi, ok := DetectDPI(withPhys)
	require.True(t, ok)
	assert.InDelta(t, 300, dpi, 0.1)
}
