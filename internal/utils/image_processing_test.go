package utils

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToGray(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 20, 15))
	src.Set(10, 10, color.RGBA{255, 255, 255, 255})

	g := ToGray(src)
	assert.Equal(t, image.Rect(0, 0, 10, 5), g.Bounds())
	assert.Equal(t, uint8(255), g.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(0), g.GrayAt(1, 1).Y)
}

func TestScaleToWidth(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 400, 200))

	out, scale := ScaleToWidth(img, 100)
	assert.Equal(t, 100, out.Bounds().Dx())
	assert.Equal(t, 50, out.Bounds().Dy())
	assert.InDelta(t, 0.25, scale, 1e-9)

	out, scale = ScaleToWidth(img, 1000)
	assert.Same(t, img, out.(*image.Gray))
	assert.Equal(t, 1.0, scale)
}

func TestAssessImageQuality(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for x := 0; x < 10; x++ {
		img.SetGray(x, 0, color.Gray{Y: 0})
	}

	q, err := AssessImageQuality(img)
	require.NoError(t, err)
	assert.Equal(t, 10, q.Width)
	assert.InDelta(t, 0.1, q.InkRatio, 1e-9)

	_, err = AssessImageQuality(nil)
	assert.Error(t, err)
}

func TestRotate_KeepsWhiteBackground(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 50, 50))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	out := Rotate(img, 10)
	assert.Greater(t, out.Bounds().Dx(), 50)
	assert.Equal(t, uint8(255), out.GrayAt(0, 0).Y)
}
