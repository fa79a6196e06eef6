// Package utils provides raster decoding and pixel level helpers shared by
// the preprocessor, the OCR backends and the batch tooling.
package utils

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// ToGray converts any image to an 8-bit grayscale raster with origin (0,0).
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	src := imaging.Grayscale(img)
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+b.Dx()*4]
		for x := 0; x < b.Dx(); x++ {
			out.Pix[y*out.Stride+x] = row[x*4]
		}
	}
	return out
}

// ScaleToWidth downsizes img so it is at most width pixels wide.
func ScaleToWidth(img image.Image, width int) (image.Image, float64) {
	w := img.Bounds().Dx()
	if width <= 0 || w <= width {
		return img, 1
	}
	scale := float64(width) / float64(w)
	return imaging.Resize(img, width, 0, imaging.Box), scale
}

// Rotate rotates img counter-clockwise by deg degrees onto a white canvas.
func Rotate(img image.Image, deg float64) *image.Gray {
	return ToGray(imaging.Rotate(img, deg, color.White))
}

// ImageQuality summarizes basic raster properties.
type ImageQuality struct {
	Width       int
	Height      int
	AspectRatio float64
	// InkRatio is the fraction of pixels darker than mid gray.
	InkRatio float64
}

// AssessImageQuality analyzes basic image properties.
func AssessImageQuality(img image.Image) (ImageQuality, error) {
	if img == nil {
		return ImageQuality{}, &ImageProcessingError{Operation: "assess", Err: errors.New("input image is nil")}
	}
	g := ToGray(img)
	b := g.Bounds()
	if b.Empty() {
		return ImageQuality{}, &ImageProcessingError{Operation: "assess", Err: errors.New("empty image")}
	}
	var ink int
	for _, p := range g.Pix {
		if p < 128 {
			ink++
		}
	}
	return ImageQuality{
		Width:       b.Dx(),
		Height:      b.Dy(),
		AspectRatio: float64(b.Dx()) / float64(b.Dy()),
		InkRatio:    float64(ink) / float64(len(g.Pix)),
	}, nil
}

// CloneGray returns a deep copy.
func CloneGray(g *image.Gray) *image.Gray {
	out := image.NewGray(g.Bounds())
	draw.Draw(out, out.Bounds(), g, g.Bounds().Min, draw.Src)
	return out
}
