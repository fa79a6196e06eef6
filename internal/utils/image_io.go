package utils

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// SupportedImageExtensions lists raster formats the decoder accepts.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".webp", ".gif"}

// SupportedDocumentExtensions adds container formats on top of rasters.
var SupportedDocumentExtensions = append([]string{".pdf"}, SupportedImageExtensions...)

// IsSupportedImage reports whether the path has a supported raster extension.
func IsSupportedImage(path string) bool {
	return hasExt(path, SupportedImageExtensions)
}

// IsSupportedDocument reports whether the path is a raster or a PDF.
func IsSupportedDocument(path string) bool {
	return hasExt(path, SupportedDocumentExtensions)
}

func hasExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range exts {
		if ext == s {
			return true
		}
	}
	return false
}

// IsPDF sniffs the PDF magic header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// ImageMetadata captures lightweight pixel and resolution information.
type ImageMetadata struct {
	Format    string
	SizeBytes int64
	Width     int
	Height    int
	// DPI is 0 when the container carries no density information.
	DPI float64
}

// DecodeImage decodes an in-memory raster and reads its declared density.
func DecodeImage(data []byte) (image.Image, ImageMetadata, error) {
	if len(data) == 0 {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "decode", Err: errors.New("empty input")}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "decode", Err: err}
	}
	b := img.Bounds()
	meta := ImageMetadata{
		Format:    format,
		SizeBytes: int64(len(data)),
		Width:     b.Dx(),
		Height:    b.Dy(),
	}
	if dpi, ok := DetectDPI(data); ok {
		meta.DPI = dpi
	}
	return img, meta, nil
}

// LoadFile reads a document file from disk.
func LoadFile(path string) ([]byte, error) {
	if path == "" {
		return nil, &ImageProcessingError{Operation: "load", Err: errors.New("empty path")}
	}
	if !IsSupportedDocument(path) {
		return nil, &ImageProcessingError{Operation: "load", Err: fmt.Errorf("unsupported format: %s", filepath.Ext(path))}
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: reading user-provided document path is expected
	if err != nil {
		return nil, &ImageProcessingError{Operation: "load", Err: err}
	}
	return data, nil
}
