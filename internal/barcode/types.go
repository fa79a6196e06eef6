package barcode

import (
	"context"
	"errors"
	"image"
	"strings"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

// ErrNoBackend is returned by the default build.
var ErrNoBackend = errors.New("barcode: no decoder backend linked; build with -tags=barcode_gozxing")

// Format represents a barcode symbology.
type Format int

const (
	FormatUnknown Format = iota
	FormatQR
	FormatDataMatrix
	FormatPDF417
	FormatCode128
	FormatCode39
	FormatEAN13
	FormatITF
)

var formatNames = map[Format]string{
	FormatUnknown:    "unknown",
	FormatQR:         "qr",
	FormatDataMatrix: "datamatrix",
	FormatPDF417:     "pdf417",
	FormatCode128:    "code128",
	FormatCode39:     "code39",
	FormatEAN13:      "ean13",
	FormatITF:        "itf",
}

func (f Format) String() string {
	if n, ok := formatNames[f]; ok {
		return n
	}
	return "unknown"
}

// ParseFormat maps a symbology name to a Format.
func ParseFormat(s string) Format {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, n := range formatNames {
		if n == s {
			return f
		}
	}
	return FormatUnknown
}

// Options controls backend decoding behavior.
type Options struct {
	// Formats constrains the symbologies searched; empty means all.
	Formats   []Format
	TryHarder bool
}

// Result represents a decoded barcode.
type Result struct {
	Type  Format
	Value string
	BBox  image.Rectangle
}

// Backend is a pluggable barcode decoder.
type Backend interface {
	Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error)
}

// NewBackend returns the backend linked into this build.
func NewBackend() (Backend, error) { return newDefaultBackend() }

// Tokens runs the backend and converts decoded symbols into full confidence
// tokens. A missing backend or an image without symbols yields no tokens.
func Tokens(ctx context.Context, b Backend, img image.Image, page int, opts Options) ([]model.Token, error) {
	if b == nil {
		return nil, nil
	}
	results, err := b.Decode(ctx, img, opts)
	if err != nil {
		if errors.Is(err, ErrNoBackend) || errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]model.Token, 0, len(results))
	for _, r := range results {
		v := strings.TrimSpace(r.Value)
		if v == "" {
			continue
		}
		out = append(out, model.Token{
			Text:       v,
			Box:        model.BBox{X: r.BBox.Min.X, Y: r.BBox.Min.Y, W: r.BBox.Dx(), H: r.BBox.Dy()},
			Confidence: 1,
			Page:       page,
			Source:     model.SourceBarcode,
		})
	}
	return out, nil
}

// ErrNotFound is returned by backends when an image holds no symbol.
var ErrNotFound = errors.New("barcode: no symbol found")
