//go:build barcode_gozxing

package barcode

import (
	"context"
	"errors"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/multi"
)

func newDefaultBackend() (Backend, error) { return &gozxingBackend{}, nil }

type gozxingBackend struct{}

func (b *gozxingBackend) Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hints := make(map[gozxing.DecodeHintType]interface{})
	if len(opts.Formats) > 0 {
		var formats []gozxing.BarcodeFormat
		for _, f := range opts.Formats {
			if bf, ok := toZXing[f]; ok {
				formats = append(formats, bf)
			}
		}
		if len(formats) > 0 {
			hints[gozxing.DecodeHintType_POSSIBLE_FORMATS] = formats
		}
	}
	if opts.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, err
	}
	reader := multi.NewGenericMultipleBarcodeReader(multi.NewMultiFormatReader())
	found, err := reader.DecodeMultiple(bmp, hints)
	if err != nil {
		var nf gozxing.NotFoundException
		if errors.As(err, &nf) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	out := make([]Result, 0, len(found))
	for _, r := range found {
		out = append(out, Result{
			Type:  fromZXing(r.GetBarcodeFormat()),
			Value: r.GetText(),
			BBox:  boundsOf(r.GetResultPoints()),
		})
	}
	return out, nil
}

var toZXing = map[Format]gozxing.BarcodeFormat{
	FormatQR:         gozxing.BarcodeFormat_QR_CODE,
	FormatDataMatrix: gozxing.BarcodeFormat_DATA_MATRIX,
	FormatPDF417:     gozxing.BarcodeFormat_PDF_417,
	FormatCode128:    gozxing.BarcodeFormat_CODE_128,
	FormatCode39:     gozxing.BarcodeFormat_CODE_39,
	FormatEAN13:      gozxing.BarcodeFormat_EAN_13,
	FormatITF:        gozxing.BarcodeFormat_ITF,
}

func fromZXing(bf gozxing.BarcodeFormat) Format {
	for f, z := range toZXing {
		if z == bf {
			return f
		}
	}
	return FormatUnknown
}

func boundsOf(pts []gozxing.ResultPoint) image.Rectangle {
	if len(pts) == 0 {
		return image.Rectangle{}
	}
	minX, minY := int(pts[0].GetX()), int(pts[0].GetY())
	maxX, maxY := minX, minY
	for _, p := range pts[1:] {
		x, y := int(p.GetX()), int(p.GetY())
		minX, minY = min(minX, x), min(minY, y)
		maxX, maxY = max(maxX, x), max(maxY, y)
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}
