//go:build ocr_gosseract

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/otiai10/gosseract/v2"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

func init() {
	Register("gosseract", func(cfg Config) (Engine, error) { return &GosseractEngine{cfg: cfg}, nil })
}

// GosseractEngine binds libtesseract in process. A client is created per
// call because gosseract clients are not safe for concurrent use.
type GosseractEngine struct {
	cfg Config
}

// Name implements Engine.
func (e *GosseractEngine) Name() string { return "gosseract" }

// Recognize implements Engine.
func (e *GosseractEngine) Recognize(_ context.Context, img image.Image, page int) ([]model.Token, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page for gosseract: %w", err)
	}
	c := gosseract.NewClient()
	defer func() { _ = c.Close() }()
	if e.cfg.Language != "" {
		if err := c.SetLanguage(e.cfg.Language); err != nil {
			return nil, fmt.Errorf("set language: %w", err)
		}
	}
	if e.cfg.Tesseract.PSM > 0 {
		if err := c.SetPageSegMode(gosseract.PageSegMode(e.cfg.Tesseract.PSM)); err != nil {
			return nil, fmt.Errorf("set psm: %w", err)
		}
	}
	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("%w: gosseract: %v", model.ErrBackendUnavailable, err)
	}
	toks := make([]model.Token, 0, len(boxes))
	for _, b := range boxes {
		toks = append(toks, model.Token{
			Text:       b.Word,
			Box:        model.BBox{X: b.Box.Min.X, Y: b.Box.Min.Y, W: b.Box.Dx(), H: b.Box.Dy()},
			Confidence: b.Confidence / 100,
			Page:       page,
		})
	}
	return toks, nil
}

// Close implements Engine.
func (e *GosseractEngine) Close() error { return nil }
