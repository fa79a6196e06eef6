package ocr

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/MeKo-Tech/medinvoice/internal/barcode"
	"github.com/MeKo-Tech/medinvoice/internal/model"
)

// Renderer produces the raster for an attempt. The adapter asks for a
// degraded raster when the first attempt failed.
type Renderer func(degraded bool) (image.Image, error)

// Adapter normalizes backend output and owns the retry policy.
type Adapter struct {
	engine   Engine
	cfg      Config
	barcodes barcode.Backend
}

// NewAdapter wraps an engine.
func NewAdapter(engine Engine, cfg Config) *Adapter {
	a := &Adapter{engine: engine, cfg: cfg}
	if cfg.Barcodes {
		if b, err := barcode.NewBackend(); err == nil {
			a.barcodes = b
		}
	}
	return a
}

// WithBarcodeBackend overrides the barcode decoder.
func (a *Adapter) WithBarcodeBackend(b barcode.Backend) *Adapter {
	a.barcodes = b
	return a
}

// Engine returns the wrapped backend.
func (a *Adapter) Engine() Engine { return a.engine }

// Recognize renders the page, runs the backend and normalizes tokens. A
// failed attempt is retried exactly once on a degraded raster; the second
// failure surfaces as *model.OCRError. Render failures are returned as is.
func (a *Adapter) Recognize(ctx context.Context, page int, render Renderer) ([]model.Token, error) {
	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= 2; attempt++ {
		attempts = attempt
		degraded := attempt > 1
		img, err := render(degraded)
		if err != nil {
			return nil, err
		}
		toks, err := a.engine.Recognize(ctx, img, page)
		if err == nil {
			out := a.normalize(toks, page)
			if a.barcodes != nil {
				codes, berr := barcode.Tokens(ctx, a.barcodes, img, page, barcode.Options{})
				if berr != nil {
					slog.Debug("barcode decode failed", "page", page, "error", berr)
				}
				out = append(out, codes...)
			}
			return out, nil
		}
		lastErr = err
		slog.Warn("ocr attempt failed",
			"backend", a.engine.Name(),
			"page", page,
			"attempt", attempt,
			"degraded", degraded,
			"error", err)
		if errors.Is(err, context.Canceled) {
			break
		}
	}
	return nil, &model.OCRError{Backend: a.engine.Name(), Page: page, Attempts: attempts, Err: lastErr}
}

func (a *Adapter) normalize(toks []model.Token, page int) []model.Token {
	out := make([]model.Token, 0, len(toks))
	for _, t := range toks {
		text := strings.TrimSpace(norm.NFC.String(t.Text))
		if text == "" {
			continue
		}
		t.Text = text
		t.Page = page
		t.Confidence = model.ClampConfidence(t.Confidence)
		t.LowConfidence = t.Confidence < a.cfg.LowConfidence
		if t.Source == "" {
			t.Source = model.SourceOCR
		}
		out = append(out, t)
	}
	return out
}
