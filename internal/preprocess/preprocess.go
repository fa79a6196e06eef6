// Package preprocess turns a raw page raster into an OCR-ready grayscale
// image: contrast normalization, denoising, deskew and binarization.
package preprocess

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/utils"
)

// Config holds preprocessing parameters.
type Config struct {
	MinDPI                 float64 `json:"min_dpi"`
	AssumedPageWidthInches float64 `json:"assumed_page_width_inches"`
	ContrastNormalize      bool    `json:"contrast_normalize"`
	Denoise                bool    `json:"denoise"`
	Binarize               bool    `json:"binarize"`
	Deskew                 DeskewConfig
}

// DefaultConfig returns the default preprocessing configuration.
func DefaultConfig() Config {
	return Config{
		MinDPI:                 300,
		AssumedPageWidthInches: 8.5,
		ContrastNormalize:      true,
		Denoise:                true,
		Binarize:               true,
		Deskew:                 DefaultDeskewConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MinDPI < 0 {
		return fmt.Errorf("min dpi must be non-negative, got %v", c.MinDPI)
	}
	if c.AssumedPageWidthInches <= 0 {
		return fmt.Errorf("assumed page width must be positive, got %v", c.AssumedPageWidthInches)
	}
	return c.Deskew.Validate()
}

// Options vary a single run.
type Options struct {
	// Degraded halves the resolution and skips denoising. Used when a
	// backend failed on the full quality raster.
	Degraded bool
}

// Result is a normalized page.
type Result struct {
	Image *image.Gray
	Page  int
	DPI   float64
	Skew  SkewEstimate
	// SkewApplied is false when the estimate was too weak to act on.
	SkewApplied bool
	Degraded    bool
}

// Preprocessor is stateless and safe for concurrent use.
type Preprocessor struct {
	cfg Config
}

// New creates a preprocessor.
func New(cfg Config) *Preprocessor {
	return &Preprocessor{cfg: cfg}
}

// Config returns the active configuration.
func (p *Preprocessor) Config() Config { return p.cfg }

// Process decodes raw page bytes and normalizes the raster.
func (p *Preprocessor) Process(data []byte, page int, opts Options) (*Result, error) {
	img, meta, err := utils.DecodeImage(data)
	if err != nil {
		return nil, &model.PreprocessError{Page: page, Op: "decode", Err: err}
	}
	return p.ProcessImage(img, meta.DPI, page, opts)
}

// ProcessImage normalizes an already decoded raster. dpi of 0 means unknown.
func (p *Preprocessor) ProcessImage(img image.Image, dpi float64, page int, opts Options) (*Result, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, &model.PreprocessError{Page: page, Op: "decode", Err: errors.New("empty raster")}
	}
	effective := p.effectiveDPI(img, dpi)
	if effective < p.cfg.MinDPI {
		return nil, &model.PreprocessError{
			Page: page,
			Op:   "resolution",
			Err:  fmt.Errorf("%.0f dpi below minimum %.0f", effective, p.cfg.MinDPI),
		}
	}

	src := img
	if opts.Degraded {
		b := img.Bounds()
		src = imaging.Resize(img, max(1, b.Dx()/2), max(1, b.Dy()/2), imaging.Linear)
		effective /= 2
	}

	gray := utils.ToGray(src)
	if p.cfg.ContrastNormalize {
		gray = StretchContrast(gray, 0.01)
	}
	if p.cfg.Denoise && !opts.Degraded {
		gray = MedianFilter(gray)
	}

	res := &Result{Page: page, DPI: effective, Degraded: opts.Degraded}
	if p.cfg.Deskew.Enabled {
		est := EstimateSkew(gray, p.cfg.Deskew)
		res.Skew = est
		if est.Confident && est.Angle != 0 {
			gray = utils.Rotate(gray, est.Angle)
			res.SkewApplied = true
		}
	}
	if p.cfg.Binarize {
		gray = Binarize(gray, OtsuThreshold(gray))
	}
	res.Image = gray
	return res, nil
}

// effectiveDPI uses declared density when present, else measures the short
// edge against the assumed page width.
func (p *Preprocessor) effectiveDPI(img image.Image, declared float64) float64 {
	if declared > 0 {
		return declared
	}
	b := img.Bounds()
	return float64(min(b.Dx(), b.Dy())) / p.cfg.AssumedPageWidthInches
}
