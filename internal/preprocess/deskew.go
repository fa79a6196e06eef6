package preprocess

import (
	"fmt"
	"image"
	"math"

	"github.com/MeKo-Tech/medinvoice/internal/mempool"
	"github.com/MeKo-Tech/medinvoice/internal/utils"
)

// DeskewConfig bounds the skew search.
type DeskewConfig struct {
	Enabled bool `json:"enabled"`
	// MaxAngle is the search half-range in degrees.
	MaxAngle float64 `json:"max_angle"`
	// Step is the coarse search step in degrees.
	Step float64 `json:"step"`
	// MinSharpness is the minimum peak sharpness (peak variance over mean
	// variance, minus one) required to rotate.
	MinSharpness float64 `json:"min_sharpness"`
	// AnalysisWidth caps the width of the raster used for estimation.
	AnalysisWidth int `json:"analysis_width"`
	// MaxSamples caps the number of ink pixels projected per angle.
	MaxSamples int `json:"max_samples"`
}

// DefaultDeskewConfig returns the default deskew configuration.
func DefaultDeskewConfig() DeskewConfig {
	return DeskewConfig{
		Enabled:       true,
		MaxAngle:      5,
		Step:          0.25,
		MinSharpness:  0.1,
		AnalysisWidth: 1000,
		MaxSamples:    40000,
	}
}

// Validate checks the deskew configuration.
func (c DeskewConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MaxAngle <= 0 || c.MaxAngle > 45 {
		return fmt.Errorf("deskew max angle must be in (0,45], got %v", c.MaxAngle)
	}
	if c.Step <= 0 || c.Step > c.MaxAngle {
		return fmt.Errorf("deskew step must be in (0,max_angle], got %v", c.Step)
	}
	if c.MinSharpness < 0 {
		return fmt.Errorf("deskew min sharpness must be non-negative, got %v", c.MinSharpness)
	}
	return nil
}

// SkewEstimate is the outcome of the projection profile search.
type SkewEstimate struct {
	// Angle is the counter-clockwise rotation in degrees that levels the text.
	Angle     float64 `json:"angle"`
	Sharpness float64 `json:"sharpness"`
	Confident bool    `json:"confident"`
}

type point struct{ x, y float64 }

// EstimateSkew searches the angle maximizing the variance of the horizontal
// projection profile of ink pixels.
func EstimateSkew(g *image.Gray, cfg DeskewConfig) SkewEstimate {
	small, _ := utils.ScaleToWidth(g, cfg.AnalysisWidth)
	sg := utils.ToGray(small)
	ink := inkPoints(sg, OtsuThreshold(sg), cfg.MaxSamples)
	if len(ink) < 16 {
		return SkewEstimate{}
	}
	diag := math.Hypot(float64(sg.Bounds().Dx()), float64(sg.Bounds().Dy()))

	var (
		bestAngle float64
		bestVar   = -1.0
		sumVar    float64
		n         int
	)
	steps := int(math.Round(cfg.MaxAngle / cfg.Step))
	for i := -steps; i <= steps; i++ {
		a := float64(i) * cfg.Step
		v := profileVariance(ink, a, diag)
		sumVar += v
		n++
		if v > bestVar {
			bestVar, bestAngle = v, a
		}
	}
	mean := sumVar / float64(n)
	if mean <= 0 {
		return SkewEstimate{}
	}
	sharpness := bestVar/mean - 1

	fine := cfg.Step / 5
	coarse := bestAngle
	for i := -4; i <= 4; i++ {
		a := coarse + float64(i)*fine
		if math.Abs(a) > cfg.MaxAngle {
			continue
		}
		if v := profileVariance(ink, a, diag); v > bestVar {
			bestVar, bestAngle = v, a
		}
	}

	return SkewEstimate{
		Angle:     math.Round(bestAngle*100) / 100,
		Sharpness: sharpness,
		Confident: sharpness >= cfg.MinSharpness,
	}
}

func inkPoints(g *image.Gray, t uint8, maxSamples int) []point {
	b := g.Bounds()
	var count int
	for _, p := range g.Pix {
		if p <= t && t < 255 {
			count++
		}
	}
	if count == 0 {
		return nil
	}
	stride := 1
	if maxSamples > 0 && count > maxSamples {
		stride = (count + maxSamples - 1) / maxSamples
	}
	pts := make([]point, 0, count/stride+1)
	cx, cy := float64(b.Dx())/2, float64(b.Dy())/2
	k := 0
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if g.Pix[y*g.Stride+x] > t {
				continue
			}
			if k%stride == 0 {
				pts = append(pts, point{x: float64(x) - cx, y: float64(y) - cy})
			}
			k++
		}
	}
	return pts
}

// profileVariance projects points onto rows of a frame tilted by angle
// degrees and returns the variance of the row histogram.
func profileVariance(pts []point, angle, diag float64) float64 {
	rad := angle * math.Pi / 180
	sin, cos := math.Sincos(rad)
	bins := int(diag) + 2
	off := float64(bins) / 2
	hist := mempool.GetFloat64(bins)
	defer mempool.PutFloat64(hist)
	for _, p := range pts {
		r := int(p.y*cos - p.x*sin + off)
		if r >= 0 && r < bins {
			hist[r]++
		}
	}
	var sum, sq float64
	for _, h := range hist {
		sum += h
		sq += h * h
	}
	m := sum / float64(bins)
	return sq/float64(bins) - m*m
}
