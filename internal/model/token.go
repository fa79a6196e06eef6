package model

import "math"

// BBox is an axis aligned box in page pixel coordinates.
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Right returns the exclusive right edge.
func (b BBox) Right() int { return b.X + b.W }

// Bottom returns the exclusive bottom edge.
func (b BBox) Bottom() int { return b.Y + b.H }

// CenterY returns the vertical center.
func (b BBox) CenterY() float64 { return float64(b.Y) + float64(b.H)/2 }

// Area returns the box area.
func (b BBox) Area() int {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Union returns the smallest box covering b and o.
func (b BBox) Union(o BBox) BBox {
	if b.Area() == 0 {
		return o
	}
	if o.Area() == 0 {
		return b
	}
	x0, y0 := min(b.X, o.X), min(b.Y, o.Y)
	x1, y1 := max(b.Right(), o.Right()), max(b.Bottom(), o.Bottom())
	return BBox{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Intersection returns the overlapping area of b and o.
func (b BBox) Intersection(o BBox) int {
	w := min(b.Right(), o.Right()) - max(b.X, o.X)
	h := min(b.Bottom(), o.Bottom()) - max(b.Y, o.Y)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns intersection over union.
func (b BBox) IoU(o BBox) float64 {
	inter := b.Intersection(o)
	if inter == 0 {
		return 0
	}
	return float64(inter) / float64(b.Area()+o.Area()-inter)
}

// VerticalOverlap returns the shared vertical extent relative to the
// smaller of the two heights.
func (b BBox) VerticalOverlap(o BBox) float64 {
	h := min(b.Bottom(), o.Bottom()) - max(b.Y, o.Y)
	if h <= 0 {
		return 0
	}
	minH := min(b.H, o.H)
	if minH <= 0 {
		return 0
	}
	return float64(h) / float64(minH)
}

// Token sources.
const (
	SourceOCR     = "ocr"
	SourceBarcode = "barcode"
)

// Alternative is a competing reading of a token position.
type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Token is a single recognized text unit. Tokens are treated as values and
// never mutated after the OCR stage emits them.
type Token struct {
	Text          string        `json:"text"`
	Box           BBox          `json:"bbox"`
	Confidence    float64       `json:"confidence"`
	Page          int           `json:"page"`
	LowConfidence bool          `json:"low_confidence,omitempty"`
	Source        string        `json:"source,omitempty"`
	Alternatives  []Alternative `json:"alternatives,omitempty"`
}

// WithAlternative returns a copy of t carrying alt as an additional reading.
func (t Token) WithAlternative(alt Alternative) Token {
	alts := make([]Alternative, 0, len(t.Alternatives)+1)
	alts = append(alts, t.Alternatives...)
	alts = append(alts, alt)
	t.Alternatives = alts
	return t
}

// ClampConfidence maps any value into [0,1]. NaN becomes 0.
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
