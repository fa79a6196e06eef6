package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBBox_Geometry(t *testing.T) {
	a := BBox{X: 0, Y: 0, W: 10, H: 10}
	b := BBox{X: 5, Y: 5, W: 10, H: 10}

	assert.Equal(t, 25, a.Intersection(b))
	assert.InDelta(t, 25.0/175.0, a.IoU(b), 1e-9)
	assert.Equal(t, BBox{X: 0, Y: 0, W: 15, H: 15}, a.Union(b))
	assert.InDelta(t, 0.5, a.VerticalOverlap(b), 1e-9)
	assert.Zero(t, a.IoU(BBox{X: 20, Y: 20, W: 5, H: 5}))
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.2))
	assert.Equal(t, 1.0, ClampConfidence(1.7))
	assert.Equal(t, 0.0, ClampConfidence(math.NaN()))
	assert.Equal(t, 0.42, ClampConfidence(0.42))
}

func TestToken_WithAlternativeDoesNotMutate(t *testing.T) {
	orig := Token{Text: "50.00", Confidence: 0.9}
	withAlt := orig.WithAlternative(Alternative{Text: "S0.00", Confidence: 0.4})

	assert.Empty(t, orig.Alternatives)
	assert.Len(t, withAlt.Alternatives, 1)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindOCR, KindOf(&OCRError{Backend: "x", Err: ErrBackendUnavailable}))
	assert.Equal(t, KindPreprocess, KindOf(&PreprocessError{Op: "decode"}))
	assert.Equal(t, KindTimeout, KindOf(&TimeoutError{Stage: StatusOCR}))
	assert.Equal(t, KindInternal, KindOf(assert.AnError))
}
