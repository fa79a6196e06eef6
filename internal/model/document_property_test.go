package model

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var allStatuses = []Status{
	StatusReceived, StatusPreprocessing, StatusOCR, StatusExtracting,
	StatusValidating, StatusComplete, StatusFailed,
}

// TestDocument_StatusNeverMovesBackward applies arbitrary transition attempts
// and checks that the recorded history is strictly increasing.
func TestDocument_StatusNeverMovesBackward(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("history is strictly ordered", prop.ForAll(
		func(steps []int) bool {
			doc := NewDocument("", nil, nil)
			for _, s := range steps {
				_ = doc.Advance(allStatuses[s])
			}
			hist := doc.History()
			for i := 1; i < len(hist); i++ {
				if hist[i].rank() <= hist[i-1].rank() {
					return false
				}
			}
			return hist[0] == StatusReceived
		},
		gen.SliceOf(gen.IntRange(0, len(allStatuses)-1)),
	))

	properties.TestingRun(t)
}

func TestClampConfidence_InRange(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("clamped confidence lies in [0,1]", prop.ForAll(
		func(c float64) bool {
			v := ClampConfidence(c)
			return v >= 0 && v <= 1
		},
		gen.Float64(),
	))

	properties.TestingRun(t)
}
