package onnx

import (
	"errors"
	"fmt"
	"math"
)

// Sequence is a batch-of-one token id sequence prepared for a token classification model.
type Sequence struct {
	IDs   []int64
	Mask  []int64
	Shape []int64 // [1, T]
}

// NewSequence builds a [1, T] sequence with an all-ones attention mask.
func NewSequence(ids []int64) (Sequence, error) {
	if len(ids) == 0 {
		return Sequence{}, errors.New("empty sequence")
	}
	mask := make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	return Sequence{IDs: ids, Mask: mask, Shape: []int64{1, int64(len(ids))}}, nil
}

// ValidateLogits checks that shape is [1, T, L] for the expected sequence length.
func ValidateLogits(shape []int64, seqLen, dataLen int) (int, error) {
	if len(shape) != 3 {
		return 0, fmt.Errorf("logits rank %d != 3", len(shape))
	}
	if shape[0] != 1 || int(shape[1]) != seqLen || shape[2] <= 0 {
		return 0, fmt.Errorf("unexpected logits shape %v for sequence length %d", shape, seqLen)
	}
	labels := int(shape[2])
	if dataLen != seqLen*labels {
		return 0, fmt.Errorf("logits data length %d != expected %d", dataLen, seqLen*labels)
	}
	return labels, nil
}

// Softmax returns the normalized probabilities of a logits row.
func Softmax(row []float32) []float64 {
	if len(row) == 0 {
		return nil
	}
	maxVal := float64(row[0])
	for _, v := range row[1:] {
		maxVal = math.Max(maxVal, float64(v))
	}
	out := make([]float64, len(row))
	var sum float64
	for i, v := range row {
		out[i] = math.Exp(float64(v) - maxVal)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// ArgMax returns the index and value of the largest probability.
func ArgMax(p []float64) (int, float64) {
	best, bestVal := -1, math.Inf(-1)
	for i, v := range p {
		if v > bestVal {
			best, bestVal = i, v
		}
	}
	return best, bestVal
}
