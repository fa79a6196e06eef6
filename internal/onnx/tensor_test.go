package onnx

import (
	"math"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSequence(t *testing.T) {
	seq, err := NewSequence([]int64{4, 8, 15})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, seq.Shape)
	assert.Equal(t, []int64{1, 1, 1}, seq.Mask)

	_, err = NewSequence(nil)
	assert.Error(t, err)
}

func TestValidateLogits(t *testing.T) {
	labels, err := ValidateLogits([]int64{1, 4, 7}, 4, 28)
	require.NoError(t, err)
	assert.Equal(t, 7, labels)

	_, err = ValidateLogits([]int64{4, 7}, 4, 28)
	assert.Error(t, err)
	_, err = ValidateLogits([]int64{1, 5, 7}, 4, 35)
	assert.Error(t, err)
	_, err = ValidateLogits([]int64{1, 4, 7}, 4, 27)
	assert.Error(t, err)
}

func TestSoftmaxAndArgMax(t *testing.T) {
	p := Softmax([]float32{1, 3, 2})
	var sum float64
	for _, v := range p {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	idx, val := ArgMax(p)
	assert.Equal(t, 1, idx)
	assert.Greater(t, val, 0.5)

	assert.Nil(t, Softmax(nil))
	idx, val = ArgMax(nil)
	assert.Equal(t, -1, idx)
	assert.True(t, math.IsInf(val, -1))
}

func TestLibraryName(t *testing.T) {
	name, err := libraryName(runtime.GOOS)
	if err != nil {
		t.Skipf("unsupported OS: %s", runtime.GOOS)
	}
	assert.Contains(t, name, "onnxruntime")

	_, err = libraryName("plan9")
	assert.Error(t, err)
}

func TestLocateLibrary_ExplicitMissing(t *testing.T) {
	t.Setenv(EnvLibraryPath, "")
	paths := candidatePaths("/nonexistent/libonnxruntime.so", false)
	assert.Equal(t, "/nonexistent/libonnxruntime.so", paths[0])
}

func TestGPUConfigValidate(t *testing.T) {
	assert.NoError(t, GPUConfig{}.Validate())
	assert.NoError(t, GPUConfig{UseGPU: true}.Validate())
	assert.Error(t, GPUConfig{UseGPU: true, DeviceID: -1}.Validate())
}

func TestNewSession_MissingModel(t *testing.T) {
	_, err := NewSession("/nonexistent/ner.onnx", []string{"input_ids"}, []string{"logits"}, SessionConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model file not found")
}
