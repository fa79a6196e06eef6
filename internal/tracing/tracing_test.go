package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_InvalidProtocol(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Protocol = "carrier-pigeon"
	_, err := Init(context.Background(), cfg)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Enabled = true
	assert.NoError(t, cfg.Validate())

	cfg.SamplerArg = 1.5
	assert.Error(t, cfg.Validate())

	cfg.SamplerArg = 0.5
	cfg.Protocol = ProtocolHTTP
	assert.NoError(t, cfg.Validate())
}

func TestSampler(t *testing.T) {
	tests := map[string]string{
		"always_on":                "AlwaysOnSampler",
		"always_off":               "AlwaysOffSampler",
		"traceidratio":             "TraceIDRatioBased",
		"parentbased_always_on":    "ParentBased",
		"parentbased_traceidratio": "ParentBased",
		"bogus":                    "ParentBased",
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Contains(t, Sampler(name, 0.5).Description(), want)
		})
	}
}
