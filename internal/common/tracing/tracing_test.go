package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_EnabledWithoutEndpoint(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true}, nil)
	assert.Error(t, err)
}

func TestConfig_Sampler(t *testing.T) {
	assert.Equal(t, sdktrace.NeverSample().Description(), Config{SampleRate: 0}.sampler().Description())
	assert.Contains(t, Config{SampleRate: 1}.sampler().Description(), "AlwaysOnSampler")
	assert.Contains(t, Config{SampleRate: 0.25}.sampler().Description(), "TraceIDRatioBased{0.25}")
}
