package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/kenneth/media-resource-loader/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TracingConfig{Enabled: false}, "test", "dev")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_StdoutExporter(t *testing.T) {
	defer otel.SetTracerProvider(noop.NewTracerProvider())

	var buf bytes.Buffer
	cfg := config.TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 1}
	shutdown, err := initWithWriter(context.Background(), cfg, "medialoader-test", "dev", &buf)
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "loader.session")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "loader.session")
	assert.Contains(t, buf.String(), "medialoader-test")
}

func TestInit_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TracingConfig
	}{
		{"unknown exporter", config.TracingConfig{Enabled: true, Exporter: "zipkin"}},
		{"otlp without endpoint", config.TracingConfig{Enabled: true, Exporter: "otlp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Init(context.Background(), tt.cfg, "test", "dev")
			assert.Error(t, err)
		})
	}
}

func TestSampleRate(t *testing.T) {
	assert.Equal(t, 1.0, sampleRate(0))
	assert.Equal(t, 1.0, sampleRate(2))
	assert.Equal(t, 0.25, sampleRate(0.25))
}
