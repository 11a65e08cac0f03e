// Package tracing configures the OpenTelemetry tracer provider used for
// playback session spans.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kenneth/media-resource-loader/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used for loader spans.
const TracerName = "github.com/kenneth/media-resource-loader/internal/loader"

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Init installs a global tracer provider according to cfg. When tracing is
// disabled it leaves the global no-op provider in place.
func Init(ctx context.Context, cfg config.TracingConfig, serviceName, version string) (ShutdownFunc, error) {
	return initWithWriter(ctx, cfg, serviceName, version, os.Stdout)
}

func initWithWriter(ctx context.Context, cfg config.TracingConfig, serviceName, version string, w io.Writer) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	exporter, err := newExporter(ctx, cfg, w)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate(cfg.SampleRate)))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg config.TracingConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "", "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case "otlp":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("otlp exporter requires an endpoint")
		}
		initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
		return otlptracegrpc.New(initCtx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithTimeout(3*time.Second),
		)
	default:
		return nil, fmt.Errorf("unknown tracing exporter: %s", cfg.Exporter)
	}
}

// sampleRate clamps r into [0,1]. Zero means "always sample" so an omitted
// setting does not silently disable tracing.
func sampleRate(r float64) float64 {
	if r <= 0 || r > 1 {
		return 1
	}
	return r
}

// Tracer returns the loader tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
