// Package telemetry sets up OpenTelemetry tracing for the crawl engine.
// Prometheus collectors live in internal/metrics; this package only wires
// the global tracer provider and propagator.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Config carries the identity attached to exported spans.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// TraceProjectID enables direct export to Google Cloud Trace when set.
	// Without it spans stay in-process.
	TraceProjectID string
}

var (
	initOnce  sync.Once
	traceProv *sdktrace.TracerProvider
	initErr   error
)

// Setup installs the global tracer provider and the W3C trace context
// propagator. The returned shutdown flushes pending spans; callers run it
// on exit. It is safe to call Setup multiple times.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	initOnce.Do(func() {
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName(cfg.ServiceName),
				semconv.ServiceVersion(cfg.ServiceVersion),
			),
		)
		if err != nil {
			initErr = fmt.Errorf("create resource: %w", err)
			return
		}

		var exporter sdktrace.SpanExporter
		if cfg.TraceProjectID != "" {
			exporter, err = texporter.New(texporter.WithProjectID(cfg.TraceProjectID))
			if err != nil {
				initErr = fmt.Errorf("create google trace exporter: %w", err)
				return
			}
		}

		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		}
		if exporter != nil {
			opts = append(opts, sdktrace.WithBatcher(exporter))
		}

		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		)
		traceProv = tp
	})
	if initErr != nil {
		return nil, initErr
	}

	return func(ctx context.Context) error {
		if traceProv == nil {
			return nil
		}
		return traceProv.Shutdown(ctx)
	}, nil
}
