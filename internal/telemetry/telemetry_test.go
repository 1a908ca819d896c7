package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupInstallsTracerProvider(t *testing.T) {
	ctx := context.Background()

	shutdown, err := Setup(ctx, Config{ServiceName: "turbocrawl-test", ServiceVersion: "0.0.0"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	// Repeated setup returns the same installed provider.
	again, err := Setup(ctx, Config{ServiceName: "ignored"})
	require.NoError(t, err)
	require.NotNil(t, again)

	_, span := otel.Tracer("telemetry-test").Start(ctx, "span")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	carrier := map[string]string{}
	otel.GetTextMapPropagator().Inject(ctx, mapCarrier(carrier))

	require.NoError(t, shutdown(ctx))
}

type mapCarrier map[string]string

func (c mapCarrier) Get(key string) string {
	return c[key]
}

func (c mapCarrier) Set(key, value string) {
	c[key] = value
}

func (c mapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
