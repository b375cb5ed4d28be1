package cli

import (
	"context"
	"fmt"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	petalotel "github.com/petal-labs/petalinfer/otel"
	"github.com/petal-labs/petalinfer/smc"
)

const instrumentationName = "github.com/petal-labs/petalinfer"

// telemetry bundles the event handler and emitter decorator that feed
// filter events into OpenTelemetry.
type telemetry struct {
	handler   smc.EventHandler
	decorator smc.EventEmitterDecorator
	shutdown  func(context.Context) error
}

// setupTelemetry wires tracing and metrics handlers. With an endpoint,
// spans are exported over OTLP/HTTP; otherwise the global providers are
// used, which are no-ops unless configured by the embedding program.
func setupTelemetry(ctx context.Context, endpoint string) (*telemetry, error) {
	tracer := otelapi.GetTracerProvider().Tracer(instrumentationName)
	shutdown := func(context.Context) error { return nil }

	if endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, fmt.Errorf("creating OTLP exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "petalinfer"))),
		)
		tracer = tp.Tracer(instrumentationName)
		shutdown = tp.Shutdown
	}

	tracing := petalotel.NewTracingHandler(tracer)
	metrics, err := petalotel.NewMetricsHandler(otelapi.GetMeterProvider().Meter(instrumentationName))
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}
	return &telemetry{
		handler:   smc.MultiEventHandler(tracing.Handle, metrics.Handle),
		decorator: petalotel.Decorator(tracing),
		shutdown:  shutdown,
	}, nil
}
