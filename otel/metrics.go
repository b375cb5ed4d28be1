package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/petalinfer/smc"
)

// MetricsHandler translates filter events into OpenTelemetry metrics.
type MetricsHandler struct {
	steps        metric.Int64Counter
	resamples    metric.Int64Counter
	degenerate   metric.Int64Counter
	ess          metric.Float64Histogram
	stepDuration metric.Float64Histogram
	runDuration  metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler whose instruments come from
// meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	steps, err := meter.Int64Counter("petalinfer.steps",
		metric.WithDescription("Number of completed filter steps"),
	)
	if err != nil {
		return nil, err
	}

	resamples, err := meter.Int64Counter("petalinfer.resamples",
		metric.WithDescription("Number of resampling passes"),
	)
	if err != nil {
		return nil, err
	}

	degenerate, err := meter.Int64Counter("petalinfer.particles.degenerate",
		metric.WithDescription("Number of particles given zero weight after a runtime error"),
	)
	if err != nil {
		return nil, err
	}

	ess, err := meter.Float64Histogram("petalinfer.step.ess",
		metric.WithDescription("Effective sample size before each step"),
	)
	if err != nil {
		return nil, err
	}

	stepDur, err := meter.Float64Histogram("petalinfer.step.duration",
		metric.WithDescription("Duration of a filter step in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("petalinfer.run.duration",
		metric.WithDescription("Duration of a filter run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		steps:        steps,
		resamples:    resamples,
		degenerate:   degenerate,
		ess:          ess,
		stepDuration: stepDur,
		runDuration:  runDur,
	}, nil
}

// Handle records the metrics of one event. It can be used as an
// smc.EventHandler.
func (h *MetricsHandler) Handle(e smc.Event) {
	ctx := context.Background()
	switch e.Kind {
	case smc.EventStepFinished:
		attrs := metric.WithAttributes(
			attribute.String("node", e.Node),
			attribute.String("sampler", payloadString(e, "sampler")),
		)
		h.steps.Add(ctx, 1, attrs)
		h.stepDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
		if ess, ok := e.Payload["ess"].(float64); ok {
			h.ess.Record(ctx, ess, attrs)
		}
	case smc.EventResample:
		h.resamples.Add(ctx, 1, metric.WithAttributes(
			attribute.String("scheme", payloadString(e, "scheme")),
		))
	case smc.EventParticleDegenerate:
		h.degenerate.Add(ctx, 1, metric.WithAttributes(attribute.String("node", e.Node)))
	case smc.EventRunFinished:
		collapsed, _ := e.Payload["collapsed"].(bool)
		h.runDuration.Record(ctx, e.Elapsed.Seconds(), metric.WithAttributes(
			attribute.Bool("collapsed", collapsed),
		))
	}
}

func payloadString(e smc.Event, key string) string {
	s, _ := e.Payload[key].(string)
	return s
}
