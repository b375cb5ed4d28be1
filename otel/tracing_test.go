package otel_test

import (
	"testing"
	"time"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	petalotel "github.com/petal-labs/petalinfer/otel"
	"github.com/petal-labs/petalinfer/smc"
)

// newTestTracer returns a tracer backed by an in-memory span exporter.
func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	return exporter, tp
}

func stepEvent(kind smc.EventKind, runID string, step int, node string, at time.Time) smc.Event {
	return smc.NewEvent(kind, runID, at).WithStep(step, node)
}

func findSpan(spans tracetest.SpanStubs, name string) *tracetest.SpanStub {
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	return nil
}

func TestTracingHandler_RunSpan(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{"model name", map[string]any{"model": "rats", "particles": 100}, "run:rats"},
		{"run id fallback", map[string]any{}, "run:run-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter, tp := newTestTracer()
			h := petalotel.NewTracingHandler(tp.Tracer("test"))
			now := time.Now()

			h.Handle(smc.Event{Kind: smc.EventRunStarted, RunID: "run-1", Step: -1, Time: now, Payload: tt.payload})
			if !h.ActiveRunSpanContext("run-1").IsValid() {
				t.Fatal("expected valid run span context after run.started")
			}
			h.Handle(smc.NewEvent(smc.EventRunFinished, "run-1", now.Add(time.Second)).
				WithElapsed(time.Second).
				WithPayload("steps", 3).
				WithPayload("log_norm_const", -4.2).
				WithPayload("collapsed", false))

			if h.ActiveRunSpanContext("run-1").IsValid() {
				t.Error("run span still active after run.finished")
			}
			spans := exporter.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			if spans[0].Name != tt.want {
				t.Errorf("span name = %q, want %q", spans[0].Name, tt.want)
			}
			if spans[0].Status.Code != otelcodes.Ok {
				t.Errorf("status = %v, want Ok", spans[0].Status.Code)
			}
			var runID string
			for _, attr := range spans[0].Attributes {
				if attr.Key == "petalinfer.run_id" {
					runID = attr.Value.AsString()
				}
			}
			if runID != "run-1" {
				t.Errorf("petalinfer.run_id = %q", runID)
			}
		})
	}
}

func TestTracingHandler_StepSpanIsChildOfRun(t *testing.T) {
	exporter, tp := newTestTracer()
	h := petalotel.NewTracingHandler(tp.Tracer("test"))
	now := time.Now()

	h.Handle(smc.NewEvent(smc.EventRunStarted, "run-1", now))
	h.Handle(stepEvent(smc.EventStepStarted, "run-1", 0, "theta", now))
	if !h.ActiveSpanContext("run-1", 0).IsValid() {
		t.Fatal("expected valid step span context")
	}
	h.Handle(stepEvent(smc.EventResample, "run-1", 0, "theta", now).
		WithPayload("scheme", "systematic").
		WithPayload("ess", 12.5))
	h.Handle(stepEvent(smc.EventParticleDegenerate, "run-1", 0, "theta", now).
		WithPayload("particle", 3).
		WithPayload("error", "log: out of domain"))
	h.Handle(stepEvent(smc.EventStepFinished, "run-1", 0, "theta", now.Add(time.Millisecond)).
		WithPayload("sampler", "prior").
		WithPayload("ess", 12.5).
		WithPayload("log_increment", -1.5).
		WithPayload("degenerate", 1))
	h.Handle(smc.NewEvent(smc.EventRunFinished, "run-1", now.Add(time.Second)).
		WithPayload("collapsed", false))

	spans := exporter.GetSpans()
	step := findSpan(spans, "step:theta")
	run := findSpan(spans, "run:run-1")
	if step == nil || run == nil {
		t.Fatalf("spans = %v", spans)
	}
	if step.Parent.SpanID() != run.SpanContext.SpanID() {
		t.Error("step span is not a child of the run span")
	}
	if step.SpanContext.TraceID() != run.SpanContext.TraceID() {
		t.Error("step span has a different trace ID")
	}
	if len(step.Events) != 2 {
		t.Fatalf("step span has %d events, want 2", len(step.Events))
	}
	if step.Events[0].Name != "resample" || step.Events[1].Name != "particle.degenerate" {
		t.Errorf("events = %q, %q", step.Events[0].Name, step.Events[1].Name)
	}
	if h.ActiveSpanContext("run-1", 0).IsValid() {
		t.Error("step span still active after step.finished")
	}
}

func TestTracingHandler_CollapsedRunIsError(t *testing.T) {
	exporter, tp := newTestTracer()
	h := petalotel.NewTracingHandler(tp.Tracer("test"))
	now := time.Now()

	h.Handle(smc.NewEvent(smc.EventRunStarted, "run-1", now))
	h.Handle(smc.NewEvent(smc.EventRunFinished, "run-1", now).WithPayload("collapsed", true))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != otelcodes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status.Code)
	}
	if spans[0].Status.Description != smc.ErrWeightCollapse.Error() {
		t.Errorf("status description = %q", spans[0].Status.Description)
	}
}

func TestTracingHandler_UnknownSpansIgnored(t *testing.T) {
	exporter, tp := newTestTracer()
	h := petalotel.NewTracingHandler(tp.Tracer("test"))
	now := time.Now()

	h.Handle(stepEvent(smc.EventResample, "missing", 0, "x", now))
	h.Handle(stepEvent(smc.EventStepFinished, "missing", 0, "x", now))
	h.Handle(smc.NewEvent(smc.EventRunFinished, "missing", now))

	if n := len(exporter.GetSpans()); n != 0 {
		t.Errorf("got %d spans, want 0", n)
	}
}
