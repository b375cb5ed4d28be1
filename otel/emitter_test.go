package otel_test

import (
	"context"
	"testing"
	"time"

	"github.com/petal-labs/petalinfer/distribution"
	"github.com/petal-labs/petalinfer/function"
	"github.com/petal-labs/petalinfer/graph"
	petalotel "github.com/petal-labs/petalinfer/otel"
	"github.com/petal-labs/petalinfer/smc"
)

func TestEnrichEmitter(t *testing.T) {
	_, tp := newTestTracer()
	h := petalotel.NewTracingHandler(tp.Tracer("test"))
	now := time.Now()

	h.Handle(smc.NewEvent(smc.EventRunStarted, "run-1", now))
	h.Handle(stepEvent(smc.EventStepStarted, "run-1", 2, "mu", now))
	runSC := h.ActiveRunSpanContext("run-1")
	stepSC := h.ActiveSpanContext("run-1", 2)

	var received smc.Event
	enriched := petalotel.EnrichEmitter(func(e smc.Event) { received = e }, h)

	tests := []struct {
		name      string
		event     smc.Event
		wantTrace string
		wantSpan  string
	}{
		{"step span", stepEvent(smc.EventResample, "run-1", 2, "mu", now), stepSC.TraceID().String(), stepSC.SpanID().String()},
		{"run span fallback", stepEvent(smc.EventResample, "run-1", 5, "nu", now), runSC.TraceID().String(), runSC.SpanID().String()},
		{"run level", smc.NewEvent(smc.EventRunFinished, "run-1", now), runSC.TraceID().String(), runSC.SpanID().String()},
		{"no span", smc.NewEvent(smc.EventRunStarted, "other", now), "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			received = smc.Event{}
			enriched(tt.event)
			if received.Kind != tt.event.Kind {
				t.Fatalf("event not forwarded: %+v", received)
			}
			if received.TraceID != tt.wantTrace {
				t.Errorf("TraceID = %q, want %q", received.TraceID, tt.wantTrace)
			}
			if received.SpanID != tt.wantSpan {
				t.Errorf("SpanID = %q, want %q", received.SpanID, tt.wantSpan)
			}
		})
	}
}

func TestDecorator_FilterRun(t *testing.T) {
	md := &graph.ModelDefinition{ID: "coin", Nodes: []graph.NodeDef{
		{Name: "p", Kind: "stochastic", Dist: "dbeta", Params: []graph.Param{graph.Lit(1), graph.Lit(1)}},
		{Name: "heads", Kind: "stochastic", Dist: "dbin", Params: []graph.Param{graph.Ref("p"), graph.Lit(10)}, Observed: []float64{7}},
		{Name: "sigma", Kind: "stochastic", Dist: "dunif", Params: []graph.Param{graph.Lit(0.5), graph.Lit(2)}},
		{Name: "y", Kind: "stochastic", Dist: "dnorm", Params: []graph.Param{graph.Lit(0), graph.Ref("sigma")}, Observed: []float64{0.3}},
	}}
	g, err := graph.Build(md, distribution.Builtins(), function.Builtins())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	exporter, tp := newTestTracer()
	tracing := petalotel.NewTracingHandler(tp.Tracer("test"))
	reader, mp := newTestMeter()
	metrics, err := petalotel.NewMetricsHandler(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetricsHandler: %v", err)
	}

	var traced int
	opts := smc.DefaultOptions()
	opts.Particles = 100
	opts.Model = md.ID
	opts.EventEmitterDecorator = petalotel.Decorator(tracing)
	opts.EventHandler = smc.MultiEventHandler(tracing.Handle, metrics.Handle, func(e smc.Event) {
		if e.TraceID != "" {
			traced++
		}
	})
	f, err := smc.New(g, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := f.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("got %d spans, want 3 (run and two steps)", len(spans))
	}
	if findSpan(spans, "run:coin") == nil || findSpan(spans, "step:p") == nil || findSpan(spans, "step:sigma") == nil {
		t.Errorf("unexpected span names: %v, %v, %v", spans[0].Name, spans[1].Name, spans[2].Name)
	}
	// run.started is emitted before its span exists.
	if traced == 0 {
		t.Error("no event carried a trace ID")
	}

	rm := collectMetrics(t, reader)
	if got := sumCounter(t, rm, "petalinfer.steps"); got != 2 {
		t.Errorf("petalinfer.steps = %d, want 2", got)
	}
}
