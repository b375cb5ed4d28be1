// Package otel provides OpenTelemetry integration for filter events.
package otel

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/petalinfer/smc"
)

// TracingHandler translates filter events into OpenTelemetry spans: one
// root span per run and one child span per step. Resampling and
// degenerate particles become span events on the step span.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span      // runID -> span
	runCtxs   map[string]context.Context // runID -> context (for child spans)
	stepSpans map[string]trace.Span      // runID:step -> span
}

// NewTracingHandler creates a TracingHandler that starts spans on tracer.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		stepSpans: make(map[string]trace.Span),
	}
}

// Handle creates or ends spans for one event. It can be used as an
// smc.EventHandler.
func (h *TracingHandler) Handle(e smc.Event) {
	switch e.Kind {
	case smc.EventRunStarted:
		h.handleRunStarted(e)
	case smc.EventStepStarted:
		h.handleStepStarted(e)
	case smc.EventResample, smc.EventParticleDegenerate:
		h.handleStepEvent(e)
	case smc.EventStepFinished:
		h.handleStepFinished(e)
	case smc.EventRunFinished:
		h.handleRunFinished(e)
	}
}

func stepKey(runID string, step int) string {
	return runID + ":" + strconv.Itoa(step)
}

func (h *TracingHandler) handleRunStarted(e smc.Event) {
	model := payloadString(e, "model")
	spanName := "run:" + e.RunID
	if model != "" {
		spanName = "run:" + model
	}

	attrs := []attribute.KeyValue{attribute.String("petalinfer.run_id", e.RunID)}
	if n, ok := e.Payload["particles"].(int); ok {
		attrs = append(attrs, attribute.Int("petalinfer.particles", n))
	}
	if model != "" {
		attrs = append(attrs, attribute.String("petalinfer.model", model))
	}
	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

func (h *TracingHandler) handleStepStarted(e smc.Event) {
	h.mu.RLock()
	parentCtx, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()
	if !ok {
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, "step:"+e.Node,
		trace.WithAttributes(
			attribute.String("petalinfer.run_id", e.RunID),
			attribute.Int("petalinfer.step", e.Step),
			attribute.String("petalinfer.node", e.Node),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.stepSpans[stepKey(e.RunID, e.Step)] = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleStepEvent(e smc.Event) {
	h.mu.RLock()
	span, ok := h.stepSpans[stepKey(e.RunID, e.Step)]
	h.mu.RUnlock()
	if !ok {
		return
	}

	var attrs []attribute.KeyValue
	switch e.Kind {
	case smc.EventResample:
		attrs = append(attrs, attribute.String("petalinfer.scheme", payloadString(e, "scheme")))
		if ess, ok := e.Payload["ess"].(float64); ok {
			attrs = append(attrs, attribute.Float64("petalinfer.ess", ess))
		}
	case smc.EventParticleDegenerate:
		if i, ok := e.Payload["particle"].(int); ok {
			attrs = append(attrs, attribute.Int("petalinfer.particle", i))
		}
		attrs = append(attrs, attribute.String("petalinfer.error", payloadString(e, "error")))
	}
	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

func (h *TracingHandler) handleStepFinished(e smc.Event) {
	key := stepKey(e.RunID, e.Step)
	h.mu.Lock()
	span, ok := h.stepSpans[key]
	if ok {
		delete(h.stepSpans, key)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("petalinfer.sampler", payloadString(e, "sampler"))}
	if ess, ok := e.Payload["ess"].(float64); ok {
		attrs = append(attrs, attribute.Float64("petalinfer.ess", ess))
	}
	if inc, ok := e.Payload["log_increment"].(float64); ok {
		attrs = append(attrs, attribute.Float64("petalinfer.log_increment", inc))
	}
	if n, ok := e.Payload["degenerate"].(int); ok {
		attrs = append(attrs, attribute.Int("petalinfer.degenerate", n))
	}
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Ok, "")
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleRunFinished(e smc.Event) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	if ok {
		delete(h.runSpans, e.RunID)
		delete(h.runCtxs, e.RunID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(attribute.String("petalinfer.duration", e.Elapsed.String()))
	if steps, ok := e.Payload["steps"].(int); ok {
		span.SetAttributes(attribute.Int("petalinfer.steps", steps))
	}
	if collapsed, _ := e.Payload["collapsed"].(bool); collapsed {
		span.SetStatus(codes.Error, smc.ErrWeightCollapse.Error())
	} else {
		if lz, ok := e.Payload["log_norm_const"].(float64); ok {
			span.SetAttributes(attribute.Float64("petalinfer.log_norm_const", lz))
		}
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveSpanContext returns the SpanContext of the open span for step of
// runID, or an empty SpanContext.
func (h *TracingHandler) ActiveSpanContext(runID string, step int) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.stepSpans[stepKey(runID, step)]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveRunSpanContext returns the SpanContext of the open run span for
// runID, or an empty SpanContext.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.runSpans[runID]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}
