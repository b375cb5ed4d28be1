package otel

import (
	"github.com/petal-labs/petalinfer/smc"
)

// EnrichEmitter wraps an emitter so that events carry the trace and span
// IDs of the active step span, or of the run span for run-level events.
// Events pass through unchanged when no span is active.
func EnrichEmitter(emit smc.EventEmitter, tracing *TracingHandler) smc.EventEmitter {
	return func(e smc.Event) {
		sc := tracing.ActiveRunSpanContext(e.RunID)
		if e.Step >= 0 {
			if step := tracing.ActiveSpanContext(e.RunID, e.Step); step.IsValid() {
				sc = step
			}
		}
		if sc.IsValid() {
			e.TraceID = sc.TraceID().String()
			e.SpanID = sc.SpanID().String()
		}
		emit(e)
	}
}

// Decorator returns EnrichEmitter as an smc.EventEmitterDecorator.
func Decorator(tracing *TracingHandler) smc.EventEmitterDecorator {
	return func(emit smc.EventEmitter) smc.EventEmitter {
		return EnrichEmitter(emit, tracing)
	}
}
