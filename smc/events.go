package smc

import (
	"sync/atomic"
	"time"
)

// EventKind identifies the type of event emitted by the filter.
type EventKind string

const (
	// EventRunStarted is emitted when Initialize completes.
	EventRunStarted EventKind = "run.started"

	// EventStepStarted is emitted before the particles are advanced.
	EventStepStarted EventKind = "step.started"

	// EventResample is emitted when the particles are resampled.
	EventResample EventKind = "resample"

	// EventParticleDegenerate is emitted when a particle fails with a
	// runtime error and is given zero weight.
	EventParticleDegenerate EventKind = "particle.degenerate"

	// EventStepFinished is emitted after every particle has been advanced.
	EventStepFinished EventKind = "step.finished"

	// EventRunFinished is emitted when the last step completes or the
	// weights collapse.
	EventRunFinished EventKind = "run.finished"

	// EventSmootherIterated is emitted by the backward smoother after each
	// backward step.
	EventSmootherIterated EventKind = "smoother.iterated"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured record of what happened during a run.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// RunID is the unique identifier for this run.
	RunID string

	// Step is the zero-based filter step (-1 for run-level events).
	Step int

	// Node is the label of the node sampled at Step (empty for run-level events).
	Node string

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration since the run or step started.
	Elapsed time.Duration

	// Payload contains event-specific data.
	Payload map[string]any

	// Seq is a monotonic sequence number per run (1-indexed).
	Seq uint64

	// TraceID is the OpenTelemetry trace ID (hex-encoded, empty when OTel inactive).
	TraceID string

	// SpanID is the OpenTelemetry span ID (hex-encoded, empty when OTel inactive).
	SpanID string
}

// NewEvent creates a run-level event.
func NewEvent(kind EventKind, runID string, now time.Time) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		Step:    -1,
		Time:    now,
		Payload: make(map[string]any),
	}
}

// WithStep sets the step and sampled node on the event.
func (e Event) WithStep(step int, node string) Event {
	e.Step = step
	e.Node = node
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventEmitter is a function type for emitting events.
type EventEmitter func(Event)

// EventEmitterDecorator wraps an emitter to add cross-cutting behavior,
// for example enriching events with trace metadata.
type EventEmitterDecorator func(EventEmitter) EventEmitter

// EventHandler is a function type for handling events.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// ChannelEventHandler returns a handler that sends events to a channel.
// Events are dropped if the channel is full.
func ChannelEventHandler(ch chan<- Event) EventHandler {
	return func(e Event) {
		select {
		case ch <- e:
		default:
		}
	}
}

// seqGen produces monotonically increasing sequence numbers for a single run.
type seqGen struct {
	counter atomic.Uint64
}

// Next returns the next sequence number (1-indexed).
func (s *seqGen) Next() uint64 {
	return s.counter.Add(1)
}
