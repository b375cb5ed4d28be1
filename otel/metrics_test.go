package otel_test

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	petalotel "github.com/petal-labs/petalinfer/otel"
	"github.com/petal-labs/petalinfer/smc"
)

// newTestMeter returns a meter backed by a manual reader for collecting metrics in tests.
func newTestMeter() (*metric.ManualReader, *metric.MeterProvider) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *metric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

func sumCounter(t *testing.T, rm *metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func histogramCount(t *testing.T, rm *metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := m.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is %T, want Histogram[float64]", name, m.Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	return count
}

func TestMetricsHandler(t *testing.T) {
	reader, mp := newTestMeter()
	h, err := petalotel.NewMetricsHandler(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetricsHandler: %v", err)
	}
	now := time.Now()

	h.Handle(smc.NewEvent(smc.EventRunStarted, "run-1", now))
	for step, node := range []string{"a", "b"} {
		h.Handle(stepEvent(smc.EventStepStarted, "run-1", step, node, now))
		h.Handle(stepEvent(smc.EventResample, "run-1", step, node, now).WithPayload("scheme", "stratified"))
		h.Handle(stepEvent(smc.EventParticleDegenerate, "run-1", step, node, now))
		h.Handle(stepEvent(smc.EventParticleDegenerate, "run-1", step, node, now))
		h.Handle(stepEvent(smc.EventStepFinished, "run-1", step, node, now).
			WithElapsed(20 * time.Millisecond).
			WithPayload("sampler", "prior").
			WithPayload("ess", 40.0))
	}
	h.Handle(smc.NewEvent(smc.EventRunFinished, "run-1", now).
		WithElapsed(time.Second).
		WithPayload("collapsed", false))

	rm := collectMetrics(t, reader)
	counters := map[string]int64{
		"petalinfer.steps":                2,
		"petalinfer.resamples":            2,
		"petalinfer.particles.degenerate": 4,
	}
	for name, want := range counters {
		if got := sumCounter(t, rm, name); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
	hists := map[string]uint64{
		"petalinfer.step.ess":      2,
		"petalinfer.step.duration": 2,
		"petalinfer.run.duration":  1,
	}
	for name, want := range hists {
		if got := histogramCount(t, rm, name); got != want {
			t.Errorf("%s count = %d, want %d", name, got, want)
		}
	}
}

func TestMetricsHandler_IgnoresUnrelatedEvents(t *testing.T) {
	reader, mp := newTestMeter()
	h, err := petalotel.NewMetricsHandler(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetricsHandler: %v", err)
	}
	h.Handle(smc.NewEvent(smc.EventRunStarted, "run-1", time.Now()))
	h.Handle(smc.NewEvent(smc.EventSmootherIterated, "run-1", time.Now()))

	rm := collectMetrics(t, reader)
	if m := findMetric(rm, "petalinfer.steps"); m != nil {
		t.Errorf("unexpected metric %q", m.Name)
	}
}
