package monitor

import (
	"errors"
	"math"
	"testing"

	"github.com/petal-labs/petalinfer/core"
)

func makeSnapshot(step int, weights []float64, xs ...float64) Snapshot {
	vals := make([]core.Value, len(xs))
	for i, x := range xs {
		vals[i] = core.Scalar(x)
	}
	return Snapshot{
		Step:    step,
		Node:    core.NodeID(step),
		Weights: weights,
		Values:  map[core.NodeID][]core.Value{0: vals},
	}
}

func TestMonitor_AppendSeal(t *testing.T) {
	m := New([]core.NodeID{2, 0, 2})
	if got := m.Nodes(); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("Nodes() = %v, want [0 2]", got)
	}
	if !m.Tracks(2) || m.Tracks(1) {
		t.Error("Tracks disagrees with Nodes")
	}

	if err := m.Append(makeSnapshot(0, []float64{0.5, 0.5}, 1, 2)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := m.Append(makeSnapshot(2, []float64{1}, 1)); !errors.Is(err, ErrStepRange) {
		t.Errorf("out-of-order step: got %v", err)
	}
	if err := m.Append(makeSnapshot(1, []float64{1}, 1, 2)); !errors.Is(err, ErrBadSnapshot) {
		t.Errorf("mismatched lengths: got %v", err)
	}

	m.Seal()
	m.Seal()
	if !m.Sealed() {
		t.Fatal("Sealed() = false after Seal")
	}
	err := m.Append(makeSnapshot(1, []float64{1}, 3))
	if !core.IsLogic(err) || !errors.Is(err, ErrSealed) {
		t.Errorf("append after seal: got %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
	if _, err := m.At(1); !errors.Is(err, ErrStepRange) {
		t.Errorf("At(1): got %v", err)
	}
}

func TestMonitor_Accumulate(t *testing.T) {
	m := New([]core.NodeID{0})
	if err := m.Append(makeSnapshot(0, []float64{0.25, 0.25, 0.5, 0}, 1, 2, 4, 100)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	acc := NewScalarAccumulator()
	if err := m.Accumulate(0, 0, acc); err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	if acc.Count() != 3 {
		t.Errorf("Count() = %d, want 3 (zero weight dropped)", acc.Count())
	}
	if got := acc.Mean()[0]; math.Abs(got-2.75) > 1e-12 {
		t.Errorf("mean = %v, want 2.75", got)
	}
	// E[x^2] = 0.25 + 1 + 8 = 9.25; var = 9.25 - 2.75^2
	if got := acc.Variance()[0]; math.Abs(got-(9.25-2.75*2.75)) > 1e-12 {
		t.Errorf("variance = %v, want %v", got, 9.25-2.75*2.75)
	}
	if got := acc.Quantile(0.5)[0]; got != 2 {
		t.Errorf("median = %v, want 2", got)
	}
	if got := acc.Quantile(1)[0]; got != 4 {
		t.Errorf("max quantile = %v, want 4", got)
	}

	disc := NewDiscreteAccumulator()
	if err := m.Accumulate(0, 0, disc); err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	pmf := disc.PMF(0)
	if pmf[4] != 0.5 || pmf[1] != 0.25 || len(pmf) != 3 {
		t.Errorf("pmf = %v", pmf)
	}
	if s := disc.Support(0); len(s) != 3 || s[0] != 1 || s[2] != 4 {
		t.Errorf("support = %v", s)
	}

	if err := m.Accumulate(0, 7, acc); !errors.Is(err, ErrNotTracked) {
		t.Errorf("untracked node: got %v", err)
	}
}

func TestScalarAccumulator_Vector(t *testing.T) {
	acc := NewScalarAccumulator()
	acc.Reset(core.Dim{2})
	acc.Push(core.Vector(1, 10), 1)
	acc.Push(core.Vector(3, 30), 3)

	mean := acc.Mean()
	if mean[0] != 2.5 || mean[1] != 25 {
		t.Errorf("mean = %v, want [2.5 25]", mean)
	}
	if !acc.Dim().Equal(core.Dim{2}) {
		t.Errorf("Dim() = %v", acc.Dim())
	}
}

func TestSnapshot_LogWeights(t *testing.T) {
	s := makeSnapshot(0, []float64{1, 0}, 1, 2)
	lw := s.LogWeights()
	if lw[0] != 0 || !math.IsInf(lw[1], -1) {
		t.Errorf("LogWeights() = %v", lw)
	}
	if v, ok := s.Value(0, 1); !ok || v.Scalar() != 2 {
		t.Errorf("Value(0, 1) = %v, %v", v, ok)
	}
	if _, ok := s.Value(0, 2); ok {
		t.Error("Value out of range reported ok")
	}
}
