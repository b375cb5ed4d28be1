package particle

import (
	"errors"
	"math"
	"testing"

	"github.com/petal-labs/petalinfer/core"
)

func TestAddToLogWeight_OrderIndependent(t *testing.T) {
	incs := []float64{-0.5, 1.25, -3.75, 0.125, 2}
	p := New(0)
	for _, inc := range incs {
		if err := p.AddToLogWeight(inc); err != nil {
			t.Fatalf("AddToLogWeight(%v): %v", inc, err)
		}
	}

	total := 0.0
	for _, inc := range incs {
		total += inc
	}
	q := New(0)
	if err := q.AddToLogWeight(total); err != nil {
		t.Fatalf("AddToLogWeight(%v): %v", total, err)
	}
	if math.Abs(p.LogWeight()-q.LogWeight()) > 1e-12 {
		t.Errorf("stepwise %v != single %v", p.LogWeight(), q.LogWeight())
	}
	if math.Abs(p.Weight()-math.Exp(total)) > 1e-12 {
		t.Errorf("Weight() = %v, want %v", p.Weight(), math.Exp(total))
	}
}

func TestAddToLogWeight_PositiveInfinityStays(t *testing.T) {
	p := New(0)
	if err := p.AddToLogWeight(math.Inf(1)); err != nil {
		t.Fatalf("AddToLogWeight(+Inf): %v", err)
	}
	if err := p.AddToLogWeight(-1e300); err != nil {
		t.Fatalf("AddToLogWeight(finite): %v", err)
	}
	if !math.IsInf(p.LogWeight(), 1) {
		t.Errorf("LogWeight() = %v, want +Inf", p.LogWeight())
	}
}

func TestAddToLogWeight_TwoNegativeInfinities(t *testing.T) {
	p := New(0)
	if err := p.AddToLogWeight(math.Inf(-1)); err != nil {
		t.Fatalf("first -Inf should be accepted: %v", err)
	}
	err := p.AddToLogWeight(math.Inf(-1))
	if !errors.Is(err, ErrIncompatibleLogWeight) {
		t.Fatalf("expected ErrIncompatibleLogWeight, got %v", err)
	}
	if errors.Is(err, ErrWeightComputation) {
		t.Error("incompatible failure must be distinct from the generic one")
	}
	if !core.IsRuntime(err) {
		t.Error("weight failures are runtime errors")
	}
	if dead, cause := p.Degenerate(); !dead || cause != err {
		t.Errorf("Degenerate() = %v, %v", dead, cause)
	}
	if p.Weight() != 0 {
		t.Errorf("degenerate weight = %v, want 0", p.Weight())
	}
}

func TestAddToLogWeight_NaNIsGenericFailure(t *testing.T) {
	p := New(0)
	err := p.AddToLogWeight(math.NaN())
	if !errors.Is(err, ErrWeightComputation) {
		t.Fatalf("expected ErrWeightComputation, got %v", err)
	}
	if dead, _ := p.Degenerate(); !dead {
		t.Error("particle should be degenerate")
	}
}

func TestClone_IsDeep(t *testing.T) {
	p := New(3)
	p.SetValue(1, core.Vector(1, 2))
	p.SetLogWeight(-2)

	c := p.Clone()
	v, _ := c.Value(1)
	v.Data[0] = 99
	c.SetValue(2, core.Scalar(5))
	c.SetLogWeight(0)

	orig, _ := p.Value(1)
	if orig.Data[0] != 1 {
		t.Errorf("clone shares storage: original is %v", orig)
	}
	if p.Has(2) {
		t.Error("clone assignment leaked into the original")
	}
	if p.LogWeight() != -2 {
		t.Errorf("original LogWeight() = %v, want -2", p.LogWeight())
	}
}

func TestUnsetAndReset(t *testing.T) {
	p := New(2)
	p.SetValue(0, core.Scalar(1))
	p.Unset(0)
	if p.Has(0) {
		t.Error("Has(0) after Unset")
	}
	if _, ok := p.Value(5); ok {
		t.Error("Value out of range should report false")
	}

	p.MarkDegenerate(nil)
	if dead, _ := p.Degenerate(); !dead {
		t.Fatal("MarkDegenerate(nil) should still mark the particle")
	}
	p.ResetWeight()
	if dead, _ := p.Degenerate(); dead || p.Weight() != 1 {
		t.Errorf("ResetWeight left dead=%v weight=%v", dead, p.Weight())
	}
}
