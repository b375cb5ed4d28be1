package petalinfer

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestInfer_ConjugateChain(t *testing.T) {
	md, err := NewModelBuilder("chain").
		Stochastic("A", "dnorm", Lit(0), Lit(1)).
		Logical("twoA", "multiply", Lit(2), Ref("A")).
		Logical("B", "add", Ref("twoA"), Lit(1)).
		Stochastic("C", "dnorm", Ref("B"), Lit(4)).Observe(5).
		Monitor("B").
		Definition()
	if err != nil {
		t.Fatalf("Definition: %v", err)
	}

	opts := DefaultOptions()
	opts.Particles = 2000
	opts.Seed = 17
	res, err := Infer(context.Background(), md, opts)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	want := -0.5*math.Log(2*math.Pi*4.25) - 16/(2*4.25)
	if math.Abs(res.LogEvidence-want) > 1e-9 {
		t.Errorf("log evidence = %v, want %v", res.LogEvidence, want)
	}

	a, err := res.Posterior("A")
	if err != nil {
		t.Fatalf("Posterior(A): %v", err)
	}
	if got := a.Mean()[0]; math.Abs(got-32.0/17) > 0.03 {
		t.Errorf("mean of A = %v, want %v", got, 32.0/17)
	}
	if _, err := res.Posterior("B"); err != nil {
		t.Errorf("Posterior(B): %v", err)
	}
	if _, err := res.Posterior("nope"); err == nil {
		t.Error("expected error for an unknown node")
	}

	smoothed, err := res.Smooth()
	if err != nil {
		t.Fatalf("Smooth: %v", err)
	}
	// With one step the smoothed and filtered distributions agree.
	if len(smoothed) != 1 || math.Abs(smoothed[0].Mean()[0]-a.Mean()[0]) > 1e-12 {
		t.Errorf("smoothed = %v", smoothed)
	}
}

func TestInfer_Smooth(t *testing.T) {
	md, err := NewModelBuilder("walk").
		Stochastic("x0", "dnorm", Lit(0), Lit(1)).
		Stochastic("y0", "dnorm", Ref("x0"), Lit(1)).Observe(1).
		Stochastic("x1", "dnorm", Ref("x0"), Lit(1)).
		Stochastic("y1", "dnorm", Ref("x1"), Lit(1)).Observe(2).
		Definition()
	if err != nil {
		t.Fatalf("Definition: %v", err)
	}
	opts := DefaultOptions()
	opts.Particles = 500
	opts.Seed = 4
	res, err := Infer(context.Background(), md, opts)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	smoothed, err := res.Smooth()
	if err != nil {
		t.Fatalf("Smooth: %v", err)
	}
	if len(smoothed) != 2 {
		t.Fatalf("got %d smoothed steps", len(smoothed))
	}
	// x0 | y0, y1 is N(0.8, 0.4).
	if got := smoothed[0].Mean()[0]; math.Abs(got-0.8) > 0.15 {
		t.Errorf("smoothed mean of x0 = %v, want 0.8", got)
	}
}

func TestInfer_Collapse(t *testing.T) {
	md, err := NewModelBuilder("impossible").
		Stochastic("rate", "dunif", Lit(0.5), Lit(1)).
		Stochastic("y", "dexp", Ref("rate")).Observe(-1).
		Definition()
	if err != nil {
		t.Fatalf("Definition: %v", err)
	}
	opts := DefaultOptions()
	opts.Particles = 10
	res, err := Infer(context.Background(), md, opts)
	if !errors.Is(err, ErrWeightCollapse) {
		t.Fatalf("Infer error = %v, want ErrWeightCollapse", err)
	}
	if res == nil || !math.IsInf(res.LogEvidence, -1) {
		t.Errorf("result = %+v", res)
	}
}
