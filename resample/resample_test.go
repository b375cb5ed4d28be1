package resample_test

import (
	"errors"
	"math"
	"testing"

	"github.com/petal-labs/petalinfer/core"
	"github.com/petal-labs/petalinfer/resample"
)

func TestResamplers_Proportions(t *testing.T) {
	weights := []float64{0.1, 0, 0.6, 0.3}
	const n = 20000

	for _, name := range resample.Names() {
		t.Run(name, func(t *testing.T) {
			r, err := resample.ByName(name)
			if err != nil {
				t.Fatalf("ByName: %v", err)
			}
			if r.Name() != name {
				t.Errorf("Name() = %q", r.Name())
			}
			idx, err := r.Resample(core.NewRNG(5), weights, n)
			if err != nil {
				t.Fatalf("Resample: %v", err)
			}
			if len(idx) != n {
				t.Fatalf("got %d indices, want %d", len(idx), n)
			}
			counts := make([]int, len(weights))
			for _, i := range idx {
				if i < 0 || i >= len(weights) {
					t.Fatalf("index %d out of range", i)
				}
				counts[i]++
			}
			if counts[1] != 0 {
				t.Errorf("zero-weight particle drawn %d times", counts[1])
			}
			for i, w := range weights {
				if got := float64(counts[i]) / n; math.Abs(got-w) > 0.02 {
					t.Errorf("frequency of %d = %.3f, want %.3f", i, got, w)
				}
			}
		})
	}
}

func TestLowVarianceSchemes_Exact(t *testing.T) {
	// With weights that are multiples of 1/n the stratified schemes
	// reproduce the counts exactly.
	weights := []float64{2, 1, 0, 1}
	for _, r := range []resample.Resampler{resample.Systematic{}, resample.Residual{}} {
		idx, err := r.Resample(core.NewRNG(1), weights, 4)
		if err != nil {
			t.Fatalf("%s: %v", r.Name(), err)
		}
		counts := make([]int, len(weights))
		for _, i := range idx {
			counts[i]++
		}
		want := []int{2, 1, 0, 1}
		for i := range want {
			if counts[i] != want[i] {
				t.Errorf("%s: counts = %v, want %v", r.Name(), counts, want)
				break
			}
		}
	}
}

func TestResample_Errors(t *testing.T) {
	tests := []struct {
		name    string
		weights []float64
		want    error
	}{
		{"all zero", []float64{0, 0}, resample.ErrNoMass},
		{"negative", []float64{1, -1}, resample.ErrBadWeight},
		{"nan", []float64{math.NaN(), 1}, resample.ErrBadWeight},
		{"inf", []float64{math.Inf(1), 1}, resample.ErrBadWeight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resample.Stratified{}.Resample(core.NewRNG(1), tt.weights, 3)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := resample.ByName("bogus"); !errors.Is(err, resample.ErrUnknownName) {
		t.Errorf("ByName(bogus) = %v", err)
	}
}

func TestESS(t *testing.T) {
	if got := resample.ESS([]float64{1, 1, 1, 1}); got != 4 {
		t.Errorf("uniform ESS = %v, want 4", got)
	}
	if got := resample.ESS([]float64{0, 3, 0}); got != 1 {
		t.Errorf("single-particle ESS = %v, want 1", got)
	}
	if got := resample.ESS([]float64{0, 0}); got != 0 {
		t.Errorf("collapsed ESS = %v, want 0", got)
	}
}
