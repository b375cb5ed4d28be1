// Package resample implements the resampling schemes used by the particle
// filter to replace low-weight particles with copies of high-weight ones.
package resample

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/petal-labs/petalinfer/core"
)

// Resampling errors
var (
	ErrNoMass      = errors.New("weights sum to zero")
	ErrBadWeight   = errors.New("weights must be finite and non-negative")
	ErrUnknownName = errors.New("unknown resampler")
)

// Resampler draws n ancestor indices in proportion to weights.
type Resampler interface {
	Name() string
	Resample(rng core.RNG, weights []float64, n int) ([]int, error)
}

// normalize returns the weights divided by their sum.
func normalize(weights []float64) ([]float64, error) {
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: %v", ErrBadWeight, w)
		}
	}
	total := floats.Sum(weights)
	if total <= 0 {
		return nil, ErrNoMass
	}
	out := append([]float64(nil), weights...)
	floats.Scale(1/total, out)
	return out, nil
}

// fromPoints maps sorted points in [0, 1) to indices through the cumulative
// weights.
func fromPoints(w []float64, points []float64) []int {
	cum := make([]float64, len(w))
	floats.CumSum(cum, w)
	cum[len(cum)-1] = 1

	out := make([]int, len(points))
	j := 0
	for i, u := range points {
		for j < len(cum)-1 && u >= cum[j] {
			j++
		}
		out[i] = j
	}
	return out
}

// Multinomial draws n independent categorical samples.
type Multinomial struct{}

func (Multinomial) Name() string { return "multinomial" }

func (Multinomial) Resample(rng core.RNG, weights []float64, n int) ([]int, error) {
	w, err := normalize(weights)
	if err != nil {
		return nil, err
	}
	points := make([]float64, n)
	for i := range points {
		points[i] = core.Uniform(rng)
	}
	sort.Float64s(points)
	return fromPoints(w, points), nil
}

// Stratified draws one uniform point in each of n equal strata.
type Stratified struct{}

func (Stratified) Name() string { return "stratified" }

func (Stratified) Resample(rng core.RNG, weights []float64, n int) ([]int, error) {
	w, err := normalize(weights)
	if err != nil {
		return nil, err
	}
	points := make([]float64, n)
	for i := range points {
		points[i] = (float64(i) + core.Uniform(rng)) / float64(n)
	}
	return fromPoints(w, points), nil
}

// Systematic uses a single uniform offset shared by all n strata.
type Systematic struct{}

func (Systematic) Name() string { return "systematic" }

func (Systematic) Resample(rng core.RNG, weights []float64, n int) ([]int, error) {
	w, err := normalize(weights)
	if err != nil {
		return nil, err
	}
	u := core.Uniform(rng)
	points := make([]float64, n)
	for i := range points {
		points[i] = (float64(i) + u) / float64(n)
	}
	return fromPoints(w, points), nil
}

// Residual keeps floor(n*w_i) copies of each particle and fills the
// remainder multinomially from the residual weights.
type Residual struct{}

func (Residual) Name() string { return "residual" }

func (Residual) Resample(rng core.RNG, weights []float64, n int) ([]int, error) {
	w, err := normalize(weights)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, n)
	residual := make([]float64, len(w))
	for i, wi := range w {
		copies := int(math.Floor(float64(n) * wi))
		for c := 0; c < copies && len(out) < n; c++ {
			out = append(out, i)
		}
		residual[i] = float64(n)*wi - float64(copies)
	}
	rest := n - len(out)
	if rest == 0 {
		return out, nil
	}
	if floats.Sum(residual) <= 0 {
		// Rounding left nothing to draw from; spread the rest by weight.
		copy(residual, w)
	}
	extra, err := Multinomial{}.Resample(rng, residual, rest)
	if err != nil {
		return nil, err
	}
	return append(out, extra...), nil
}

var byName = map[string]Resampler{
	"multinomial": Multinomial{},
	"residual":    Residual{},
	"stratified":  Stratified{},
	"systematic":  Systematic{},
}

// ByName returns the resampler registered under name.
func ByName(name string) (Resampler, error) {
	r, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownName, name, Names())
	}
	return r, nil
}

// Names returns the known resampler names, sorted.
func Names() []string {
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ESS returns the effective sample size (sum w)^2 / sum w^2 of
// unnormalized weights. It is zero when every weight is zero.
func ESS(weights []float64) float64 {
	sum, sq := 0.0, 0.0
	for _, w := range weights {
		sum += w
		sq += w * w
	}
	if sq == 0 {
		return 0
	}
	return sum * sum / sq
}
