package monitor

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/petal-labs/petalinfer/core"
)

// Accumulator summarizes a weighted particle set of one node. Weights need
// not be normalized.
type Accumulator interface {
	Reset(dim core.Dim)
	Push(v core.Value, weight float64)
}

// ScalarAccumulator computes elementwise weighted moments and quantiles.
type ScalarAccumulator struct {
	dim     core.Dim
	values  [][]float64 // per element
	weights []float64
}

// NewScalarAccumulator creates an empty accumulator.
func NewScalarAccumulator() *ScalarAccumulator {
	return &ScalarAccumulator{}
}

func (a *ScalarAccumulator) Reset(dim core.Dim) {
	a.dim = dim.Clone()
	a.values = make([][]float64, dim.Len())
	a.weights = a.weights[:0]
}

func (a *ScalarAccumulator) Push(v core.Value, weight float64) {
	if weight <= 0 || math.IsNaN(weight) {
		return
	}
	for i := range a.values {
		a.values[i] = append(a.values[i], v.At(i))
	}
	a.weights = append(a.weights, weight)
}

// Dim returns the shape of the summarized node.
func (a *ScalarAccumulator) Dim() core.Dim {
	return a.dim
}

// Count returns the number of particles with positive weight.
func (a *ScalarAccumulator) Count() int {
	return len(a.weights)
}

// Mean returns the elementwise weighted mean.
func (a *ScalarAccumulator) Mean() []float64 {
	out := make([]float64, len(a.values))
	for i, xs := range a.values {
		out[i] = stat.Mean(xs, a.weights)
	}
	return out
}

// Variance returns the elementwise weighted population variance.
func (a *ScalarAccumulator) Variance() []float64 {
	out := make([]float64, len(a.values))
	for i, xs := range a.values {
		_, out[i] = stat.PopMeanVariance(xs, a.weights)
	}
	return out
}

// Quantile returns the elementwise weighted empirical p-quantile.
func (a *ScalarAccumulator) Quantile(p float64) []float64 {
	out := make([]float64, len(a.values))
	for i, xs := range a.values {
		if len(xs) == 0 {
			out[i] = math.NaN()
			continue
		}
		x := append([]float64(nil), xs...)
		w := append([]float64(nil), a.weights...)
		sort.Sort(byValue{x, w})
		out[i] = stat.Quantile(p, stat.Empirical, x, w)
	}
	return out
}

type byValue struct{ x, w []float64 }

func (b byValue) Len() int           { return len(b.x) }
func (b byValue) Less(i, j int) bool { return b.x[i] < b.x[j] }
func (b byValue) Swap(i, j int) {
	b.x[i], b.x[j] = b.x[j], b.x[i]
	b.w[i], b.w[j] = b.w[j], b.w[i]
}

// DiscreteAccumulator computes the elementwise weighted probability mass
// function of a discrete node.
type DiscreteAccumulator struct {
	dim   core.Dim
	mass  []map[float64]float64
	total float64
}

// NewDiscreteAccumulator creates an empty accumulator.
func NewDiscreteAccumulator() *DiscreteAccumulator {
	return &DiscreteAccumulator{}
}

func (a *DiscreteAccumulator) Reset(dim core.Dim) {
	a.dim = dim.Clone()
	a.mass = make([]map[float64]float64, dim.Len())
	for i := range a.mass {
		a.mass[i] = make(map[float64]float64)
	}
	a.total = 0
}

func (a *DiscreteAccumulator) Push(v core.Value, weight float64) {
	if weight <= 0 || math.IsNaN(weight) {
		return
	}
	for i, m := range a.mass {
		m[v.At(i)] += weight
	}
	a.total += weight
}

// Support returns the observed values of element i, sorted.
func (a *DiscreteAccumulator) Support(i int) []float64 {
	out := make([]float64, 0, len(a.mass[i]))
	for x := range a.mass[i] {
		out = append(out, x)
	}
	sort.Float64s(out)
	return out
}

// PMF returns the normalized mass of each observed value of element i.
func (a *DiscreteAccumulator) PMF(i int) map[float64]float64 {
	out := make(map[float64]float64, len(a.mass[i]))
	for x, w := range a.mass[i] {
		out[x] = w / a.total
	}
	return out
}

// Len returns the number of elements of the summarized node.
func (a *DiscreteAccumulator) Len() int {
	return len(a.mass)
}
