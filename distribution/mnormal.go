package distribution

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/petal-labs/petalinfer/core"
)

// MNormal is dmnorm(mean, precision) over vectors of length n, where mean
// has shape [n] and precision [n n].
type MNormal struct{}

func (MNormal) Name() string         { return "dmnorm" }
func (MNormal) NParams() int         { return 2 }
func (MNormal) Support() SupportKind { return Continuous }
func (MNormal) CanBound() bool       { return false }

func (MNormal) CheckParamDims(dims []core.Dim) bool {
	if len(dims) != 2 || !dims[0].IsVector() {
		return false
	}
	n := dims[0].Len()
	if n == 1 {
		return dims[1].IsScalar()
	}
	return dims[1].IsMatrix() && dims[1].Rows() == n && dims[1].Cols() == n
}

func (d MNormal) Dim(dims []core.Dim) (core.Dim, error) {
	if !d.CheckParamDims(dims) {
		return nil, core.NewLogicError(d.Name()+".Dim", ErrBadParamDims, "expected mean [n] and precision [n n], got %v", dims)
	}
	return core.Dim{dims[0].Len()}, nil
}

func (MNormal) CheckParamValues(params []core.Value) bool {
	n := params[0].Len()
	prec := params[1].Data
	if !finite(params[0].Data...) || !finite(prec...) {
		return false
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if prec[i*n+j] != prec[j*n+i] {
				return false
			}
		}
	}
	var chol mat.Cholesky
	return chol.Factorize(mat.NewSymDense(n, append([]float64(nil), prec...)))
}

// Dist returns the gonum distribution for a mean vector and a row-major
// precision matrix. ok is false when the precision is not positive definite.
func (MNormal) Dist(mean []float64, precision []float64, rng core.RNG) (*distmv.Normal, bool) {
	n := len(mean)
	prec := mat.NewSymDense(n, append([]float64(nil), precision...))
	return distmv.NewNormalPrecision(append([]float64(nil), mean...), prec, source(rng))
}

func (d MNormal) Sample(rng core.RNG, params []core.Value, lower, upper *core.Value) (core.Value, error) {
	if lower != nil || upper != nil {
		return core.Value{}, boundsError(d.Name())
	}
	if !d.CheckParamValues(params) {
		return core.Value{}, paramError(d.Name(), params)
	}
	dist, ok := d.Dist(params[0].Data, params[1].Data, rng)
	if !ok {
		return core.Value{}, paramError(d.Name(), params)
	}
	return core.Vector(dist.Rand(nil)...), nil
}

func (d MNormal) LogDensity(x core.Value, params []core.Value, _, _ *core.Value) float64 {
	if x.Len() != params[0].Len() {
		return math.Inf(-1)
	}
	dist, ok := d.Dist(params[0].Data, params[1].Data, nil)
	if !ok {
		return math.NaN()
	}
	return dist.LogProb(x.Data)
}

var _ Distribution = MNormal{}
