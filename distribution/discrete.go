package distribution

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/petal-labs/petalinfer/core"
)

func isCount(x float64) bool {
	return x >= 0 && x == math.Trunc(x) && !math.IsInf(x, 0)
}

func boundsError(name string) error {
	return core.NewRuntimeError(core.NullNode, ErrNotBoundable, "%s: bounds are not supported", name)
}

func seq(from, to int) []float64 {
	out := make([]float64, 0, to-from+1)
	for k := from; k <= to; k++ {
		out = append(out, float64(k))
	}
	return out
}

// Bernoulli is dbern(p).
type Bernoulli struct{}

func (Bernoulli) Name() string         { return "dbern" }
func (Bernoulli) NParams() int         { return 1 }
func (Bernoulli) Support() SupportKind { return Discrete }
func (Bernoulli) CanBound() bool       { return false }

func (Bernoulli) CheckParamDims(dims []core.Dim) bool { return scalarDims(dims, 1) }

func (d Bernoulli) Dim(dims []core.Dim) (core.Dim, error) { return scalarDim(d.Name(), dims, 1) }

func (Bernoulli) CheckParamValues(params []core.Value) bool {
	p := params[0].Scalar()
	return p >= 0 && p <= 1
}

func (d Bernoulli) Sample(rng core.RNG, params []core.Value, lower, upper *core.Value) (core.Value, error) {
	if lower != nil || upper != nil {
		return core.Value{}, boundsError(d.Name())
	}
	if !d.CheckParamValues(params) {
		return core.Value{}, paramError(d.Name(), params)
	}
	b := distuv.Bernoulli{P: params[0].Scalar(), Src: source(rng)}
	return core.Scalar(b.Rand()), nil
}

func (Bernoulli) LogDensity(x core.Value, params []core.Value, _, _ *core.Value) float64 {
	p := params[0].Scalar()
	switch x.Scalar() {
	case 1:
		return math.Log(p)
	case 0:
		return math.Log1p(-p)
	default:
		return math.Inf(-1)
	}
}

func (Bernoulli) SupportSize([]core.Dim, []*core.Value) (int, bool) { return 2, true }

func (Bernoulli) Enumerate([]core.Value) ([]float64, error) { return []float64{0, 1}, nil }

// Binomial is dbin(p, n).
type Binomial struct{}

func (Binomial) Name() string         { return "dbin" }
func (Binomial) NParams() int         { return 2 }
func (Binomial) Support() SupportKind { return Discrete }
func (Binomial) CanBound() bool       { return false }

func (Binomial) CheckParamDims(dims []core.Dim) bool { return scalarDims(dims, 2) }

func (d Binomial) Dim(dims []core.Dim) (core.Dim, error) { return scalarDim(d.Name(), dims, 2) }

func (Binomial) CheckParamValues(params []core.Value) bool {
	p, n := params[0].Scalar(), params[1].Scalar()
	return p >= 0 && p <= 1 && isCount(n)
}

func (d Binomial) Sample(rng core.RNG, params []core.Value, lower, upper *core.Value) (core.Value, error) {
	if lower != nil || upper != nil {
		return core.Value{}, boundsError(d.Name())
	}
	if !d.CheckParamValues(params) {
		return core.Value{}, paramError(d.Name(), params)
	}
	b := distuv.Binomial{N: params[1].Scalar(), P: params[0].Scalar(), Src: source(rng)}
	return core.Scalar(b.Rand()), nil
}

func (Binomial) LogDensity(x core.Value, params []core.Value, _, _ *core.Value) float64 {
	p, n := params[0].Scalar(), params[1].Scalar()
	k := x.Scalar()
	if !isCount(k) || k > n {
		return math.Inf(-1)
	}
	// Degenerate p is outside gonum's domain but has an exact mass.
	switch {
	case p == 0:
		if k == 0 {
			return 0
		}
		return math.Inf(-1)
	case p == 1:
		if k == n {
			return 0
		}
		return math.Inf(-1)
	}
	return distuv.Binomial{N: n, P: p}.LogProb(k)
}

// SupportSize needs the size parameter to be fixed in the graph.
func (Binomial) SupportSize(_ []core.Dim, fixed []*core.Value) (int, bool) {
	if len(fixed) < 2 || fixed[1] == nil {
		return 0, false
	}
	n := fixed[1].Scalar()
	if !isCount(n) {
		return 0, false
	}
	return int(n) + 1, true
}

func (d Binomial) Enumerate(params []core.Value) ([]float64, error) {
	if !d.CheckParamValues(params) {
		return nil, paramError(d.Name(), params)
	}
	return seq(0, int(params[1].Scalar())), nil
}

// Poisson is dpois(lambda).
type Poisson struct{}

func (Poisson) Name() string         { return "dpois" }
func (Poisson) NParams() int         { return 1 }
func (Poisson) Support() SupportKind { return Discrete }
func (Poisson) CanBound() bool       { return false }

func (Poisson) CheckParamDims(dims []core.Dim) bool { return scalarDims(dims, 1) }

func (d Poisson) Dim(dims []core.Dim) (core.Dim, error) { return scalarDim(d.Name(), dims, 1) }

func (Poisson) CheckParamValues(params []core.Value) bool {
	lambda := params[0].Scalar()
	return finite(lambda) && lambda >= 0
}

func (d Poisson) Sample(rng core.RNG, params []core.Value, lower, upper *core.Value) (core.Value, error) {
	if lower != nil || upper != nil {
		return core.Value{}, boundsError(d.Name())
	}
	if !d.CheckParamValues(params) {
		return core.Value{}, paramError(d.Name(), params)
	}
	lambda := params[0].Scalar()
	if lambda == 0 {
		return core.Scalar(0), nil
	}
	p := distuv.Poisson{Lambda: lambda, Src: source(rng)}
	return core.Scalar(p.Rand()), nil
}

func (Poisson) LogDensity(x core.Value, params []core.Value, _, _ *core.Value) float64 {
	lambda := params[0].Scalar()
	k := x.Scalar()
	if !isCount(k) {
		return math.Inf(-1)
	}
	if lambda == 0 {
		if k == 0 {
			return 0
		}
		return math.Inf(-1)
	}
	return distuv.Poisson{Lambda: lambda}.LogProb(k)
}

// Categorical is dcat(p) over {1, ..., len(p)}. The weights need not be
// normalized.
type Categorical struct{}

func (Categorical) Name() string         { return "dcat" }
func (Categorical) NParams() int         { return 1 }
func (Categorical) Support() SupportKind { return Discrete }
func (Categorical) CanBound() bool       { return false }

func (Categorical) CheckParamDims(dims []core.Dim) bool {
	return len(dims) == 1 && dims[0].IsVector()
}

func (d Categorical) Dim(dims []core.Dim) (core.Dim, error) {
	if !d.CheckParamDims(dims) {
		return nil, core.NewLogicError(d.Name()+".Dim", ErrBadParamDims, "expected one weight vector, got %v", dims)
	}
	return core.ScalarDim(), nil
}

func (Categorical) CheckParamValues(params []core.Value) bool {
	w := params[0].Data
	for _, x := range w {
		if x < 0 || !finite(x) {
			return false
		}
	}
	return floats.Sum(w) > 0
}

func (d Categorical) Sample(rng core.RNG, params []core.Value, lower, upper *core.Value) (core.Value, error) {
	if lower != nil || upper != nil {
		return core.Value{}, boundsError(d.Name())
	}
	if !d.CheckParamValues(params) {
		return core.Value{}, paramError(d.Name(), params)
	}
	c := distuv.NewCategorical(params[0].Data, source(rng))
	return core.Scalar(c.Rand() + 1), nil
}

func (Categorical) LogDensity(x core.Value, params []core.Value, _, _ *core.Value) float64 {
	w := params[0].Data
	k := x.Scalar()
	if !isCount(k) || k < 1 || int(k) > len(w) {
		return math.Inf(-1)
	}
	return math.Log(w[int(k)-1]) - math.Log(floats.Sum(w))
}

func (Categorical) SupportSize(dims []core.Dim, _ []*core.Value) (int, bool) {
	if len(dims) != 1 {
		return 0, false
	}
	return dims[0].Len(), true
}

func (Categorical) Enumerate(params []core.Value) ([]float64, error) {
	return seq(1, params[0].Len()), nil
}

var (
	_ Enumerable   = Bernoulli{}
	_ Enumerable   = Binomial{}
	_ Enumerable   = Categorical{}
	_ Distribution = Poisson{}
)
