package distribution

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/petal-labs/petalinfer/core"
)

// univariate is the subset of the gonum distuv API used for plain and
// inverse-CDF truncated sampling.
type univariate interface {
	LogProb(x float64) float64
	Rand() float64
	CDF(x float64) float64
	Quantile(p float64) float64
}

func source(rng core.RNG) rand.Source {
	if rng == nil {
		return nil
	}
	return rng
}

func scalarDim(name string, dims []core.Dim, n int) (core.Dim, error) {
	if !scalarDims(dims, n) {
		return nil, core.NewLogicError(name+".Dim", ErrBadParamDims, "expected %d scalar parameters, got %v", n, dims)
	}
	return core.ScalarDim(), nil
}

// openUniform draws from the open interval (0, 1).
func openUniform(rng core.RNG) float64 {
	return (float64(rng.Uint64()>>11) + 0.5) / (1 << 53)
}

func truncationMass(d univariate, lower, upper *core.Value) (lo, hi float64) {
	lo, hi = 0, 1
	if lower != nil {
		lo = d.CDF(lower.Scalar())
	}
	if upper != nil {
		hi = d.CDF(upper.Scalar())
	}
	return lo, hi
}

func sampleUnivariate(name string, d univariate, rng core.RNG, lower, upper *core.Value) (core.Value, error) {
	if lower == nil && upper == nil {
		return core.Scalar(d.Rand()), nil
	}
	lo, hi := truncationMass(d, lower, upper)
	if !(hi > lo) {
		return core.Value{}, core.NewRuntimeError(core.NullNode, ErrEmptyTruncation, "%s: bounds [%v, %v] carry no mass", name, lower, upper)
	}
	x := d.Quantile(lo + (hi-lo)*openUniform(rng))
	if lower != nil && x < lower.Scalar() {
		x = lower.Scalar()
	}
	if upper != nil && x > upper.Scalar() {
		x = upper.Scalar()
	}
	return core.Scalar(x), nil
}

func logDensityUnivariate(d univariate, x core.Value, lower, upper *core.Value) float64 {
	if x.Len() != 1 {
		return math.Inf(-1)
	}
	v := x.Scalar()
	if (lower != nil && v < lower.Scalar()) || (upper != nil && v > upper.Scalar()) {
		return math.Inf(-1)
	}
	lp := d.LogProb(v)
	if lower == nil && upper == nil {
		return lp
	}
	lo, hi := truncationMass(d, lower, upper)
	return lp - math.Log(hi-lo)
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Normal is dnorm(mean, precision).
type Normal struct{}

func (Normal) Name() string         { return "dnorm" }
func (Normal) NParams() int         { return 2 }
func (Normal) Support() SupportKind { return Continuous }
func (Normal) CanBound() bool       { return true }

func (Normal) CheckParamDims(dims []core.Dim) bool { return scalarDims(dims, 2) }

func (d Normal) Dim(dims []core.Dim) (core.Dim, error) { return scalarDim(d.Name(), dims, 2) }

func (Normal) CheckParamValues(params []core.Value) bool {
	mean, prec := params[0].Scalar(), params[1].Scalar()
	return finite(mean, prec) && prec > 0
}

// Dist returns the gonum distribution for mean and precision.
func (Normal) Dist(mean, precision float64, rng core.RNG) distuv.Normal {
	return distuv.Normal{Mu: mean, Sigma: 1 / math.Sqrt(precision), Src: source(rng)}
}

func (d Normal) Sample(rng core.RNG, params []core.Value, lower, upper *core.Value) (core.Value, error) {
	if !d.CheckParamValues(params) {
		return core.Value{}, paramError(d.Name(), params)
	}
	return sampleUnivariate(d.Name(), d.Dist(params[0].Scalar(), params[1].Scalar(), rng), rng, lower, upper)
}

func (d Normal) LogDensity(x core.Value, params []core.Value, lower, upper *core.Value) float64 {
	return logDensityUnivariate(d.Dist(params[0].Scalar(), params[1].Scalar(), nil), x, lower, upper)
}

// Beta is dbeta(a, b).
type Beta struct{}

func (Beta) Name() string         { return "dbeta" }
func (Beta) NParams() int         { return 2 }
func (Beta) Support() SupportKind { return Continuous }
func (Beta) CanBound() bool       { return true }

func (Beta) CheckParamDims(dims []core.Dim) bool { return scalarDims(dims, 2) }

func (d Beta) Dim(dims []core.Dim) (core.Dim, error) { return scalarDim(d.Name(), dims, 2) }

func (Beta) CheckParamValues(params []core.Value) bool {
	a, b := params[0].Scalar(), params[1].Scalar()
	return finite(a, b) && a > 0 && b > 0
}

// Dist returns the gonum distribution for shape parameters a and b.
func (Beta) Dist(a, b float64, rng core.RNG) distuv.Beta {
	return distuv.Beta{Alpha: a, Beta: b, Src: source(rng)}
}

func (d Beta) Sample(rng core.RNG, params []core.Value, lower, upper *core.Value) (core.Value, error) {
	if !d.CheckParamValues(params) {
		return core.Value{}, paramError(d.Name(), params)
	}
	return sampleUnivariate(d.Name(), d.Dist(params[0].Scalar(), params[1].Scalar(), rng), rng, lower, upper)
}

func (d Beta) LogDensity(x core.Value, params []core.Value, lower, upper *core.Value) float64 {
	if x.Len() != 1 || x.Scalar() < 0 || x.Scalar() > 1 {
		return math.Inf(-1)
	}
	return logDensityUnivariate(d.Dist(params[0].Scalar(), params[1].Scalar(), nil), x, lower, upper)
}

// Gamma is dgamma(shape, rate).
type Gamma struct{}

func (Gamma) Name() string         { return "dgamma" }
func (Gamma) NParams() int         { return 2 }
func (Gamma) Support() SupportKind { return Continuous }
func (Gamma) CanBound() bool       { return true }

func (Gamma) CheckParamDims(dims []core.Dim) bool { return scalarDims(dims, 2) }

func (d Gamma) Dim(dims []core.Dim) (core.Dim, error) { return scalarDim(d.Name(), dims, 2) }

func (Gamma) CheckParamValues(params []core.Value) bool {
	shape, rate := params[0].Scalar(), params[1].Scalar()
	return finite(shape, rate) && shape > 0 && rate > 0
}

// Dist returns the gonum distribution for shape and rate.
func (Gamma) Dist(shape, rate float64, rng core.RNG) distuv.Gamma {
	return distuv.Gamma{Alpha: shape, Beta: rate, Src: source(rng)}
}

func (d Gamma) Sample(rng core.RNG, params []core.Value, lower, upper *core.Value) (core.Value, error) {
	if !d.CheckParamValues(params) {
		return core.Value{}, paramError(d.Name(), params)
	}
	return sampleUnivariate(d.Name(), d.Dist(params[0].Scalar(), params[1].Scalar(), rng), rng, lower, upper)
}

func (d Gamma) LogDensity(x core.Value, params []core.Value, lower, upper *core.Value) float64 {
	if x.Len() != 1 || x.Scalar() < 0 {
		return math.Inf(-1)
	}
	return logDensityUnivariate(d.Dist(params[0].Scalar(), params[1].Scalar(), nil), x, lower, upper)
}

// Exponential is dexp(rate).
type Exponential struct{}

func (Exponential) Name() string         { return "dexp" }
func (Exponential) NParams() int         { return 1 }
func (Exponential) Support() SupportKind { return Continuous }
func (Exponential) CanBound() bool       { return true }

func (Exponential) CheckParamDims(dims []core.Dim) bool { return scalarDims(dims, 1) }

func (d Exponential) Dim(dims []core.Dim) (core.Dim, error) { return scalarDim(d.Name(), dims, 1) }

func (Exponential) CheckParamValues(params []core.Value) bool {
	rate := params[0].Scalar()
	return finite(rate) && rate > 0
}

func (Exponential) dist(rate float64, rng core.RNG) distuv.Exponential {
	return distuv.Exponential{Rate: rate, Src: source(rng)}
}

func (d Exponential) Sample(rng core.RNG, params []core.Value, lower, upper *core.Value) (core.Value, error) {
	if !d.CheckParamValues(params) {
		return core.Value{}, paramError(d.Name(), params)
	}
	return sampleUnivariate(d.Name(), d.dist(params[0].Scalar(), rng), rng, lower, upper)
}

func (d Exponential) LogDensity(x core.Value, params []core.Value, lower, upper *core.Value) float64 {
	if x.Len() != 1 || x.Scalar() < 0 {
		return math.Inf(-1)
	}
	return logDensityUnivariate(d.dist(params[0].Scalar(), nil), x, lower, upper)
}

// Uniform is dunif(lower, upper).
type Uniform struct{}

func (Uniform) Name() string         { return "dunif" }
func (Uniform) NParams() int         { return 2 }
func (Uniform) Support() SupportKind { return Continuous }
func (Uniform) CanBound() bool       { return true }

func (Uniform) CheckParamDims(dims []core.Dim) bool { return scalarDims(dims, 2) }

func (d Uniform) Dim(dims []core.Dim) (core.Dim, error) { return scalarDim(d.Name(), dims, 2) }

func (Uniform) CheckParamValues(params []core.Value) bool {
	lo, hi := params[0].Scalar(), params[1].Scalar()
	return finite(lo, hi) && lo < hi
}

func (Uniform) dist(lo, hi float64, rng core.RNG) distuv.Uniform {
	return distuv.Uniform{Min: lo, Max: hi, Src: source(rng)}
}

func (d Uniform) Sample(rng core.RNG, params []core.Value, lower, upper *core.Value) (core.Value, error) {
	if !d.CheckParamValues(params) {
		return core.Value{}, paramError(d.Name(), params)
	}
	return sampleUnivariate(d.Name(), d.dist(params[0].Scalar(), params[1].Scalar(), rng), rng, lower, upper)
}

func (d Uniform) LogDensity(x core.Value, params []core.Value, lower, upper *core.Value) float64 {
	lo, hi := params[0].Scalar(), params[1].Scalar()
	if x.Len() != 1 || x.Scalar() < lo || x.Scalar() > hi {
		return math.Inf(-1)
	}
	return logDensityUnivariate(d.dist(lo, hi, nil), x, lower, upper)
}

var (
	_ Distribution = Normal{}
	_ Distribution = Beta{}
	_ Distribution = Gamma{}
	_ Distribution = Exponential{}
	_ Distribution = Uniform{}
)
