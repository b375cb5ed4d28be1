// Package distribution defines the probability distribution capability
// consumed by stochastic nodes, a registry of named distributions, and a set
// of built-in distributions backed by gonum.
//
// Distributions are pure and stateless: every method is a function of its
// arguments, so one instance is shared by all nodes and all particles.
package distribution

import (
	"errors"

	"github.com/petal-labs/petalinfer/core"
)

// Distribution errors
var (
	ErrBadParamDims    = errors.New("invalid parameter dimensions")
	ErrBadParamValues  = errors.New("invalid parameter values")
	ErrNotBoundable    = errors.New("distribution cannot be truncated")
	ErrEmptyTruncation = errors.New("truncation interval has zero probability")
)

// SupportKind classifies the values a distribution produces.
type SupportKind int

const (
	// Continuous distributions have densities with respect to Lebesgue measure.
	Continuous SupportKind = iota
	// Discrete distributions take integer values and have mass functions.
	Discrete
)

// String returns the string representation of the SupportKind.
func (k SupportKind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Discrete:
		return "discrete"
	default:
		return "unknown"
	}
}

// Distribution is the capability a stochastic node wraps.
//
// Parameters arrive in declaration order. Bounds are optional scalar
// truncation limits; nil means unbounded on that side.
type Distribution interface {
	// Name returns the registry name, e.g. "dnorm".
	Name() string

	// NParams returns the number of parameters.
	NParams() int

	// Support returns the support classification used by sampler matching.
	Support() SupportKind

	// CanBound reports whether the distribution accepts truncation bounds.
	CanBound() bool

	// CheckParamDims reports whether the parameter shapes are acceptable.
	CheckParamDims(dims []core.Dim) bool

	// Dim returns the shape of a sample given the parameter shapes.
	Dim(paramDims []core.Dim) (core.Dim, error)

	// CheckParamValues reports whether the parameter values lie in the
	// parameter domain.
	CheckParamValues(params []core.Value) bool

	// Sample draws one value.
	Sample(rng core.RNG, params []core.Value, lower, upper *core.Value) (core.Value, error)

	// LogDensity evaluates the (truncated, normalized) log density at x.
	// Values outside the support yield -Inf.
	LogDensity(x core.Value, params []core.Value, lower, upper *core.Value) float64
}

// Enumerable is implemented by discrete distributions whose support is
// finite and can be listed from the parameters.
type Enumerable interface {
	Distribution

	// SupportSize returns an upper bound on the support size knowable before
	// sampling. fixed holds the values of parameters that are constant in the
	// graph, nil otherwise. ok is false when no finite bound is known.
	SupportSize(paramDims []core.Dim, fixed []*core.Value) (size int, ok bool)

	// Enumerate lists the support for the given parameter values.
	Enumerate(params []core.Value) ([]float64, error)
}

func paramError(name string, params []core.Value) error {
	return core.NewRuntimeError(core.NullNode, ErrBadParamValues, "%s: parameter values %v out of domain", name, params)
}

func scalarDims(dims []core.Dim, n int) bool {
	if len(dims) != n {
		return false
	}
	for _, d := range dims {
		if !d.IsScalar() {
			return false
		}
	}
	return true
}

func scalars(params []core.Value) []float64 {
	out := make([]float64, len(params))
	for i, p := range params {
		out[i] = p.Scalar()
	}
	return out
}
