// Package function defines the deterministic function capability consumed by
// logical nodes, a registry of named functions, and the built-in arithmetic
// and link functions.
//
// Functions are pure: Eval writes into a caller-owned buffer and never
// retains its arguments.
package function

import (
	"errors"

	"github.com/petal-labs/petalinfer/core"
)

// Function errors
var (
	ErrBadParamDims   = errors.New("invalid parameter dimensions")
	ErrBadParamValues = errors.New("invalid parameter values")
)

// Variadic is returned by NParams for functions accepting any positive
// number of parameters.
const Variadic = -1

// LinearKind classifies a function for affine-relationship detection.
type LinearKind int

const (
	NotLinear LinearKind = iota
	Add                  // sum of operands, scalars broadcast
	Subtract             // first minus second
	Multiply             // elementwise product, scalars broadcast
	Divide               // first over second
	Negate               // unary minus
	MatMult              // matrix product
	Sum                  // sum of all elements
)

// String returns the string representation of the LinearKind.
func (k LinearKind) String() string {
	switch k {
	case NotLinear:
		return "not_linear"
	case Add:
		return "add"
	case Subtract:
		return "subtract"
	case Multiply:
		return "multiply"
	case Divide:
		return "divide"
	case Negate:
		return "negate"
	case MatMult:
		return "matmult"
	case Sum:
		return "sum"
	default:
		return "unknown"
	}
}

// Function is the capability a logical node wraps.
type Function interface {
	// Name returns the registry name, e.g. "add".
	Name() string

	// NParams returns the number of parameters, or Variadic.
	NParams() int

	// CheckParamDims reports whether the parameter shapes are acceptable.
	CheckParamDims(dims []core.Dim) bool

	// Dim returns the output shape given the parameter shapes.
	Dim(paramDims []core.Dim) (core.Dim, error)

	// CheckParamValues reports whether the parameter values lie in the
	// function's domain.
	CheckParamValues(params []core.Value) bool

	// Eval writes the result into out, which has the length of Dim.
	Eval(out []float64, params []core.Value) error

	// Linearity classifies the function for affine detection.
	Linearity() LinearKind
}

// Evaluate checks the parameter values and evaluates fn into a new value of
// shape dim.
func Evaluate(fn Function, dim core.Dim, params []core.Value) (core.Value, error) {
	if !fn.CheckParamValues(params) {
		return core.Value{}, core.NewRuntimeError(core.NullNode, ErrBadParamValues, "%s: parameter values %v out of domain", fn.Name(), params)
	}
	out := core.NewValue(dim)
	if err := fn.Eval(out.Data, params); err != nil {
		return core.Value{}, err
	}
	return out, nil
}

func arityOK(fn Function, n int) bool {
	if fn.NParams() == Variadic {
		return n > 0
	}
	return n == fn.NParams()
}

func dimError(fn Function, dims []core.Dim) error {
	return core.NewLogicError(fn.Name()+".Dim", ErrBadParamDims, "incompatible parameter dimensions %v", dims)
}

// broadcastDim returns the common shape of operands where scalars stretch to
// any shape. ok is false when two non-scalar shapes differ.
func broadcastDim(dims []core.Dim) (core.Dim, bool) {
	out := core.ScalarDim()
	for _, d := range dims {
		if d.Len() == 0 {
			return nil, false
		}
		if d.IsScalar() {
			continue
		}
		if out.IsScalar() {
			out = d
			continue
		}
		if !out.Equal(d) {
			return nil, false
		}
	}
	return out.Clone(), true
}
