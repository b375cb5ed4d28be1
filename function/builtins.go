package function

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/petal-labs/petalinfer/core"
)

// elementwise is a function applied element by element with scalar
// broadcasting across operands.
type elementwise struct {
	name    string
	nparams int
	kind    LinearKind
	apply   func(xs []float64) float64
	domain  func(xs []float64) bool // nil accepts everything
}

func (f *elementwise) Name() string          { return f.name }
func (f *elementwise) NParams() int          { return f.nparams }
func (f *elementwise) Linearity() LinearKind { return f.kind }

func (f *elementwise) CheckParamDims(dims []core.Dim) bool {
	if !arityOK(f, len(dims)) {
		return false
	}
	_, ok := broadcastDim(dims)
	return ok
}

func (f *elementwise) Dim(dims []core.Dim) (core.Dim, error) {
	if !arityOK(f, len(dims)) {
		return nil, dimError(f, dims)
	}
	d, ok := broadcastDim(dims)
	if !ok {
		return nil, dimError(f, dims)
	}
	return d, nil
}

func (f *elementwise) CheckParamValues(params []core.Value) bool {
	if f.domain == nil {
		return true
	}
	n := 0
	for _, p := range params {
		n = max(n, p.Len())
	}
	xs := make([]float64, len(params))
	for i := 0; i < n; i++ {
		for j, p := range params {
			xs[j] = p.At(i)
		}
		if !f.domain(xs) {
			return false
		}
	}
	return true
}

func (f *elementwise) Eval(out []float64, params []core.Value) error {
	xs := make([]float64, len(params))
	for i := range out {
		for j, p := range params {
			xs[j] = p.At(i)
		}
		out[i] = f.apply(xs)
	}
	return nil
}

func unary(name string, kind LinearKind, fn func(float64) float64, domain func(float64) bool) *elementwise {
	f := &elementwise{
		name:    name,
		nparams: 1,
		kind:    kind,
		apply:   func(xs []float64) float64 { return fn(xs[0]) },
	}
	if domain != nil {
		f.domain = func(xs []float64) bool { return domain(xs[0]) }
	}
	return f
}

func newAdd() Function {
	return &elementwise{name: "add", nparams: Variadic, kind: Add, apply: floats.Sum}
}

func newSubtract() Function {
	return &elementwise{name: "subtract", nparams: 2, kind: Subtract, apply: func(xs []float64) float64 {
		return xs[0] - xs[1]
	}}
}

func newMultiply() Function {
	return &elementwise{name: "multiply", nparams: Variadic, kind: Multiply, apply: floats.Prod}
}

func newDivide() Function {
	return &elementwise{
		name:    "divide",
		nparams: 2,
		kind:    Divide,
		apply:   func(xs []float64) float64 { return xs[0] / xs[1] },
		domain:  func(xs []float64) bool { return xs[1] != 0 },
	}
}

func newNeg() Function {
	return unary("neg", Negate, func(x float64) float64 { return -x }, nil)
}

func newExp() Function {
	return unary("exp", NotLinear, math.Exp, nil)
}

func newLog() Function {
	return unary("log", NotLinear, math.Log, func(x float64) bool { return x > 0 })
}

func newSqrt() Function {
	return unary("sqrt", NotLinear, math.Sqrt, func(x float64) bool { return x >= 0 })
}

func newILogit() Function {
	return unary("ilogit", NotLinear, func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }, nil)
}

func newLogit() Function {
	return unary("logit", NotLinear, func(p float64) float64 { return math.Log(p / (1 - p)) }, func(p float64) bool {
		return p > 0 && p < 1
	})
}

func newPow() Function {
	return &elementwise{
		name:    "pow",
		nparams: 2,
		kind:    NotLinear,
		apply:   func(xs []float64) float64 { return math.Pow(xs[0], xs[1]) },
		domain: func(xs []float64) bool {
			return xs[0] >= 0 || xs[1] == math.Trunc(xs[1])
		},
	}
}

// sumFn adds every element of its single operand.
type sumFn struct{}

func (sumFn) Name() string          { return "sum" }
func (sumFn) NParams() int          { return 1 }
func (sumFn) Linearity() LinearKind { return Sum }

func (sumFn) CheckParamDims(dims []core.Dim) bool {
	return len(dims) == 1 && dims[0].Len() > 0
}

func (f sumFn) Dim(dims []core.Dim) (core.Dim, error) {
	if !f.CheckParamDims(dims) {
		return nil, dimError(f, dims)
	}
	return core.ScalarDim(), nil
}

func (sumFn) CheckParamValues([]core.Value) bool { return true }

func (sumFn) Eval(out []float64, params []core.Value) error {
	out[0] = floats.Sum(params[0].Data)
	return nil
}

// matMul is the matrix product of a [r k] matrix with a [k] vector or a
// [k c] matrix.
type matMul struct{}

func (matMul) Name() string          { return "matmul" }
func (matMul) NParams() int          { return 2 }
func (matMul) Linearity() LinearKind { return MatMult }

func (matMul) CheckParamDims(dims []core.Dim) bool {
	if len(dims) != 2 || !dims[0].IsMatrix() {
		return false
	}
	right := dims[1]
	if !right.IsVector() && !right.IsMatrix() {
		return false
	}
	return dims[0].Cols() == right.Rows()
}

func (f matMul) Dim(dims []core.Dim) (core.Dim, error) {
	if !f.CheckParamDims(dims) {
		return nil, dimError(f, dims)
	}
	if dims[1].IsVector() {
		return core.Dim{dims[0].Rows()}, nil
	}
	return core.Dim{dims[0].Rows(), dims[1].Cols()}, nil
}

func (matMul) CheckParamValues([]core.Value) bool { return true }

func (matMul) Eval(out []float64, params []core.Value) error {
	left, right := params[0], params[1]
	r, k, c := left.Dim.Rows(), left.Dim.Cols(), right.Dim.Cols()
	a := mat.NewDense(r, k, left.Data)
	b := mat.NewDense(k, c, right.Data)
	mat.NewDense(r, c, out).Mul(a, b)
	return nil
}

func registerBuiltins(r *Registry) {
	r.Register(newAdd())
	r.Register(newSubtract())
	r.Register(newMultiply())
	r.Register(newDivide())
	r.Register(newNeg())
	r.Register(matMul{})
	r.Register(sumFn{})
	r.Register(newExp())
	r.Register(newLog())
	r.Register(newSqrt())
	r.Register(newPow())
	r.Register(newILogit())
	r.Register(newLogit())
}
