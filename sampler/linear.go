package sampler

import (
	"gonum.org/v1/gonum/mat"

	"github.com/petal-labs/petalinfer/core"
	"github.com/petal-labs/petalinfer/function"
	"github.com/petal-labs/petalinfer/graph"
	"github.com/petal-labs/petalinfer/particle"
)

// linearity is a structural visitor deciding whether a node is an affine
// (or, in scale mode, linear without offset) function of src through
// deterministic nodes.
type linearity struct {
	g     *graph.Graph
	src   core.NodeID
	scale bool

	dependent bool
	linear    bool
}

func (v *linearity) VisitConstant(core.NodeID, *graph.ConstantNode) error {
	v.dependent, v.linear = false, true
	return nil
}

func (v *linearity) VisitStochastic(id core.NodeID, _ *graph.StochasticNode) error {
	// Only src itself counts; other stochastic nodes are fixed operands.
	v.dependent, v.linear = id == v.src, true
	return nil
}

func (v *linearity) VisitLogical(id core.NodeID, n *graph.LogicalNode) error {
	args := n.Args()
	var dep []int
	for i, a := range args {
		if v.g.DependsOnThrough(v.src, a) {
			dep = append(dep, i)
		}
	}
	v.dependent = len(dep) > 0
	if !v.dependent {
		v.linear = true
		return nil
	}

	v.linear = false
	switch n.Function().Linearity() {
	case function.Add, function.Subtract:
		if v.scale && len(dep) != len(args) {
			return nil // a fixed offset breaks pure scaling
		}
	case function.Negate, function.Sum:
	case function.Multiply, function.MatMult:
		if len(dep) != 1 {
			return nil
		}
	case function.Divide:
		if len(dep) != 1 || dep[0] != 0 {
			return nil
		}
		// A known zero divisor has no affine form.
		if d, ok := v.g.FixedValue(args[1]); ok && hasZero(d) {
			return nil
		}
	default:
		return nil
	}

	for _, i := range dep {
		sub := &linearity{g: v.g, src: v.src, scale: v.scale}
		if err := v.g.Visit(args[i], sub); err != nil {
			return err
		}
		if !sub.linear {
			return nil
		}
	}
	v.linear = true
	return nil
}

func hasZero(v core.Value) bool {
	for _, x := range v.Data {
		if x == 0 {
			return true
		}
	}
	return false
}

// IsLinear reports whether expr is an affine function of src through
// deterministic nodes. A node that does not depend on src is trivially
// affine (a constant).
func IsLinear(g *graph.Graph, src, expr core.NodeID) bool {
	v := &linearity{g: g, src: src}
	if err := g.Visit(expr, v); err != nil {
		return false
	}
	return v.linear
}

// IsScale reports whether expr is a linear function of src with no
// additive offset, e.g. 3*x or x/2 but not x+1.
func IsScale(g *graph.Graph, src, expr core.NodeID) bool {
	v := &linearity{g: g, src: src, scale: true}
	if err := g.Visit(expr, v); err != nil {
		return false
	}
	return v.linear && v.dependent
}

// affine is expr = A*x + b with x the flattened value of src. A has one row
// per element of expr.
type affine struct {
	a *mat.Dense
	b []float64
}

func (f affine) rows() int { return len(f.b) }

// broadcast stretches a single-element transform to m rows.
func (f affine) broadcast(m int) affine {
	if f.rows() == m || f.rows() != 1 {
		return f
	}
	_, n := f.a.Dims()
	out := affine{a: mat.NewDense(m, n, nil), b: make([]float64, m)}
	row := f.a.RawRowView(0)
	for i := 0; i < m; i++ {
		out.a.SetRow(i, row)
		out.b[i] = f.b[0]
	}
	return out
}

// transformer computes the coefficients of an affine relationship. It
// reads the values of operands that do not depend on src from the particle
// or, for fixed nodes, from the graph.
type transformer struct {
	g   *graph.Graph
	p   *particle.Particle
	src core.NodeID
	n   int

	out    affine
	linear bool
}

func (t *transformer) fixed(id core.NodeID) error {
	v, ok := t.p.Value(id)
	if !ok {
		v, ok = t.g.FixedValue(id)
	}
	if !ok {
		return core.NewRuntimeError(id, ErrValueUnavailable, "value of %s is needed for the linear transform", t.g.Label(id))
	}
	t.out = affine{a: mat.NewDense(v.Len(), t.n, nil), b: append([]float64(nil), v.Data...)}
	t.linear = true
	return nil
}

func (t *transformer) VisitConstant(id core.NodeID, _ *graph.ConstantNode) error {
	return t.fixed(id)
}

func (t *transformer) VisitStochastic(id core.NodeID, _ *graph.StochasticNode) error {
	if id != t.src {
		return t.fixed(id)
	}
	id0 := mat.NewDense(t.n, t.n, nil)
	for i := 0; i < t.n; i++ {
		id0.Set(i, i, 1)
	}
	t.out = affine{a: id0, b: make([]float64, t.n)}
	t.linear = true
	return nil
}

func (t *transformer) sub(id core.NodeID) (affine, bool, error) {
	s := &transformer{g: t.g, p: t.p, src: t.src, n: t.n}
	if err := t.g.Visit(id, s); err != nil {
		return affine{}, false, err
	}
	return s.out, s.linear, nil
}

func (t *transformer) VisitLogical(id core.NodeID, n *graph.LogicalNode) error {
	args := n.Args()
	dep := make([]bool, len(args))
	count := 0
	for i, a := range args {
		dep[i] = t.g.DependsOnThrough(t.src, a)
		if dep[i] {
			count++
		}
	}
	if count == 0 {
		return t.fixed(id)
	}

	t.linear = false
	m := t.g.Dim(id).Len()
	parts := make([]affine, len(args))
	for i, a := range args {
		f, ok, err := t.sub(a)
		if err != nil || !ok {
			return err
		}
		parts[i] = f
	}

	switch n.Function().Linearity() {
	case function.Add:
		out := zeroAffine(m, t.n)
		for _, f := range parts {
			addInto(out, f.broadcast(m), 1)
		}
		t.out = out

	case function.Subtract:
		out := zeroAffine(m, t.n)
		addInto(out, parts[0].broadcast(m), 1)
		addInto(out, parts[1].broadcast(m), -1)
		t.out = out

	case function.Negate:
		out := zeroAffine(m, t.n)
		addInto(out, parts[0].broadcast(m), -1)
		t.out = out

	case function.Sum:
		out := zeroAffine(1, t.n)
		f := parts[0]
		for i := 0; i < f.rows(); i++ {
			addRow(out, 0, f, i, 1)
		}
		t.out = out

	case function.Multiply:
		if count != 1 {
			return nil
		}
		scale := make([]float64, m)
		for i := range scale {
			scale[i] = 1
		}
		var lin affine
		for i, f := range parts {
			if dep[i] {
				lin = f.broadcast(m)
				continue
			}
			for r := range scale {
				scale[r] *= f.b[min(r, f.rows()-1)]
			}
		}
		t.out = scaleRows(lin, scale)

	case function.Divide:
		if !dep[0] || dep[1] {
			return nil
		}
		den := parts[1]
		scale := make([]float64, m)
		for r := range scale {
			d := den.b[min(r, den.rows()-1)]
			if d == 0 {
				return nil
			}
			scale[r] = 1 / d
		}
		t.out = scaleRows(parts[0].broadcast(m), scale)

	case function.MatMult:
		if count != 1 {
			return nil
		}
		ld, rd := t.g.Dim(args[0]), t.g.Dim(args[1])
		r, k, c := ld.Rows(), ld.Cols(), rd.Cols()
		out := zeroAffine(r*c, t.n)
		left, right := parts[0], parts[1]
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				row := i*c + j
				for l := 0; l < k; l++ {
					if dep[0] {
						addRow(out, row, left, i*k+l, right.b[l*c+j])
					} else {
						addRow(out, row, right, l*c+j, left.b[i*k+l])
					}
				}
			}
		}
		t.out = out

	default:
		return nil
	}
	t.linear = true
	return nil
}

func zeroAffine(m, n int) affine {
	return affine{a: mat.NewDense(m, n, nil), b: make([]float64, m)}
}

// addInto adds c*f to out row by row.
func addInto(out affine, f affine, c float64) {
	for i := range out.b {
		addRow(out, i, f, i, c)
	}
}

// addRow adds c times row j of f to row i of out.
func addRow(out affine, i int, f affine, j int, c float64) {
	_, n := out.a.Dims()
	for col := 0; col < n; col++ {
		out.a.Set(i, col, out.a.At(i, col)+c*f.a.At(j, col))
	}
	out.b[i] += c * f.b[j]
}

func scaleRows(f affine, scale []float64) affine {
	m := len(scale)
	_, n := f.a.Dims()
	out := zeroAffine(m, n)
	for i := 0; i < m; i++ {
		addRow(out, i, f, min(i, f.rows()-1), scale[i])
	}
	return out
}

// GetMLinearTransform returns A and b with expr = A*x + b, x being the
// value of src flattened row-major. ok is false when the relationship is
// not affine, including division by a zero constant. Operands that do not
// depend on src must have values in p or be fixed in the graph.
func GetMLinearTransform(g *graph.Graph, p *particle.Particle, src, expr core.NodeID) (*mat.Dense, *mat.VecDense, bool, error) {
	if !IsLinear(g, src, expr) {
		return nil, nil, false, nil
	}
	t := &transformer{g: g, p: p, src: src, n: g.Dim(src).Len()}
	if err := g.Visit(expr, t); err != nil {
		return nil, nil, false, err
	}
	if !t.linear {
		return nil, nil, false, nil
	}
	return t.out.a, mat.NewVecDense(len(t.out.b), t.out.b), true, nil
}

// GetLinearTransform is GetMLinearTransform for scalar src and expr:
// expr = a*src + b.
func GetLinearTransform(g *graph.Graph, p *particle.Particle, src, expr core.NodeID) (a, b float64, ok bool, err error) {
	if !g.Dim(src).IsScalar() || !g.Dim(expr).IsScalar() {
		return 0, 0, false, nil
	}
	am, bv, ok, err := GetMLinearTransform(g, p, src, expr)
	if err != nil || !ok {
		return 0, 0, ok, err
	}
	return am.At(0, 0), bv.AtVec(0), true, nil
}
