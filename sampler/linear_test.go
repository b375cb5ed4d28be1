package sampler_test

import (
	"testing"

	"github.com/petal-labs/petalinfer/core"
	"github.com/petal-labs/petalinfer/graph"
	"github.com/petal-labs/petalinfer/particle"
	"github.com/petal-labs/petalinfer/sampler"
)

func linearModel(t *testing.T) *graph.Graph {
	return build(t,
		graph.NodeDef{Name: "x", Kind: "stochastic", Dist: "dnorm", Params: []graph.Param{lit(0), lit(1)}},
		graph.NodeDef{Name: "c", Kind: "stochastic", Dist: "dnorm", Params: []graph.Param{lit(0), lit(1)}},
		graph.NodeDef{Name: "zero", Kind: "constant", Value: []float64{0}},
		graph.NodeDef{Name: "three_x", Kind: "logical", Func: "multiply", Params: []graph.Param{lit(3), ref("x")}},
		graph.NodeDef{Name: "affine", Kind: "logical", Func: "add", Params: []graph.Param{ref("three_x"), lit(2)}},
		graph.NodeDef{Name: "shifted", Kind: "logical", Func: "subtract", Params: []graph.Param{ref("c"), ref("affine")}},
		graph.NodeDef{Name: "halved", Kind: "logical", Func: "divide", Params: []graph.Param{ref("shifted"), lit(2)}},
		graph.NodeDef{Name: "negated", Kind: "logical", Func: "neg", Params: []graph.Param{ref("halved")}},
		graph.NodeDef{Name: "square", Kind: "logical", Func: "multiply", Params: []graph.Param{ref("x"), ref("three_x")}},
		graph.NodeDef{Name: "by_zero", Kind: "logical", Func: "divide", Params: []graph.Param{ref("x"), ref("zero")}},
		graph.NodeDef{Name: "inverse", Kind: "logical", Func: "divide", Params: []graph.Param{lit(1), ref("x")}},
		graph.NodeDef{Name: "expx", Kind: "logical", Func: "exp", Params: []graph.Param{ref("x")}},
	)
}

func TestIsLinear(t *testing.T) {
	g := linearModel(t)
	x := node(t, g, "x")
	tests := []struct {
		expr   string
		linear bool
		scale  bool
	}{
		{"x", true, true},
		{"three_x", true, true},
		{"affine", true, false},
		{"shifted", true, false},
		{"negated", true, false},
		{"square", false, false},
		{"by_zero", false, false},
		{"inverse", false, false},
		{"expx", false, false},
		{"c", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			id := node(t, g, tt.expr)
			if got := sampler.IsLinear(g, x, id); got != tt.linear {
				t.Errorf("IsLinear = %v, want %v", got, tt.linear)
			}
			if got := sampler.IsScale(g, x, id); got != tt.scale {
				t.Errorf("IsScale = %v, want %v", got, tt.scale)
			}
		})
	}
}

func TestGetLinearTransform_RoundTrip(t *testing.T) {
	g := linearModel(t)
	x, c := node(t, g, "x"), node(t, g, "c")
	negated := node(t, g, "negated")

	for i, v := range []float64{-2.5, -0.3, 0, 1.7, 42} {
		p := particle.New(g.Len())
		p.SetValue(c, core.Scalar(0.75))

		a, b, ok, err := sampler.GetLinearTransform(g, p, x, negated)
		if err != nil || !ok {
			t.Fatalf("value %d: ok=%v err=%v", i, ok, err)
		}

		p.SetValue(x, core.Scalar(v))
		if err := sampler.Ensure(g, p, []core.NodeID{negated}, nil); err != nil {
			t.Fatalf("Ensure: %v", err)
		}
		got, _ := p.Value(negated)
		// negated = -((c - (3x + 2)) / 2)
		if want := a*v + b; !near(got.Scalar(), want) {
			t.Errorf("x=%v: evaluated %v, transform gives %v", v, got.Scalar(), want)
		}
		if !near(a, 1.5) || !near(b, 1-0.375) {
			t.Errorf("x=%v: transform (%v, %v), want (1.5, 0.625)", v, a, b)
		}
	}
}

func TestGetLinearTransform_Rejects(t *testing.T) {
	g := linearModel(t)
	x := node(t, g, "x")
	p := particle.New(g.Len())

	for _, name := range []string{"square", "by_zero", "inverse"} {
		_, _, ok, err := sampler.GetLinearTransform(g, p, x, node(t, g, name))
		if err != nil {
			t.Errorf("%s: unexpected error %v", name, err)
		}
		if ok {
			t.Errorf("%s: reported as linear", name)
		}
	}
}

func TestGetMLinearTransform_MatMult(t *testing.T) {
	g := build(t,
		graph.NodeDef{Name: "m", Kind: "constant", Value: []float64{0, 0}},
		graph.NodeDef{Name: "P", Kind: "constant", Dim: []int{2, 2}, Value: []float64{1, 0, 0, 1}},
		graph.NodeDef{Name: "x", Kind: "stochastic", Dist: "dmnorm", Params: []graph.Param{ref("m"), ref("P")}},
		graph.NodeDef{Name: "M", Kind: "constant", Dim: []int{3, 2}, Value: []float64{1, 2, 3, 4, 5, 6}},
		graph.NodeDef{Name: "off", Kind: "constant", Value: []float64{1, 1, 1}},
		graph.NodeDef{Name: "Mx", Kind: "logical", Func: "matmul", Params: []graph.Param{ref("M"), ref("x")}},
		graph.NodeDef{Name: "y", Kind: "logical", Func: "add", Params: []graph.Param{ref("Mx"), ref("off")}},
	)
	x, y := node(t, g, "x"), node(t, g, "y")
	p := particle.New(g.Len())

	a, b, ok, err := sampler.GetMLinearTransform(g, p, x, y)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if r, c := a.Dims(); r != 3 || c != 2 {
		t.Fatalf("A is %dx%d, want 3x2", r, c)
	}
	want := []float64{1, 2, 3, 4, 5, 6}
	for i := 0; i < 3; i++ {
		for j := 0; j < 2; j++ {
			if a.At(i, j) != want[i*2+j] {
				t.Errorf("A[%d][%d] = %v, want %v", i, j, a.At(i, j), want[i*2+j])
			}
		}
		if b.AtVec(i) != 1 {
			t.Errorf("b[%d] = %v, want 1", i, b.AtVec(i))
		}
	}

	p.SetValue(x, core.Vector(0.5, -1))
	if err := sampler.Ensure(g, p, []core.NodeID{y}, nil); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	got, _ := p.Value(y)
	for i, w := range []float64{1 + 0.5 - 2, 1 + 1.5 - 4, 1 + 2.5 - 6} {
		if !near(got.Data[i], w) {
			t.Errorf("y[%d] = %v, want %v", i, got.Data[i], w)
		}
	}
}
