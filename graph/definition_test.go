package graph

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/petal-labs/petalinfer/core"
	"github.com/petal-labs/petalinfer/distribution"
	"github.com/petal-labs/petalinfer/function"
)

func findDiag(diags []Diagnostic, code string) *Diagnostic {
	for i := range diags {
		if diags[i].Code == code {
			return &diags[i]
		}
	}
	return nil
}

// chainModel is A ~ N(0, 1); B = 2*A + 1; C ~ N(B, 4) observed at 5.
func chainModel() ModelDefinition {
	return ModelDefinition{
		ID:      "chain",
		Version: "1.0",
		Nodes: []NodeDef{
			{Name: "A", Kind: "stochastic", Dist: "dnorm", Params: []Param{Lit(0), Lit(1)}},
			{Name: "twoA", Kind: "logical", Func: "multiply", Params: []Param{Lit(2), Ref("A")}},
			{Name: "B", Kind: "logical", Func: "add", Params: []Param{Ref("twoA"), Lit(1)}},
			{Name: "C", Kind: "stochastic", Dist: "dnorm", Params: []Param{Ref("B"), Lit(4)}, Observed: []float64{5}},
		},
		Monitor: []string{"B"},
	}
}

func TestModelDefinition_JSONRoundTrip(t *testing.T) {
	md := chainModel()
	md.Metadata = map[string]string{"source": "test"}

	data, err := json.Marshal(md)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got ModelDefinition
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ID != md.ID {
		t.Errorf("ID = %q, want %q", got.ID, md.ID)
	}
	if len(got.Nodes) != 4 {
		t.Fatalf("Nodes count = %d, want 4", len(got.Nodes))
	}
	p := got.Nodes[1].Params
	if !p[0].IsLiteral() || *p[0].Literal != 2 {
		t.Errorf("Nodes[1].Params[0] = %v, want literal 2", p[0])
	}
	if p[1].IsLiteral() || p[1].Ref != "A" {
		t.Errorf("Nodes[1].Params[1] = %v, want ref A", p[1])
	}
	if got.Metadata["source"] != "test" {
		t.Errorf("Metadata[source] = %q", got.Metadata["source"])
	}
}

func TestParam_UnmarshalRejectsObjects(t *testing.T) {
	var p Param
	if err := json.Unmarshal([]byte(`{"x":1}`), &p); err == nil {
		t.Error("expected error for object param")
	}
}

// --- Validate tests ---

func TestValidate_ValidModel(t *testing.T) {
	md := chainModel()
	diags := md.Validate()
	if HasErrors(diags) {
		t.Errorf("expected no errors, got: %v", diags)
	}
	if len(Warnings(diags)) != 0 {
		t.Errorf("expected no warnings, got: %v", Warnings(diags))
	}
}

func TestValidate_Codes(t *testing.T) {
	tests := []struct {
		name  string
		nodes []NodeDef
		mon   []string
		code  string
	}{
		{
			name: "MD-001 duplicate",
			nodes: []NodeDef{
				{Name: "a", Kind: "constant", Value: []float64{1}},
				{Name: "a", Kind: "constant", Value: []float64{2}},
			},
			code: "MD-001",
		},
		{
			name:  "MD-002 unknown reference",
			nodes: []NodeDef{{Name: "x", Kind: "stochastic", Dist: "dnorm", Params: []Param{Ref("mu"), Lit(1)}}},
			code:  "MD-002",
		},
		{
			name: "MD-003 forward reference",
			nodes: []NodeDef{
				{Name: "x", Kind: "stochastic", Dist: "dnorm", Params: []Param{Ref("mu"), Lit(1)}},
				{Name: "mu", Kind: "constant", Value: []float64{0}},
			},
			code: "MD-003",
		},
		{
			name:  "MD-003 self reference",
			nodes: []NodeDef{{Name: "x", Kind: "logical", Func: "neg", Params: []Param{Ref("x")}}},
			code:  "MD-003",
		},
		{
			name:  "MD-004 constant with dist",
			nodes: []NodeDef{{Name: "c", Kind: "constant", Value: []float64{1}, Dist: "dnorm"}},
			code:  "MD-004",
		},
		{
			name:  "MD-004 dim mismatch",
			nodes: []NodeDef{{Name: "c", Kind: "constant", Dim: []int{2, 2}, Value: []float64{1, 2, 3}}},
			code:  "MD-004",
		},
		{
			name:  "MD-004 unknown kind",
			nodes: []NodeDef{{Name: "c", Kind: "deterministic"}},
			code:  "MD-004",
		},
		{
			name:  "MD-007 observed logical",
			nodes: []NodeDef{{Name: "c", Kind: "logical", Func: "neg", Params: []Param{Lit(1)}, Observed: []float64{1}}},
			code:  "MD-007",
		},
		{
			name:  "MD-008 unknown monitor",
			nodes: []NodeDef{{Name: "c", Kind: "constant", Value: []float64{1}}},
			mon:   []string{"ghost"},
			code:  "MD-008",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := ModelDefinition{ID: "t", Version: "1.0", Nodes: tt.nodes, Monitor: tt.mon}
			found := findDiag(md.Validate(), tt.code)
			if found == nil {
				t.Fatalf("expected %s diagnostic", tt.code)
			}
			if found.Severity != SeverityError {
				t.Errorf("%s severity = %q, want %q", tt.code, found.Severity, SeverityError)
			}
		})
	}
}

func TestValidate_NoObservationsWarns(t *testing.T) {
	md := ModelDefinition{
		ID:    "prior",
		Nodes: []NodeDef{{Name: "x", Kind: "stochastic", Dist: "dnorm", Params: []Param{Lit(0), Lit(1)}}},
	}
	diags := md.Validate()
	if HasErrors(diags) {
		t.Fatalf("unexpected errors: %v", diags)
	}
	if w := findDiag(diags, "MD-009"); w == nil || w.Severity != SeverityWarning {
		t.Errorf("expected MD-009 warning, got %v", diags)
	}
}

func TestValidateWithRegistries(t *testing.T) {
	md := ModelDefinition{
		ID: "regs",
		Nodes: []NodeDef{
			{Name: "x", Kind: "stochastic", Dist: "dweibull", Params: []Param{Lit(1), Lit(1)}},
			{Name: "y", Kind: "logical", Func: "cosh", Params: []Param{Ref("x")}},
		},
	}
	diags := md.ValidateWithRegistries(distribution.Builtins(), function.Builtins())
	if findDiag(diags, "MD-005") == nil {
		t.Error("expected MD-005 for unknown distribution")
	}
	if findDiag(diags, "MD-006") == nil {
		t.Error("expected MD-006 for unknown function")
	}
}

// --- Diagnostic helpers tests ---

func TestHasErrors(t *testing.T) {
	tests := []struct {
		name  string
		diags []Diagnostic
		want  bool
	}{
		{"nil", nil, false},
		{"warning only", []Diagnostic{{Severity: SeverityWarning}}, false},
		{"mixed", []Diagnostic{{Severity: SeverityWarning}, {Severity: SeverityError}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasErrors(tt.diags); got != tt.want {
				t.Errorf("HasErrors() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiagnosticError_Message(t *testing.T) {
	one := &DiagnosticError{Diagnostics: []Diagnostic{{Severity: SeverityError, Message: "boom"}}}
	if one.Error() != "validation error: boom" {
		t.Errorf("Error() = %q", one.Error())
	}
	two := &DiagnosticError{Diagnostics: []Diagnostic{
		{Severity: SeverityError, Message: "first"},
		{Severity: SeverityWarning, Message: "meh"},
		{Severity: SeverityError, Message: "second"},
	}}
	if two.Error() != "2 validation errors (first: first)" {
		t.Errorf("Error() = %q", two.Error())
	}
}

// --- Build tests ---

func TestBuild_Chain(t *testing.T) {
	md := chainModel()
	g, err := Build(&md, distribution.Builtins(), function.Builtins())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !g.Frozen() {
		t.Fatal("built graph should be frozen")
	}

	a, _ := g.NodeByName("A")
	c, _ := g.NodeByName("C")
	b, _ := g.NodeByName("B")
	if got := g.LikelihoodChildren(a); len(got) != 1 || got[0] != c {
		t.Errorf("LikelihoodChildren(A) = %v, want [%v]", got, c)
	}
	if v, ok := g.ObservedValue(c); !ok || v.Scalar() != 5 {
		t.Errorf("ObservedValue(C) = %v, %v", v, ok)
	}
	if got := g.SampledNodes(); len(got) != 1 || got[0] != a {
		t.Errorf("SampledNodes() = %v, want [%v]", got, a)
	}

	ids, err := md.MonitorIDs(g)
	if err != nil || len(ids) != 1 || ids[0] != b {
		t.Errorf("MonitorIDs = %v, %v", ids, err)
	}
}

func TestBuild_BoundsAndMatrices(t *testing.T) {
	md := ModelDefinition{
		ID: "bounded",
		Nodes: []NodeDef{
			{Name: "M", Kind: "constant", Dim: []int{2, 2}, Value: []float64{1, 0, 0, 1}},
			{Name: "mu", Kind: "constant", Value: []float64{0, 0}},
			{Name: "x", Kind: "stochastic", Dist: "dmnorm", Params: []Param{Ref("mu"), Ref("M")}},
			{Name: "s", Kind: "stochastic", Dist: "dnorm", Params: []Param{Lit(0), Lit(1)}, Lower: ptr(Lit(0))},
		},
	}
	g, err := Build(&md, distribution.Builtins(), function.Builtins())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	x, _ := g.NodeByName("x")
	if !g.Dim(x).Equal(core.Dim{2}) {
		t.Errorf("Dim(x) = %v, want [2]", g.Dim(x))
	}
	s, _ := g.NodeByName("s")
	sn := g.Stochastic(s)
	if sn == nil || !sn.IsBounded() || !sn.Upper().IsNull() {
		t.Fatalf("s should have a lower bound only")
	}
	if v, ok := g.FixedValue(sn.Lower()); !ok || v.Scalar() != 0 {
		t.Errorf("lower bound value = %v, %v", v, ok)
	}
}

func TestBuild_ReturnsDiagnostics(t *testing.T) {
	md := ModelDefinition{ID: "bad", Nodes: []NodeDef{{Name: "x", Kind: "stochastic", Dist: "nope"}}}
	_, err := Build(&md, distribution.Builtins(), function.Builtins())
	var de *DiagnosticError
	if !errors.As(err, &de) {
		t.Fatalf("expected DiagnosticError, got %v", err)
	}
	if findDiag(de.Diagnostics, "MD-005") == nil {
		t.Errorf("expected MD-005 in %v", de.Diagnostics)
	}
}

func TestBuild_ShapeErrorsAreLogicErrors(t *testing.T) {
	md := ModelDefinition{
		ID: "shape",
		Nodes: []NodeDef{
			{Name: "v", Kind: "constant", Value: []float64{1, 2, 3}},
			{Name: "x", Kind: "stochastic", Dist: "dnorm", Params: []Param{Ref("v"), Lit(1)}},
		},
	}
	_, err := Build(&md, distribution.Builtins(), function.Builtins())
	if !core.IsLogic(err) || !errors.Is(err, ErrShape) {
		t.Fatalf("expected LogicError wrapping ErrShape, got %v", err)
	}
}

func TestBuild_ObservedLengthMismatch(t *testing.T) {
	md := ModelDefinition{
		ID: "obs",
		Nodes: []NodeDef{
			{Name: "x", Kind: "stochastic", Dist: "dnorm", Params: []Param{Lit(0), Lit(1)}, Observed: []float64{1, 2}},
		},
	}
	_, err := Build(&md, distribution.Builtins(), function.Builtins())
	if !core.IsLogic(err) {
		t.Fatalf("expected LogicError, got %v", err)
	}
}

func TestBuild_FreeLikelihood(t *testing.T) {
	md := ModelDefinition{
		ID: "free",
		Nodes: []NodeDef{
			{Name: "y", Kind: "stochastic", Dist: "dnorm", Params: []Param{Lit(0), Lit(1)}, Observed: []float64{0}},
		},
	}
	g, err := Build(&md, distribution.Builtins(), function.Builtins())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	y, _ := g.NodeByName("y")
	if free := g.FreeLikelihood(); len(free) != 1 || free[0] != y {
		t.Errorf("FreeLikelihood() = %v, want [%v]", free, y)
	}
	lp := g.Stochastic(y).Distribution().LogDensity(core.Scalar(0), []core.Value{core.Scalar(0), core.Scalar(1)}, nil, nil)
	if math.IsInf(lp, 0) {
		t.Error("free likelihood density should be finite")
	}
}

func ptr[T any](v T) *T {
	return &v
}
