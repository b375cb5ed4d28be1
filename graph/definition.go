package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/petal-labs/petalinfer/core"
	"github.com/petal-labs/petalinfer/distribution"
	"github.com/petal-labs/petalinfer/function"
)

// Diagnostic represents a validation error or warning produced by model
// definition validation.
type Diagnostic struct {
	Code     string `json:"code"`           // e.g. "MD-001"
	Severity string `json:"severity"`       // "error" or "warning"
	Message  string `json:"message"`        // human-readable description
	Path     string `json:"path,omitempty"` // JSON path to offending field
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// HasErrors returns true if any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var errs []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Warnings returns only the warning-severity diagnostics.
func Warnings(diags []Diagnostic) []Diagnostic {
	var warns []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityWarning {
			warns = append(warns, d)
		}
	}
	return warns
}

// DiagnosticError wraps validation diagnostics as an error.
type DiagnosticError struct {
	Diagnostics []Diagnostic
}

func (e *DiagnosticError) Error() string {
	errs := Errors(e.Diagnostics)
	if len(errs) == 0 {
		return "validation failed"
	}
	if len(errs) == 1 {
		return fmt.Sprintf("validation error: %s", errs[0].Message)
	}
	return fmt.Sprintf("%d validation errors (first: %s)", len(errs), errs[0].Message)
}

// ModelDefinition is the serializable description of a graph. Loading a
// YAML or JSON model produces this type; Build replays it into a Graph.
type ModelDefinition struct {
	ID       string            `json:"id"`
	Version  string            `json:"version"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Nodes    []NodeDef         `json:"nodes"`
	Monitor  []string          `json:"monitor,omitempty"`
}

// NodeDef is a serializable node within a ModelDefinition. Nodes may only
// reference nodes defined before them.
type NodeDef struct {
	Name     string    `json:"name"`
	Kind     string    `json:"kind"`
	Dim      []int     `json:"dim,omitempty"`
	Value    []float64 `json:"value,omitempty"`
	Func     string    `json:"func,omitempty"`
	Dist     string    `json:"dist,omitempty"`
	Params   []Param   `json:"params,omitempty"`
	Lower    *Param    `json:"lower,omitempty"`
	Upper    *Param    `json:"upper,omitempty"`
	Observed []float64 `json:"observed,omitempty"`
}

// Param is a node parameter: either the name of an earlier node or a scalar
// literal, which becomes an anonymous constant.
type Param struct {
	Ref     string
	Literal *float64
}

// Ref returns a parameter referencing a named node.
func Ref(name string) Param {
	return Param{Ref: name}
}

// Lit returns a scalar literal parameter.
func Lit(x float64) Param {
	return Param{Literal: &x}
}

// IsLiteral reports whether the parameter is a literal.
func (p Param) IsLiteral() bool {
	return p.Literal != nil
}

func (p Param) String() string {
	if p.Literal != nil {
		return strconv.FormatFloat(*p.Literal, 'g', -1, 64)
	}
	return p.Ref
}

// MarshalJSON encodes literals as numbers and references as strings.
func (p Param) MarshalJSON() ([]byte, error) {
	if p.Literal != nil {
		return json.Marshal(*p.Literal)
	}
	return json.Marshal(p.Ref)
}

// UnmarshalJSON accepts a number or a node name.
func (p *Param) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		p.Literal = nil
		return json.Unmarshal(data, &p.Ref)
	}
	var x float64
	if err := json.Unmarshal(data, &x); err != nil {
		return fmt.Errorf("param must be a node name or a number: %w", err)
	}
	p.Ref, p.Literal = "", &x
	return nil
}

// refs lists every parameter of a node, including bounds, with the JSON
// path of each.
func (nd NodeDef) refs(prefix string) ([]Param, []string) {
	params := append([]Param(nil), nd.Params...)
	paths := make([]string, 0, len(params)+2)
	for j := range nd.Params {
		paths = append(paths, fmt.Sprintf("%s.params[%d]", prefix, j))
	}
	if nd.Lower != nil {
		params = append(params, *nd.Lower)
		paths = append(paths, prefix+".lower")
	}
	if nd.Upper != nil {
		params = append(params, *nd.Upper)
		paths = append(paths, prefix+".upper")
	}
	return params, paths
}

func (nd NodeDef) constantDim() core.Dim {
	if len(nd.Dim) > 0 {
		return core.Dim(append([]int(nil), nd.Dim...))
	}
	if len(nd.Value) == 1 {
		return core.ScalarDim()
	}
	return core.Dim{len(nd.Value)}
}

// Validate checks structural integrity of the ModelDefinition.
// It checks rules that can be verified without registries:
//   - MD-001: duplicate node names
//   - MD-002: references to unknown nodes
//   - MD-003: references to nodes defined later
//   - MD-004: fields that do not fit the node kind
//   - MD-007: observed values on non-stochastic nodes
//   - MD-008: monitored names that do not exist
//   - MD-009: no observed nodes (warning)
//
// Registry-dependent rules (MD-005, MD-006) are checked via
// ValidateWithRegistries.
func (md *ModelDefinition) Validate() []Diagnostic {
	var diags []Diagnostic
	add := func(code, severity, path, format string, args ...any) {
		diags = append(diags, Diagnostic{Code: code, Severity: severity, Message: fmt.Sprintf(format, args...), Path: path})
	}

	index := make(map[string]int, len(md.Nodes))
	for i, nd := range md.Nodes {
		if nd.Name == "" {
			continue
		}
		if _, dup := index[nd.Name]; dup {
			add("MD-001", SeverityError, fmt.Sprintf("nodes[%d].name", i), "Duplicate node name %q", nd.Name)
			continue
		}
		index[nd.Name] = i
	}

	observed := 0
	for i, nd := range md.Nodes {
		prefix := fmt.Sprintf("nodes[%d]", i)
		if nd.Name == "" {
			add("MD-004", SeverityError, prefix+".name", "Node %d has no name", i)
		}

		kind, err := ParseKind(nd.Kind)
		if err != nil {
			add("MD-004", SeverityError, prefix+".kind", "Node %q: %v", nd.Name, err)
			continue
		}
		if len(nd.Observed) > 0 {
			if kind != KindStochastic {
				add("MD-007", SeverityError, prefix+".observed", "Node %q is %s and cannot be observed", nd.Name, kind)
			} else {
				observed++
			}
		}

		switch kind {
		case KindConstant:
			if len(nd.Value) == 0 {
				add("MD-004", SeverityError, prefix+".value", "Constant %q has no value", nd.Name)
			} else if nd.constantDim().Len() != len(nd.Value) {
				add("MD-004", SeverityError, prefix+".dim", "Constant %q: dim %v does not match %d values", nd.Name, nd.Dim, len(nd.Value))
			}
			if nd.Func != "" || nd.Dist != "" || len(nd.Params) > 0 || nd.Lower != nil || nd.Upper != nil {
				add("MD-004", SeverityError, prefix, "Constant %q must not declare func, dist, params or bounds", nd.Name)
			}
		case KindLogical:
			if nd.Func == "" {
				add("MD-004", SeverityError, prefix+".func", "Logical node %q has no func", nd.Name)
			}
			if nd.Dist != "" || len(nd.Value) > 0 || nd.Lower != nil || nd.Upper != nil {
				add("MD-004", SeverityError, prefix, "Logical node %q must not declare dist, value or bounds", nd.Name)
			}
		case KindStochastic:
			if nd.Dist == "" {
				add("MD-004", SeverityError, prefix+".dist", "Stochastic node %q has no dist", nd.Name)
			}
			if nd.Func != "" || len(nd.Value) > 0 {
				add("MD-004", SeverityError, prefix, "Stochastic node %q must not declare func or value", nd.Name)
			}
		}

		params, paths := nd.refs(prefix)
		for j, p := range params {
			if p.IsLiteral() {
				continue
			}
			at, ok := index[p.Ref]
			switch {
			case !ok:
				add("MD-002", SeverityError, paths[j], "Node %q references unknown node %q", nd.Name, p.Ref)
			case at >= i:
				add("MD-003", SeverityError, paths[j], "Node %q references %q before it is defined", nd.Name, p.Ref)
			}
		}
	}

	for i, name := range md.Monitor {
		if _, ok := index[name]; !ok {
			add("MD-008", SeverityError, fmt.Sprintf("monitor[%d]", i), "Monitored node %q does not exist", name)
		}
	}

	if observed == 0 && len(md.Nodes) > 0 {
		add("MD-009", SeverityWarning, "nodes", "Model has no observed nodes; weights will stay uniform")
	}

	return diags
}

// ValidateWithRegistries runs structural validation plus registry checks:
//   - MD-005: dist must exist in the distribution registry
//   - MD-006: func must exist in the function registry
func (md *ModelDefinition) ValidateWithRegistries(dists *distribution.Registry, funcs *function.Registry) []Diagnostic {
	diags := md.Validate()
	for i, nd := range md.Nodes {
		if dists != nil && nd.Dist != "" && !dists.Has(nd.Dist) {
			diags = append(diags, Diagnostic{
				Code:     "MD-005",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Node %q references unknown distribution %q", nd.Name, nd.Dist),
				Path:     fmt.Sprintf("nodes[%d].dist", i),
			})
		}
		if funcs != nil && nd.Func != "" && !funcs.Has(nd.Func) {
			diags = append(diags, Diagnostic{
				Code:     "MD-006",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Node %q references unknown function %q", nd.Name, nd.Func),
				Path:     fmt.Sprintf("nodes[%d].func", i),
			})
		}
	}
	return diags
}

// Build validates the definition and replays it into a frozen Graph.
// Validation failures are returned as *DiagnosticError; shape and arity
// failures detected by the graph are LogicErrors.
func Build(md *ModelDefinition, dists *distribution.Registry, funcs *function.Registry) (*Graph, error) {
	if dists == nil || funcs == nil {
		return nil, core.NewLogicError("graph.Build", ErrNilCapability, "distribution and function registries are required")
	}
	diags := md.ValidateWithRegistries(dists, funcs)
	if HasErrors(diags) {
		return nil, &DiagnosticError{Diagnostics: diags}
	}

	g := New()
	resolve := func(p Param) (core.NodeID, error) {
		if p.IsLiteral() {
			return g.AddConstant("", core.Scalar(*p.Literal))
		}
		id, _ := g.NodeByName(p.Ref)
		return id, nil
	}

	for _, nd := range md.Nodes {
		kind, _ := ParseKind(nd.Kind)
		spec := NodeSpec{Kind: kind, Name: nd.Name}
		for _, p := range nd.Params {
			id, err := resolve(p)
			if err != nil {
				return nil, fmt.Errorf("adding literal for node %q: %w", nd.Name, err)
			}
			spec.Parents = append(spec.Parents, id)
		}

		switch kind {
		case KindConstant:
			spec.Value = core.Value{Dim: nd.constantDim(), Data: append([]float64(nil), nd.Value...)}
		case KindLogical:
			spec.Function = funcs.MustGet(nd.Func)
		case KindStochastic:
			spec.Distribution = dists.MustGet(nd.Dist)
			for _, b := range []struct {
				param *Param
				slot  **core.NodeID
			}{{nd.Lower, &spec.Lower}, {nd.Upper, &spec.Upper}} {
				if b.param == nil {
					continue
				}
				id, err := resolve(*b.param)
				if err != nil {
					return nil, fmt.Errorf("adding bound for node %q: %w", nd.Name, err)
				}
				*b.slot = &id
			}
		}

		id, err := g.AddNode(spec)
		if err != nil {
			return nil, fmt.Errorf("adding node %q: %w", nd.Name, err)
		}
		if len(nd.Observed) > 0 {
			v := core.Value{Dim: g.Dim(id).Clone(), Data: append([]float64(nil), nd.Observed...)}
			if err := g.SetObserved(id, v); err != nil {
				return nil, fmt.Errorf("observing node %q: %w", nd.Name, err)
			}
		}
	}

	if err := g.Freeze(); err != nil {
		return nil, err
	}
	return g, nil
}

// MonitorIDs resolves the definition's monitor list against a built graph.
func (md *ModelDefinition) MonitorIDs(g *Graph) ([]core.NodeID, error) {
	ids := make([]core.NodeID, 0, len(md.Monitor))
	for _, name := range md.Monitor {
		id, ok := g.NodeByName(name)
		if !ok {
			return nil, core.NewLogicError("graph.MonitorIDs", ErrNodeNotFound, "monitored node %q does not exist", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
