package petalinfer

import (
	"errors"
	"fmt"
)

// ModelBuilder provides a fluent API for writing model definitions.
// Nodes may only reference nodes added before them.
//
// Example usage:
//
//	g, err := NewModelBuilder("chain").
//	    Stochastic("A", "dnorm", Lit(0), Lit(1)).
//	    Logical("B", "add", Ref("A"), Lit(1)).
//	    Stochastic("C", "dnorm", Ref("B"), Lit(4)).Observe(5).
//	    Monitor("B").
//	    Build()
type ModelBuilder struct {
	md     ModelDefinition
	errors []error
}

// NewModelBuilder creates a builder for a model with the given ID.
func NewModelBuilder(id string) *ModelBuilder {
	return &ModelBuilder{md: ModelDefinition{ID: id}}
}

func (b *ModelBuilder) add(nd NodeDef) *ModelBuilder {
	b.md.Nodes = append(b.md.Nodes, nd)
	return b
}

// last returns the most recently added node, or records an error.
func (b *ModelBuilder) last(op string) *NodeDef {
	if len(b.md.Nodes) == 0 {
		b.errors = append(b.errors, fmt.Errorf("%s: no node added yet", op))
		return nil
	}
	return &b.md.Nodes[len(b.md.Nodes)-1]
}

// Constant adds a constant node. A single value is a scalar; more values
// form a vector.
func (b *ModelBuilder) Constant(name string, values ...float64) *ModelBuilder {
	return b.add(NodeDef{Name: name, Kind: "constant", Value: values})
}

// Matrix adds a constant matrix node from row-major data.
func (b *ModelBuilder) Matrix(name string, rows, cols int, data ...float64) *ModelBuilder {
	return b.add(NodeDef{Name: name, Kind: "constant", Dim: []int{rows, cols}, Value: data})
}

// Logical adds a deterministic node computing fn of params.
func (b *ModelBuilder) Logical(name, fn string, params ...Param) *ModelBuilder {
	return b.add(NodeDef{Name: name, Kind: "logical", Func: fn, Params: params})
}

// Stochastic adds a node drawn from dist with params.
func (b *ModelBuilder) Stochastic(name, dist string, params ...Param) *ModelBuilder {
	return b.add(NodeDef{Name: name, Kind: "stochastic", Dist: dist, Params: params})
}

// Bounded truncates the last stochastic node to [lower, upper]. Pass nil
// for an open side.
func (b *ModelBuilder) Bounded(lower, upper *Param) *ModelBuilder {
	if nd := b.last("Bounded"); nd != nil {
		nd.Lower, nd.Upper = lower, upper
	}
	return b
}

// Observe fixes the value of the last node.
func (b *ModelBuilder) Observe(values ...float64) *ModelBuilder {
	if len(values) == 0 {
		b.errors = append(b.errors, errors.New("Observe: no values"))
		return b
	}
	if nd := b.last("Observe"); nd != nil {
		nd.Observed = values
	}
	return b
}

// Monitor records the named nodes in addition to the sampled ones.
func (b *ModelBuilder) Monitor(names ...string) *ModelBuilder {
	b.md.Monitor = append(b.md.Monitor, names...)
	return b
}

// Errors returns any errors accumulated during building.
func (b *ModelBuilder) Errors() []error {
	return b.errors
}

// Definition returns a copy of the definition built so far.
func (b *ModelBuilder) Definition() (*ModelDefinition, error) {
	if len(b.errors) > 0 {
		return nil, fmt.Errorf("model builder errors: %w", errors.Join(b.errors...))
	}
	md := b.md
	md.Nodes = append([]NodeDef(nil), b.md.Nodes...)
	md.Monitor = append([]string(nil), b.md.Monitor...)
	return &md, nil
}

// Build validates the definition and returns the frozen graph.
func (b *ModelBuilder) Build() (*Graph, error) {
	md, err := b.Definition()
	if err != nil {
		return nil, err
	}
	return Build(md)
}

// MustBuild is like Build but panics on error.
// Useful in tests and examples.
func (b *ModelBuilder) MustBuild() *Graph {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}
