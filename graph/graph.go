// Package graph provides the directed acyclic graph of constant, logical
// and stochastic nodes that a model is made of.
//
// A Graph is built with AddNode and SetObserved, then frozen. Freezing
// computes the topological order and the likelihood attribution used by the
// samplers; after Freeze the graph is read-only and safe for concurrent use
// by any number of particles.
package graph

import (
	"errors"

	"github.com/petal-labs/petalinfer/core"
	"github.com/petal-labs/petalinfer/distribution"
	"github.com/petal-labs/petalinfer/function"
)

// Graph errors
var (
	ErrNodeNotFound       = errors.New("node not found")
	ErrUnknownParent      = errors.New("parent does not exist")
	ErrArity              = errors.New("wrong number of parents")
	ErrShape              = errors.New("parent shapes rejected")
	ErrNilCapability      = errors.New("missing function or distribution")
	ErrBoundsUnsupported  = errors.New("distribution cannot be bounded")
	ErrDuplicateName      = errors.New("duplicate node name")
	ErrFrozen             = errors.New("graph is frozen")
	ErrNotFrozen          = errors.New("graph is not frozen")
	ErrNotStochastic      = errors.New("node is not stochastic")
	ErrAlreadyObserved    = errors.New("node is already observed")
	ErrCycleDetected      = errors.New("cycle detected in graph")
	ErrUnexpectedParents  = errors.New("constant nodes take no parents")
	ErrEmptyConstantValue = errors.New("constant value is empty")
)

// NodeSpec describes a node to add. Only the fields relevant to Kind are
// read. Lower and Upper are optional truncation bounds for stochastic
// nodes.
type NodeSpec struct {
	Kind         Kind
	Name         string
	Value        core.Value
	Function     function.Function
	Distribution distribution.Distribution
	Parents      []core.NodeID
	Lower        *core.NodeID
	Upper        *core.NodeID
}

// Graph is an append-only arena of nodes with structural metadata.
// Node values never live here; they live in particles.
type Graph struct {
	nodes    []Node
	dims     []core.Dim
	parents  [][]core.NodeID
	children [][]core.NodeID
	names    []string
	byName   map[string]core.NodeID
	observed []bool
	obsValue []core.Value

	frozen     bool
	order      []core.NodeID
	position   []int
	likelihood [][]core.NodeID
	free       []core.NodeID
	sampled    []core.NodeID
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{byName: make(map[string]core.NodeID)}
}

func (g *Graph) valid(id core.NodeID) bool {
	return id >= 0 && int(id) < len(g.nodes)
}

func nodeNotFound(op string, id core.NodeID) error {
	return core.NewLogicError(op, ErrNodeNotFound, "%v does not exist", id)
}

func specError(spec NodeSpec, cause error, format string, args ...any) error {
	err := core.NewLogicError("graph.AddNode", cause, format, args...)
	if spec.Name != "" {
		err.Msg = spec.Name + ": " + err.Msg
	}
	return err
}

// AddNode appends a node and returns its handle. Parents must already
// exist, so the graph stays acyclic by construction.
func (g *Graph) AddNode(spec NodeSpec) (core.NodeID, error) {
	if g.frozen {
		return core.NullNode, specError(spec, ErrFrozen, "cannot add nodes after Freeze")
	}
	if spec.Name != "" {
		if _, exists := g.byName[spec.Name]; exists {
			return core.NullNode, specError(spec, ErrDuplicateName, "name already in use")
		}
	}
	for _, p := range spec.Parents {
		if !g.valid(p) {
			return core.NullNode, specError(spec, ErrUnknownParent, "parent %v does not exist", p)
		}
	}

	var (
		n       Node
		dim     core.Dim
		parents []core.NodeID
	)
	switch spec.Kind {
	case KindConstant:
		if len(spec.Parents) > 0 {
			return core.NullNode, specError(spec, ErrUnexpectedParents, "got %d parents", len(spec.Parents))
		}
		if spec.Value.IsEmpty() || spec.Value.Dim.Len() != spec.Value.Len() {
			return core.NullNode, specError(spec, ErrEmptyConstantValue, "invalid constant value %v", spec.Value)
		}
		v := spec.Value.Clone()
		n, dim = &ConstantNode{value: v}, v.Dim

	case KindLogical:
		fn := spec.Function
		if fn == nil {
			return core.NullNode, specError(spec, ErrNilCapability, "logical node needs a function")
		}
		if !arityOK(fn.NParams(), len(spec.Parents)) {
			return core.NullNode, specError(spec, ErrArity, "%s expects %d parents, got %d", fn.Name(), fn.NParams(), len(spec.Parents))
		}
		pd := g.parentDims(spec.Parents)
		if !fn.CheckParamDims(pd) {
			return core.NullNode, specError(spec, ErrShape, "%s rejects parent dims %v", fn.Name(), pd)
		}
		d, err := fn.Dim(pd)
		if err != nil {
			return core.NullNode, specError(spec, ErrShape, "%s: %v", fn.Name(), err)
		}
		args := append([]core.NodeID(nil), spec.Parents...)
		n, dim, parents = &LogicalNode{fn: fn, parents: args}, d, args

	case KindStochastic:
		dist := spec.Distribution
		if dist == nil {
			return core.NullNode, specError(spec, ErrNilCapability, "stochastic node needs a distribution")
		}
		if len(spec.Parents) != dist.NParams() {
			return core.NullNode, specError(spec, ErrArity, "%s expects %d parameters, got %d", dist.Name(), dist.NParams(), len(spec.Parents))
		}
		pd := g.parentDims(spec.Parents)
		if !dist.CheckParamDims(pd) {
			return core.NullNode, specError(spec, ErrShape, "%s rejects parameter dims %v", dist.Name(), pd)
		}
		d, err := dist.Dim(pd)
		if err != nil {
			return core.NullNode, specError(spec, ErrShape, "%s: %v", dist.Name(), err)
		}
		sn := &StochasticNode{dist: dist, params: append([]core.NodeID(nil), spec.Parents...), lower: core.NullNode, upper: core.NullNode}
		parents = append(parents, sn.params...)
		for _, b := range []struct {
			ref  *core.NodeID
			slot *core.NodeID
		}{{spec.Lower, &sn.lower}, {spec.Upper, &sn.upper}} {
			if b.ref == nil || b.ref.IsNull() {
				continue
			}
			if !dist.CanBound() {
				return core.NullNode, specError(spec, ErrBoundsUnsupported, "%s cannot be truncated", dist.Name())
			}
			if !g.valid(*b.ref) {
				return core.NullNode, specError(spec, ErrUnknownParent, "bound %v does not exist", *b.ref)
			}
			if !g.dims[*b.ref].IsScalar() {
				return core.NullNode, specError(spec, ErrShape, "bound %v must be scalar", *b.ref)
			}
			*b.slot = *b.ref
			parents = append(parents, *b.ref)
		}
		n, dim = sn, d

	default:
		return core.NullNode, specError(spec, nil, "unknown node kind %d", spec.Kind)
	}

	id := core.NodeID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	g.dims = append(g.dims, dim.Clone())
	g.parents = append(g.parents, parents)
	g.children = append(g.children, nil)
	g.names = append(g.names, spec.Name)
	g.observed = append(g.observed, false)
	g.obsValue = append(g.obsValue, core.Value{})
	if spec.Name != "" {
		g.byName[spec.Name] = id
	}
	for _, p := range uniqueIDs(parents) {
		g.children[p] = append(g.children[p], id)
	}
	return id, nil
}

// AddConstant adds a constant node.
func (g *Graph) AddConstant(name string, v core.Value) (core.NodeID, error) {
	return g.AddNode(NodeSpec{Kind: KindConstant, Name: name, Value: v})
}

// AddLogical adds a deterministic node computing fn over parents.
func (g *Graph) AddLogical(name string, fn function.Function, parents ...core.NodeID) (core.NodeID, error) {
	return g.AddNode(NodeSpec{Kind: KindLogical, Name: name, Function: fn, Parents: parents})
}

// AddStochastic adds an unbounded stochastic node.
func (g *Graph) AddStochastic(name string, dist distribution.Distribution, params ...core.NodeID) (core.NodeID, error) {
	return g.AddNode(NodeSpec{Kind: KindStochastic, Name: name, Distribution: dist, Parents: params})
}

// SetObserved fixes the value of a stochastic node. It may be called at
// most once per node and only before Freeze.
func (g *Graph) SetObserved(id core.NodeID, v core.Value) error {
	const op = "graph.SetObserved"
	if g.frozen {
		return core.NewLogicError(op, ErrFrozen, "cannot observe %v after Freeze", id)
	}
	if !g.valid(id) {
		return nodeNotFound(op, id)
	}
	if _, ok := g.nodes[id].(*StochasticNode); !ok {
		err := core.NewLogicError(op, ErrNotStochastic, "only stochastic nodes can be observed")
		err.Node = id
		return err
	}
	if g.observed[id] {
		err := core.NewLogicError(op, ErrAlreadyObserved, "observed value already set")
		err.Node = id
		return err
	}
	if !v.Dim.Equal(g.dims[id]) || v.Len() != g.dims[id].Len() {
		err := core.NewLogicError(op, ErrShape, "value dim %v does not match node dim %v", v.Dim, g.dims[id])
		err.Node = id
		return err
	}
	g.observed[id] = true
	g.obsValue[id] = v.Clone()
	return nil
}

// Freeze ends construction: it computes the topological order and the
// likelihood attribution tables. Calling Freeze again is a no-op.
func (g *Graph) Freeze() error {
	if g.frozen {
		return nil
	}
	order, err := g.topologicalSort()
	if err != nil {
		return err
	}
	g.order = order
	g.position = make([]int, len(g.nodes))
	for i, id := range order {
		g.position[id] = i
	}
	g.analyze()
	g.frozen = true
	return nil
}

// topologicalSort orders nodes with Kahn's algorithm.
func (g *Graph) topologicalSort() ([]core.NodeID, error) {
	inDegree := make([]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(uniqueIDs(g.parents[id]))
	}

	queue := make([]core.NodeID, 0)
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, core.NodeID(id))
		}
	}

	result := make([]core.NodeID, 0, len(g.nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		for _, child := range g.children[current] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, core.NewLogicError("graph.Freeze", ErrCycleDetected, "%d of %d nodes ordered", len(result), len(g.nodes))
	}
	return result, nil
}

// Frozen reports whether Freeze has completed.
func (g *Graph) Frozen() bool {
	return g.frozen
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// TopologicalOrder returns every node after all of its parents. It is nil
// before Freeze.
func (g *Graph) TopologicalOrder() []core.NodeID {
	return append([]core.NodeID(nil), g.order...)
}

// Node returns the node record. It returns nil for an unknown handle.
func (g *Graph) Node(id core.NodeID) Node {
	if !g.valid(id) {
		return nil
	}
	return g.nodes[id]
}

// Stochastic returns the node as a stochastic node, or nil.
func (g *Graph) Stochastic(id core.NodeID) *StochasticNode {
	if !g.valid(id) {
		return nil
	}
	n, _ := g.nodes[id].(*StochasticNode)
	return n
}

// Logical returns the node as a logical node, or nil.
func (g *Graph) Logical(id core.NodeID) *LogicalNode {
	if !g.valid(id) {
		return nil
	}
	n, _ := g.nodes[id].(*LogicalNode)
	return n
}

// Constant returns the node as a constant node, or nil.
func (g *Graph) Constant(id core.NodeID) *ConstantNode {
	if !g.valid(id) {
		return nil
	}
	n, _ := g.nodes[id].(*ConstantNode)
	return n
}

// Parents returns every parent of a node: function arguments, or
// distribution parameters followed by bounds. Callers must not modify the
// returned slice.
func (g *Graph) Parents(id core.NodeID) []core.NodeID {
	if !g.valid(id) {
		return nil
	}
	return g.parents[id]
}

// Children returns the nodes that list id as a parent, in insertion order.
// Callers must not modify the returned slice.
func (g *Graph) Children(id core.NodeID) []core.NodeID {
	if !g.valid(id) {
		return nil
	}
	return g.children[id]
}

// Dim returns the value shape of a node.
func (g *Graph) Dim(id core.NodeID) core.Dim {
	if !g.valid(id) {
		return nil
	}
	return g.dims[id]
}

// IsObserved reports whether the node has an observed value.
func (g *Graph) IsObserved(id core.NodeID) bool {
	return g.valid(id) && g.observed[id]
}

// ObservedValue returns the observed value of a node.
func (g *Graph) ObservedValue(id core.NodeID) (core.Value, bool) {
	if !g.IsObserved(id) {
		return core.Value{}, false
	}
	return g.obsValue[id], true
}

// NodeByName looks a node up by its name.
func (g *Graph) NodeByName(name string) (core.NodeID, bool) {
	id, ok := g.byName[name]
	return id, ok
}

// Name returns the node name, or "" for anonymous nodes.
func (g *Graph) Name(id core.NodeID) string {
	if !g.valid(id) {
		return ""
	}
	return g.names[id]
}

// Label returns the node name, falling back to its handle.
func (g *Graph) Label(id core.NodeID) string {
	if name := g.Name(id); name != "" {
		return name
	}
	return id.String()
}

// FixedValue returns the value of a node when it is known without
// sampling: constants, observed nodes and logical nodes whose ancestors are
// all fixed. Logical nodes are evaluated on each call.
func (g *Graph) FixedValue(id core.NodeID) (core.Value, bool) {
	if !g.valid(id) {
		return core.Value{}, false
	}
	switch n := g.nodes[id].(type) {
	case *ConstantNode:
		return n.value, true
	case *StochasticNode:
		return g.ObservedValue(id)
	case *LogicalNode:
		args := make([]core.Value, len(n.parents))
		for i, p := range n.parents {
			v, ok := g.FixedValue(p)
			if !ok {
				return core.Value{}, false
			}
			args[i] = v
		}
		v, err := function.Evaluate(n.fn, g.dims[id], args)
		if err != nil {
			return core.Value{}, false
		}
		return v, true
	}
	return core.Value{}, false
}

func (g *Graph) parentDims(ids []core.NodeID) []core.Dim {
	dims := make([]core.Dim, len(ids))
	for i, id := range ids {
		dims[i] = g.dims[id]
	}
	return dims
}

func arityOK(nparams, n int) bool {
	if nparams == function.Variadic {
		return n > 0
	}
	return n == nparams
}

func uniqueIDs(ids []core.NodeID) []core.NodeID {
	out := make([]core.NodeID, 0, len(ids))
	for _, id := range ids {
		seen := false
		for _, o := range out {
			if o == id {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, id)
		}
	}
	return out
}
