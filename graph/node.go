package graph

import (
	"fmt"

	"github.com/petal-labs/petalinfer/core"
	"github.com/petal-labs/petalinfer/distribution"
	"github.com/petal-labs/petalinfer/function"
)

// Kind identifies one of the three node variants.
type Kind int

const (
	KindConstant Kind = iota
	KindLogical
	KindStochastic
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "constant"
	case KindLogical:
		return "logical"
	case KindStochastic:
		return "stochastic"
	default:
		return "unknown"
	}
}

// ParseKind converts a definition string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "constant":
		return KindConstant, nil
	case "logical":
		return KindLogical, nil
	case "stochastic":
		return KindStochastic, nil
	default:
		return 0, fmt.Errorf("unknown node kind %q", s)
	}
}

// Node is a vertex of the graph. The set of implementations is closed:
// *ConstantNode, *LogicalNode and *StochasticNode.
type Node interface {
	Kind() Kind
	node()
}

// ConstantNode holds a fixed value.
type ConstantNode struct {
	value core.Value
}

func (*ConstantNode) Kind() Kind { return KindConstant }
func (*ConstantNode) node()      {}

// Value returns the constant value. Callers must not modify it.
func (n *ConstantNode) Value() core.Value {
	return n.value
}

// LogicalNode is a deterministic function of its parents.
type LogicalNode struct {
	fn      function.Function
	parents []core.NodeID
}

func (*LogicalNode) Kind() Kind { return KindLogical }
func (*LogicalNode) node()      {}

// Function returns the wrapped function.
func (n *LogicalNode) Function() function.Function {
	return n.fn
}

// Args returns the parameter nodes in declaration order.
func (n *LogicalNode) Args() []core.NodeID {
	return n.parents
}

// StochasticNode is a random variable drawn from a distribution whose
// parameters are parent nodes, optionally truncated to [Lower, Upper].
type StochasticNode struct {
	dist   distribution.Distribution
	params []core.NodeID
	lower  core.NodeID
	upper  core.NodeID
}

func (*StochasticNode) Kind() Kind { return KindStochastic }
func (*StochasticNode) node()      {}

// Distribution returns the wrapped distribution.
func (n *StochasticNode) Distribution() distribution.Distribution {
	return n.dist
}

// Params returns the parameter nodes in declaration order.
func (n *StochasticNode) Params() []core.NodeID {
	return n.params
}

// Lower returns the lower bound node, or NullNode.
func (n *StochasticNode) Lower() core.NodeID {
	return n.lower
}

// Upper returns the upper bound node, or NullNode.
func (n *StochasticNode) Upper() core.NodeID {
	return n.upper
}

// IsBounded reports whether either truncation bound is set.
func (n *StochasticNode) IsBounded() bool {
	return !n.lower.IsNull() || !n.upper.IsNull()
}

// Visitor receives a node routed by its kind.
type Visitor interface {
	VisitConstant(id core.NodeID, n *ConstantNode) error
	VisitLogical(id core.NodeID, n *LogicalNode) error
	VisitStochastic(id core.NodeID, n *StochasticNode) error
}

// Visit dispatches the node to the visitor method matching its kind.
func (g *Graph) Visit(id core.NodeID, v Visitor) error {
	if !g.valid(id) {
		return nodeNotFound("graph.Visit", id)
	}
	switch n := g.nodes[id].(type) {
	case *ConstantNode:
		return v.VisitConstant(id, n)
	case *LogicalNode:
		return v.VisitLogical(id, n)
	case *StochasticNode:
		return v.VisitStochastic(id, n)
	default:
		panic(fmt.Sprintf("graph: unexpected node type %T", n))
	}
}
