package graph

import (
	"slices"

	"github.com/petal-labs/petalinfer/core"
)

// isUnknown reports whether id is a stochastic node the filter must sample.
func (g *Graph) isUnknown(id core.NodeID) bool {
	_, ok := g.nodes[id].(*StochasticNode)
	return ok && !g.observed[id]
}

// analyze builds the sampled-node list and attributes every observed node
// to the last unknown stochastic node its parameters depend on.
func (g *Graph) analyze() {
	// frontier[id] holds the unknown stochastic nodes that determine the
	// value of id without crossing another stochastic node.
	frontier := make([][]core.NodeID, len(g.nodes))
	g.likelihood = make([][]core.NodeID, len(g.nodes))
	g.free = nil
	g.sampled = nil

	for _, id := range g.order {
		switch g.nodes[id].(type) {
		case *ConstantNode:
		case *LogicalNode:
			frontier[id] = g.unionFrontier(frontier, g.parents[id])
		case *StochasticNode:
			if !g.observed[id] {
				frontier[id] = []core.NodeID{id}
				g.sampled = append(g.sampled, id)
				continue
			}
			deps := g.unionFrontier(frontier, g.parents[id])
			if len(deps) == 0 {
				g.free = append(g.free, id)
				continue
			}
			last := deps[0]
			for _, d := range deps[1:] {
				if g.position[d] > g.position[last] {
					last = d
				}
			}
			g.likelihood[last] = append(g.likelihood[last], id)
		}
	}
}

func (g *Graph) unionFrontier(frontier [][]core.NodeID, parents []core.NodeID) []core.NodeID {
	var out []core.NodeID
	for _, p := range parents {
		for _, d := range frontier[p] {
			if !slices.Contains(out, d) {
				out = append(out, d)
			}
		}
	}
	return out
}

// SampledNodes returns the unobserved stochastic nodes in topological order.
// Each one is a step of the particle filter.
func (g *Graph) SampledNodes() []core.NodeID {
	return append([]core.NodeID(nil), g.sampled...)
}

// LikelihoodChildren returns the observed stochastic nodes whose last
// unknown dependency, reached through deterministic nodes, is id. Sampling
// id completes the information needed to evaluate their densities.
func (g *Graph) LikelihoodChildren(id core.NodeID) []core.NodeID {
	if !g.valid(id) || g.likelihood == nil {
		return nil
	}
	return g.likelihood[id]
}

// FreeLikelihood returns observed stochastic nodes that depend on no
// unknown node. Their density is a constant factor of the evidence.
func (g *Graph) FreeLikelihood() []core.NodeID {
	return g.free
}

// DependsOnThrough reports whether the value of id is a function of src
// through deterministic nodes only. A node depends on itself.
func (g *Graph) DependsOnThrough(src, id core.NodeID) bool {
	if !g.valid(src) || !g.valid(id) {
		return false
	}
	stack := []core.NodeID{id}
	seen := make(map[core.NodeID]bool)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == src {
			return true
		}
		if seen[cur] || cur < src {
			continue
		}
		seen[cur] = true
		if ln, ok := g.nodes[cur].(*LogicalNode); ok {
			stack = append(stack, ln.parents...)
		}
	}
	return false
}

// DeterministicDescendants returns, in topological order, the logical nodes
// whose value depends on id through deterministic nodes only.
func (g *Graph) DeterministicDescendants(id core.NodeID) []core.NodeID {
	if !g.valid(id) {
		return nil
	}
	var out []core.NodeID
	seen := map[core.NodeID]bool{id: true}
	queue := []core.NodeID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range g.children[cur] {
			if seen[c] {
				continue
			}
			seen[c] = true
			if _, ok := g.nodes[c].(*LogicalNode); ok {
				out = append(out, c)
				queue = append(queue, c)
			}
		}
	}
	slices.SortFunc(out, func(a, b core.NodeID) int {
		return g.rank(a) - g.rank(b)
	})
	return out
}

func (g *Graph) rank(id core.NodeID) int {
	if g.position != nil {
		return g.position[id]
	}
	return int(id)
}
