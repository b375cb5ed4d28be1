package sampler

import (
	"slices"

	"github.com/petal-labs/petalinfer/core"
	"github.com/petal-labs/petalinfer/function"
	"github.com/petal-labs/petalinfer/graph"
	"github.com/petal-labs/petalinfer/particle"
)

// NodeSampler draws a node from its prior. The incremental log-weight is
// the log-density of the observed nodes the draw completes.
type NodeSampler struct {
	g  *graph.Graph
	id core.NodeID
}

// NewNodeSampler creates a prior sampler for id.
func NewNodeSampler(g *graph.Graph, id core.NodeID) *NodeSampler {
	return &NodeSampler{g: g, id: id}
}

func (s *NodeSampler) Name() string      { return "prior" }
func (s *NodeSampler) Node() core.NodeID { return s.id }

// Graph returns the graph the sampler reads.
func (s *NodeSampler) Graph() *graph.Graph {
	return s.g
}

// Sample draws the node from its prior and scores its likelihood children.
func (s *NodeSampler) Sample(p *particle.Particle, rng core.RNG) (float64, error) {
	if err := Ensure(s.g, p, s.g.Parents(s.id), rng); err != nil {
		return 0, err
	}
	if err := drawPrior(s.g, p, s.id, rng); err != nil {
		return 0, err
	}
	return LikelihoodIncrement(s.g, p, s.id, rng)
}

// LikelihoodIncrement sums the log-densities of the likelihood children of
// id under the values currently held by p.
func LikelihoodIncrement(g *graph.Graph, p *particle.Particle, id core.NodeID, rng core.RNG) (float64, error) {
	total := 0.0
	for _, child := range g.LikelihoodChildren(id) {
		lp, err := LogDensity(g, p, child, rng)
		if err != nil {
			return 0, err
		}
		total += lp
	}
	return total, nil
}

// LogDensity evaluates the log-density of a stochastic node at its value in
// p, assigning any missing ancestors first.
func LogDensity(g *graph.Graph, p *particle.Particle, id core.NodeID, rng core.RNG) (float64, error) {
	sn := g.Stochastic(id)
	if sn == nil {
		return 0, core.NewLogicError("sampler.LogDensity", ErrNotSampled, "%s is not stochastic", g.Label(id))
	}
	if err := Ensure(g, p, append([]core.NodeID{id}, g.Parents(id)...), rng); err != nil {
		return 0, err
	}
	x, _ := p.Value(id)
	params := paramValues(p, sn)
	lower, upper := boundValues(p, sn)
	return sn.Distribution().LogDensity(x, params, lower, upper), nil
}

// Ensure assigns a value in p to every node in roots and to whatever they
// need. Nodes are evaluated once, parents first: constants copy their
// value, logical nodes evaluate their function, observed nodes copy their
// observation and unobserved stochastic nodes are drawn from their prior.
func Ensure(g *graph.Graph, p *particle.Particle, roots []core.NodeID, rng core.RNG) error {
	return ensureExcept(g, p, roots, rng, nil)
}

// ensureExcept is Ensure leaving unassigned every node for which skip
// returns true. The operands of a skipped logical node are still assigned.
func ensureExcept(g *graph.Graph, p *particle.Particle, roots []core.NodeID, rng core.RNG, skip func(core.NodeID) bool) error {
	var need []core.NodeID
	stack := append([]core.NodeID(nil), roots...)
	seen := make(map[core.NodeID]bool)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] || p.Has(cur) {
			continue
		}
		seen[cur] = true
		if skip != nil && skip(cur) {
			if g.Logical(cur) != nil {
				stack = append(stack, g.Parents(cur)...)
			}
			continue
		}
		need = append(need, cur)
		switch g.Node(cur).(type) {
		case *graph.LogicalNode:
			stack = append(stack, g.Parents(cur)...)
		case *graph.StochasticNode:
			if !g.IsObserved(cur) {
				stack = append(stack, g.Parents(cur)...)
			}
		}
	}

	// Parents always have smaller handles than their children.
	slices.Sort(need)
	for _, id := range need {
		if err := assign(g, p, id, rng); err != nil {
			return err
		}
	}
	return nil
}

func assign(g *graph.Graph, p *particle.Particle, id core.NodeID, rng core.RNG) error {
	switch n := g.Node(id).(type) {
	case *graph.ConstantNode:
		p.SetValue(id, n.Value())
	case *graph.LogicalNode:
		args := make([]core.Value, len(n.Args()))
		for i, a := range n.Args() {
			args[i], _ = p.Value(a)
		}
		v, err := function.Evaluate(n.Function(), g.Dim(id), args)
		if err != nil {
			return atNode(id, err)
		}
		p.SetValue(id, v)
	case *graph.StochasticNode:
		if obs, ok := g.ObservedValue(id); ok {
			p.SetValue(id, obs)
			return nil
		}
		return drawPrior(g, p, id, rng)
	default:
		return core.NewLogicError("sampler.Ensure", graph.ErrNodeNotFound, "%v does not exist", id)
	}
	return nil
}

// drawPrior samples a stochastic node from its distribution. Its parents
// must already be assigned.
func drawPrior(g *graph.Graph, p *particle.Particle, id core.NodeID, rng core.RNG) error {
	sn := g.Stochastic(id)
	if rng == nil {
		return core.NewRuntimeError(id, ErrValueUnavailable, "%s has no value and no generator to draw it", g.Label(id))
	}
	params := paramValues(p, sn)
	dist := sn.Distribution()
	if !dist.CheckParamValues(params) {
		return core.NewRuntimeError(id, ErrBadParams, "%s: %s parameters %v out of domain", g.Label(id), dist.Name(), params)
	}
	lower, upper := boundValues(p, sn)
	v, err := dist.Sample(rng, params, lower, upper)
	if err != nil {
		return atNode(id, err)
	}
	p.SetValue(id, v)
	return nil
}

func paramValues(p *particle.Particle, sn *graph.StochasticNode) []core.Value {
	params := make([]core.Value, len(sn.Params()))
	for i, id := range sn.Params() {
		params[i], _ = p.Value(id)
	}
	return params
}

func boundValues(p *particle.Particle, sn *graph.StochasticNode) (lower, upper *core.Value) {
	if v, ok := p.Value(sn.Lower()); ok {
		lower = &v
	}
	if v, ok := p.Value(sn.Upper()); ok {
		upper = &v
	}
	return lower, upper
}
