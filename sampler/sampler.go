// Package sampler implements the node samplers that advance a particle by
// one stochastic node: the prior (ancestral) NodeSampler, the conjugate
// samplers that draw from an exact posterior, and the discrete optimal
// sampler that enumerates a finite support.
//
// Samplers are chosen per node by trying factories in priority order;
// CanHandle returning false is the fallback signal, never an error.
package sampler

import (
	"errors"

	"github.com/petal-labs/petalinfer/core"
	"github.com/petal-labs/petalinfer/graph"
	"github.com/petal-labs/petalinfer/particle"
)

// Sampler errors
var (
	ErrValueUnavailable = errors.New("node value is not available")
	ErrBadParams        = errors.New("parameter values out of domain")
	ErrNotSampled       = errors.New("node is not an unobserved stochastic node")
)

// Sampler advances a particle by drawing the value of one node.
type Sampler interface {
	// Name identifies the sampling method, e.g. "prior" or "normal-normal".
	Name() string

	// Node returns the node the sampler draws.
	Node() core.NodeID

	// Sample draws the node into p and returns the incremental log-weight.
	// Value-level failures are core.RuntimeErrors scoped to p.
	Sample(p *particle.Particle, rng core.RNG) (float64, error)
}

// Factory builds samplers for the nodes it can handle.
type Factory interface {
	Name() string
	CanHandle(g *graph.Graph, id core.NodeID) bool
	New(g *graph.Graph, id core.NodeID) Sampler
}

// Assignment pairs a sampled node with its sampler.
type Assignment struct {
	Node    core.NodeID
	Sampler Sampler
}

// DefaultFactories returns the built-in factories in priority order:
// conjugate families first, then discrete enumeration.
func DefaultFactories(maxSupport int) []Factory {
	return []Factory{
		NewConjugateFactory(NormalNormal{}),
		NewConjugateFactory(MNormalLinear{}),
		NewConjugateFactory(BetaBinomial{}),
		NewConjugateFactory(GammaPoisson{}),
		NewConjugateFactory(GammaNormalPrecision{}),
		NewDiscreteFactory(maxSupport),
	}
}

// Assign chooses a sampler for every sampled node of a frozen graph. The
// first factory that can handle a node wins; nodes no factory handles get
// a prior NodeSampler.
func Assign(g *graph.Graph, factories []Factory) ([]Assignment, error) {
	if !g.Frozen() {
		return nil, core.NewLogicError("sampler.Assign", graph.ErrNotFrozen, "graph must be frozen before assigning samplers")
	}
	nodes := g.SampledNodes()
	out := make([]Assignment, 0, len(nodes))
	for _, id := range nodes {
		var s Sampler
		for _, f := range factories {
			if f.CanHandle(g, id) {
				s = f.New(g, id)
				break
			}
		}
		if s == nil {
			s = NewNodeSampler(g, id)
		}
		out = append(out, Assignment{Node: id, Sampler: s})
	}
	return out, nil
}

// atNode attributes a node-less runtime error to id.
func atNode(id core.NodeID, err error) error {
	var rt *core.RuntimeError
	if errors.As(err, &rt) && rt.Node.IsNull() {
		c := *rt
		c.Node = id
		return &c
	}
	return err
}
