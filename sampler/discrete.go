package sampler

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/petal-labs/petalinfer/core"
	"github.com/petal-labs/petalinfer/distribution"
	"github.com/petal-labs/petalinfer/graph"
	"github.com/petal-labs/petalinfer/particle"
)

// DefaultMaxSupport is the largest support the discrete sampler enumerates.
const DefaultMaxSupport = 64

// ErrEmptySupport is returned when every value of an enumerated support has
// zero posterior mass.
var ErrEmptySupport = errors.New("all support points have zero posterior mass")

// DiscreteFactory builds DiscreteOptimalSamplers for scalar nodes with a
// finite support of known size.
type DiscreteFactory struct {
	MaxSupport int
}

// NewDiscreteFactory creates a factory. A non-positive maxSupport selects
// DefaultMaxSupport.
func NewDiscreteFactory(maxSupport int) *DiscreteFactory {
	if maxSupport <= 0 {
		maxSupport = DefaultMaxSupport
	}
	return &DiscreteFactory{MaxSupport: maxSupport}
}

func (f *DiscreteFactory) Name() string { return "discrete-optimal" }

// CanHandle reports whether id is an unobserved, unbounded, scalar node whose
// distribution is enumerable with a support no larger than MaxSupport, as
// far as the graph can tell from parameter dims and fixed parent values.
func (f *DiscreteFactory) CanHandle(g *graph.Graph, id core.NodeID) bool {
	sn := g.Stochastic(id)
	if sn == nil || g.IsObserved(id) || sn.IsBounded() || !g.Dim(id).IsScalar() {
		return false
	}
	if len(g.LikelihoodChildren(id)) == 0 {
		return false
	}
	enum, ok := sn.Distribution().(distribution.Enumerable)
	if !ok {
		return false
	}
	dims := make([]core.Dim, len(sn.Params()))
	fixed := make([]*core.Value, len(sn.Params()))
	for i, param := range sn.Params() {
		dims[i] = g.Dim(param)
		if v, ok := g.FixedValue(param); ok {
			fixed[i] = &v
		}
	}
	size, ok := enum.SupportSize(dims, fixed)
	return ok && size > 0 && size <= f.MaxSupport
}

func (f *DiscreteFactory) New(g *graph.Graph, id core.NodeID) Sampler {
	return &DiscreteOptimalSampler{NodeSampler: NewNodeSampler(g, id)}
}

// DiscreteOptimalSampler draws a finite-support node from its exact local
// posterior: prior times the densities of its likelihood children, over
// every support point. The incremental log-weight is the log of the
// normalizer.
type DiscreteOptimalSampler struct {
	*NodeSampler
}

func (s *DiscreteOptimalSampler) Name() string { return "discrete-optimal" }

// LogProbs returns the support and the unnormalized log posterior mass of
// each point. On return id holds no value and its deterministic
// descendants are cleared.
func (s *DiscreteOptimalSampler) LogProbs(p *particle.Particle, rng core.RNG) ([]float64, []float64, error) {
	g, id := s.g, s.id
	if err := Ensure(g, p, g.Parents(id), rng); err != nil {
		return nil, nil, err
	}
	sn := g.Stochastic(id)
	params := paramValues(p, sn)
	dist := sn.Distribution()
	if !dist.CheckParamValues(params) {
		return nil, nil, core.NewRuntimeError(id, ErrBadParams, "%s: %s parameters %v out of domain", g.Label(id), dist.Name(), params)
	}
	support, err := dist.(distribution.Enumerable).Enumerate(params)
	if err != nil {
		return nil, nil, atNode(id, err)
	}

	desc := g.DeterministicDescendants(id)
	reset := func() {
		p.Unset(id)
		for _, d := range desc {
			p.Unset(d)
		}
	}
	logp := make([]float64, len(support))
	for i, x := range support {
		reset()
		v := core.Scalar(x)
		lp := dist.LogDensity(v, params, nil, nil)
		p.SetValue(id, v)
		for _, c := range g.LikelihoodChildren(id) {
			if math.IsInf(lp, -1) {
				break
			}
			lc, err := LogDensity(g, p, c, rng)
			if err != nil {
				if !core.IsRuntime(err) {
					reset()
					return nil, nil, err
				}
				lc = math.Inf(-1)
			}
			lp += lc
		}
		logp[i] = lp
	}
	reset()
	return support, logp, nil
}

// Sample enumerates the support and draws one point in proportion to its
// posterior mass.
func (s *DiscreteOptimalSampler) Sample(p *particle.Particle, rng core.RNG) (float64, error) {
	support, logp, err := s.LogProbs(p, rng)
	if err != nil {
		return 0, err
	}
	logZ := floats.LogSumExp(logp)
	if math.IsInf(logZ, -1) || math.IsNaN(logZ) {
		return 0, core.NewRuntimeError(s.id, ErrEmptySupport, "%s: %d support points", s.g.Label(s.id), len(support))
	}

	u := core.Uniform(rng)
	k := len(support) - 1
	acc := 0.0
	for i, lp := range logp {
		acc += math.Exp(lp - logZ)
		if u < acc {
			k = i
			break
		}
	}
	p.SetValue(s.id, core.Scalar(support[k]))
	return logZ, nil
}
