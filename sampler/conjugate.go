package sampler

import (
	"errors"

	"gonum.org/v1/gonum/mat"

	"github.com/petal-labs/petalinfer/core"
	"github.com/petal-labs/petalinfer/graph"
	"github.com/petal-labs/petalinfer/particle"
)

// ErrNoClosedForm is returned by a Family when the values held by a
// particle fall outside the closed-form update, e.g. a non-positive scale.
// The sampler then draws that particle from the prior instead.
var ErrNoClosedForm = errors.New("no closed-form update for these values")

// Link is the relationship a family allows between the sampled node and
// the likelihood parameter it occupies.
type Link int

const (
	// LinkIdentity requires the parameter to be the node itself.
	LinkIdentity Link = iota
	// LinkScale allows parameter = a*node with a fixed.
	LinkScale
	// LinkAffine allows parameter = A*node + b with A and b fixed.
	LinkAffine
)

// String returns the string representation of the Link.
func (l Link) String() string {
	switch l {
	case LinkIdentity:
		return "identity"
	case LinkScale:
		return "scale"
	case LinkAffine:
		return "affine"
	default:
		return "unknown"
	}
}

// Likelihood names a likelihood distribution and the parameter position
// the sampled node occupies in it.
type Likelihood struct {
	Dist     string
	Position int
}

// Observation is one likelihood child folded into a conjugate update.
type Observation struct {
	Dist   string
	Value  core.Value
	Params []core.Value // child parameters; the linked position is empty
	A      *mat.Dense   // linked parameter = A*x + B
	B      []float64
}

// Posterior is an exact posterior in the prior's family together with the
// log marginal likelihood of the observations.
type Posterior struct {
	Params      []core.Value
	LogMarginal float64
}

// Family is a conjugate prior/likelihood pairing. Every supported
// (prior, likelihood, boundedness) combination is listed explicitly:
// bounded nodes and bounded children are never handled.
type Family interface {
	Name() string
	Prior() string
	Likelihoods() []Likelihood
	Link() Link
	Posterior(prior []core.Value, obs []Observation) (Posterior, error)
}

// ConjugateFactory builds conjugate samplers for one family.
type ConjugateFactory struct {
	Family Family
}

// NewConjugateFactory creates a factory for the family.
func NewConjugateFactory(f Family) *ConjugateFactory {
	return &ConjugateFactory{Family: f}
}

func (f *ConjugateFactory) Name() string { return f.Family.Name() }

func (f *ConjugateFactory) likelihood(dist string) (Likelihood, bool) {
	for _, l := range f.Family.Likelihoods() {
		if l.Dist == dist {
			return l, true
		}
	}
	return Likelihood{}, false
}

// CanHandle reports whether id has the family's prior, is unbounded and
// unobserved, and every likelihood child is an unbounded accepted
// likelihood linked to id through the declared parameter only.
func (f *ConjugateFactory) CanHandle(g *graph.Graph, id core.NodeID) bool {
	sn := g.Stochastic(id)
	if sn == nil || g.IsObserved(id) || sn.IsBounded() || sn.Distribution().Name() != f.Family.Prior() {
		return false
	}
	children := g.LikelihoodChildren(id)
	if len(children) == 0 {
		return false
	}
	for _, c := range children {
		cn := g.Stochastic(c)
		if cn.IsBounded() {
			return false
		}
		l, ok := f.likelihood(cn.Distribution().Name())
		if !ok || l.Position >= len(cn.Params()) {
			return false
		}
		for j, param := range cn.Params() {
			dep := g.DependsOnThrough(id, param)
			if j != l.Position {
				if dep {
					return false
				}
				continue
			}
			if !dep {
				return false
			}
			switch f.Family.Link() {
			case LinkIdentity:
				if param != id {
					return false
				}
			case LinkScale:
				if !IsScale(g, id, param) {
					return false
				}
			case LinkAffine:
				if !IsLinear(g, id, param) {
					return false
				}
			}
		}
	}
	return true
}

// New creates the sampler. Callers must check CanHandle first.
func (f *ConjugateFactory) New(g *graph.Graph, id core.NodeID) Sampler {
	return &ConjugateSampler{NodeSampler: NewNodeSampler(g, id), family: f.Family, factory: f}
}

// ConjugateSampler draws a node from its exact posterior given its
// likelihood children. The incremental log-weight is the log marginal
// likelihood of those children.
type ConjugateSampler struct {
	*NodeSampler
	family  Family
	factory *ConjugateFactory
}

func (s *ConjugateSampler) Name() string { return s.family.Name() }

// Family returns the conjugate family.
func (s *ConjugateSampler) Family() Family {
	return s.family
}

// Posterior computes the posterior of the node under the values held by p.
// ok is false when this particle's values admit no closed form.
func (s *ConjugateSampler) Posterior(p *particle.Particle, rng core.RNG) (Posterior, bool, error) {
	g, id := s.g, s.id
	if err := Ensure(g, p, g.Parents(id), rng); err != nil {
		return Posterior{}, false, err
	}
	sn := g.Stochastic(id)
	prior := paramValues(p, sn)
	if !sn.Distribution().CheckParamValues(prior) {
		return Posterior{}, false, core.NewRuntimeError(id, ErrBadParams, "%s: prior parameters %v out of domain", g.Label(id), prior)
	}

	dependsOnNode := func(n core.NodeID) bool { return g.DependsOnThrough(id, n) }
	children := g.LikelihoodChildren(id)
	obs := make([]Observation, 0, len(children))
	for _, c := range children {
		cn := g.Stochastic(c)
		if err := ensureExcept(g, p, g.Parents(c), rng, dependsOnNode); err != nil {
			return Posterior{}, false, err
		}
		l, _ := s.factory.likelihood(cn.Distribution().Name())
		y, _ := g.ObservedValue(c)
		o := Observation{Dist: l.Dist, Value: y, Params: make([]core.Value, len(cn.Params()))}
		for j, param := range cn.Params() {
			if j == l.Position {
				continue
			}
			o.Params[j], _ = p.Value(param)
		}
		a, b, ok, err := GetMLinearTransform(g, p, id, cn.Params()[l.Position])
		if err != nil {
			return Posterior{}, false, err
		}
		if !ok {
			return Posterior{}, false, nil
		}
		o.A, o.B = a, b.RawVector().Data
		obs = append(obs, o)
	}

	post, err := s.family.Posterior(prior, obs)
	if errors.Is(err, ErrNoClosedForm) {
		return Posterior{}, false, nil
	}
	if err != nil {
		return Posterior{}, false, atNode(id, err)
	}
	return post, true, nil
}

// Sample draws from the posterior, falling back to the prior when this
// particle's values admit no closed form.
func (s *ConjugateSampler) Sample(p *particle.Particle, rng core.RNG) (float64, error) {
	post, ok, err := s.Posterior(p, rng)
	if err != nil {
		return 0, err
	}
	if !ok {
		return s.NodeSampler.Sample(p, rng)
	}
	dist := s.g.Stochastic(s.id).Distribution()
	v, err := dist.Sample(rng, post.Params, nil, nil)
	if err != nil {
		return 0, atNode(s.id, err)
	}
	p.SetValue(s.id, v)
	return post.LogMarginal, nil
}
