package smc

import (
	"github.com/petal-labs/petalinfer/core"
	"github.com/petal-labs/petalinfer/graph"
	"github.com/petal-labs/petalinfer/monitor"
	"github.com/petal-labs/petalinfer/particle"
	"github.com/petal-labs/petalinfer/sampler"
)

// GraphKernel evaluates transition densities between consecutive
// snapshots from the structure of a frozen graph. It reads node values
// from the snapshots only, so every stochastic ancestor of a sampled node
// must be tracked. The filter tracks all sampled nodes.
//
// A GraphKernel caches the particle it last rebuilt and is not safe for
// concurrent use.
type GraphKernel struct {
	g *graph.Graph

	prev *monitor.Snapshot
	i    int
	base *particle.Particle
}

// NewGraphKernel creates a kernel for g.
func NewGraphKernel(g *graph.Graph) *GraphKernel {
	return &GraphKernel{g: g}
}

// LogTransition returns the log prior density of the node sampled in next,
// at its value in particle j, given the values of particle i in prev.
func (k *GraphKernel) LogTransition(prev *monitor.Snapshot, i int, next *monitor.Snapshot, j int) (float64, error) {
	node := next.Node
	x, ok := next.Value(node, j)
	if !ok {
		return 0, core.NewRuntimeError(node, sampler.ErrValueUnavailable, "%s is not recorded at step %d", k.g.Label(node), next.Step)
	}

	if k.prev != prev || k.i != i || k.base == nil {
		k.base = particle.New(k.g.Len())
		for id, vals := range prev.Values {
			if int(id) < k.base.Len() && i < len(vals) {
				k.base.SetValue(id, vals[i])
			}
		}
		k.prev, k.i = prev, i
	}
	p := k.base
	p.SetValue(node, x)
	for _, d := range k.g.DeterministicDescendants(node) {
		p.Unset(d)
	}
	return sampler.LogDensity(k.g, p, node, nil)
}
