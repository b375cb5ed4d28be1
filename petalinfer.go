// Package petalinfer is a Sequential Monte Carlo inference engine for
// directed graphical models.
//
// A model is a graph of constant, logical (deterministic) and stochastic
// nodes, some of them observed. The particle filter samples the unobserved
// stochastic nodes one at a time, choosing for each node the best sampler
// available: an exact conjugate posterior, an enumeration of a finite
// discrete support, or the prior. The filtering record can then be smoothed
// backward.
//
// This file re-exports the most used types and offers one-call entry
// points. For finer control import the subpackages directly:
//
//	import "github.com/petal-labs/petalinfer/graph"
//	import "github.com/petal-labs/petalinfer/smc"
//	import "github.com/petal-labs/petalinfer/smoother"
package petalinfer

import (
	"context"
	"errors"

	"github.com/petal-labs/petalinfer/core"
	"github.com/petal-labs/petalinfer/distribution"
	"github.com/petal-labs/petalinfer/function"
	"github.com/petal-labs/petalinfer/graph"
	"github.com/petal-labs/petalinfer/monitor"
	"github.com/petal-labs/petalinfer/smc"
	"github.com/petal-labs/petalinfer/smoother"
)

// Type aliases
type (
	// NodeID is the handle of a node within a graph.
	NodeID = core.NodeID

	// Value is a node value: a scalar, vector or matrix of float64.
	Value = core.Value

	// Graph is a frozen model graph.
	Graph = graph.Graph

	// ModelDefinition is the serializable form of a model.
	ModelDefinition = graph.ModelDefinition

	// NodeDef is one node of a ModelDefinition.
	NodeDef = graph.NodeDef

	// Param is a node parameter: a reference or a literal.
	Param = graph.Param

	// Options controls a particle run.
	Options = smc.Options

	// Event is a structured record emitted during a run.
	Event = smc.Event

	// Monitor is the filtering record of a run.
	Monitor = monitor.Monitor
)

// Function aliases
var (
	// Ref returns a parameter referencing a named node.
	Ref = graph.Ref

	// Lit returns a scalar literal parameter.
	Lit = graph.Lit

	// DefaultOptions returns the default particle filter options.
	DefaultOptions = smc.DefaultOptions

	// ErrWeightCollapse is returned when every particle weight is zero.
	ErrWeightCollapse = smc.ErrWeightCollapse
)

// Build replays a model definition into a frozen graph using the built-in
// distributions and functions.
func Build(md *ModelDefinition) (*Graph, error) {
	return graph.Build(md, distribution.Builtins(), function.Builtins())
}

// Result is the outcome of Infer.
type Result struct {
	Graph  *Graph
	Filter *smc.Filter

	// LogEvidence is the log normalizing constant of the observed nodes;
	// -Inf when the weights collapsed.
	LogEvidence float64
}

// Infer builds the model and runs the particle filter to the end. Nodes
// named in the model's monitor list are recorded in addition to any in
// opts.Monitor. A weight collapse is reported as ErrWeightCollapse along
// with a non-nil Result.
func Infer(ctx context.Context, md *ModelDefinition, opts Options) (*Result, error) {
	g, err := Build(md)
	if err != nil {
		return nil, err
	}
	ids, err := md.MonitorIDs(g)
	if err != nil {
		return nil, err
	}
	opts.Monitor = append(append([]NodeID(nil), opts.Monitor...), ids...)
	if opts.Model == "" {
		opts.Model = md.ID
	}

	f, err := smc.New(g, opts)
	if err != nil {
		return nil, err
	}
	logZ, err := f.Run(ctx)
	res := &Result{Graph: g, Filter: f, LogEvidence: logZ}
	if err != nil && !errors.Is(err, smc.ErrWeightCollapse) {
		return nil, err
	}
	return res, err
}

// Posterior summarizes the named node at the last filter step.
func (r *Result) Posterior(name string) (*monitor.ScalarAccumulator, error) {
	id, ok := r.Graph.NodeByName(name)
	if !ok {
		return nil, core.NewLogicError("petalinfer.Posterior", graph.ErrNodeNotFound, "no node named %q", name)
	}
	mon := r.Filter.Monitor()
	acc := monitor.NewScalarAccumulator()
	if err := mon.Accumulate(mon.Len()-1, id, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// Smooth runs the backward smoother over the filtering record and returns
// the smoothed summary of the node sampled at each step, first step first.
func (r *Result) Smooth() ([]*monitor.ScalarAccumulator, error) {
	mon := r.Filter.Monitor()
	s, err := smoother.New(mon, smc.NewGraphKernel(r.Graph))
	if err != nil {
		return nil, err
	}
	if err := s.Initialize(); err != nil {
		return nil, err
	}
	out := make([]*monitor.ScalarAccumulator, mon.Len())
	for {
		snap, err := mon.At(s.Step())
		if err != nil {
			return nil, err
		}
		acc := monitor.NewScalarAccumulator()
		if err := s.Accumulate(snap.Node, acc); err != nil {
			return nil, err
		}
		out[s.Step()] = acc
		if s.State() == smoother.Terminal {
			return out, nil
		}
		if err := s.IterateBack(); err != nil {
			return nil, err
		}
	}
}
