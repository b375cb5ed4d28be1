// Package smc implements the Sequential Monte Carlo particle filter that
// drives the node samplers over a frozen graph, one unobserved stochastic
// node per step, and records the filtering distribution in a Monitor.
package smc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/petal-labs/petalinfer/core"
	"github.com/petal-labs/petalinfer/graph"
	"github.com/petal-labs/petalinfer/monitor"
	"github.com/petal-labs/petalinfer/particle"
	"github.com/petal-labs/petalinfer/resample"
	"github.com/petal-labs/petalinfer/sampler"
)

// Filter errors
var (
	// ErrWeightCollapse is returned by Run when every particle has zero
	// weight. The log normalizing constant is then -Inf.
	ErrWeightCollapse = errors.New("all particle weights collapsed")

	ErrNotInitialized = errors.New("filter is not initialized")
	ErrAtEnd          = errors.New("filter has no steps left")
	ErrBadOptions     = errors.New("invalid filter options")
)

// Options controls a particle run.
type Options struct {
	// Particles is the number of particles (default: 1000).
	Particles int

	// ESSThreshold triggers resampling when the effective sample size falls
	// below ESSThreshold * Particles (default: 0.5). Zero disables
	// resampling; one resamples at every step.
	ESSThreshold float64

	// Resampler names the resampling scheme (default: "stratified").
	Resampler string

	// Seed seeds the per-particle random streams.
	Seed uint64

	// Concurrency sets how many particles are advanced in parallel
	// (default: 1). Results do not depend on it.
	Concurrency int

	// Model names the model in events and logs.
	Model string

	// Monitor lists extra nodes to record besides the sampled ones.
	Monitor []core.NodeID

	// Factories are tried in order to pick each node's sampler. If nil,
	// sampler.DefaultFactories(MaxSupport) is used.
	Factories []sampler.Factory

	// MaxSupport bounds the support enumerated by the discrete sampler
	// (default: sampler.DefaultMaxSupport).
	MaxSupport int

	// Store, if set, also receives every snapshot.
	Store monitor.Store

	// Logger receives debug and warning logs. If nil, logs are discarded.
	Logger *slog.Logger

	// EventHandler receives events during the run.
	EventHandler EventHandler

	// EventEmitterDecorator wraps the internal event emitter.
	EventEmitterDecorator EventEmitterDecorator

	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		Particles:    1000,
		ESSThreshold: 0.5,
		Resampler:    "stratified",
		Concurrency:  1,
		MaxSupport:   sampler.DefaultMaxSupport,
	}
}

func (o *Options) applyDefaults() error {
	def := DefaultOptions()
	if o.Particles == 0 {
		o.Particles = def.Particles
	}
	if o.Particles < 0 {
		return fmt.Errorf("%w: %d particles", ErrBadOptions, o.Particles)
	}
	if o.ESSThreshold < 0 || o.ESSThreshold > 1 || math.IsNaN(o.ESSThreshold) {
		return fmt.Errorf("%w: ESS threshold %v not in [0, 1]", ErrBadOptions, o.ESSThreshold)
	}
	if o.Resampler == "" {
		o.Resampler = def.Resampler
	}
	if o.Concurrency <= 0 {
		o.Concurrency = def.Concurrency
	}
	if o.MaxSupport <= 0 {
		o.MaxSupport = def.MaxSupport
	}
	if o.Factories == nil {
		o.Factories = sampler.DefaultFactories(o.MaxSupport)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return nil
}

// StepResult summarizes one filter step.
type StepResult struct {
	Step int
	Node core.NodeID

	// ESS is the effective sample size before advancing.
	ESS       float64
	Resampled bool

	// Degenerate counts the particles that failed at this step.
	Degenerate int

	// LogIncrement is this step's factor of the normalizing constant.
	LogIncrement float64

	// Collapsed is set when no particle has positive weight.
	Collapsed bool
}

// Filter is a particle filter over a frozen graph. A Filter is not safe
// for concurrent use; Step advances particles in parallel internally.
type Filter struct {
	g         *graph.Graph
	opts      Options
	runID     string
	assign    []sampler.Assignment
	resampler resample.Resampler
	tracked   []core.NodeID
	ready     map[core.NodeID]int // first step at which a tracked node has a value

	particles   []*particle.Particle
	rngs        []core.RNG
	resampleRNG core.RNG
	mon         *monitor.Monitor

	step        int
	logZ        float64
	initialized bool
	collapsed   bool

	seq     seqGen
	emit    EventEmitter
	started time.Time
}

// New creates a filter for g, assigning a sampler to every unobserved
// stochastic node.
func New(g *graph.Graph, opts Options) (*Filter, error) {
	if g == nil || !g.Frozen() {
		return nil, core.NewLogicError("smc.New", graph.ErrNotFrozen, "graph must be frozen")
	}
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}
	rs, err := resample.ByName(opts.Resampler)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadOptions, err)
	}
	assign, err := sampler.Assign(g, opts.Factories)
	if err != nil {
		return nil, err
	}

	f := &Filter{
		g:         g,
		opts:      opts,
		runID:     uuid.NewString(),
		assign:    assign,
		resampler: rs,
		ready:     make(map[core.NodeID]int),
	}

	stepOf := make(map[core.NodeID]int, len(assign))
	for i, a := range assign {
		stepOf[a.Node] = i
		f.opts.Logger.Debug("sampler assigned",
			slog.String("node", g.Label(a.Node)),
			slog.String("sampler", a.Sampler.Name()),
			slog.Int("step", i),
		)
	}
	for _, id := range append(g.SampledNodes(), opts.Monitor...) {
		if g.Node(id) == nil {
			return nil, core.NewLogicError("smc.New", graph.ErrNodeNotFound, "monitored %v does not exist", id)
		}
		if _, ok := f.ready[id]; ok {
			continue
		}
		f.ready[id] = readyStep(g, id, stepOf)
		f.tracked = append(f.tracked, id)
	}
	f.mon = monitor.New(f.tracked)

	emit := func(e Event) {
		e.Seq = f.seq.Next()
		if f.opts.EventHandler != nil {
			f.opts.EventHandler(e)
		}
	}
	if opts.EventEmitterDecorator != nil {
		emit = opts.EventEmitterDecorator(emit)
	}
	f.emit = emit
	return f, nil
}

// readyStep returns the step after which every unknown ancestor of id has
// been sampled.
func readyStep(g *graph.Graph, id core.NodeID, stepOf map[core.NodeID]int) int {
	if s, ok := stepOf[id]; ok {
		return s
	}
	ready := 0
	stack := []core.NodeID{id}
	seen := make(map[core.NodeID]bool)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if s, ok := stepOf[cur]; ok {
			ready = max(ready, s)
			continue
		}
		if g.IsObserved(cur) {
			continue
		}
		stack = append(stack, g.Parents(cur)...)
	}
	return ready
}

// RunID returns the unique identifier of this run.
func (f *Filter) RunID() string { return f.runID }

// Graph returns the graph being filtered.
func (f *Filter) Graph() *graph.Graph { return f.g }

// Assignments returns the sampler chosen for each step.
func (f *Filter) Assignments() []sampler.Assignment {
	return append([]sampler.Assignment(nil), f.assign...)
}

// Monitor returns the filtering record. It is sealed once the run ends.
func (f *Filter) Monitor() *monitor.Monitor { return f.mon }

// Particles returns the current particles.
func (f *Filter) Particles() []*particle.Particle {
	return append([]*particle.Particle(nil), f.particles...)
}

// Current returns the number of completed steps.
func (f *Filter) Current() int { return f.step }

// AtEnd reports whether every node has been sampled or the weights have
// collapsed.
func (f *Filter) AtEnd() bool {
	return f.initialized && (f.collapsed || f.step >= len(f.assign))
}

// LogNormConst returns the running estimate of the log normalizing
// constant (log evidence) of the observed nodes.
func (f *Filter) LogNormConst() float64 { return f.logZ }

// Initialize creates the particles and scores the observed nodes that
// depend on no unknown node.
func (f *Filter) Initialize(ctx context.Context) error {
	n := f.opts.Particles
	f.particles = make([]*particle.Particle, n)
	f.rngs = make([]core.RNG, n)
	for i := range f.particles {
		f.particles[i] = particle.New(f.g.Len())
		f.rngs[i] = core.NewStream(f.opts.Seed, uint64(i))
	}
	f.resampleRNG = core.NewStream(f.opts.Seed, uint64(n))
	f.mon = monitor.New(f.tracked)
	f.step, f.collapsed = 0, false
	f.started = f.opts.Now()

	f.logZ = 0
	scratch := particle.New(f.g.Len())
	for _, id := range f.g.FreeLikelihood() {
		lp, err := sampler.LogDensity(f.g, scratch, id, nil)
		if err != nil {
			return err
		}
		f.logZ += lp
	}
	f.initialized = true

	f.emit(NewEvent(EventRunStarted, f.runID, f.started).
		WithPayload("model", f.opts.Model).
		WithPayload("particles", n).
		WithPayload("steps", len(f.assign)))
	f.opts.Logger.Debug("run started",
		slog.String("run_id", f.runID),
		slog.String("model", f.opts.Model),
		slog.Int("particles", n),
		slog.Int("steps", len(f.assign)),
	)

	if len(f.assign) == 0 {
		f.finish(ctx)
	}
	return nil
}

// Step resamples if the effective sample size is too low, then advances
// every particle by the next node. A runtime error in one particle marks
// that particle degenerate; any other error aborts the step.
func (f *Filter) Step(ctx context.Context) (StepResult, error) {
	if !f.initialized {
		return StepResult{}, core.NewLogicError("smc.Step", ErrNotInitialized, "call Initialize first")
	}
	if f.AtEnd() {
		return StepResult{}, core.NewLogicError("smc.Step", ErrAtEnd, "%d steps completed", f.step)
	}
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}

	a := f.assign[f.step]
	label := f.g.Label(a.Node)
	stepStart := f.opts.Now()
	res := StepResult{Step: f.step, Node: a.Node}
	f.emit(NewEvent(EventStepStarted, f.runID, stepStart).WithStep(f.step, label))

	logw := f.logWeights()
	res.ESS = resample.ESS(normalizedWeights(logw))
	if f.step > 0 && res.ESS < f.opts.ESSThreshold*float64(len(f.particles)) {
		if err := f.resample(logw); err != nil {
			return res, err
		}
		res.Resampled = true
		f.emit(NewEvent(EventResample, f.runID, f.opts.Now()).
			WithStep(f.step, label).
			WithPayload("ess", res.ESS).
			WithPayload("scheme", f.resampler.Name()))
		f.opts.Logger.Debug("resampled",
			slog.Int("step", f.step),
			slog.Float64("ess", res.ESS),
			slog.String("scheme", f.resampler.Name()),
		)
		logw = f.logWeights()
	}
	before := floats.LogSumExp(logw)

	failures, err := f.advance(ctx, a.Sampler)
	if err != nil {
		return res, err
	}
	for i, ferr := range failures {
		if ferr == nil {
			continue
		}
		res.Degenerate++
		f.emit(NewEvent(EventParticleDegenerate, f.runID, f.opts.Now()).
			WithStep(f.step, label).
			WithPayload("particle", i).
			WithPayload("error", ferr.Error()))
		f.opts.Logger.Warn("particle degenerate",
			slog.Int("step", f.step),
			slog.String("node", label),
			slog.Int("particle", i),
			slog.Any("error", ferr),
		)
	}

	after := floats.LogSumExp(f.logWeights())
	if math.IsInf(after, -1) || math.IsNaN(after) {
		res.Collapsed = true
		res.LogIncrement = math.Inf(-1)
		f.collapsed = true
		f.logZ = math.Inf(-1)
	} else {
		res.LogIncrement = after - before
		f.logZ += res.LogIncrement
		for _, p := range f.particles {
			if dead, _ := p.Degenerate(); !dead {
				p.SetLogWeight(p.LogWeight() - after)
			}
		}
	}

	if err := f.record(ctx, a.Node); err != nil {
		return res, err
	}
	f.step++

	f.emit(NewEvent(EventStepFinished, f.runID, f.opts.Now()).
		WithStep(res.Step, label).
		WithElapsed(f.opts.Now().Sub(stepStart)).
		WithPayload("ess", res.ESS).
		WithPayload("resampled", res.Resampled).
		WithPayload("degenerate", res.Degenerate).
		WithPayload("log_increment", res.LogIncrement).
		WithPayload("sampler", a.Sampler.Name()))

	if f.AtEnd() {
		f.finish(ctx)
	}
	return res, nil
}

// Run initializes the filter if needed and steps to the end. It returns
// the log normalizing constant; ErrWeightCollapse reports a collapse.
func (f *Filter) Run(ctx context.Context) (float64, error) {
	if !f.initialized {
		if err := f.Initialize(ctx); err != nil {
			return 0, err
		}
	}
	for !f.AtEnd() {
		if _, err := f.Step(ctx); err != nil {
			return f.logZ, err
		}
	}
	if f.collapsed {
		return f.logZ, fmt.Errorf("%w at step %d", ErrWeightCollapse, f.step-1)
	}
	return f.logZ, nil
}

func (f *Filter) finish(_ context.Context) {
	f.mon.Seal()
	now := f.opts.Now()
	f.emit(NewEvent(EventRunFinished, f.runID, now).
		WithElapsed(now.Sub(f.started)).
		WithPayload("steps", f.step).
		WithPayload("log_norm_const", f.logZ).
		WithPayload("collapsed", f.collapsed))
	f.opts.Logger.Debug("run finished",
		slog.String("run_id", f.runID),
		slog.Int("steps", f.step),
		slog.Float64("log_norm_const", f.logZ),
		slog.Bool("collapsed", f.collapsed),
	)
}

// advance runs the sampler on every live particle. Degenerate particles
// stay dead until resampling replaces them. Runtime failures are returned
// per slot; any other error is returned as err.
func (f *Filter) advance(ctx context.Context, s sampler.Sampler) ([]error, error) {
	failures := make([]error, len(f.particles))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for i, p := range f.particles {
		if dead, _ := p.Degenerate(); dead {
			continue
		}
		g.Go(func() error {
			inc, err := s.Sample(p, f.rngs[i])
			if err == nil {
				err = p.AddToLogWeight(inc)
			}
			if err == nil {
				return nil
			}
			if !core.IsRuntime(err) {
				return err
			}
			p.MarkDegenerate(err)
			failures[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return failures, nil
}

func (f *Filter) logWeights() []float64 {
	out := make([]float64, len(f.particles))
	for i, p := range f.particles {
		out[i] = p.LogWeight()
	}
	return out
}

func normalizedWeights(logw []float64) []float64 {
	out := make([]float64, len(logw))
	total := floats.LogSumExp(logw)
	if math.IsInf(total, 0) || math.IsNaN(total) {
		return out
	}
	for i, lw := range logw {
		out[i] = math.Exp(lw - total)
	}
	return out
}

func (f *Filter) resample(logw []float64) error {
	n := len(f.particles)
	idx, err := f.resampler.Resample(f.resampleRNG, normalizedWeights(logw), n)
	if err != nil {
		return err
	}
	next := make([]*particle.Particle, n)
	for i, a := range idx {
		next[i] = f.particles[a].Clone()
		next[i].ResetWeight()
	}
	f.particles = next
	return nil
}

// record appends the snapshot of the current step to the monitor and the
// store.
func (f *Filter) record(ctx context.Context, node core.NodeID) error {
	snap := monitor.Snapshot{
		Step:    f.step,
		Node:    node,
		Weights: normalizedWeights(f.logWeights()),
		Values:  make(map[core.NodeID][]core.Value),
	}
	for _, id := range f.tracked {
		if f.ready[id] > f.step {
			continue
		}
		vals := make([]core.Value, len(f.particles))
		for i, p := range f.particles {
			if !p.Has(id) {
				if err := sampler.Ensure(f.g, p, []core.NodeID{id}, nil); err != nil && !core.IsRuntime(err) {
					return err
				}
			}
			if v, ok := p.Value(id); ok {
				vals[i] = v.Clone()
			} else {
				vals[i] = core.NewValue(f.g.Dim(id))
			}
		}
		snap.Values[id] = vals
	}

	if err := f.mon.Append(snap); err != nil {
		return err
	}
	if f.opts.Store != nil {
		if err := f.opts.Store.Append(ctx, f.runID, snap); err != nil {
			return fmt.Errorf("storing step %d: %w", f.step, err)
		}
	}
	return nil
}
