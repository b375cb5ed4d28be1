// Package smoother implements forward-filtering backward-smoothing (FFBSm)
// over the sealed filtering record of a particle run.
//
// The smoother reads only the Monitor and a transition Kernel; it never
// touches live particles.
package smoother

import (
	"errors"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/petal-labs/petalinfer/core"
	"github.com/petal-labs/petalinfer/monitor"
	"github.com/petal-labs/petalinfer/resample"
	"github.com/petal-labs/petalinfer/smc"
)

// Smoother errors. They wrap core.ErrLogic except ErrZeroMass, which is a
// runtime error.
var (
	ErrNotInitialized = errors.New("smoother is not initialized")
	ErrPastFirstStep  = errors.New("smoother is already at the first step")
	ErrEmptyMonitor   = errors.New("monitor has no snapshots")
	ErrZeroMass       = errors.New("smoothed weights have zero mass")
)

// State is the lifecycle of a Smoother.
type State int

const (
	Uninitialized State = iota
	Initialized
	Iterating
	Terminal
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Iterating:
		return "iterating"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Kernel evaluates the transition density between particles of two
// consecutive snapshots.
type Kernel interface {
	// LogTransition returns the log density of particle j of next given
	// particle i of prev.
	LogTransition(prev *monitor.Snapshot, i int, next *monitor.Snapshot, j int) (float64, error)
}

// Option configures a Smoother.
type Option func(*Smoother)

// WithLogger sets the logger. By default logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(s *Smoother) { s.logger = l }
}

// WithEventHandler sets a handler for smoother.iterated events of runID.
func WithEventHandler(runID string, h smc.EventHandler) Option {
	return func(s *Smoother) {
		s.runID = runID
		s.handler = h
	}
}

// Smoother computes smoothed particle weights backward in time.
// A Smoother is not safe for concurrent use.
type Smoother struct {
	mon    *monitor.Monitor
	kernel Kernel

	logger  *slog.Logger
	runID   string
	handler smc.EventHandler
	seq     uint64

	state   State
	step    int
	weights []float64
}

// New creates a smoother over a sealed monitor.
func New(mon *monitor.Monitor, kernel Kernel, opts ...Option) (*Smoother, error) {
	if mon == nil || kernel == nil {
		return nil, core.NewLogicError("smoother.New", ErrEmptyMonitor, "monitor and kernel are required")
	}
	if !mon.Sealed() {
		return nil, core.NewLogicError("smoother.New", monitor.ErrNotSealed, "filtering must complete before smoothing")
	}
	s := &Smoother{mon: mon, kernel: kernel, step: -1}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s, nil
}

// State returns the lifecycle state.
func (s *Smoother) State() State { return s.state }

// Step returns the step the smoothed weights refer to (-1 before
// Initialize).
func (s *Smoother) Step() int { return s.step }

// Weights returns the smoothed normalized weights at the current step.
func (s *Smoother) Weights() []float64 {
	return append([]float64(nil), s.weights...)
}

// Initialize seeds the smoothed weights with the filtering weights of the
// last step. Calling it again restarts from the last step.
func (s *Smoother) Initialize() error {
	n := s.mon.Len()
	if n == 0 {
		return core.NewLogicError("smoother.Initialize", ErrEmptyMonitor, "nothing to smooth")
	}
	last, err := s.mon.At(n - 1)
	if err != nil {
		return err
	}
	s.step = n - 1
	s.weights = append([]float64(nil), last.Weights...)
	s.state = Initialized
	if s.step == 0 {
		s.state = Terminal
	}
	return nil
}

// IterateBack moves the smoothed weights from step t+1 to step t:
//
//	w(t|T)_i = w(t)_i * sum_j w(t+1|T)_j f(j|i) / sum_k w(t)_k f(j|k)
//
// computed in log space. Calling it at the first step is a LogicError.
func (s *Smoother) IterateBack() error {
	switch {
	case s.state == Uninitialized:
		return core.NewLogicError("smoother.IterateBack", ErrNotInitialized, "call Initialize first")
	case s.step <= 0:
		return core.NewLogicError("smoother.IterateBack", ErrPastFirstStep, "no step before %d", s.step)
	}
	start := time.Now()

	prev, err := s.mon.At(s.step - 1)
	if err != nil {
		return err
	}
	next, err := s.mon.At(s.step)
	if err != nil {
		return err
	}
	prevLogW := prev.LogWeights()
	np, nn := prev.Len(), next.Len()

	// trans[i][j] = log f(j|i)
	trans := make([][]float64, np)
	for i := 0; i < np; i++ {
		trans[i] = make([]float64, nn)
		if math.IsInf(prevLogW[i], -1) {
			for j := range trans[i] {
				trans[i][j] = math.Inf(-1)
			}
			continue
		}
		for j := 0; j < nn; j++ {
			if s.weights[j] == 0 {
				trans[i][j] = math.Inf(-1)
				continue
			}
			lf, err := s.kernel.LogTransition(prev, i, next, j)
			if err != nil {
				return err
			}
			trans[i][j] = lf
		}
	}

	// denom[j] = log sum_k w(t)_k f(j|k)
	denom := make([]float64, nn)
	col := make([]float64, np)
	for j := 0; j < nn; j++ {
		for k := 0; k < np; k++ {
			col[k] = prevLogW[k] + trans[k][j]
		}
		denom[j] = floats.LogSumExp(col)
	}

	logw := make([]float64, np)
	terms := make([]float64, nn)
	for i := 0; i < np; i++ {
		for j := 0; j < nn; j++ {
			terms[j] = math.Inf(-1)
			if s.weights[j] > 0 && !math.IsInf(denom[j], -1) {
				terms[j] = math.Log(s.weights[j]) + trans[i][j] - denom[j]
			}
		}
		logw[i] = prevLogW[i] + floats.LogSumExp(terms)
	}

	total := floats.LogSumExp(logw)
	if math.IsInf(total, -1) || math.IsNaN(total) {
		return core.NewRuntimeError(next.Node, ErrZeroMass, "smoothing step %d to %d", s.step, s.step-1)
	}
	for i := range logw {
		logw[i] = math.Exp(logw[i] - total)
	}

	s.weights = logw
	s.step--
	s.state = Iterating
	if s.step == 0 {
		s.state = Terminal
	}

	s.logger.Debug("smoother iterated",
		slog.Int("step", s.step),
		slog.Float64("ess", resample.ESS(s.weights)),
	)
	if s.handler != nil {
		s.seq++
		now := time.Now()
		e := smc.NewEvent(smc.EventSmootherIterated, s.runID, now).
			WithStep(s.step, "").
			WithElapsed(now.Sub(start)).
			WithPayload("ess", resample.ESS(s.weights))
		e.Seq = s.seq
		s.handler(e)
	}
	return nil
}

// Accumulate feeds the smoothed distribution of node at the current step
// into acc.
func (s *Smoother) Accumulate(node core.NodeID, acc monitor.Accumulator) error {
	if s.state == Uninitialized {
		return core.NewLogicError("smoother.Accumulate", ErrNotInitialized, "call Initialize first")
	}
	snap, err := s.mon.At(s.step)
	if err != nil {
		return err
	}
	return monitor.Project(snap, s.weights, node, acc)
}
