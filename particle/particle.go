// Package particle implements one weighted hypothesis of a Sequential
// Monte Carlo run: a value assignment for the nodes of a graph plus a
// log-weight.
package particle

import (
	"errors"
	"math"

	"github.com/petal-labs/petalinfer/core"
)

// Weight errors. Both are runtime errors scoped to the particle.
var (
	// ErrIncompatibleLogWeight is returned when both the current log-weight
	// and the increment are non-finite.
	ErrIncompatibleLogWeight = errors.New("incompatible log-weight and increment")

	// ErrWeightComputation is returned when the new log-weight is NaN.
	ErrWeightComputation = errors.New("failed to calculate particle weight")
)

// Particle holds node values by NodeID and a log-weight.
// A Particle is not safe for concurrent use.
type Particle struct {
	values    []core.Value
	set       []bool
	logWeight float64
	weight    float64
	dead      bool
	cause     error
}

// New creates a particle with room for n nodes and weight 1.
func New(n int) *Particle {
	return &Particle{
		values: make([]core.Value, n),
		set:    make([]bool, n),
		weight: 1,
	}
}

// Len returns the number of node slots.
func (p *Particle) Len() int {
	return len(p.values)
}

// Has reports whether a value is assigned to id.
func (p *Particle) Has(id core.NodeID) bool {
	return id >= 0 && int(id) < len(p.set) && p.set[id]
}

// Value returns the value of id. Callers must not modify the returned data.
func (p *Particle) Value(id core.NodeID) (core.Value, bool) {
	if !p.Has(id) {
		return core.Value{}, false
	}
	return p.values[id], true
}

// SetValue assigns a value to id. The particle takes ownership of v.
func (p *Particle) SetValue(id core.NodeID, v core.Value) {
	p.values[id] = v
	p.set[id] = true
}

// Unset removes the value of id.
func (p *Particle) Unset(id core.NodeID) {
	p.values[id] = core.Value{}
	p.set[id] = false
}

// Clone returns a deep copy; the copy shares no value storage with p.
func (p *Particle) Clone() *Particle {
	c := &Particle{
		values:    make([]core.Value, len(p.values)),
		set:       append([]bool(nil), p.set...),
		logWeight: p.logWeight,
		weight:    p.weight,
		dead:      p.dead,
		cause:     p.cause,
	}
	for i, v := range p.values {
		if p.set[i] {
			c.values[i] = v.Clone()
		}
	}
	return c
}

// LogWeight returns the log-weight.
func (p *Particle) LogWeight() float64 {
	return p.logWeight
}

// Weight returns exp(LogWeight).
func (p *Particle) Weight() float64 {
	return p.weight
}

// SetLogWeight replaces the log-weight.
func (p *Particle) SetLogWeight(lw float64) {
	p.logWeight = lw
	p.weight = math.Exp(lw)
}

// ResetWeight sets the log-weight to zero, as after resampling. A
// degenerate particle is revived.
func (p *Particle) ResetWeight() {
	p.SetLogWeight(0)
	p.dead, p.cause = false, nil
}

// AddToLogWeight adds inc to the log-weight. When both the current
// log-weight and inc are non-finite it fails with ErrIncompatibleLogWeight;
// when the sum is NaN it fails with ErrWeightComputation. A failing particle
// is marked degenerate. +Inf is kept as is.
func (p *Particle) AddToLogWeight(inc float64) error {
	cur := p.logWeight
	if !isFinite(cur) && !isFinite(inc) {
		err := core.NewRuntimeError(core.NullNode, ErrIncompatibleLogWeight, "log-weight %v, increment %v", cur, inc)
		p.MarkDegenerate(err)
		return err
	}
	sum := cur + inc
	if math.IsNaN(sum) {
		err := core.NewRuntimeError(core.NullNode, ErrWeightComputation, "log-weight %v, increment %v", cur, inc)
		p.MarkDegenerate(err)
		return err
	}
	p.logWeight = sum
	p.weight = math.Exp(sum)
	return nil
}

// MarkDegenerate sets the weight to zero and records why.
func (p *Particle) MarkDegenerate(cause error) {
	p.logWeight = math.Inf(-1)
	p.weight = 0
	p.dead, p.cause = true, cause
}

// Degenerate reports whether the particle was marked degenerate, and why.
func (p *Particle) Degenerate() (bool, error) {
	return p.dead, p.cause
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
