// Package monitor records the filtering distribution of a particle run: one
// snapshot of the tracked node values and normalized weights per step.
//
// A Monitor is append-only while the filter runs and read-only once sealed;
// the backward smoother consumes only sealed monitors.
package monitor

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/petal-labs/petalinfer/core"
)

// Monitor errors
var (
	ErrSealed      = errors.New("monitor is sealed")
	ErrNotSealed   = errors.New("monitor is not sealed")
	ErrStepRange   = errors.New("step out of range")
	ErrNotTracked  = errors.New("node is not tracked")
	ErrBadSnapshot = errors.New("malformed snapshot")
)

// Snapshot is the particle set after one filter step.
type Snapshot struct {
	// Step is the zero-based filter step.
	Step int `json:"step"`

	// Node is the node sampled at this step.
	Node core.NodeID `json:"node"`

	// Weights are the normalized particle weights. A degenerate particle
	// has weight zero.
	Weights []float64 `json:"weights"`

	// Values holds, per tracked node, one value per particle. Nodes not yet
	// available at this step are absent.
	Values map[core.NodeID][]core.Value `json:"values"`
}

// Len returns the number of particles.
func (s *Snapshot) Len() int {
	return len(s.Weights)
}

// Value returns the value of node in particle i.
func (s *Snapshot) Value(node core.NodeID, i int) (core.Value, bool) {
	vals, ok := s.Values[node]
	if !ok || i < 0 || i >= len(vals) {
		return core.Value{}, false
	}
	return vals[i], true
}

// LogWeights returns the log of the normalized weights.
func (s *Snapshot) LogWeights() []float64 {
	out := make([]float64, len(s.Weights))
	for i, w := range s.Weights {
		out[i] = math.Log(w)
	}
	return out
}

// Nodes returns the tracked nodes present in the snapshot, sorted.
func (s *Snapshot) Nodes() []core.NodeID {
	out := make([]core.NodeID, 0, len(s.Values))
	for id := range s.Values {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (s *Snapshot) validate() error {
	for id, vals := range s.Values {
		if len(vals) != len(s.Weights) {
			return fmt.Errorf("%w: step %d: %d values for %v, %d weights", ErrBadSnapshot, s.Step, len(vals), id, len(s.Weights))
		}
	}
	return nil
}

// Monitor is an ordered sequence of snapshots. It is safe for concurrent use.
type Monitor struct {
	mu     sync.RWMutex
	nodes  []core.NodeID
	snaps  []Snapshot
	sealed bool
}

// New creates a monitor tracking nodes.
func New(nodes []core.NodeID) *Monitor {
	n := slices.Clone(nodes)
	slices.Sort(n)
	return &Monitor{nodes: slices.Compact(n)}
}

// Nodes returns the tracked nodes, sorted.
func (m *Monitor) Nodes() []core.NodeID {
	return slices.Clone(m.nodes)
}

// Tracks reports whether node is tracked.
func (m *Monitor) Tracks(node core.NodeID) bool {
	_, ok := slices.BinarySearch(m.nodes, node)
	return ok
}

// Append adds the snapshot for the next step. Appending to a sealed
// monitor is a LogicError.
func (m *Monitor) Append(s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sealed {
		return core.NewLogicError("monitor.Append", ErrSealed, "cannot append step %d", s.Step)
	}
	if s.Step != len(m.snaps) {
		return core.NewLogicError("monitor.Append", ErrStepRange, "got step %d, want %d", s.Step, len(m.snaps))
	}
	if err := s.validate(); err != nil {
		return core.NewLogicError("monitor.Append", err, "invalid snapshot")
	}
	m.snaps = append(m.snaps, s)
	return nil
}

// Seal makes the monitor read-only. Sealing twice is a no-op.
func (m *Monitor) Seal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sealed = true
}

// Sealed reports whether the monitor is read-only.
func (m *Monitor) Sealed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sealed
}

// Len returns the number of recorded steps.
func (m *Monitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snaps)
}

// At returns the snapshot for step. The snapshot must not be modified.
func (m *Monitor) At(step int) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if step < 0 || step >= len(m.snaps) {
		return nil, core.NewLogicError("monitor.At", ErrStepRange, "step %d of %d", step, len(m.snaps))
	}
	return &m.snaps[step], nil
}

// Snapshots returns all snapshots in step order.
func (m *Monitor) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.snaps)
}

// Accumulate feeds the filtering distribution of node at step into acc.
func (m *Monitor) Accumulate(step int, node core.NodeID, acc Accumulator) error {
	s, err := m.At(step)
	if err != nil {
		return err
	}
	return Project(s, s.Weights, node, acc)
}

// Project feeds the values of node in s, weighted by weights, into acc.
func Project(s *Snapshot, weights []float64, node core.NodeID, acc Accumulator) error {
	vals, ok := s.Values[node]
	if !ok {
		return core.NewLogicError("monitor.Accumulate", ErrNotTracked, "%v is not available at step %d", node, s.Step)
	}
	if len(weights) != len(vals) {
		return core.NewLogicError("monitor.Accumulate", ErrBadSnapshot, "%d weights for %d values", len(weights), len(vals))
	}
	if len(vals) == 0 {
		return nil
	}
	acc.Reset(vals[0].Dim)
	for i, v := range vals {
		acc.Push(v, weights[i])
	}
	return nil
}
