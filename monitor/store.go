package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists the snapshots of particle runs.
type Store interface {
	// Append stores the snapshot of one step of a run.
	Append(ctx context.Context, runID string, s Snapshot) error

	// List returns the snapshots of a run in step order.
	List(ctx context.Context, runID string) ([]Snapshot, error)

	// RunIDs returns the stored run IDs, sorted.
	RunIDs(ctx context.Context) ([]string, error)
}

// Load rebuilds a sealed Monitor from the stored snapshots of a run.
func Load(ctx context.Context, store Store, runID string) (*Monitor, error) {
	snaps, err := store.List(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("monitor: run %q has no snapshots", runID)
	}
	m := New(snaps[len(snaps)-1].Nodes())
	for _, s := range snaps {
		if err := m.Append(s); err != nil {
			return nil, fmt.Errorf("monitor: loading run %q: %w", runID, err)
		}
	}
	m.Seal()
	return m, nil
}

// MemoryStore is a thread-safe in-memory snapshot store.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string][]Snapshot // runID -> snapshots
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snaps: make(map[string][]Snapshot),
	}
}

func (s *MemoryStore) Append(_ context.Context, runID string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[runID] = append(s.snaps[runID], snap)
	return nil
}

func (s *MemoryStore) List(_ context.Context, runID string) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]Snapshot(nil), s.snaps[runID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out, nil
}

func (s *MemoryStore) RunIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.snaps))
	for id := range s.snaps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)
