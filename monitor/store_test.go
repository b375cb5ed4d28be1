package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/petal-labs/petalinfer/core"
)

// testDSN returns a unique shared-memory DSN for test isolation.
func testDSN(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
}

func newTestStore(t *testing.T, cfg SQLiteStoreConfig) *SQLiteStore {
	t.Helper()
	if cfg.DSN == "" {
		cfg.DSN = testDSN(t)
	}
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testStores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newTestStore(t, SQLiteStoreConfig{}),
	}
}

func TestStore_AppendList(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for step := 0; step < 3; step++ {
				snap := makeSnapshot(step, []float64{0.25, 0.75}, float64(step), float64(step)+0.5)
				snap.Values[5] = []core.Value{core.Vector(1, 2), core.Vector(3, 4)}
				if err := store.Append(ctx, "run-1", snap); err != nil {
					t.Fatalf("Append(%d): %v", step, err)
				}
			}
			if err := store.Append(ctx, "run-0", makeSnapshot(0, []float64{1}, 9)); err != nil {
				t.Fatalf("Append: %v", err)
			}

			snaps, err := store.List(ctx, "run-1")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(snaps) != 3 {
				t.Fatalf("got %d snapshots, want 3", len(snaps))
			}
			last := snaps[2]
			if last.Step != 2 || last.Node != 2 {
				t.Errorf("last snapshot step=%d node=%v", last.Step, last.Node)
			}
			if v, ok := last.Value(0, 1); !ok || v.Scalar() != 2.5 {
				t.Errorf("Value(0, 1) = %v, %v", v, ok)
			}
			if v, ok := last.Value(5, 1); !ok || !v.Equal(core.Vector(3, 4)) {
				t.Errorf("Value(5, 1) = %v, %v", v, ok)
			}

			ids, err := store.RunIDs(ctx)
			if err != nil {
				t.Fatalf("RunIDs: %v", err)
			}
			if len(ids) != 2 || ids[0] != "run-0" || ids[1] != "run-1" {
				t.Errorf("RunIDs() = %v", ids)
			}

			m, err := Load(ctx, store, "run-1")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !m.Sealed() || m.Len() != 3 {
				t.Errorf("loaded monitor sealed=%v len=%d", m.Sealed(), m.Len())
			}
			if _, err := Load(ctx, store, "missing"); err == nil {
				t.Error("Load of an unknown run succeeded")
			}
		})
	}
}

func TestSQLiteStore_DuplicateStep(t *testing.T) {
	store := newTestStore(t, SQLiteStoreConfig{})
	ctx := context.Background()
	if err := store.Append(ctx, "r", makeSnapshot(0, []float64{1}, 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, "r", makeSnapshot(0, []float64{1}, 1)); err == nil {
		t.Error("duplicate step accepted")
	}
}

func TestSQLiteStore_Prune(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	store := newTestStore(t, SQLiteStoreConfig{
		RetentionAge: time.Hour,
		Now:          func() time.Time { return clock },
	})
	ctx := context.Background()

	if err := store.Append(ctx, "old", makeSnapshot(0, []float64{1}, 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	clock = now.Add(2 * time.Hour)
	if err := store.Append(ctx, "new", makeSnapshot(0, []float64{1}, 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Prune(ctx); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	ids, err := store.RunIDs(ctx)
	if err != nil {
		t.Fatalf("RunIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "new" {
		t.Errorf("RunIDs() after prune = %v, want [new]", ids)
	}

	if err := store.Delete(ctx, "new"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if snaps, _ := store.List(ctx, "new"); len(snaps) != 0 {
		t.Errorf("List after Delete = %d snapshots", len(snaps))
	}
}
