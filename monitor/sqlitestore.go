package monitor

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/petal-labs/petalinfer/core"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// timeLayout is fixed-width so that stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStoreConfig configures the SQLite snapshot store.
type SQLiteStoreConfig struct {
	// DSN is the database connection string.
	DSN string

	// RetentionAge deletes runs whose snapshots are all older than this
	// duration when Prune is called (0 = keep everything).
	RetentionAge time.Duration

	// Now returns the current time (default time.Now).
	Now func() time.Time
}

// SQLiteStore persists snapshots to a SQLite database in WAL mode.
// Weights and values are stored as JSON.
type SQLiteStore struct {
	db  *sql.DB
	cfg SQLiteStoreConfig
}

// NewSQLiteStore opens (or creates) a SQLite snapshot store.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}

	return &SQLiteStore{db: db, cfg: cfg}, nil
}

// Append stores a snapshot. A second snapshot for the same run and step
// is rejected.
func (s *SQLiteStore) Append(ctx context.Context, runID string, snap Snapshot) error {
	weightsJSON, err := json.Marshal(snap.Weights)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal weights: %w", err)
	}
	values := snap.Values
	if values == nil {
		values = map[core.NodeID][]core.Value{}
	}
	valuesJSON, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal values: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (run_id, step, node_id, particles, weights, vals, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID,
		snap.Step,
		int32(snap.Node),
		len(snap.Weights),
		string(weightsJSON),
		string(valuesJSON),
		s.cfg.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: append: %w", err)
	}
	return nil
}

// List returns the snapshots of a run in step order.
func (s *SQLiteStore) List(ctx context.Context, runID string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, node_id, particles, weights, vals
		   FROM snapshots WHERE run_id = ? ORDER BY step ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// RunIDs returns distinct run IDs from the store.
func (s *SQLiteStore) RunIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT run_id FROM snapshots ORDER BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: run ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes every snapshot of a run.
func (s *SQLiteStore) Delete(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("sqlitestore: delete %s: %w", runID, err)
	}
	return nil
}

// Prune deletes the runs whose newest snapshot is older than RetentionAge.
func (s *SQLiteStore) Prune(ctx context.Context) error {
	if s.cfg.RetentionAge <= 0 {
		return nil
	}
	cutoff := s.cfg.Now().UTC().Add(-s.cfg.RetentionAge).Format(timeLayout)
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE run_id IN (
			SELECT run_id FROM snapshots GROUP BY run_id HAVING MAX(created_at) < ?
		)`, cutoff,
	); err != nil {
		return fmt.Errorf("sqlitestore: prune by age: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSnapshots(rows *sql.Rows) ([]Snapshot, error) {
	var snaps []Snapshot
	for rows.Next() {
		var (
			snap        Snapshot
			node        int32
			particles   int
			weightsJSON string
			valuesJSON  string
		)
		if err := rows.Scan(&snap.Step, &node, &particles, &weightsJSON, &valuesJSON); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan snapshot: %w", err)
		}
		snap.Node = core.NodeID(node)

		if err := json.Unmarshal([]byte(weightsJSON), &snap.Weights); err != nil {
			return nil, fmt.Errorf("sqlitestore: unmarshal weights: %w", err)
		}
		if len(snap.Weights) != particles {
			return nil, fmt.Errorf("sqlitestore: step %d: %w: %d weights, %d particles", snap.Step, ErrBadSnapshot, len(snap.Weights), particles)
		}
		if err := json.Unmarshal([]byte(valuesJSON), &snap.Values); err != nil {
			return nil, fmt.Errorf("sqlitestore: unmarshal values: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)
