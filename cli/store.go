package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalinfer/monitor"
)

// storeEnv names the environment fallback for --store.
const storeEnv = "PETALINFER_STORE_PATH"

// resolveStoreDSN returns the SQLite DSN from --store or the environment.
// An empty result means no store.
func resolveStoreDSN(cmd *cobra.Command) string {
	storePath, _ := cmd.Flags().GetString("store")
	dsn := strings.TrimSpace(storePath)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv(storeEnv))
	}
	if dsn != "" && !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = filepath.Clean(dsn)
	}
	return dsn
}

// openStore opens the configured snapshot store, or returns nil when none
// is configured.
func openStore(cmd *cobra.Command, retention time.Duration) (*monitor.SQLiteStore, error) {
	dsn := resolveStoreDSN(cmd)
	if dsn == "" {
		return nil, nil
	}
	store, err := monitor.NewSQLiteStore(monitor.SQLiteStoreConfig{DSN: dsn, RetentionAge: retention})
	if err != nil {
		return nil, exitError(exitStore, "opening store %s: %v", dsn, err)
	}
	return store, nil
}

// NewRunsCmd creates the "runs" subcommand.
func NewRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List, delete or prune runs in the snapshot store",
		Args:  cobra.NoArgs,
		RunE:  runRuns,
	}
	cmd.Flags().String("store", "", "Path to the SQLite snapshot store (env "+storeEnv+")")
	cmd.Flags().String("delete", "", "Delete the run with this ID")
	cmd.Flags().Duration("prune", 0, "Delete runs whose newest snapshot is older than this")
	return cmd
}

func runRuns(cmd *cobra.Command, _ []string) error {
	prune, _ := cmd.Flags().GetDuration("prune")
	del, _ := cmd.Flags().GetString("delete")

	store, err := openStore(cmd, prune)
	if err != nil {
		return err
	}
	if store == nil {
		return exitError(exitUsage, "no store configured: use --store or %s", storeEnv)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	if del != "" {
		if err := store.Delete(ctx, del); err != nil {
			return exitError(exitStore, "deleting run %s: %v", del, err)
		}
		fmt.Fprintf(out, "Deleted run %s\n", del)
	}
	if prune > 0 {
		if err := store.Prune(ctx); err != nil {
			return exitError(exitStore, "pruning runs: %v", err)
		}
	}

	ids, err := store.RunIDs(ctx)
	if err != nil {
		return exitError(exitStore, "listing runs: %v", err)
	}
	for _, id := range ids {
		snaps, err := store.List(ctx, id)
		if err != nil {
			return exitError(exitStore, "listing run %s: %v", id, err)
		}
		particles := 0
		if len(snaps) > 0 {
			particles = snaps[0].Len()
		}
		fmt.Fprintf(out, "%s\t%d %s\t%d particles\n", id, len(snaps), pluralize("step", len(snaps)), particles)
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No runs.")
	}
	return nil
}
