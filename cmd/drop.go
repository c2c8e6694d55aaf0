package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/minecraft-gilde/importer/internal/importer"
	"github.com/minecraft-gilde/importer/internal/storage"
)

var dropForce bool

// dropCmd retires the active run and purges its rows. The next import
// starts a fresh run.
var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Retire the active run and delete its data",
	Long:  "Permanently delete all profiles, stat snapshots, metric values and awards of the active run, and clear the active-run pointer. The next import creates a new run.",
	Args:  cobra.NoArgs,
	RunE:  runDrop,
}

func init() {
	dropCmd.Flags().BoolVarP(&dropForce, "force", "f", false, "skip confirmation prompt")
}

func runDrop(cmd *cobra.Command, args []string) error {
	if !dropForce {
		fmt.Fprintf(os.Stderr, "This will permanently delete all data of the active run in: %s\n", dbPath)
		fmt.Fprintf(os.Stderr, "Re-run with --force to confirm.\n")
		return nil
	}

	db, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	lock, err := db.AcquireLock(cmd.Context(), cfg.LockName,
		time.Duration(cfg.LockTimeoutSec)*time.Second,
		time.Duration(cfg.LockStaleSec)*time.Second)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if lock == nil {
		return fmt.Errorf("%w: %q", importer.ErrLockNotAcquired, cfg.LockName)
	}
	defer lock.Release()

	runID, err := db.ActiveRunID()
	if err != nil {
		fmt.Fprintln(os.Stdout, "No active run, nothing to drop.")
		return nil
	}
	if err := db.PurgeRun(runID); err != nil {
		return fmt.Errorf("purge run %d: %w", runID, err)
	}
	fmt.Fprintf(os.Stdout, "Retired run %d and deleted its data.\n", runID)
	return nil
}
