package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/minecraft-gilde/importer/internal/importer"
	"github.com/minecraft-gilde/importer/internal/model"
	"github.com/minecraft-gilde/importer/internal/mojang"
	"github.com/minecraft-gilde/importer/internal/names"
	"github.com/minecraft-gilde/importer/internal/storage"
)

// resolve-names command flags.
var (
	resolveRunID       int64
	resolveMaxPerRun   int
	resolveSleepMs     int
	resolveRefreshDays int
	resolveLockTimeout int
)

var resolveCmd = &cobra.Command{
	Use:   "resolve-names",
	Short: "Backfill placeholder player names from Mojang",
	Long: `Background maintenance job: looks up a bounded number of profiles
whose name is missing, a synthesized placeholder, or stale, and refreshes
them via the Mojang profile endpoints. Rate-limited; intended for cron.`,
	Args: cobra.NoArgs,
	RunE: runResolve,
}

func init() {
	f := resolveCmd.Flags()
	f.Int64Var(&resolveRunID, "run-id", 0, "run to update (default: the active run)")
	f.IntVar(&resolveMaxPerRun, "max-per-run", 0, "maximum profiles to touch per invocation")
	f.IntVar(&resolveSleepMs, "sleep-ms", 0, "delay between Mojang calls")
	f.IntVar(&resolveRefreshDays, "refresh-days", 0, "re-check names older than this many days (0 disables)")
	f.IntVar(&resolveLockTimeout, "lock-timeout", 0, "seconds to wait for the run lock (0 = no wait)")
}

func runResolve(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	maxPerRun := cfg.ResolveMaxPerRun
	if flags.Changed("max-per-run") {
		maxPerRun = resolveMaxPerRun
	}
	sleepMs := cfg.ResolveSleepMs
	if flags.Changed("sleep-ms") {
		sleepMs = resolveSleepMs
	}
	refreshDays := cfg.ResolveRefreshDays
	if flags.Changed("refresh-days") {
		refreshDays = resolveRefreshDays
	}

	pattern, err := names.CompilePlaceholder(cfg.PlaceholderPattern)
	if err != nil {
		return fmt.Errorf("placeholder pattern: %w", err)
	}

	db, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	lock, err := db.AcquireLock(cmd.Context(), cfg.LockName,
		time.Duration(resolveLockTimeout)*time.Second,
		time.Duration(cfg.LockStaleSec)*time.Second)
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if lock == nil {
		return fmt.Errorf("%w: %q", importer.ErrLockNotAcquired, cfg.LockName)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warnw("release lock", "error", err)
		}
	}()

	runID := resolveRunID
	if runID <= 0 {
		runID, err = db.ActiveRunID()
		if err != nil {
			return err
		}
	}

	caps, err := db.ProbeProfileColumns()
	if err != nil {
		return err
	}

	candidates, err := db.FetchNameCandidates(runID, maxPerRun, refreshDays, caps, pattern.String())
	if err != nil {
		return err
	}

	client := mojang.NewClient()
	var updates []storage.ResolvedName
	var failed []model.PlayerID

	for _, c := range candidates {
		name, err := client.NameForID(model.HexID(c.ID))
		if err != nil {
			log.Debugw("mojang lookup failed", "uuid", c.ID, "error", err)
			name = ""
		}
		if name != "" {
			updates = append(updates, storage.ResolvedName{ID: c.ID, Name: names.Truncate(name)})
		} else {
			// Mark checked anyway so the same id is not hammered every
			// run.
			failed = append(failed, c.ID)
		}
		if sleepMs > 0 {
			time.Sleep(time.Duration(sleepMs) * time.Millisecond)
		}
	}

	if err := db.UpdateResolvedNames(runID, updates, caps); err != nil {
		return fmt.Errorf("write resolved names: %w", err)
	}
	if err := db.MarkNamesChecked(runID, failed, caps); err != nil {
		return fmt.Errorf("mark checked: %w", err)
	}

	fmt.Fprintf(os.Stdout, "resolve-names: run_id=%d candidates=%d resolved=%d failed=%d refresh_days=%d\n",
		runID, len(candidates), len(updates), len(failed), refreshDays)
	return nil
}
