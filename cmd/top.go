package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/minecraft-gilde/importer/internal/model"
	"github.com/minecraft-gilde/importer/internal/report"
	"github.com/minecraft-gilde/importer/internal/storage"
)

var topLimit int

var topCmd = &cobra.Command{
	Use:   "top <metric-id>",
	Short: "Show the leaderboard for one metric",
	Args:  cobra.ExactArgs(1),
	RunE:  runTop,
}

func init() {
	topCmd.Flags().IntVar(&topLimit, "limit", 10, "number of entries to show")
}

func runTop(cmd *cobra.Command, args []string) error {
	metricID := args[0]

	db, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	runID, err := db.ActiveRunID()
	if err != nil {
		return err
	}

	def, err := findMetricDef(db, metricID)
	if err != nil {
		return err
	}

	values, err := db.TopMetricValues(runID, metricID, topLimit)
	if err != nil {
		return fmt.Errorf("load leaderboard: %w", err)
	}
	if len(values) == 0 {
		fmt.Fprintf(os.Stdout, "No values for metric %q yet.\n", metricID)
		return nil
	}

	caps, err := db.ProbeProfileColumns()
	if err != nil {
		return err
	}
	profiles, err := db.LoadProfileMeta(runID, caps)
	if err != nil {
		return err
	}

	entries := make([]report.Entry, 0, len(values))
	for i, v := range values {
		name := profiles[v.ID].Name
		if name == "" {
			name = model.HexID(v.ID)[:12]
		}
		entries = append(entries, report.Entry{
			Rank:  i + 1,
			Name:  name,
			ID:    v.ID,
			Value: v.Value,
		})
	}
	report.PrintLeaderboard(os.Stdout, def, entries)
	return nil
}

func findMetricDef(db *storage.DB, metricID string) (model.MetricDef, error) {
	defs, err := db.LoadMetricDefs()
	if err != nil {
		return model.MetricDef{}, err
	}
	for _, d := range defs {
		if d.ID == metricID {
			return d, nil
		}
	}
	return model.MetricDef{}, fmt.Errorf("unknown metric %q", metricID)
}
