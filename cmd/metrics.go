package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/minecraft-gilde/importer/internal/report"
	"github.com/minecraft-gilde/importer/internal/storage"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "List configured metric definitions",
	Args:  cobra.NoArgs,
	RunE:  runMetrics,
}

func runMetrics(cmd *cobra.Command, args []string) error {
	db, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	defs, err := db.LoadMetricDefs()
	if err != nil {
		return fmt.Errorf("load metrics: %w", err)
	}
	if len(defs) == 0 {
		fmt.Fprintln(os.Stdout, "No metrics configured yet. Run 'mcstats seed <metrics.yaml>' to add some.")
		return nil
	}
	report.PrintMetricDefs(os.Stdout, defs)
	return nil
}
