package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/minecraft-gilde/importer/internal/storage"
)

var sqlCmd = &cobra.Command{
	Use:   "sql <query>",
	Short: "Run a raw SQL query against the leaderboard database",
	Long: `Run an arbitrary SQL query and print results as a table.

Schema overview:
  import_run(id, generated_at, status)
  site_state(id, active_run_id)
  player_profile(run_id, uuid BLOB, name, name_lc, name_source, name_checked_at, last_seen)
  player_stats(run_id, uuid BLOB, stats_gzip BLOB, stats_sha1 BLOB, updated_at)
  metric_def(id, label, category, unit, divisor, decimals, sort_order, enabled)
  metric_source(metric_id, section, stat_key, weight)
  metric_value(run_id, metric_id, uuid BLOB, value)
  metric_award(run_id, metric_id, place, uuid BLOB, points, value)

Note: uuid columns are 16-byte BLOBs and render as x'...' hex.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSQL,
}

func runSQL(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	db, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	cols, rows, err := db.QueryRaw(query)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("(no rows)")
		return nil
	}

	table := tablewriter.NewTable(os.Stdout, tablewriter.WithConfig(tablewriter.Config{
		Row:    tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignRight}},
		Header: tw.CellConfig{Alignment: tw.CellAlignment{Global: tw.AlignCenter}},
	}))

	colsAny := make([]any, len(cols))
	for i, c := range cols {
		colsAny[i] = c
	}
	table.Header(colsAny...)

	for _, row := range rows {
		rowAny := make([]any, len(row))
		for i, v := range row {
			rowAny[i] = v
		}
		table.Append(rowAny...)
	}
	table.Render()
	fmt.Fprintf(os.Stdout, "\n(%d rows)\n", len(rows))
	return nil
}
