// Package report renders leaderboard and metric tables for the CLI.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/minecraft-gilde/importer/internal/model"
)

// Entry pairs a ranked value with its resolved display name.
type Entry struct {
	Rank  int
	Name  string
	ID    model.PlayerID
	Value int64
}

// PrintLeaderboard writes a ranked table for one metric.
func PrintLeaderboard(w io.Writer, def model.MetricDef, entries []Entry) {
	unit := def.Unit
	if unit == "" {
		unit = "VALUE"
	}
	fmt.Fprintf(w, "\n%s (%s)\n\n", def.Label, def.ID)

	table := newTable(w)
	table.Header("#", "NAME", "UUID", unit)
	for _, e := range entries {
		table.Append(
			strconv.Itoa(e.Rank),
			e.Name,
			e.ID.String(),
			formatValue(e.Value, def),
		)
	}
	table.Render()
}

// PrintMetricDefs writes the metric definition table.
func PrintMetricDefs(w io.Writer, defs []model.MetricDef) {
	table := newTable(w)
	table.Header("ID", "LABEL", "CATEGORY", "UNIT", "SORT", "ENABLED")
	for _, d := range defs {
		enabled := "yes"
		if !d.Enabled {
			enabled = "no"
		}
		table.Append(d.ID, d.Label, d.Category, d.Unit, strconv.Itoa(d.SortOrder), enabled)
	}
	table.Render()
}

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w, tablewriter.WithConfig(tablewriter.Config{
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignRight},
		},
		Header: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignCenter},
		},
	}))
}

// formatValue applies the metric's presentation divisor and decimals.
func formatValue(v int64, def model.MetricDef) string {
	if def.Divisor > 1 {
		return strconv.FormatFloat(float64(v)/float64(def.Divisor), 'f', def.Decimals, 64)
	}
	return strconv.FormatInt(v, 10)
}
