// Package leaderboard recomputes the composite points metric from the
// top-3 placements of every other materialized metric.
package leaderboard

import (
	"fmt"
	"sort"

	"github.com/minecraft-gilde/importer/internal/model"
)

// DefaultPoints is the rank-point schedule: 5 for first, 3 for second,
// 1 for third.
var DefaultPoints = []int{5, 3, 1}

// Store is the slice of the persistence layer the recompute needs.
type Store interface {
	EnsureMetricDef(def model.MetricDef) error
	HasTable(name string) (bool, error)
	DeleteMetricValues(runID int64, metricID string) error
	ClearAwards(runID int64) error
	TopMetricValues(runID int64, metricID string, limit int) ([]model.RankedValue, error)
	InsertAwards(runID int64, awards []model.Award) error
	InsertMetricValues(runID int64, rows []model.MetricRow) error
}

// Config names the composite metric and its rank-point schedule.
type Config struct {
	MetricID string
	Points   []int
}

// Recompute regenerates the composite metric from scratch for one run:
// existing composite values (and award facts, when the award table
// exists) are deleted, then every other metric's top-3 players are
// awarded points per rank, and one value row is written per player with
// a positive total. The composite is never patched incrementally.
func Recompute(store Store, runID int64, metricIDs []string, cfg Config) error {
	if cfg.MetricID == "" {
		return fmt.Errorf("leaderboard: empty composite metric id")
	}
	points := cfg.Points
	if len(points) == 0 {
		points = DefaultPoints
	}

	err := store.EnsureMetricDef(model.MetricDef{
		ID:       cfg.MetricID,
		Label:    "Server-König",
		Category: "Allgemein",
		Unit:     "Punkte",
		Divisor:  1,
		Enabled:  true,
	})
	if err != nil {
		return fmt.Errorf("ensure composite metric: %w", err)
	}

	storeAwards, err := store.HasTable("metric_award")
	if err != nil {
		return err
	}

	if err := store.DeleteMetricValues(runID, cfg.MetricID); err != nil {
		return fmt.Errorf("clear composite values: %w", err)
	}
	if storeAwards {
		if err := store.ClearAwards(runID); err != nil {
			return fmt.Errorf("clear awards: %w", err)
		}
	}

	totals := make(map[model.PlayerID]int64)
	var awards []model.Award

	for _, metricID := range metricIDs {
		if metricID == cfg.MetricID {
			continue
		}
		top, err := store.TopMetricValues(runID, metricID, len(points))
		if err != nil {
			return fmt.Errorf("top values for %s: %w", metricID, err)
		}
		for i, rv := range top {
			pts := points[i]
			if pts <= 0 {
				continue
			}
			totals[rv.ID] += int64(pts)
			if storeAwards {
				awards = append(awards, model.Award{
					MetricID: metricID,
					Place:    i + 1,
					ID:       rv.ID,
					Points:   pts,
					Value:    rv.Value,
				})
			}
		}
	}

	if storeAwards {
		if err := store.InsertAwards(runID, awards); err != nil {
			return fmt.Errorf("insert awards: %w", err)
		}
	}

	rows := make([]model.MetricRow, 0, len(totals))
	for id, pts := range totals {
		if pts > 0 {
			rows = append(rows, model.MetricRow{MetricID: cfg.MetricID, ID: id, Value: pts})
		}
	}
	// Map iteration order is random; sort so persistence order is
	// reproducible.
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ID.String() < rows[j].ID.String()
	})

	if err := store.InsertMetricValues(runID, rows); err != nil {
		return fmt.Errorf("insert composite values: %w", err)
	}
	return nil
}
