// Package metrics evaluates weighted-sum metric definitions against a
// player's normalized stat tree.
package metrics

import (
	"github.com/minecraft-gilde/importer/internal/model"
	"github.com/minecraft-gilde/importer/internal/stats"
)

// Computer holds the enabled metric sources, grouped by metric id.
type Computer struct {
	sources map[string][]model.MetricSource
	order   []string
}

// NewComputer groups sources by metric. Order of first appearance is
// kept so emitted rows are deterministic.
func NewComputer(sources []model.MetricSource) *Computer {
	c := &Computer{sources: make(map[string][]model.MetricSource)}
	for _, s := range sources {
		if _, ok := c.sources[s.MetricID]; !ok {
			c.order = append(c.order, s.MetricID)
		}
		c.sources[s.MetricID] = append(c.sources[s.MetricID], s)
	}
	return c
}

// MetricIDs returns the metric ids the computer knows about.
func (c *Computer) MetricIDs() []string {
	return c.order
}

// Compute evaluates every metric for one player. A source whose section
// or key is missing, or whose value is non-numeric, contributes zero;
// it never drops the metric or the player. Only strictly positive
// totals are emitted.
func (c *Computer) Compute(id model.PlayerID, tree stats.Tree) []model.MetricRow {
	var out []model.MetricRow
	for _, metricID := range c.order {
		var total int64
		for _, src := range c.sources[metricID] {
			v, ok := stats.IntAt(tree, src.Section, src.StatKey)
			if !ok {
				continue
			}
			total += v * int64(src.Weight)
		}
		if total > 0 {
			out = append(out, model.MetricRow{MetricID: metricID, ID: id, Value: total})
		}
	}
	return out
}
