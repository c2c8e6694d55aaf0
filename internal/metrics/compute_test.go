package metrics

import (
	"testing"

	"github.com/google/uuid"

	"github.com/minecraft-gilde/importer/internal/model"
	"github.com/minecraft-gilde/importer/internal/stats"
)

func mustTree(t *testing.T, raw string) stats.Tree {
	t.Helper()
	tree, err := stats.Normalize([]byte(raw))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	return tree
}

func TestComputeWeightedSum(t *testing.T) {
	c := NewComputer([]model.MetricSource{
		{MetricID: "mining", Section: "minecraft:mined", StatKey: "minecraft:stone", Weight: 1},
		{MetricID: "mining", Section: "minecraft:mined", StatKey: "minecraft:diamond_ore", Weight: 10},
	})
	tree := mustTree(t, `{"minecraft:mined":{"minecraft:stone":100,"minecraft:diamond_ore":3}}`)

	rows := c.Compute(uuid.New(), tree)
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].MetricID != "mining" || rows[0].Value != 130 {
		t.Errorf("row = %+v, want mining=130", rows[0])
	}
}

func TestComputeMissingSourcesContributeZero(t *testing.T) {
	c := NewComputer([]model.MetricSource{
		{MetricID: "m", Section: "minecraft:mined", StatKey: "minecraft:stone", Weight: 1},
		{MetricID: "m", Section: "minecraft:custom", StatKey: "minecraft:jump", Weight: 5},
	})
	// Only the first source is present; the metric must still be emitted.
	tree := mustTree(t, `{"minecraft:mined":{"minecraft:stone":7}}`)

	rows := c.Compute(uuid.New(), tree)
	if len(rows) != 1 || rows[0].Value != 7 {
		t.Fatalf("rows = %+v, want single value 7", rows)
	}
}

func TestComputeNonNumericContributesZero(t *testing.T) {
	c := NewComputer([]model.MetricSource{
		{MetricID: "m", Section: "sec", StatKey: "a", Weight: 1},
		{MetricID: "m", Section: "sec", StatKey: "b", Weight: 1},
	})
	tree := mustTree(t, `{"sec":{"a":"text","b":4}}`)

	rows := c.Compute(uuid.New(), tree)
	if len(rows) != 1 || rows[0].Value != 4 {
		t.Fatalf("rows = %+v, want single value 4", rows)
	}
}

func TestComputeZeroTotalNotEmitted(t *testing.T) {
	c := NewComputer([]model.MetricSource{
		{MetricID: "m", Section: "sec", StatKey: "gone", Weight: 3},
	})
	tree := mustTree(t, `{"sec":{"other":1}}`)

	if rows := c.Compute(uuid.New(), tree); len(rows) != 0 {
		t.Fatalf("rows = %+v, want none", rows)
	}
}

func TestComputeOrderStable(t *testing.T) {
	c := NewComputer([]model.MetricSource{
		{MetricID: "b", Section: "s", StatKey: "x", Weight: 1},
		{MetricID: "a", Section: "s", StatKey: "x", Weight: 2},
		{MetricID: "b", Section: "s", StatKey: "y", Weight: 1},
	})
	if got := c.MetricIDs(); len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("MetricIDs = %v, want [b a]", got)
	}

	tree := mustTree(t, `{"s":{"x":1,"y":2}}`)
	rows := c.Compute(uuid.New(), tree)
	if len(rows) != 2 || rows[0].MetricID != "b" || rows[1].MetricID != "a" {
		t.Fatalf("rows = %+v, want [b a] order", rows)
	}
	if rows[0].Value != 3 || rows[1].Value != 2 {
		t.Errorf("values = %d/%d, want 3/2", rows[0].Value, rows[1].Value)
	}
}
