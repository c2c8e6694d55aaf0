package model

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// PlayerID is the stable 16-byte identity of a player, taken from the
// stats file name.
type PlayerID = uuid.UUID

// ParsePlayerID accepts a UUID with or without dashes.
func ParsePlayerID(s string) (PlayerID, error) {
	return uuid.Parse(s)
}

// HexID returns the undashed lowercase hex form of the id.
func HexID(id PlayerID) string {
	return hex.EncodeToString(id[:])
}

// NameSource tags where a profile's display name came from.
type NameSource string

const (
	NameSourceUsercache NameSource = "usercache"
	NameSourceMojang    NameSource = "mojang"
	NameSourceFallback  NameSource = "fallback"
	NameSourceUnknown   NameSource = "unknown"
)

// MetricDef describes one leaderboard metric. Presentation fields
// (label, category, unit, divisor, decimals) are carried through to the
// site and do not affect computation.
type MetricDef struct {
	ID        string
	Label     string
	Category  string
	Unit      string
	Divisor   int
	Decimals  int
	SortOrder int
	Enabled   bool
}

// MetricSource is one weighted input of a metric: the value at
// (section, key) in a player's stat tree, multiplied by Weight.
type MetricSource struct {
	MetricID string
	Section  string
	StatKey  string
	Weight   int
}

// ProfileRow is one player_profile upsert.
type ProfileRow struct {
	ID        PlayerID
	Name      string
	Source    NameSource
	CheckedAt *time.Time
	LastSeen  time.Time
}

// StatsRow is one player_stats upsert: the compressed canonical payload
// and its digest.
type StatsRow struct {
	ID      PlayerID
	Payload []byte // gzip of the canonical JSON
	Digest  [20]byte
}

// MetricRow is one materialized metric value. Value is always > 0;
// zero-valued metrics are represented by row absence.
type MetricRow struct {
	MetricID string
	ID       PlayerID
	Value    int64
}

// RankedValue is one entry of a metric's top-N, ordered by value
// descending with ties broken by ascending id.
type RankedValue struct {
	ID    PlayerID
	Value int64
}

// Award records one top-3 placement used for the composite metric.
type Award struct {
	MetricID string
	Place    int
	ID       PlayerID
	Points   int
	Value    int64
}
