// Package names resolves display names for players from local sources:
// the server's usercache, names already stored for the active run, and a
// deterministic fallback derived from the player id.
package names

import (
	"encoding/json"
	"os"
	"regexp"
	"time"

	"github.com/minecraft-gilde/importer/internal/model"
)

// MaxDisplayLen is the display-name cap; longer names are truncated
// silently.
const MaxDisplayLen = 16

// DefaultPlaceholderPattern matches the hex fallback names the resolver
// itself synthesizes. The maintenance job treats matching names as
// missing.
const DefaultPlaceholderPattern = `^[0-9a-f]{12}$`

// Known is name metadata previously stored for a player in this run.
type Known struct {
	Name      string
	Source    model.NameSource
	CheckedAt *time.Time
}

// Resolved is the outcome of one resolution.
type Resolved struct {
	Name      string
	Source    model.NameSource
	CheckedAt *time.Time
}

// Resolver resolves names from a fixed priority chain without network
// access. It never overwrites a known good name with the fallback.
type Resolver struct {
	usercache map[model.PlayerID]string
	known     map[model.PlayerID]Known
	now       func() time.Time
}

// NewResolver builds a resolver over the usercache map and the profile
// names already stored for this run. Either map may be nil.
func NewResolver(usercache map[model.PlayerID]string, known map[model.PlayerID]Known) *Resolver {
	return &Resolver{usercache: usercache, known: known, now: time.Now}
}

// Resolve returns the best available name for id.
//
// Priority: usercache entry, then the stored name, then the first 12 hex
// characters of the id. A usercache hit is marked checked now so the
// maintenance job does not immediately re-verify it.
func (r *Resolver) Resolve(id model.PlayerID) Resolved {
	if name, ok := r.usercache[id]; ok && name != "" {
		now := r.now()
		return Resolved{Name: Truncate(name), Source: model.NameSourceUsercache, CheckedAt: &now}
	}
	if k, ok := r.known[id]; ok && k.Name != "" {
		src := k.Source
		if src == "" {
			src = model.NameSourceUnknown
		}
		return Resolved{Name: Truncate(k.Name), Source: src, CheckedAt: k.CheckedAt}
	}
	return Resolved{Name: model.HexID(id)[:12], Source: model.NameSourceFallback}
}

// Truncate caps a name at the display limit. The cut is on runes so a
// multi-byte name never ends in a broken sequence.
func Truncate(name string) string {
	runes := []rune(name)
	if len(runes) > MaxDisplayLen {
		return string(runes[:MaxDisplayLen])
	}
	return name
}

// CompilePlaceholder compiles the placeholder-name pattern, falling back
// to the default on an empty string.
func CompilePlaceholder(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = DefaultPlaceholderPattern
	}
	return regexp.Compile(pattern)
}

// usercacheEntry is one record of the server's usercache.json.
type usercacheEntry struct {
	Name string `json:"name"`
	UUID string `json:"uuid"`
}

// LoadUsercache reads a usercache.json array into an id -> name map.
// A missing file yields an empty map; entries with unparsable ids or
// empty names are dropped.
func LoadUsercache(path string) (map[model.PlayerID]string, error) {
	out := make(map[model.PlayerID]string)

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}

	var entries []usercacheEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Name == "" || e.UUID == "" {
			continue
		}
		id, err := model.ParsePlayerID(e.UUID)
		if err != nil {
			continue
		}
		out[id] = Truncate(e.Name)
	}
	return out, nil
}
