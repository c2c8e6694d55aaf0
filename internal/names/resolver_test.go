package names

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/minecraft-gilde/importer/internal/model"
)

func mustID(t *testing.T, s string) model.PlayerID {
	t.Helper()
	id, err := model.ParsePlayerID(s)
	if err != nil {
		t.Fatalf("ParsePlayerID(%q): %v", s, err)
	}
	return id
}

func TestResolvePriorityChain(t *testing.T) {
	cached := mustID(t, "11111111-1111-1111-1111-111111111111")
	stored := mustID(t, "22222222-2222-2222-2222-222222222222")
	unknown := mustID(t, "33333333-3333-3333-3333-333333333333")

	checked := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewResolver(
		map[model.PlayerID]string{cached: "Steve"},
		map[model.PlayerID]Known{
			cached: {Name: "OldSteve", Source: model.NameSourceMojang},
			stored: {Name: "Alex", Source: model.NameSourceMojang, CheckedAt: &checked},
		},
	)

	got := r.Resolve(cached)
	if got.Name != "Steve" || got.Source != model.NameSourceUsercache {
		t.Errorf("cached: got %q/%s, want Steve/usercache", got.Name, got.Source)
	}
	if got.CheckedAt == nil {
		t.Error("usercache hit should be marked checked")
	}

	got = r.Resolve(stored)
	if got.Name != "Alex" || got.Source != model.NameSourceMojang {
		t.Errorf("stored: got %q/%s, want Alex/mojang", got.Name, got.Source)
	}
	if got.CheckedAt == nil || !got.CheckedAt.Equal(checked) {
		t.Errorf("stored: CheckedAt = %v, want %v", got.CheckedAt, checked)
	}

	got = r.Resolve(unknown)
	if got.Source != model.NameSourceFallback {
		t.Errorf("unknown: source = %s, want fallback", got.Source)
	}
	if want := model.HexID(unknown)[:12]; got.Name != want {
		t.Errorf("unknown: name = %q, want %q", got.Name, want)
	}
}

func TestResolveFallbackDeterministic(t *testing.T) {
	id := mustID(t, "44444444-4444-4444-4444-444444444444")
	r := NewResolver(nil, nil)
	if a, b := r.Resolve(id), r.Resolve(id); a.Name != b.Name {
		t.Errorf("fallback not stable: %q vs %q", a.Name, b.Name)
	}
}

func TestResolveStoredNameWithoutSource(t *testing.T) {
	id := mustID(t, "55555555-5555-5555-5555-555555555555")
	r := NewResolver(nil, map[model.PlayerID]Known{id: {Name: "Legacy"}})
	got := r.Resolve(id)
	if got.Source != model.NameSourceUnknown {
		t.Errorf("source = %s, want unknown", got.Source)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("ExactlySixteen__"); got != "ExactlySixteen__" {
		t.Errorf("16-char name changed: %q", got)
	}
	if got := Truncate("SeventeenChars___"); got != "SeventeenChars__" {
		t.Errorf("long name: got %q", got)
	}
}

func TestTruncateMultiByte(t *testing.T) {
	name := strings.Repeat("ä", 17)
	got := Truncate(name)
	if got != strings.Repeat("ä", 16) {
		t.Errorf("got %q, want 16 runes", got)
	}
	if !utf8.ValidString(got) {
		t.Errorf("truncation produced invalid UTF-8: %q", got)
	}
	// A name of 16 runes stays intact even though it exceeds 16 bytes.
	if got := Truncate(strings.Repeat("ö", 16)); got != strings.Repeat("ö", 16) {
		t.Errorf("16-rune name changed: %q", got)
	}
}

func TestCompilePlaceholder(t *testing.T) {
	re, err := CompilePlaceholder("")
	if err != nil {
		t.Fatalf("CompilePlaceholder: %v", err)
	}
	fallback := model.HexID(uuid.New())[:12]
	if !re.MatchString(fallback) {
		t.Errorf("default pattern does not match fallback name %q", fallback)
	}
	if re.MatchString("Herobrine") {
		t.Error("default pattern matches a real name")
	}
	if _, err := CompilePlaceholder("["); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestLoadUsercache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usercache.json")
	data := `[
		{"name":"Steve","uuid":"11111111-1111-1111-1111-111111111111","expiresOn":"2026-09-01 00:00:00 +0000"},
		{"name":"NameThatIsWayTooLongForDisplay","uuid":"22222222-2222-2222-2222-222222222222"},
		{"name":"","uuid":"33333333-3333-3333-3333-333333333333"},
		{"name":"BadID","uuid":"not-a-uuid"}
	]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadUsercache(path)
	if err != nil {
		t.Fatalf("LoadUsercache: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("len = %d, want 2", len(m))
	}
	if got := m[mustID(t, "11111111-1111-1111-1111-111111111111")]; got != "Steve" {
		t.Errorf("entry = %q, want Steve", got)
	}
	if got := m[mustID(t, "22222222-2222-2222-2222-222222222222")]; len(got) != MaxDisplayLen {
		t.Errorf("long name not truncated: %q", got)
	}
}

func TestLoadUsercacheMissingFile(t *testing.T) {
	m, err := LoadUsercache(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadUsercache: %v", err)
	}
	if len(m) != 0 {
		t.Errorf("expected empty map, got %v", m)
	}
}
