package stats

import (
	"bytes"
	"errors"
	"testing"
)

func TestCanonicalDeterminism(t *testing.T) {
	a := []byte(`{"minecraft:mined":{"minecraft:stone":10,"minecraft:dirt":3},"minecraft:custom":{"minecraft:play_time":99}}`)
	b := []byte(`{"minecraft:custom":{"minecraft:play_time":99},"minecraft:mined":{"minecraft:dirt":3,"minecraft:stone":10}}`)

	ta, err := Normalize(a)
	if err != nil {
		t.Fatalf("Normalize a: %v", err)
	}
	tb, err := Normalize(b)
	if err != nil {
		t.Fatalf("Normalize b: %v", err)
	}

	if !bytes.Equal(Canonical(ta), Canonical(tb)) {
		t.Errorf("canonical forms differ:\n%s\n%s", Canonical(ta), Canonical(tb))
	}
	if Digest(ta) != Digest(tb) {
		t.Error("digests differ for semantically equal trees")
	}
}

func TestCanonicalSortedNoWhitespace(t *testing.T) {
	tree, err := Normalize([]byte(`{"b": {"z": 1, "a": 2}, "a": {"k": 3}}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := `{"a":{"k":3},"b":{"a":2,"z":1}}`
	if got := string(Canonical(tree)); got != want {
		t.Errorf("canonical = %s, want %s", got, want)
	}
}

func TestCanonicalNumbersVerbatim(t *testing.T) {
	// Large ints and decimals must not drift into float formatting.
	tree, err := Normalize([]byte(`{"s":{"big":9007199254740993,"frac":1.5}}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := `{"s":{"big":9007199254740993,"frac":1.5}}`
	if got := string(Canonical(tree)); got != want {
		t.Errorf("canonical = %s, want %s", got, want)
	}
}

func TestNormalizeStripsCosmeticKeys(t *testing.T) {
	tree, err := Normalize([]byte(`{"minecraft:mined":{"minecraft:oak_wall_banner":4,"minecraft:stone":1}}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	sec := tree["minecraft:mined"].(map[string]any)
	if _, ok := sec["minecraft:oak_wall_banner"]; ok {
		t.Error("cosmetic key survived normalization")
	}
	if _, ok := sec["minecraft:stone"]; !ok {
		t.Error("real key was stripped")
	}
}

func TestNormalizeUnwrapsStatsWrapper(t *testing.T) {
	wrapped := []byte(`{"stats":{"minecraft:custom":{"minecraft:play_time":7}},"DataVersion":3953}`)
	bare := []byte(`{"minecraft:custom":{"minecraft:play_time":7}}`)

	tw, err := Normalize(wrapped)
	if err != nil {
		t.Fatalf("Normalize wrapped: %v", err)
	}
	tb, err := Normalize(bare)
	if err != nil {
		t.Fatalf("Normalize bare: %v", err)
	}
	if Digest(tw) != Digest(tb) {
		t.Error("wrapper changed the digest")
	}
}

func TestNormalizeNonObject(t *testing.T) {
	tree, err := Normalize([]byte(`[1,2,3]`))
	if !errors.Is(err, ErrNotObject) {
		t.Fatalf("expected ErrNotObject, got %v", err)
	}
	if len(tree) != 0 {
		t.Errorf("expected empty tree, got %v", tree)
	}
}

func TestNormalizeMalformed(t *testing.T) {
	if _, err := Normalize([]byte(`{"broken":`)); err == nil {
		t.Fatal("expected decode error for malformed JSON")
	}
}

func TestIntAt(t *testing.T) {
	tree, err := Normalize([]byte(`{"sec":{"int":42,"float":3.9,"text":"x"},"flat":5}`))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	cases := []struct {
		name    string
		section string
		key     string
		want    int64
		wantOK  bool
	}{
		{"int value", "sec", "int", 42, true},
		{"float truncated", "sec", "float", 3, true},
		{"non-numeric", "sec", "text", 0, false},
		{"missing key", "sec", "nope", 0, false},
		{"missing section", "nope", "int", 0, false},
		{"non-mapping section", "flat", "int", 0, false},
	}
	for _, tc := range cases {
		got, ok := IntAt(tree, tc.section, tc.key)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("%s: IntAt = (%d, %v), want (%d, %v)", tc.name, got, ok, tc.want, tc.wantOK)
		}
	}
}
