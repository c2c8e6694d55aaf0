// Package stats normalizes raw per-player stat files and produces the
// canonical byte form used for change detection.
package stats

import (
	"bytes"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
)

// cosmeticSuffix marks stat keys whose values churn without carrying any
// statistical meaning; they are stripped before hashing so they cannot
// force a rewrite on their own.
const cosmeticSuffix = "_wall_banner"

// Tree is a normalized stat tree: section -> key -> value. Values keep
// their decoded JSON form (json.Number for numerics).
type Tree map[string]any

// ErrNotObject reports input whose top level is valid JSON but not an
// object. The caller gets an empty tree and may continue the pass.
var ErrNotObject = errors.New("stats: top-level value is not an object")

// Normalize parses a raw stats document and returns the normalized tree.
// An optional outer {"stats": {...}} wrapper is unwrapped. Keys with the
// cosmetic suffix are removed from every mapping section. Non-object
// input yields an empty tree and ErrNotObject; malformed JSON yields the
// decode error.
func Normalize(raw []byte) (Tree, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return Tree{}, err
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return Tree{}, ErrNotObject
	}
	if inner, ok := obj["stats"].(map[string]any); ok {
		obj = inner
	}

	for _, kv := range obj {
		sec, ok := kv.(map[string]any)
		if !ok {
			continue
		}
		for k := range sec {
			if strings.HasSuffix(k, cosmeticSuffix) {
				delete(sec, k)
			}
		}
	}
	return Tree(obj), nil
}

// Canonical serializes the tree with fully sorted keys and no incidental
// whitespace. Two trees with identical key/value sets serialize
// identically regardless of input ordering; numbers are re-emitted
// verbatim so formatting never drifts between passes.
func Canonical(t Tree) []byte {
	var buf bytes.Buffer
	encodeCanonical(&buf, map[string]any(t))
	return buf.Bytes()
}

// Digest returns the SHA-1 of the canonical form.
func Digest(t Tree) [20]byte {
	return sha1.Sum(Canonical(t))
}

func encodeCanonical(buf *bytes.Buffer, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(buf, k)
			buf.WriteByte(':')
			encodeCanonical(buf, t[k])
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeCanonical(buf, e)
		}
		buf.WriteByte(']')
	case json.Number:
		buf.WriteString(t.String())
	case string:
		writeJSONString(buf, t)
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case nil:
		buf.WriteString("null")
	default:
		// Trees come from json.Decoder with UseNumber, so no other
		// dynamic types occur. Fall back to the stdlib encoder.
		b, err := json.Marshal(t)
		if err != nil {
			buf.WriteString("null")
			return
		}
		buf.Write(b)
	}
}

func writeJSONString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// IntAt returns the integer value at (section, key), or (0, false) when
// the section or key is missing or the value is not numeric. Float
// values are truncated.
func IntAt(t Tree, section, key string) (int64, bool) {
	sec, ok := t[section].(map[string]any)
	if !ok {
		return 0, false
	}
	num, ok := sec[key].(json.Number)
	if !ok {
		return 0, false
	}
	if n, err := num.Int64(); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(num.String(), 64); err == nil {
		return int64(f), true
	}
	return 0, false
}
