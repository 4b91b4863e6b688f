// Package canon implements deterministic, sorted-key JSON encoding used as
// the input to every hash taken across the system: idempotency keys, WORM
// ledger content hashes, and replay fingerprints. Go's encoding/json emits
// struct-derived object keys in whatever order the struct declares them,
// which is stable but not necessarily sorted; for map[string]any
// payloads (raw_payload context blobs, discrepancy/causality free-form
// context) key order is not guaranteed, so those are recursively rewritten
// into explicit ordered key/value slices before marshaling rather than
// relying on encoding/json's incidental map ordering.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Bytes returns the canonical JSON encoding of v: structs and maps alike
// become arrays of {"k","v"} pairs sorted lexicographically by key, at
// every depth.
func Bytes(v any) ([]byte, error) {
	normalized := normalize(v)
	return json.Marshal(normalized)
}

// Hash returns the lowercase hex SHA-256 digest of the canonical encoding
// of v.
func Hash(v any) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// HashBytes returns the lowercase hex SHA-256 digest of raw bytes directly,
// for callers that already have a canonical byte representation (e.g. raw
// payload content-addressing, which hashes the bytes as received, not a
// re-encoded form of them).
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type kv struct {
	K string `json:"k"`
	V any    `json:"v"`
}

// normalize walks v (as produced by a prior json.Marshal/Unmarshal round
// trip, or plain Go values) and replaces every map with an ordered slice of
// key/value pairs so the final json.Marshal output is byte-stable
// regardless of Go's map iteration order.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]kv, 0, len(keys))
		for _, k := range keys {
			out = append(out, kv{K: k, V: normalize(t[k])})
		}
		return out
	case map[string]string:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]kv, 0, len(keys))
		for _, k := range keys {
			out = append(out, kv{K: k, V: t[k]})
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalize(t[i])
		}
		return out
	default:
		// Structs, slices of structs, and scalars don't have
		// non-deterministic map ordering themselves, but may contain
		// nested maps once round-tripped through JSON (e.g. a struct
		// field typed map[string]any). Round-trip once to surface any
		// such nested maps, then normalize the result.
		b, err := json.Marshal(t)
		if err != nil {
			return t
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return t
		}
		if m, ok := generic.(map[string]any); ok {
			return normalize(m)
		}
		if a, ok := generic.([]any); ok {
			return normalize(a)
		}
		return generic
	}
}

// FormatFloat renders a float64 with at most 10 decimal places, trailing
// zeros stripped — the numeric normalization applied to idempotency-key
// field values.
func FormatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', 10, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	if s == "" || s == "-0" {
		s = "0"
	}
	return s
}
