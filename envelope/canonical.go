package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Canonical computes the deterministic byte encoding of a payload.
//
// Strings encode as their raw UTF-8 bytes. Everything else encodes as compact
// JSON with object keys in lexicographic order. Numbers are carried through
// as their original literals, so re-encoding a decoded value reproduces the
// exact input bytes.
func Canonical(v any) ([]byte, error) {
	if s, ok := v.(string); ok {
		return []byte(s), nil
	}

	var raw []byte
	switch t := v.(type) {
	case json.RawMessage:
		raw = t
	case []byte:
		raw = t
	default:
		enc, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("canonical encoding failed: %w", err)
		}
		raw = enc
	}

	return normalize(raw)
}

// normalize round-trips JSON through an ordered in-memory form. Decoding with
// json.Number keeps numeric literals intact; re-marshaling maps emits keys
// sorted, which is what makes the encoding canonical.
func normalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonical encoding: invalid JSON: %w", err)
	}

	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}
	return out, nil
}
