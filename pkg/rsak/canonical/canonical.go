// Package canonical implements RFC 8785 JSON Canonicalization Scheme (JCS)
// serialization for the kernel's artifact and state trees, delegating the
// actual transform to gowebpki/jcs — the same library the rest of the
// ecosystem reaches for rather than a hand-rolled key sort, since JCS's
// ECMA-262 number formatting is easy to get subtly wrong by hand.
//
// Every value the kernel hashes or signs passes through Bytes or Marshal
// first (the hashing package uses Marshal). Non-finite floats anywhere in the tree are a hard error ahead of the
// transform: the kernel never emits them and never silently coerces them.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// NonFiniteError reports a NaN or Infinity value encountered during
// canonicalization.
type NonFiniteError struct {
	Path string
}

func (e *NonFiniteError) Error() string {
	return fmt.Sprintf("canonical: non-finite float at %s", e.Path)
}

// Bytes returns the canonical JSON byte sequence for v.
//
// v is first passed through encoding/json to honor struct tags, checked
// for non-finite floats, then handed to jcs.Transform for the RFC 8785
// canonicalization pass (key sort, number and string normalization).
func Bytes(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal: %w", err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: intermediate decode: %w", err)
	}
	if err := assertFinite(generic, "$"); err != nil {
		return nil, err
	}
	normalized, err := json.Marshal(normalizeStrings(generic))
	if err != nil {
		return nil, fmt.Errorf("canonical: normalize: %w", err)
	}
	out, err := jcs.Transform(normalized)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform: %w", err)
	}
	return out, nil
}

// Marshal canonicalizes a generic tree (map[string]any / []any / scalars)
// directly. Use this when the caller already owns a tree built from
// artifact ToMap() methods, skipping the encoding/json struct-tag pre-pass.
func Marshal(v any) ([]byte, error) {
	if err := assertFinite(v, "$"); err != nil {
		return nil, err
	}
	normalized, err := json.Marshal(normalizeStrings(v))
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	out, err := jcs.Transform(normalized)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform: %w", err)
	}
	return out, nil
}

// normalizeStrings walks a generic tree applying Unicode NFC normalization
// to every string leaf, so two authors submitting visually identical text
// in different composed/decomposed forms produce the same content hash.
func normalizeStrings(v any) any {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[norm.NFC.String(k)] = normalizeStrings(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalizeStrings(vv)
		}
		return out
	default:
		return v
	}
}

// String is Bytes rendered as a string.
func String(v any) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func assertFinite(v any, path string) error {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return &NonFiniteError{Path: path}
		}
	case map[string]any:
		for k, vv := range t {
			if err := assertFinite(vv, path+"."+k); err != nil {
				return err
			}
		}
	case []any:
		for i, vv := range t {
			if err := assertFinite(vv, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}
