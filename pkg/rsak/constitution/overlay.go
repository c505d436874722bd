package constitution

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Overlay is the frozen auxiliary document the X-3 layer lays over a base
// constitution: succession and ratification clauses, citable as
// overlay:<overlay-hash>#<clause-id>. Like the base constitution it is
// hash-identified over its raw bytes and immutable after load.
type Overlay struct {
	data      map[string]any
	rawBytes  []byte
	sha256hex string
	clauses   map[string]map[string]any
}

// LoadOverlay parses raw YAML bytes into an Overlay. Clauses are any
// mapping in the tree carrying a string "id" field, same convention as
// the base constitution's citation index.
func LoadOverlay(raw []byte) (*Overlay, error) {
	sum := sha256.Sum256(raw)

	var data map[string]any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, &ConstitutionError{Msg: fmt.Sprintf("overlay YAML parse error: %v", err)}
	}
	if data == nil {
		return nil, &ConstitutionError{Msg: "overlay YAML root must be a mapping"}
	}

	o := &Overlay{
		data:      data,
		rawBytes:  raw,
		sha256hex: hex.EncodeToString(sum[:]),
		clauses:   map[string]map[string]any{},
	}
	o.indexClauses(data)
	return o, nil
}

func (o *Overlay) indexClauses(node any) {
	switch t := node.(type) {
	case map[string]any:
		if id, ok := t["id"].(string); ok {
			o.clauses[id] = t
		}
		for _, v := range t {
			o.indexClauses(v)
		}
	case []any:
		for _, v := range t {
			o.indexClauses(v)
		}
	}
}

func (o *Overlay) Data() map[string]any { return o.data }
func (o *Overlay) SHA256() string       { return o.sha256hex }
func (o *Overlay) RawBytes() []byte     { return o.rawBytes }

// Clause returns the overlay clause with the given id, or nil.
func (o *Overlay) Clause(id string) map[string]any { return o.clauses[id] }

// ResolveCitation resolves an overlay:<hash>#<clause-id> citation. The
// hash must match this overlay's own; a citation against a different
// overlay never resolves here.
func (o *Overlay) ResolveCitation(citation string) any {
	rest, ok := strings.CutPrefix(citation, "overlay:")
	if !ok {
		return nil
	}
	i := strings.IndexByte(rest, '#')
	if i < 0 {
		return nil
	}
	if rest[:i] != o.sha256hex {
		return nil
	}
	if clause, ok := o.clauses[rest[i+1:]]; ok {
		return clause
	}
	return nil
}

// SuccessionEnabled reports whether the CL-SUCCESSION-ENABLED clause is
// present with enabled == true. Absence of the clause means succession is
// disabled — the kernel never injects defaults.
func (o *Overlay) SuccessionEnabled() bool {
	clause := o.clauses["CL-SUCCESSION-ENABLED"]
	if clause == nil {
		return false
	}
	enabled, _ := clause["enabled"].(bool)
	return enabled
}

// Frame is the effective constitution the X-3 policy core evaluates
// against: the base constitution plus an optional succession overlay.
// All base accessors delegate through the embedded Constitution; citation
// resolution additionally covers the overlay: namespace.
type Frame struct {
	*Constitution
	Overlay *Overlay
}

// NewFrame wraps a base constitution with an optional overlay. A nil
// overlay yields a frame behaving exactly like the base constitution.
func NewFrame(base *Constitution, overlay *Overlay) *Frame {
	return &Frame{Constitution: base, Overlay: overlay}
}

// ResolveCitation resolves overlay: citations against the overlay and
// everything else against the base constitution.
func (f *Frame) ResolveCitation(citation string) any {
	if strings.HasPrefix(citation, "overlay:") {
		if f.Overlay == nil {
			return nil
		}
		return f.Overlay.ResolveCitation(citation)
	}
	return f.Constitution.ResolveCitation(citation)
}

// OverlayHash returns the overlay's hash, or "" when no overlay is set.
func (f *Frame) OverlayHash() string {
	if f.Overlay == nil {
		return ""
	}
	return f.Overlay.SHA256()
}

// SuccessionEnabled reports the overlay's CL-SUCCESSION-ENABLED state; a
// frame with no overlay has succession disabled.
func (f *Frame) SuccessionEnabled() bool {
	return f.Overlay != nil && f.Overlay.SuccessionEnabled()
}
