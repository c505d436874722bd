package constitution

import "strings"

// CitationIndex resolves the three citation forms the kernel accepts:
//
//	constitution:<sha256>#<id>          hash-based id lookup
//	constitution:<sha256>@<json-pointer> hash-based pointer lookup
//	constitution:v<version>#<id>         legacy version-based id lookup
//	constitution:v<version>@<json-pointer> legacy version-based pointer lookup
//	authority:<sha256>#AUTH_<name>       authority namespace lookup
//
// The legacy version form is retained for citations written before a
// document carried a stable content hash; new citations should prefer the
// hash-based form. SelfTest resolves its citations through the version
// form only; in BOTH authority-reference-mode, ValidateCitationBOTH
// accepts a citation that resolves in either form.
type CitationIndex struct {
	hash        string
	version     string
	data        map[string]any
	idIndex     map[string]any
	authorities map[string]any
}

func buildCitationIndex(hash, version string, data map[string]any) *CitationIndex {
	idx := &CitationIndex{
		hash:        hash,
		version:     version,
		data:        data,
		idIndex:     map[string]any{},
		authorities: map[string]any{},
	}
	idx.indexIDs(data)
	idx.indexAuthorities(data)
	return idx
}

// indexIDs walks the full tree collecting any mapping that carries an "id"
// string field, keyed by that id. Invariant entries, clause entries, and
// amendment-procedure sub-clauses all use this convention.
func (c *CitationIndex) indexIDs(node any) {
	switch t := node.(type) {
	case map[string]any:
		if id, ok := t["id"].(string); ok {
			c.idIndex[id] = t
		}
		for _, v := range t {
			c.indexIDs(v)
		}
	case []any:
		for _, v := range t {
			c.indexIDs(v)
		}
	}
}

// indexAuthorities collects AUTH_<name> identifiers declared under
// AuthorityModel.action_permissions / amendment_permissions / treaty_permissions.
func (c *CitationIndex) indexAuthorities(data map[string]any) {
	am, _ := data["AuthorityModel"].(map[string]any)
	if am == nil {
		return
	}
	for _, key := range []string{"action_permissions", "amendment_permissions", "treaty_permissions"} {
		perms, _ := am[key].([]any)
		for _, p := range perms {
			m, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if auth, ok := m["authority"].(string); ok {
				c.authorities[auth] = m
			}
		}
	}
}

// Resolve returns the node a citation string refers to, or nil if it does
// not resolve (unknown namespace, hash/version mismatch, missing id,
// unresolvable pointer).
func (c *CitationIndex) Resolve(citation string) any {
	switch {
	case strings.HasPrefix(citation, "constitution:"):
		return c.resolveConstitution(strings.TrimPrefix(citation, "constitution:"))
	case strings.HasPrefix(citation, "authority:"):
		return c.resolveAuthority(strings.TrimPrefix(citation, "authority:"))
	default:
		return nil
	}
}

func (c *CitationIndex) resolveConstitution(rest string) any {
	var ref, selector string
	var byID bool
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		ref, selector, byID = rest[:i], rest[i+1:], true
	} else if i := strings.IndexByte(rest, '@'); i >= 0 {
		ref, selector, byID = rest[:i], rest[i+1:], false
	} else {
		return nil
	}

	switch {
	case ref == c.hash:
		// hash-based, falls through
	case strings.HasPrefix(ref, "v") && ref[1:] == c.version:
		// legacy version-based, falls through
	default:
		return nil
	}

	if byID {
		v, ok := c.idIndex[selector]
		if !ok {
			return nil
		}
		return v
	}
	return resolvePointer(c.data, selector)
}

func (c *CitationIndex) resolveAuthority(rest string) any {
	i := strings.IndexByte(rest, '#')
	if i < 0 {
		return nil
	}
	ref, name := rest[:i], rest[i+1:]
	if ref != c.hash {
		return nil
	}
	v, ok := c.authorities[name]
	if !ok {
		return nil
	}
	return v
}

// resolvePointer implements RFC 6901 JSON Pointer resolution over a
// map[string]any/[]any tree.
func resolvePointer(root any, pointer string) any {
	if pointer == "" {
		return root
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil
	}
	cur := root
	for _, tok := range strings.Split(pointer[1:], "/") {
		tok = strings.ReplaceAll(tok, "~1", "/")
		tok = strings.ReplaceAll(tok, "~0", "~")
		switch t := cur.(type) {
		case map[string]any:
			v, ok := t[tok]
			if !ok {
				return nil
			}
			cur = v
		case []any:
			idx, err := atoiStrict(tok)
			if err != nil || idx < 0 || idx >= len(t) {
				return nil
			}
			cur = t[idx]
		default:
			return nil
		}
	}
	return cur
}

func atoiStrict(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, &ConstitutionError{Msg: "empty pointer token"}
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, &ConstitutionError{Msg: "non-numeric pointer token"}
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// ValidateCitationBOTH checks a citation against the constitution's
// configured authority_reference_mode. In HASH mode only the hash-based
// form may resolve; in VERSION mode only the legacy version-based form
// may resolve; in BOTH mode the citation must resolve and, when it
// names a hash or version explicitly, that namespace must match the
// live document.
func (c *Constitution) ValidateCitationBOTH(citation string) bool {
	resolved := c.ResolveCitation(citation)
	if resolved == nil {
		return false
	}
	mode := c.AuthorityReferenceMode()
	isVersionForm := strings.Contains(citation, ":v") && (strings.Contains(citation, "#") || strings.Contains(citation, "@"))
	isHashForm := strings.HasPrefix(citation, "constitution:"+c.sha256hex) || strings.HasPrefix(citation, "authority:"+c.sha256hex)
	switch mode {
	case "HASH":
		return isHashForm
	case "VERSION":
		return isVersionForm
	default: // BOTH
		return isHashForm || isVersionForm
	}
}
