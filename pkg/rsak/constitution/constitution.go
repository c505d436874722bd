// Package constitution implements the kernel's constitution store: an
// immutable, hash-verified view over the constitution YAML document, with
// a citation index supporting id-based, JSON-pointer, and authority
// citation forms (RSA-0 plus the X-1 hash-namespace and ECK extensions).
//
// Parsing and hash verification are pure over already-read bytes; reading
// the YAML file and its optional .sha256 sidecar from disk is the host's
// job (internal/hostload), consistent with the kernel performing no I/O.
package constitution

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConstitutionError reports a load/verification failure — unparseable
// YAML, a non-mapping root, a hash mismatch against a sidecar, or a
// canonicalization violation (non-UTF-8, embedded tabs).
type ConstitutionError struct {
	Msg string
}

func (e *ConstitutionError) Error() string { return e.Msg }

// Constitution is the loaded, hash-verified, citation-indexed view of a
// constitution document.
type Constitution struct {
	data      map[string]any
	rawBytes  []byte
	sha256hex string
	version   string
	index     *CitationIndex
}

// Load parses raw YAML bytes into a Constitution, verifying against an
// optional sidecar hash (pass "" to skip).
func Load(raw []byte, sidecarHash string) (*Constitution, error) {
	sum := sha256.Sum256(raw)
	hexSum := hex.EncodeToString(sum[:])

	if sidecarHash != "" {
		token := strings.Fields(sidecarHash)
		if len(token) == 0 || token[0] != hexSum {
			return nil, &ConstitutionError{Msg: fmt.Sprintf("constitution hash mismatch: sidecar=%s computed=%s", sidecarHash, hexSum)}
		}
	}

	var data map[string]any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, &ConstitutionError{Msg: fmt.Sprintf("constitution YAML parse error: %v", err)}
	}
	if data == nil {
		return nil, &ConstitutionError{Msg: "constitution YAML root must be a mapping"}
	}

	version := ""
	if meta, ok := data["meta"].(map[string]any); ok {
		if v, ok := meta["version"].(string); ok {
			version = v
		}
	}

	c := &Constitution{data: data, rawBytes: raw, sha256hex: hexSum, version: version}
	c.index = buildCitationIndex(hexSum, version, data)
	return c, nil
}

// CanonicalizeBytes applies the constitution byte-canonicalization rule:
// require valid UTF-8, reject embedded tabs outright, normalize CRLF to
// LF, and strip trailing whitespace per line. Used by the X-1 amendment
// pipeline's Full Replacement Integrity gate to size-check a proposed
// constitution.
func CanonicalizeBytes(raw []byte) ([]byte, error) {
	text := string(raw)
	if !isValidUTF8(raw) {
		return nil, &ConstitutionError{Msg: "constitution is not valid UTF-8"}
	}
	if strings.Contains(text, "\t") {
		return nil, &ConstitutionError{Msg: "constitution contains tab characters (forbidden)"}
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r\n\v\f")
	}
	return []byte(strings.Join(lines, "\n")), nil
}

func isValidUTF8(b []byte) bool {
	return strings.ToValidUTF8(string(b), "") == string(b)
}

func (c *Constitution) Data() map[string]any     { return c.data }
func (c *Constitution) Version() string          { return c.version }
func (c *Constitution) SHA256() string           { return c.sha256hex }
func (c *Constitution) RawBytes() []byte         { return c.rawBytes }
func (c *Constitution) CitationIndex() *CitationIndex { return c.index }

// --- RSA-0 convenience accessors ---

func (c *Constitution) actionSpace() map[string]any {
	m, _ := c.data["action_space"].(map[string]any)
	return m
}

func (c *Constitution) actionTypes() []any {
	if m := c.actionSpace(); m != nil {
		if l, ok := m["action_types"].([]any); ok {
			return l
		}
	}
	return nil
}

// GetActionTypeDef returns the declared definition for an action type, or
// nil if it is not in the closed set.
func (c *Constitution) GetActionTypeDef(actionType string) map[string]any {
	for _, at := range c.actionTypes() {
		if m, ok := at.(map[string]any); ok {
			if t, _ := m["type"].(string); t == actionType {
				return m
			}
		}
	}
	return nil
}

// GetAllowedActionTypes returns the closed set of action type names.
func (c *Constitution) GetAllowedActionTypes() []string {
	var out []string
	for _, at := range c.actionTypes() {
		if m, ok := at.(map[string]any); ok {
			if t, ok := m["type"].(string); ok {
				out = append(out, t)
			}
		}
	}
	return out
}

func (c *Constitution) ioPolicy() map[string]any {
	m, _ := c.data["io_policy"].(map[string]any)
	return m
}

func (c *Constitution) allowlistPaths(key string) []string {
	p := c.ioPolicy()
	if p == nil {
		return nil
	}
	allowlist, _ := p["allowlist"].(map[string]any)
	if allowlist == nil {
		return nil
	}
	raw, _ := allowlist[key].([]any)
	return toStrings(raw)
}

func (c *Constitution) GetReadPaths() []string  { return c.allowlistPaths("read_paths") }
func (c *Constitution) GetWritePaths() []string { return c.allowlistPaths("write_paths") }

func (c *Constitution) IsNetworkEnabled() bool {
	p := c.ioPolicy()
	if p == nil {
		return false
	}
	net, _ := p["network"].(map[string]any)
	if net == nil {
		return false
	}
	enabled, _ := net["enabled"].(bool)
	return enabled
}

func (c *Constitution) reflectionPolicy() map[string]any {
	m, _ := c.data["reflection_policy"].(map[string]any)
	return m
}

func (c *Constitution) proposalBudgets() map[string]any {
	p := c.reflectionPolicy()
	if p == nil {
		return nil
	}
	b, _ := p["proposal_budgets"].(map[string]any)
	return b
}

func (c *Constitution) MaxCandidatesPerCycle() int {
	return intField(c.proposalBudgets(), "max_candidates_per_cycle", 5)
}

func (c *Constitution) MaxTotalTokensPerCycle() int {
	return intField(c.proposalBudgets(), "max_total_tokens_per_cycle", 6000)
}

func (c *Constitution) GetRefusalReasonCodes() []string {
	p, _ := c.data["refusal_policy"].(map[string]any)
	if p == nil {
		return nil
	}
	raw, _ := p["refusal_reason_codes"].([]any)
	return toStrings(raw)
}

func (c *Constitution) GetAdmissionRejectionCodes() []string {
	p, _ := c.data["refusal_policy"].(map[string]any)
	if p == nil {
		return nil
	}
	raw, _ := p["admission_rejection_codes"].([]any)
	return toStrings(raw)
}

func (c *Constitution) GetRequiredLogs() []string {
	p, _ := c.data["telemetry_policy"].(map[string]any)
	if p == nil {
		return nil
	}
	raw, _ := p["required_logs"].([]any)
	return toStrings(raw)
}

func (c *Constitution) ResolveCitation(citation string) any {
	return c.index.Resolve(citation)
}

// --- X-1 ECK / amendment policy accessors ---

func (c *Constitution) amendmentPolicy() map[string]any {
	m, _ := c.data["amendment_policy"].(map[string]any)
	return m
}

// AmendmentProcedure returns the ECK AmendmentProcedure section.
func (c *Constitution) AmendmentProcedure() map[string]any {
	m, _ := c.data["AmendmentProcedure"].(map[string]any)
	return m
}

// AuthorityModel returns the ECK AuthorityModel section.
func (c *Constitution) AuthorityModel() map[string]any {
	m, _ := c.data["AuthorityModel"].(map[string]any)
	return m
}

// WarrantDefinition returns the ECK WarrantDefinition section.
func (c *Constitution) WarrantDefinition() map[string]any {
	m, _ := c.data["WarrantDefinition"].(map[string]any)
	return m
}

// ScopeSystem returns the ECK ScopeSystem section.
func (c *Constitution) ScopeSystem() map[string]any {
	m, _ := c.data["ScopeSystem"].(map[string]any)
	return m
}

// HasECKSections reports whether all four ECK sections required for
// amendment integrity are present.
func (c *Constitution) HasECKSections() bool {
	for _, s := range []string{"AmendmentProcedure", "AuthorityModel", "WarrantDefinition", "ScopeSystem"} {
		if _, ok := c.data[s]; !ok {
			return false
		}
	}
	return true
}

func (c *Constitution) AmendmentsEnabled() bool {
	p := c.amendmentPolicy()
	if p == nil {
		return false
	}
	b, _ := p["amendments_enabled"].(bool)
	return b
}

func (c *Constitution) MaxConstitutionBytes() int {
	return intField(c.amendmentPolicy(), "max_constitution_bytes", 32768)
}

func (c *Constitution) MaxAmendmentCandidatesPerCycle() int {
	return intField(c.amendmentPolicy(), "max_amendment_candidates_per_cycle", 3)
}

func (c *Constitution) MaxPendingAmendments() int {
	return intField(c.amendmentPolicy(), "max_pending_amendments", 5)
}

func (c *Constitution) CoolingPeriodCycles() int {
	return intField(c.AmendmentProcedure(), "cooling_period_cycles", 2)
}

// MaxTreatyDurationCycles returns the longest duration a treaty grant may
// request; 0 means the constitution declares no bound.
func (c *Constitution) MaxTreatyDurationCycles() int {
	return intField(c.AmendmentProcedure(), "max_treaty_duration_cycles", 0)
}

func (c *Constitution) AuthorizationThreshold() int {
	return intField(c.AmendmentProcedure(), "authorization_threshold", 1)
}

func (c *Constitution) AuthorityReferenceMode() string {
	proc := c.AmendmentProcedure()
	if proc == nil {
		return "BOTH"
	}
	m, ok := proc["authority_reference_mode"].(string)
	if !ok || m == "" {
		return "BOTH"
	}
	return m
}

// DensityUpperBound returns the configured bound and whether it is present.
func (c *Constitution) DensityUpperBound() (float64, bool) {
	proc := c.AmendmentProcedure()
	if proc == nil {
		return 0, false
	}
	v, ok := proc["density_upper_bound"]
	if !ok || v == nil {
		return 0, false
	}
	return toFloat(v), true
}

// GetActionPermissions returns AuthorityModel.action_permissions.
func (c *Constitution) GetActionPermissions() []map[string]any {
	return mapSlice(c.AuthorityModel(), "action_permissions")
}

// GetAmendmentPermissions returns AuthorityModel.amendment_permissions.
func (c *Constitution) GetAmendmentPermissions() []map[string]any {
	return mapSlice(c.AuthorityModel(), "amendment_permissions")
}

// GetTreatyPermissions returns AuthorityModel.treaty_permissions (X-2).
func (c *Constitution) GetTreatyPermissions() []map[string]any {
	return mapSlice(c.AuthorityModel(), "treaty_permissions")
}

// ComputeDensity returns (A, B, M, density) from action_permissions only
// — the constitutional static property, distinct from runtime effective
// density computed across active treaty grants too (see pkg/rsak/treaty).
func (c *Constitution) ComputeDensity() (a, b, m int, density float64) {
	perms := c.GetActionPermissions()
	authorities := map[string]bool{}
	for _, p := range perms {
		if auth, ok := p["authority"].(string); ok {
			authorities[auth] = true
		}
		actions, _ := p["actions"].([]any)
		m += len(actions)
	}
	a = len(authorities)
	b = len(c.GetAllowedActionTypes())
	if a == 0 || b == 0 {
		return a, b, m, 0
	}
	return a, b, m, float64(m) / float64(a*b)
}

func (c *Constitution) MakeCitation(nodeID string) string {
	return fmt.Sprintf("constitution:%s#%s", c.sha256hex, nodeID)
}

func (c *Constitution) MakeAuthorityCitation(authID string) string {
	return fmt.Sprintf("authority:%s#%s", c.sha256hex, authID)
}

// SelfTest resolves every declared invariant id and a fixed set of
// structural pointer paths used by the host and kernel, returning the
// list of failures (empty slice = pass). Run once at startup by
// cmd/rsak-kernel, which prints any failures and exits with status 1; no
// SYSTEM observation is produced from them.
func (c *Constitution) SelfTest() []string {
	var failures []string
	invariants, _ := c.data["invariants"].([]any)
	for _, inv := range invariants {
		m, ok := inv.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		citation := fmt.Sprintf("constitution:v%s#%s", c.version, id)
		if c.ResolveCitation(citation) == nil {
			failures = append(failures, "Failed to resolve invariant: "+citation)
		}
	}
	keyPointers := []string{
		"/telemetry_policy/required_logs",
		"/selection_policy/default_selector_rule",
		"/io_policy/allowlist",
		"/exit_policy/exit_mandatory_conditions",
		"/reflection_policy/proposal_budgets",
	}
	for _, ptr := range keyPointers {
		citation := fmt.Sprintf("constitution:v%s@%s", c.version, ptr)
		if c.ResolveCitation(citation) == nil {
			failures = append(failures, "Failed to resolve pointer: "+citation)
		}
	}
	return failures
}

// --- helpers ---

func toStrings(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func mapSlice(m map[string]any, key string) []map[string]any {
	if m == nil {
		return nil
	}
	raw, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if mm, ok := v.(map[string]any); ok {
			out = append(out, mm)
		}
	}
	return out
}

func intField(m map[string]any, key string, def int) int {
	if m == nil {
		return def
	}
	v, ok := m[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return def
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	}
	return 0
}
