// Package admission implements the RSA-0 five-gate admission pipeline:
// Completeness, Authority Citation, Scope Claim, Constitution Compliance,
// and IO Allowlist, evaluated in that fixed order against every candidate
// bundle a cycle receives. A bundle that fails any gate is rejected; the
// first-failing gate (in GateOrder) becomes its RefusalRecord.FailedGate
// when no bundle in the cycle is admitted.
package admission

import (
	"path/filepath"
	"strings"

	"github.com/axionic/rsak/pkg/rsak/artifact"
	"github.com/axionic/rsak/pkg/rsak/constitution"
)

// Event records one gate's pass/fail outcome for a single candidate, for
// the admission_trace telemetry stream.
type Event struct {
	BundleHashHex string
	Gate          artifact.AdmissionGate
	Passed        bool
	RejectionCode artifact.AdmissionRejectionCode
	Detail        string
}

// Result is the per-candidate outcome of running the pipeline.
type Result struct {
	Bundle        *artifact.CandidateBundle
	BundleHash    [32]byte
	BundleHashHex string
	Admitted      bool
	FailedGate    artifact.AdmissionGate
	RejectionCode artifact.AdmissionRejectionCode
	Events        []Event
}

// Pipeline evaluates candidate bundles against a constitution and the
// cycle's known observations.
type Pipeline struct {
	Constitution *constitution.Constitution
}

func NewPipeline(c *constitution.Constitution) *Pipeline {
	return &Pipeline{Constitution: c}
}

// Evaluate runs all five gates against one candidate bundle. knownObservationIDs
// is the set of observation ids visible this cycle, used by the scope-claim
// gate to reject dangling references.
func (p *Pipeline) Evaluate(bundle *artifact.CandidateBundle, knownObservationIDs map[string]bool, tokensUsedSoFar, maxTokensPerCycle int) (*Result, error) {
	hash, err := bundle.BundleHash()
	if err != nil {
		return nil, err
	}
	hexHash, err := bundle.BundleHashHex()
	if err != nil {
		return nil, err
	}
	res := &Result{Bundle: bundle, BundleHash: hash, BundleHashHex: hexHash, Admitted: true}

	type gateFn func() (bool, artifact.AdmissionRejectionCode, string)
	gates := []struct {
		gate artifact.AdmissionGate
		fn   gateFn
	}{
		{artifact.GateCompleteness, func() (bool, artifact.AdmissionRejectionCode, string) { return p.gateCompleteness(bundle) }},
		{artifact.GateAuthorityCitation, func() (bool, artifact.AdmissionRejectionCode, string) {
			return p.gateAuthorityCitation(bundle)
		}},
		{artifact.GateScopeClaim, func() (bool, artifact.AdmissionRejectionCode, string) {
			return p.gateScopeClaim(bundle, knownObservationIDs)
		}},
		{artifact.GateConstitutionCompliance, func() (bool, artifact.AdmissionRejectionCode, string) {
			return p.gateConstitutionCompliance(bundle, tokensUsedSoFar, maxTokensPerCycle)
		}},
		{artifact.GateIOAllowlist, func() (bool, artifact.AdmissionRejectionCode, string) { return p.gateIOAllowlist(bundle) }},
	}

	for _, g := range gates {
		passed, code, detail := g.fn()
		res.Events = append(res.Events, Event{BundleHashHex: hexHash, Gate: g.gate, Passed: passed, RejectionCode: code, Detail: detail})
		if !passed {
			// the pipeline stops at the first failing gate: a rejected
			// candidate carries exactly one fail event, preceded only by
			// passes
			res.Admitted = false
			res.FailedGate = g.gate
			res.RejectionCode = code
			break
		}
	}
	return res, nil
}

// gateCompleteness is gate 1: required artifacts/fields present, action
// type declared and well-formed. Mirrors admission.py's _gate_completeness
// — action-type existence and the kernel_only sub-check live here, not in
// gateConstitutionCompliance, and ScopeClaim/Justification/citations are
// only mandatory when the action type's constitution entry says so via its
// requires map.
func (p *Pipeline) gateCompleteness(b *artifact.CandidateBundle) (bool, artifact.AdmissionRejectionCode, string) {
	if b.ActionRequest == nil {
		return false, artifact.RejectMissingField, "action_request missing"
	}
	actionType := string(b.ActionRequest.ActionType)
	if actionType == "" {
		return false, artifact.RejectMissingField, "action_request.action_type empty"
	}

	def := p.Constitution.GetActionTypeDef(actionType)
	if def == nil {
		return false, artifact.RejectInvalidField, "action type not declared: " + actionType
	}
	if kernelOnly, _ := def["kernel_only"].(bool); kernelOnly && b.ActionRequest.Author != artifact.AuthorKernel {
		return false, artifact.RejectKernelOnlyAction, actionType + " is kernel-only"
	}

	requires, _ := def["requires"].(map[string]any)
	requireField := func(key string) bool {
		v, _ := requires[key].(bool)
		return v
	}

	if requireField("scope_claim") {
		if b.ScopeClaim == nil {
			return false, artifact.RejectMissingField, "scope_claim missing"
		}
		if strings.TrimSpace(b.ScopeClaim.Claim) == "" {
			return false, artifact.RejectMissingField, "scope_claim.claim empty"
		}
	}
	if requireField("justification") {
		if b.Justification == nil {
			return false, artifact.RejectMissingField, "justification missing"
		}
		if strings.TrimSpace(b.Justification.Text) == "" {
			return false, artifact.RejectMissingField, "justification text empty"
		}
	}
	if requireField("authority_citations") && len(b.AuthorityCitations) == 0 {
		return false, artifact.RejectMissingField, "no authority citations"
	}

	if code, detail, ok := p.checkRequiredFields(b, def); !ok {
		return false, code, detail
	}

	if b.ActionRequest.ActionType == artifact.ActionLogAppend {
		if code, detail, ok := p.checkLogAppendLimits(b.ActionRequest, def); !ok {
			return false, code, detail
		}
	}

	return true, "", ""
}

// checkRequiredFields validates action_request.fields against the action
// type's required_fields declarations: presence, enum membership, string
// max_len, and array<string> max_len_per_item (used for e.g. jsonl_lines).
func (p *Pipeline) checkRequiredFields(b *artifact.CandidateBundle, def map[string]any) (artifact.AdmissionRejectionCode, string, bool) {
	requiredFields, _ := def["required_fields"].([]any)
	for _, rf := range requiredFields {
		fieldDef, ok := rf.(map[string]any)
		if !ok {
			continue
		}
		name, _ := fieldDef["name"].(string)
		value, present := b.ActionRequest.Fields[name]
		if !present {
			return artifact.RejectMissingField, "action_request.fields." + name + " missing", false
		}

		switch fieldDef["type"] {
		case "enum":
			allowed, _ := fieldDef["allowed"].([]any)
			ok := false
			for _, a := range allowed {
				if s, _ := a.(string); s == value {
					ok = true
					break
				}
			}
			if !ok {
				return artifact.RejectInvalidField, "action_request.fields." + name + " not in allowed enum", false
			}
		case "string":
			if maxLen, hasMax := fieldDef["max_len"]; hasMax {
				s, _ := value.(string)
				if len(s) > toInt(maxLen) {
					return artifact.RejectInvalidField, "action_request.fields." + name + " exceeds max_len", false
				}
			}
		case "array<string>":
			items, ok := value.([]any)
			if !ok {
				return artifact.RejectInvalidField, "action_request.fields." + name + " must be an array of strings", false
			}
			if mlpi := toInt(fieldDef["max_len_per_item"]); mlpi > 0 {
				for _, it := range items {
					s, ok := it.(string)
					if !ok || len(s) > mlpi {
						return artifact.RejectInvalidField, "action_request.fields." + name + " item exceeds max_len_per_item", false
					}
				}
			}
		}
	}
	return "", "", true
}

// checkLogAppendLimits enforces the LogAppend-specific size caps: number of
// jsonl_lines, characters per line, and total payload bytes, each falling
// back to admission.py's defaults when the constitution leaves a limit
// unset.
func (p *Pipeline) checkLogAppendLimits(ar *artifact.ActionRequest, def map[string]any) (artifact.AdmissionRejectionCode, string, bool) {
	limits, _ := def["limits"].(map[string]any)
	maxLines := toIntDefault(limits["max_lines_per_warrant"], 50)
	maxChars := toIntDefault(limits["max_chars_per_line"], 10000)
	maxBytes := toIntDefault(limits["max_bytes_per_warrant"], 256000)

	linesRaw, _ := ar.Fields["jsonl_lines"].([]any)
	if len(linesRaw) > maxLines {
		return artifact.RejectInvalidField, "jsonl_lines exceeds max_lines_per_warrant", false
	}
	totalBytes := 0
	for _, lr := range linesRaw {
		line, _ := lr.(string)
		if len(line) > maxChars {
			return artifact.RejectInvalidField, "jsonl_lines entry exceeds max_chars_per_line", false
		}
		totalBytes += len(line)
	}
	if totalBytes > maxBytes {
		return artifact.RejectInvalidField, "jsonl_lines payload exceeds max_bytes_per_warrant", false
	}
	return "", "", true
}

// toInt coerces a YAML-decoded numeric value (int or float64, depending on
// how it was expressed in the source) to int, defaulting to 0.
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func toIntDefault(v any, def int) int {
	if v == nil {
		return def
	}
	return toInt(v)
}

func (p *Pipeline) gateAuthorityCitation(b *artifact.CandidateBundle) (bool, artifact.AdmissionRejectionCode, string) {
	if len(b.AuthorityCitations) == 0 {
		return false, artifact.RejectMissingField, "no authority citations"
	}
	actionType := string(b.ActionRequest.ActionType)
	for _, citation := range b.AuthorityCitations {
		if !p.Constitution.ValidateCitationBOTH(citation) {
			continue
		}
		node := p.Constitution.ResolveCitation(citation)
		m, ok := node.(map[string]any)
		if !ok {
			continue
		}
		actions, _ := m["actions"].([]any)
		for _, a := range actions {
			if s, ok := a.(string); ok && s == actionType {
				return true, "", ""
			}
		}
	}
	return false, artifact.RejectCitationUnresolvable, "no citation authorizes " + actionType
}

func (p *Pipeline) gateScopeClaim(b *artifact.CandidateBundle, known map[string]bool) (bool, artifact.AdmissionRejectionCode, string) {
	if b.ScopeClaim == nil {
		return true, "", ""
	}
	for _, obsID := range b.ScopeClaim.ObservationIDs {
		if !known[obsID] {
			return false, artifact.RejectInvalidField, "scope_claim references unknown observation " + obsID
		}
	}
	if b.ScopeClaim.ClauseRef != "" && !p.Constitution.ValidateCitationBOTH(b.ScopeClaim.ClauseRef) {
		return false, artifact.RejectCitationUnresolvable, "scope_claim.clause_ref unresolvable"
	}
	return true, "", ""
}

// gateConstitutionCompliance is gate 4: the action type's declared closed
// set and the cycle's token budget. Action-type existence and the
// kernel_only sub-rule are checked earlier, in gateCompleteness.
func (p *Pipeline) gateConstitutionCompliance(b *artifact.CandidateBundle, tokensUsedSoFar, maxTokensPerCycle int) (bool, artifact.AdmissionRejectionCode, string) {
	if tokensUsedSoFar >= maxTokensPerCycle {
		return false, artifact.RejectCandidateBudgetExceed, "cycle token budget exhausted"
	}
	return true, "", ""
}

func (p *Pipeline) gateIOAllowlist(b *artifact.CandidateBundle) (bool, artifact.AdmissionRejectionCode, string) {
	actionType := b.ActionRequest.ActionType
	if actionType != artifact.ActionReadLocal && actionType != artifact.ActionWriteLocal {
		return true, "", ""
	}
	path, _ := b.ActionRequest.Fields["path"].(string)
	if path == "" {
		return false, artifact.RejectMissingField, "path field required for " + string(actionType)
	}
	var roots []string
	if actionType == artifact.ActionReadLocal {
		roots = p.Constitution.GetReadPaths()
	} else {
		roots = p.Constitution.GetWritePaths()
	}
	for _, root := range roots {
		if isDescendant(path, root) {
			return true, "", ""
		}
	}
	return false, artifact.RejectPathNotAllowlisted, "path not under any allowlisted root: " + path
}

// isDescendant reports whether path is root itself or lexically contained
// within it, after cleaning both and rejecting any ".." escape.
func isDescendant(path, root string) bool {
	cleanPath := filepath.Clean(path)
	cleanRoot := filepath.Clean(root)
	if strings.Contains(cleanPath, "..") {
		return false
	}
	if cleanPath == cleanRoot {
		return true
	}
	return strings.HasPrefix(cleanPath, cleanRoot+string(filepath.Separator))
}
