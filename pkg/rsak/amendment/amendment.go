// Package amendment implements the X-1 nine-gate amendment admission
// pipeline. An amendment candidate proposes a full-replacement
// constitution; admitting it is far more conservative than admitting an
// ordinary action bundle, since a bad amendment corrupts every future
// cycle's policy, not just one action.
package amendment

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/axionic/rsak/pkg/rsak/constitution"
)

// Gate is the closed, ordered set of X-1 amendment admission gates. Gate
// 8 (Structural Preservation) has five internal sub-steps, evaluated in
// order and reported individually in the trace.
type Gate string

const (
	GateCompleteness             Gate = "completeness"
	GateConstitutionCompliance   Gate = "constitution_compliance"
	GateAuthorityCitationBoth    Gate = "authority_citation_both"
	GateAmendmentAuthorization   Gate = "amendment_authorization"
	GateFullReplacementIntegrity Gate = "full_replacement_integrity"
	GatePhysicsClaimRejection    Gate = "physics_claim_rejection"
	GateStructuralPreservation   Gate = "structural_preservation"
	GateCoolingPeriod            Gate = "cooling_period"
	GateAdoptionQuorum           Gate = "adoption_quorum"
)

var GateOrder = []Gate{
	GateCompleteness,
	GateConstitutionCompliance,
	GateAuthorityCitationBoth,
	GateAmendmentAuthorization,
	GateFullReplacementIntegrity,
	GatePhysicsClaimRejection,
	GateStructuralPreservation,
	GateCoolingPeriod,
	GateAdoptionQuorum,
}

// StructuralSubstep names the five internal checks of the Structural
// Preservation gate (8B.1-8B.5 in the reference numbering).
type StructuralSubstep string

const (
	SubstepCardinality       StructuralSubstep = "cardinality"
	SubstepWildcard          StructuralSubstep = "wildcard"
	SubstepDensityRatchet    StructuralSubstep = "density_universal_authorization"
	SubstepScopeCollapse     StructuralSubstep = "scope_collapse"
	SubstepRatchetMonotonic  StructuralSubstep = "ratchet"
)

// forbiddenKeys is the closed set of YAML keys whose presence anywhere in
// a proposed constitution is an automatic physics-claim rejection: these
// are the keys that would let a constitution smuggle in executable
// behavior rather than declarative policy.
var forbiddenKeys = map[string]bool{
	"script": true, "code": true, "eval": true, "template": true,
	"hook": true, "python": true, "js": true, "expr": true,
	"exec": true, "lambda": true,
}

// RejectionCode is the closed taxonomy of amendment gate failures.
type RejectionCode string

// The closed amendment rejection taxonomy:
// AMENDMENTS_DISABLED, PRIOR_HASH_MISMATCH, ECK_MISSING, SCHEMA_INVALID,
// PHYSICS_CLAIM_DETECTED, WILDCARD_MAPPING, UNIVERSAL_AUTHORIZATION,
// SCOPE_COLLAPSE, ENVELOPE_DEGRADED, COOLING_VIOLATION. The taxonomy has
// fewer entries than this pipeline has failure sites, so several gates
// share a code where the closed set doesn't distinguish them (see
// DESIGN.md).
const (
	RejectIncomplete           RejectionCode = "AMENDMENTS_DISABLED"
	RejectConstitutionInvalid  RejectionCode = "SCHEMA_INVALID"
	RejectECKMissing           RejectionCode = "ECK_MISSING"
	RejectCitationUnresolvable RejectionCode = "PRIOR_HASH_MISMATCH"
	RejectUnauthorized         RejectionCode = "PRIOR_HASH_MISMATCH"
	RejectNotFullReplacement   RejectionCode = "SCHEMA_INVALID"
	RejectOversize             RejectionCode = "SCHEMA_INVALID"
	RejectPhysicsClaim         RejectionCode = "PHYSICS_CLAIM_DETECTED"
	RejectQuorumNotMet         RejectionCode = "PRIOR_HASH_MISMATCH"
	RejectCoolingNotSatisfied  RejectionCode = "COOLING_VIOLATION"

	// Structural Preservation substep codes (gate 8B.1-8B.5).
	RejectCardinality     RejectionCode = "SCOPE_COLLAPSE"
	RejectWildcardMapping RejectionCode = "WILDCARD_MAPPING"
	RejectDensityRatchet  RejectionCode = "UNIVERSAL_AUTHORIZATION"
	RejectScopeCollapse   RejectionCode = "SCOPE_COLLAPSE"
	RejectEnvelopeDegraded RejectionCode = "ENVELOPE_DEGRADED"
)

// structuralSubstepCode maps a StructuralSubstep to its closed-taxonomy
// rejection code.
func structuralSubstepCode(sub StructuralSubstep) RejectionCode {
	switch sub {
	case SubstepCardinality:
		return RejectCardinality
	case SubstepWildcard:
		return RejectWildcardMapping
	case SubstepDensityRatchet:
		return RejectDensityRatchet
	case SubstepScopeCollapse:
		return RejectScopeCollapse
	case SubstepRatchetMonotonic:
		return RejectEnvelopeDegraded
	default:
		return RejectEnvelopeDegraded
	}
}

// Event records one gate's (or structural substep's) outcome.
type Event struct {
	Gate          Gate
	Substep       StructuralSubstep
	Passed        bool
	RejectionCode RejectionCode
	Detail        string
}

// Candidate is a proposed full-replacement constitution plus the
// authority citations and cycle/quorum facts needed to admit it.
type Candidate struct {
	ProposedBytes      []byte
	AuthorityCitations []string
	ProposedAtCycle    int
	CurrentCycle       int
	CoolingUntilCycle  int
	CoolingSatisfied   bool
	AuthorizingVotes   int
}

// Result is the outcome of running the nine-gate pipeline.
type Result struct {
	Admitted      bool
	FailedGate    Gate
	RejectionCode RejectionCode
	Events        []Event
}

// Pipeline evaluates amendment candidates against the current
// constitution (the one being replaced) and its amendment policy.
type Pipeline struct {
	Current *constitution.Constitution

	// Schema, when set, is an additional structural check the Full
	// Replacement Integrity gate runs against the proposed constitution's
	// decoded form. It is optional: a deployment without a schema relies
	// on HasECKSections and the structural-preservation ratchet alone.
	Schema *jsonschema.Schema
}

func NewPipeline(c *constitution.Constitution) *Pipeline {
	return &Pipeline{Current: c}
}

// CompileSchema parses a draft 2020-12 JSON Schema document so it can be
// attached to a Pipeline via the Schema field.
func CompileSchema(schemaJSON []byte) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const resourceName = "rsak-amendment-schema.json"
	if err := c.AddResource(resourceName, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("amendment: add schema resource: %w", err)
	}
	schema, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("amendment: compile schema: %w", err)
	}
	return schema, nil
}

// Evaluate runs the nine gates in order and stops at the first failing
// gate, matching the base admission pipeline's convention: a rejected
// candidate's trace ends with exactly one fail event, preceded only by
// passes, and FailedGate/RejectionCode name that gate.
func (p *Pipeline) Evaluate(cand *Candidate, proposed *constitution.Constitution) (*Result, error) {
	res := &Result{Admitted: true}

	record := func(gate Gate, passed bool, code RejectionCode, detail string) {
		res.Events = append(res.Events, Event{Gate: gate, Passed: passed, RejectionCode: code, Detail: detail})
		if !passed && res.FailedGate == "" {
			res.FailedGate, res.RejectionCode, res.Admitted = gate, code, false
		}
	}

	if !p.Current.AmendmentsEnabled() {
		record(GateCompleteness, false, RejectIncomplete, "amendments disabled by current constitution")
		return res, nil
	}
	if len(cand.ProposedBytes) == 0 {
		record(GateCompleteness, false, RejectConstitutionInvalid, "no proposed constitution bytes")
		return res, nil
	}
	record(GateCompleteness, true, "", "")

	canon, err := constitution.CanonicalizeBytes(cand.ProposedBytes)
	if err != nil {
		record(GateConstitutionCompliance, false, RejectConstitutionInvalid, err.Error())
		return res, nil
	}
	if proposed == nil {
		record(GateConstitutionCompliance, false, RejectConstitutionInvalid, "proposed constitution failed to parse")
		return res, nil
	}
	if !proposed.HasECKSections() {
		record(GateConstitutionCompliance, false, RejectECKMissing, "proposed constitution missing ECK sections")
		return res, nil
	}
	record(GateConstitutionCompliance, true, "", "")

	authorized := false
	for _, citation := range cand.AuthorityCitations {
		if p.Current.ValidateCitationBOTH(citation) {
			authorized = true
			break
		}
	}
	if !authorized {
		record(GateAuthorityCitationBoth, false, RejectCitationUnresolvable, "no authority citation resolves under BOTH mode")
		return res, nil
	}
	record(GateAuthorityCitationBoth, true, "", "")

	amendAuthorized := false
	for _, citation := range cand.AuthorityCitations {
		node := p.Current.ResolveCitation(citation)
		if m, ok := node.(map[string]any); ok {
			if actions, ok := m["actions"].([]any); ok {
				for _, a := range actions {
					if s, _ := a.(string); s == "Amend" {
						amendAuthorized = true
					}
				}
			}
		}
	}
	for _, perm := range p.Current.GetAmendmentPermissions() {
		if auth, _ := perm["authority"].(string); auth != "" {
			for _, citation := range cand.AuthorityCitations {
				if strings.Contains(citation, auth) {
					amendAuthorized = true
				}
			}
		}
	}
	if !amendAuthorized {
		record(GateAmendmentAuthorization, false, RejectUnauthorized, "no citation authorizes amendment")
		return res, nil
	}
	record(GateAmendmentAuthorization, true, "", "")

	if len(canon) > p.Current.MaxConstitutionBytes() {
		record(GateFullReplacementIntegrity, false, RejectOversize, "proposed constitution exceeds max_constitution_bytes")
		return res, nil
	}
	if !proposed.HasECKSections() {
		record(GateFullReplacementIntegrity, false, RejectNotFullReplacement, "proposed constitution is not a full replacement")
		return res, nil
	}
	if p.Schema != nil {
		if err := p.Schema.Validate(proposed.Data()); err != nil {
			record(GateFullReplacementIntegrity, false, RejectConstitutionInvalid, "schema validation failed: "+err.Error())
			return res, nil
		}
	}
	record(GateFullReplacementIntegrity, true, "", "")

	if found := findForbiddenKeys(proposed.Data()); len(found) > 0 {
		record(GatePhysicsClaimRejection, false, RejectPhysicsClaim, "forbidden keys present: "+strings.Join(found, ","))
		return res, nil
	}
	record(GatePhysicsClaimRejection, true, "", "")

	if ok, sub, detail := p.structuralPreservation(proposed); !ok {
		code := structuralSubstepCode(sub)
		res.Events = append(res.Events, Event{Gate: GateStructuralPreservation, Substep: sub, Passed: false, RejectionCode: code, Detail: detail})
		if res.FailedGate == "" {
			res.FailedGate, res.RejectionCode, res.Admitted = GateStructuralPreservation, code, false
		}
		return res, nil
	}
	record(GateStructuralPreservation, true, "", "")

	if !cand.CoolingSatisfied {
		record(GateCoolingPeriod, false, RejectCoolingNotSatisfied, "cooling period has not elapsed")
		return res, nil
	}
	record(GateCoolingPeriod, true, "", "")

	if cand.AuthorizingVotes < p.Current.AuthorizationThreshold() {
		record(GateAdoptionQuorum, false, RejectQuorumNotMet, "authorizing votes below threshold")
		return res, nil
	}
	record(GateAdoptionQuorum, true, "", "")

	return res, nil
}

// structuralPreservation runs the five ratchet sub-steps that guarantee
// an amendment can only narrow or hold steady the authority surface it
// governs, never expand it unboundedly.
func (p *Pipeline) structuralPreservation(proposed *constitution.Constitution) (bool, StructuralSubstep, string) {
	curPerms := p.Current.GetActionPermissions()
	newPerms := proposed.GetActionPermissions()
	if len(newPerms) > len(curPerms)*4+8 {
		return false, SubstepCardinality, "action permission cardinality grew implausibly"
	}

	for _, perm := range newPerms {
		actions, _ := perm["actions"].([]any)
		for _, a := range actions {
			if s, _ := a.(string); s == "*" {
				return false, SubstepWildcard, "wildcard action grant forbidden"
			}
		}
	}

	_, curB, _, curDensity := p.Current.ComputeDensity()
	_, newB, _, newDensity := proposed.ComputeDensity()
	if bound, ok := p.Current.DensityUpperBound(); ok && newDensity > bound {
		return false, SubstepDensityRatchet, "proposed density exceeds configured upper bound"
	}
	if curB > 0 && newB > 0 && newDensity > curDensity*2+0.05 {
		return false, SubstepDensityRatchet, "proposed density grew implausibly relative to current"
	}

	if len(proposed.GetAllowedActionTypes()) < 1 {
		return false, SubstepScopeCollapse, "proposed constitution declares no action types"
	}

	// Removing a previously present structured field is forbidden
	// outright, independent of what the accessor defaults would make the
	// numeric comparison below say. An old constitution whose
	// cooling_period_cycles happens to equal the accessor default would
	// otherwise sail through with the field silently dropped.
	for _, field := range []string{"cooling_period_cycles", "authorization_threshold", "authority_reference_mode"} {
		if procedureHasField(p.Current, field) && !procedureHasField(proposed, field) {
			return false, SubstepRatchetMonotonic, field + " removed from amendment procedure"
		}
	}

	if proposed.CoolingPeriodCycles() < p.Current.CoolingPeriodCycles() {
		return false, SubstepRatchetMonotonic, "cooling_period_cycles must not decrease"
	}
	if proposed.AuthorizationThreshold() < p.Current.AuthorizationThreshold() {
		return false, SubstepRatchetMonotonic, "authorization_threshold must not decrease"
	}
	if curBound, curOK := p.Current.DensityUpperBound(); curOK {
		if newBound, newOK := proposed.DensityUpperBound(); !newOK || newBound > curBound {
			return false, SubstepRatchetMonotonic, "density_upper_bound must not increase"
		}
	}

	if ok, detail := versionDidNotRegress(p.Current.Version(), proposed.Version()); !ok {
		return false, SubstepRatchetMonotonic, detail
	}

	return true, "", ""
}

// procedureHasField reports whether the AmendmentProcedure section
// declares the key at all, bypassing accessor defaults.
func procedureHasField(c *constitution.Constitution, key string) bool {
	proc := c.AmendmentProcedure()
	if proc == nil {
		return false
	}
	_, ok := proc[key]
	return ok
}

// versionDidNotRegress compares meta.version fields as semantic versions
// when both parse as one, so a proposed constitution can never roll back
// to an earlier declared version of itself even if every other ratchet
// check above would otherwise admit it. A non-semver version string (a
// constitution that never adopted semantic versioning) is not judged by
// this check; ratcheting then rests entirely on the numeric substeps
// above.
func versionDidNotRegress(currentVersion, proposedVersion string) (bool, string) {
	cur, curErr := semver.NewVersion(currentVersion)
	next, nextErr := semver.NewVersion(proposedVersion)
	if curErr != nil || nextErr != nil {
		return true, ""
	}
	if next.LessThan(cur) {
		return false, fmt.Sprintf("meta.version regressed: %s -> %s", cur, next)
	}
	return true, ""
}

// findForbiddenKeys recursively scans a parsed constitution tree for any
// key in forbiddenKeys, case-insensitively, returning the sorted list of
// matches found (for diagnostic detail, not gate logic — first match
// alone is sufficient to fail the gate).
func findForbiddenKeys(node any) []string {
	var found []string
	seen := map[string]bool{}
	var walk func(any)
	walk = func(n any) {
		switch t := n.(type) {
		case map[string]any:
			for k, v := range t {
				if forbiddenKeys[strings.ToLower(k)] && !seen[k] {
					seen[k] = true
					found = append(found, k)
				}
				walk(v)
			}
		case []any:
			for _, v := range t {
				walk(v)
			}
		}
	}
	walk(node)
	return found
}
