// Package succession implements the X-3 sovereign key rotation pipeline:
// the S1-S7 gates that admit a successor key. Rotation is deliberately
// narrow — it changes who may sign future authority, never what authority
// exists — so every gate here checks the rotation's authorization and
// lineage, not the constitution's content. An admitted non-self proposal
// only sets pending_successor_key; the actual rotation happens at the
// next cycle boundary (pkg/rsak/boundary).
package succession

import (
	"github.com/axionic/rsak/pkg/rsak/artifact"
	"github.com/axionic/rsak/pkg/rsak/constitution"
	"github.com/axionic/rsak/pkg/rsak/rsacrypto"
	"github.com/axionic/rsak/pkg/rsak/state"
)

// Gate is the closed, ordered set of succession admission gates.
type Gate string

const (
	S1Completeness              Gate = "s1_completeness"
	S2AuthorityCitationSnapshot Gate = "s2_authority_citation_snapshot"
	S3Signature                 Gate = "s3_signature"
	S4SovereignMatch            Gate = "s4_sovereign_match"
	S5LineageIntegrity          Gate = "s5_lineage_integrity"
	S6ConstitutionalCompliance  Gate = "s6_constitutional_compliance"
	S7PerCycleUniqueness        Gate = "s7_per_cycle_uniqueness"
)

var GateOrder = []Gate{
	S1Completeness,
	S2AuthorityCitationSnapshot,
	S3Signature,
	S4SovereignMatch,
	S5LineageIntegrity,
	S6ConstitutionalCompliance,
	S7PerCycleUniqueness,
}

// RejectionCode is the closed taxonomy of succession gate failures.
type RejectionCode string

const (
	RejectInvalidField       RejectionCode = "INVALID_FIELD"
	RejectCitationInvalid    RejectionCode = "AUTHORITY_CITATION_INVALID"
	RejectSignatureInvalid   RejectionCode = "SIGNATURE_INVALID"
	RejectSovereignMismatch  RejectionCode = "PRIOR_SOVEREIGN_MISMATCH"
	RejectIdentityCycle      RejectionCode = "IDENTITY_CYCLE"
	RejectLineageFork        RejectionCode = "LINEAGE_FORK"
	RejectDisabled           RejectionCode = "SUCCESSION_DISABLED"
	RejectMultiplePerCycle   RejectionCode = "MULTIPLE_SUCCESSIONS_IN_CYCLE"
	RejectPriorPrivilegeLeak RejectionCode = "PRIOR_KEY_PRIVILEGE_LEAK"
)

// Event records one gate's outcome.
type Event struct {
	Gate          Gate
	Passed        bool
	RejectionCode RejectionCode
	Detail        string
}

// Input is one SuccessionProposal plus the cycle facts S7 needs.
type Input struct {
	Proposal *artifact.SuccessionProposal
	// AdmittedThisCycle counts non-self successions already admitted in
	// this cycle; any value above zero trips S7.
	AdmittedThisCycle int
}

// Result is the outcome of evaluating a succession proposal.
// SelfSuccession marks the degenerate prior==successor case, which
// re-affirms the active key without setting a pending successor.
type Result struct {
	Admitted       bool
	SelfSuccession bool
	FailedGate     Gate
	RejectionCode  RejectionCode
	Events         []Event
}

// Evaluate runs the S1-S7 gates against a proposal, the current
// constitution frame, and the current state.
func Evaluate(in Input, frame *constitution.Frame, st state.State) *Result {
	res := &Result{Admitted: true}
	record := func(g Gate, passed bool, code RejectionCode, detail string) {
		res.Events = append(res.Events, Event{Gate: g, Passed: passed, RejectionCode: code, Detail: detail})
		if !passed && res.FailedGate == "" {
			res.FailedGate, res.RejectionCode, res.Admitted = g, code, false
		}
	}
	p := in.Proposal

	// S1: completeness and key format.
	if p == nil || p.PriorSovereignPublicKey == "" || p.SuccessorPublicKey == "" || p.SignatureHex == "" {
		record(S1Completeness, false, RejectInvalidField, "succession proposal missing required fields")
		return res
	}
	priorPubHex, priorOK := rsacrypto.PubKeyFromIdentifier(p.PriorSovereignPublicKey)
	if !priorOK {
		record(S1Completeness, false, RejectInvalidField, "prior_sovereign_public_key is not a valid ed25519 identifier")
		return res
	}
	if _, ok := rsacrypto.PubKeyFromIdentifier(p.SuccessorPublicKey); !ok {
		record(S1Completeness, false, RejectInvalidField, "successor_public_key is not a valid ed25519 identifier")
		return res
	}
	record(S1Completeness, true, "", "")

	// S2: every citation resolves under the current constitution frame.
	citationsOK := len(p.AuthorityCitations) > 0
	for _, cit := range p.AuthorityCitations {
		if frame.ResolveCitation(cit) == nil {
			citationsOK = false
			break
		}
	}
	if !citationsOK {
		record(S2AuthorityCitationSnapshot, false, RejectCitationInvalid, "one or more authority citations do not resolve")
		return res
	}
	record(S2AuthorityCitationSnapshot, true, "", "")

	// S3: the signer must be the claimed prior sovereign key. A payload
	// signed by an activated-past sovereign is the privilege-leak case,
	// distinguished from an ordinary bad signature.
	if st.IsHistoricalSovereign(p.PriorSovereignPublicKey) {
		record(S3Signature, false, RejectPriorPrivilegeLeak, "signer is a retired sovereign key")
		return res
	}
	ok, err := rsacrypto.VerifyContent(priorPubHex, p.SignatureHex, p.SigningPayload())
	if err != nil || !ok {
		record(S3Signature, false, RejectSignatureInvalid, "signature does not verify under prior sovereign key")
		return res
	}
	record(S3Signature, true, "", "")

	// S4: the claimed prior key must be the live sovereign.
	if p.PriorSovereignPublicKey != st.SovereignKeyID {
		record(S4SovereignMatch, false, RejectSovereignMismatch, "prior_sovereign_public_key does not match active sovereign")
		return res
	}
	record(S4SovereignMatch, true, "", "")

	// S5: lineage integrity. Self-succession is always lineage-safe. A
	// successor that was ever sovereign before would close a cycle in the
	// identity chain; a succession proposed while a different successor
	// is already pending would fork the lineage.
	res.SelfSuccession = p.SuccessorPublicKey == p.PriorSovereignPublicKey
	if !res.SelfSuccession {
		if st.IsHistoricalSovereign(p.SuccessorPublicKey) || p.SuccessorPublicKey == st.SovereignKeyID {
			record(S5LineageIntegrity, false, RejectIdentityCycle, "successor key already appears in the sovereign lineage")
			return res
		}
		if st.PendingSuccessorKey != "" && st.PendingSuccessorKey != p.SuccessorPublicKey {
			record(S5LineageIntegrity, false, RejectLineageFork, "a different successor is already pending activation")
			return res
		}
	}
	record(S5LineageIntegrity, true, "", "")

	// S6: the overlay must enable succession.
	if !frame.SuccessionEnabled() {
		record(S6ConstitutionalCompliance, false, RejectDisabled, "overlay clause CL-SUCCESSION-ENABLED is absent or false")
		return res
	}
	record(S6ConstitutionalCompliance, true, "", "")

	// S7: at most one non-self succession per cycle.
	if !res.SelfSuccession && in.AdmittedThisCycle > 0 {
		record(S7PerCycleUniqueness, false, RejectMultiplePerCycle, "a succession was already admitted this cycle")
		return res
	}
	record(S7PerCycleUniqueness, true, "", "")

	return res
}
