// Package ratification implements the X-3 R0-R4 gates: after a sovereign
// succession suspends every active treaty grant, each suspended grant is
// individually restored (ratify=true) or permanently revoked
// (ratify=false) by the new sovereign. Admission (the treaty package)
// judged the grant once under the old sovereign; ratification is the new
// sovereign explicitly re-accepting or rejecting that delegation under
// its own signature.
package ratification

import (
	"github.com/axionic/rsak/pkg/rsak/artifact"
	"github.com/axionic/rsak/pkg/rsak/constitution"
	"github.com/axionic/rsak/pkg/rsak/rsacrypto"
	"github.com/axionic/rsak/pkg/rsak/state"
	"github.com/axionic/rsak/pkg/rsak/treaty"
)

// Gate is the closed, ordered set of ratification gates.
type Gate string

const (
	R0Schema          Gate = "r0_schema"
	R1Completeness    Gate = "r1_completeness"
	R2Signature       Gate = "r2_signature"
	R3TreatySuspended Gate = "r3_treaty_suspended"
	R4Density         Gate = "r4_density"
)

var GateOrder = []Gate{R0Schema, R1Completeness, R2Signature, R3TreatySuspended, R4Density}

// RejectionCode is the closed taxonomy of ratification gate failures.
type RejectionCode string

const (
	RejectSchemaInvalid    RejectionCode = "SCHEMA_INVALID"
	RejectInvalidField     RejectionCode = "INVALID_FIELD"
	RejectSignatureInvalid RejectionCode = "SIGNATURE_INVALID"
	RejectNotSuspended     RejectionCode = "TREATY_NOT_SUSPENDED"
	RejectDensityViolation RejectionCode = "DENSITY_MARGIN_VIOLATION"
	RejectPrivilegeLeak    RejectionCode = "PRIOR_KEY_PRIVILEGE_LEAK"
)

// Event records one gate's outcome.
type Event struct {
	Gate          Gate
	Passed        bool
	RejectionCode RejectionCode
	Detail        string
}

// Result is the outcome of evaluating one TreatyRatification.
type Result struct {
	Admitted      bool
	FailedGate    Gate
	RejectionCode RejectionCode
	Events        []Event
}

// Evaluate runs the R0-R4 gates against one ratification artifact, the
// active constitution, and the current state. Applying the effect
// (state.Ratify / state.RejectRatification) is the caller's job; multiple
// ratifications in a cycle are applied sequentially so each later one is
// evaluated against the updated ledger.
func Evaluate(r *artifact.TreatyRatification, c *constitution.Constitution, st state.State) *Result {
	res := &Result{Admitted: true}
	record := func(g Gate, passed bool, code RejectionCode, detail string) {
		res.Events = append(res.Events, Event{Gate: g, Passed: passed, RejectionCode: code, Detail: detail})
		if !passed && res.FailedGate == "" {
			res.FailedGate, res.RejectionCode, res.Admitted = g, code, false
		}
	}

	// R0: the artifact must exist as a well-typed record.
	if r == nil {
		record(R0Schema, false, RejectSchemaInvalid, "ratification artifact missing or untyped")
		return res
	}
	record(R0Schema, true, "", "")

	// R1: treaty id and signature are required.
	if r.GrantID == "" || r.SignatureHex == "" {
		record(R1Completeness, false, RejectInvalidField, "ratification missing treaty_id or signature")
		return res
	}
	record(R1Completeness, true, "", "")

	// R2: signed by the active sovereign. A signature that verifies under
	// a retired sovereign key instead is the privilege-leak case.
	if !verifiesUnder(st.SovereignKeyID, r) {
		if verifiesUnder(st.PriorSovereignKey, r) || verifiesUnderAny(st.HistoricalSovereignKeys, r) {
			record(R2Signature, false, RejectPrivilegeLeak, "ratification signed by a retired sovereign key")
			return res
		}
		record(R2Signature, false, RejectSignatureInvalid, "signature does not verify under active sovereign")
		return res
	}
	record(R2Signature, true, "", "")

	// R3: the referenced grant must currently be suspended.
	var suspended *state.TreatyGrant
	for i := range st.SuspendedTreaties {
		if st.SuspendedTreaties[i].GrantID == r.GrantID {
			suspended = &st.SuspendedTreaties[i]
			break
		}
	}
	if suspended == nil {
		record(R3TreatySuspended, false, RejectNotSuspended, "grant is not in the suspended set: "+r.GrantID)
		return res
	}
	record(R3TreatySuspended, true, "", "")

	// R4: restoring the grant must keep effective density strictly below
	// the bound and away from saturation. A rejection (ratify=false) only
	// shrinks the active set and cannot violate the bound.
	if r.Ratify {
		aConst, b, mConst, _ := c.ComputeDensity()
		granteeSet := map[string]bool{}
		mEff := mConst
		for _, g := range st.ActiveTreaties {
			granteeSet[g.ToAuthority] = true
			mEff += len(g.Actions)
		}
		granteeSet[suspended.ToAuthority] = true
		mEff += len(suspended.Actions)
		aEff := aConst + len(granteeSet)
		density := treaty.EffectiveDensity(mEff, aEff, b)
		if bound, ok := c.DensityUpperBound(); ok && (density >= 1.0 || density > bound) {
			record(R4Density, false, RejectDensityViolation, "restoring grant would violate the density bound")
			return res
		}
		if density == 1.0 {
			record(R4Density, false, RejectDensityViolation, "restoring grant would saturate the authority/action matrix")
			return res
		}
	}
	record(R4Density, true, "", "")

	return res
}

func verifiesUnder(keyIdentifier string, r *artifact.TreatyRatification) bool {
	pubHex, ok := rsacrypto.PubKeyFromIdentifier(keyIdentifier)
	if !ok {
		return false
	}
	valid, err := rsacrypto.VerifyContent(pubHex, r.SignatureHex, r.SigningPayload())
	return err == nil && valid
}

func verifiesUnderAny(keys []string, r *artifact.TreatyRatification) bool {
	for _, k := range keys {
		if verifiesUnder(k, r) {
			return true
		}
	}
	return false
}
