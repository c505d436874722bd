package succession

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axionic/rsak/pkg/rsak/artifact"
	"github.com/axionic/rsak/pkg/rsak/constitution"
	"github.com/axionic/rsak/pkg/rsak/rsacrypto"
	"github.com/axionic/rsak/pkg/rsak/state"
)

const testConstitutionYAML = `
meta:
  version: "1.0.0"
action_space:
  action_types:
    - type: Notify
AuthorityModel:
  action_permissions:
    - authority: AUTH_SOVEREIGN
      actions: ["Notify"]
  amendment_permissions: []
  treaty_permissions: []
invariants:
  - id: INV-SUCCESSION-AUTHORIZED
`

const testOverlayYAML = `
clauses:
  - id: CL-SUCCESSION-ENABLED
    enabled: true
`

func newSigner(t *testing.T, keyID string) *rsacrypto.Signer {
	t.Helper()
	s, err := rsacrypto.NewSigner(keyID)
	require.NoError(t, err)
	return s
}

func testFrame(t *testing.T, overlayYAML string) *constitution.Frame {
	t.Helper()
	base, err := constitution.Load([]byte(testConstitutionYAML), "")
	require.NoError(t, err)
	if overlayYAML == "" {
		return constitution.NewFrame(base, nil)
	}
	o, err := constitution.LoadOverlay([]byte(overlayYAML))
	require.NoError(t, err)
	return constitution.NewFrame(base, o)
}

func testCitations(frame *constitution.Frame) []string {
	return []string{"authority:" + frame.SHA256() + "#AUTH_SOVEREIGN"}
}

// signedProposal builds a SuccessionProposal signed by signer over the
// proposal's own signing payload.
func signedProposal(t *testing.T, signer *rsacrypto.Signer, priorID, successorID string, citations []string) *artifact.SuccessionProposal {
	t.Helper()
	unsigned, err := artifact.NewSuccessionProposal(priorID, successorID, citations, "rotate sovereign key", "", artifact.AuthorHost, "2024-01-01T00:00:00Z")
	require.NoError(t, err)
	sig, err := signer.SignContent(unsigned.SigningPayload())
	require.NoError(t, err)
	signed, err := artifact.NewSuccessionProposal(priorID, successorID, citations, "rotate sovereign key", sig, artifact.AuthorHost, "2024-01-01T00:00:00Z")
	require.NoError(t, err)
	// signature is excluded from identity, so signing must not move the id
	assert.Equal(t, unsigned.ID, signed.ID)
	return signed
}

func TestEvaluate_AdmitsWellFormedRotation(t *testing.T) {
	prior := newSigner(t, "prior")
	successor := newSigner(t, "next")
	frame := testFrame(t, testOverlayYAML)
	st := state.NewState(prior.Identifier())
	prop := signedProposal(t, prior, prior.Identifier(), successor.Identifier(), testCitations(frame))

	res := Evaluate(Input{Proposal: prop}, frame, st)
	assert.True(t, res.Admitted)
	assert.False(t, res.SelfSuccession)
	assert.Empty(t, res.FailedGate)
	assert.Len(t, res.Events, len(GateOrder))
}

func TestEvaluate_SelfSuccessionIsLineageSafe(t *testing.T) {
	prior := newSigner(t, "prior")
	frame := testFrame(t, testOverlayYAML)
	st := state.NewState(prior.Identifier())
	prop := signedProposal(t, prior, prior.Identifier(), prior.Identifier(), testCitations(frame))

	res := Evaluate(Input{Proposal: prop}, frame, st)
	assert.True(t, res.Admitted)
	assert.True(t, res.SelfSuccession)
}

func TestEvaluate_S1_RejectsMissingFields(t *testing.T) {
	frame := testFrame(t, testOverlayYAML)
	res := Evaluate(Input{Proposal: &artifact.SuccessionProposal{}}, frame, state.State{})
	assert.False(t, res.Admitted)
	assert.Equal(t, S1Completeness, res.FailedGate)
	assert.Equal(t, RejectInvalidField, res.RejectionCode)
}

func TestEvaluate_S1_RejectsMalformedKeyIdentifier(t *testing.T) {
	prior := newSigner(t, "prior")
	frame := testFrame(t, testOverlayYAML)
	st := state.NewState(prior.Identifier())
	prop := signedProposal(t, prior, prior.Identifier(), "ed25519:not-hex", testCitations(frame))

	res := Evaluate(Input{Proposal: prop}, frame, st)
	assert.False(t, res.Admitted)
	assert.Equal(t, S1Completeness, res.FailedGate)
	assert.Equal(t, RejectInvalidField, res.RejectionCode)
}

func TestEvaluate_S2_RejectsUnresolvableCitation(t *testing.T) {
	prior := newSigner(t, "prior")
	successor := newSigner(t, "next")
	frame := testFrame(t, testOverlayYAML)
	st := state.NewState(prior.Identifier())
	prop := signedProposal(t, prior, prior.Identifier(), successor.Identifier(), []string{"authority:deadbeef#AUTH_NOBODY"})

	res := Evaluate(Input{Proposal: prop}, frame, st)
	assert.False(t, res.Admitted)
	assert.Equal(t, S2AuthorityCitationSnapshot, res.FailedGate)
	assert.Equal(t, RejectCitationInvalid, res.RejectionCode)
}

func TestEvaluate_S3_RejectsImpostorSignature(t *testing.T) {
	prior := newSigner(t, "prior")
	impostor := newSigner(t, "impostor")
	successor := newSigner(t, "next")
	frame := testFrame(t, testOverlayYAML)
	st := state.NewState(prior.Identifier())
	prop := signedProposal(t, impostor, prior.Identifier(), successor.Identifier(), testCitations(frame))

	res := Evaluate(Input{Proposal: prop}, frame, st)
	assert.False(t, res.Admitted)
	assert.Equal(t, S3Signature, res.FailedGate)
	assert.Equal(t, RejectSignatureInvalid, res.RejectionCode)
}

func TestEvaluate_S3_RejectsRetiredSovereignWithPrivilegeLeak(t *testing.T) {
	k0 := newSigner(t, "k0")
	k1 := newSigner(t, "k1")
	k2 := newSigner(t, "k2")
	frame := testFrame(t, testOverlayYAML)
	st := state.NewState(k0.Identifier()).SetPendingSuccessor(k1.Identifier()).ActivatePendingSuccessor("prop-0")
	require.Equal(t, k1.Identifier(), st.SovereignKeyID)

	// K0 signs a proposal claiming itself as prior sovereign after being
	// rotated out: PRIOR_KEY_PRIVILEGE_LEAK, not merely SIGNATURE_INVALID.
	prop := signedProposal(t, k0, k0.Identifier(), k2.Identifier(), testCitations(frame))
	res := Evaluate(Input{Proposal: prop}, frame, st)
	assert.False(t, res.Admitted)
	assert.Equal(t, S3Signature, res.FailedGate)
	assert.Equal(t, RejectPriorPrivilegeLeak, res.RejectionCode)
}

func TestEvaluate_S4_RejectsSovereignMismatch(t *testing.T) {
	prior := newSigner(t, "prior")
	other := newSigner(t, "other")
	successor := newSigner(t, "next")
	frame := testFrame(t, testOverlayYAML)
	st := state.NewState(other.Identifier())
	prop := signedProposal(t, prior, prior.Identifier(), successor.Identifier(), testCitations(frame))

	res := Evaluate(Input{Proposal: prop}, frame, st)
	assert.False(t, res.Admitted)
	assert.Equal(t, S4SovereignMatch, res.FailedGate)
	assert.Equal(t, RejectSovereignMismatch, res.RejectionCode)
}

func TestEvaluate_S5_RejectsHistoricalSuccessorAsIdentityCycle(t *testing.T) {
	k0 := newSigner(t, "k0")
	k1 := newSigner(t, "k1")
	frame := testFrame(t, testOverlayYAML)
	st := state.NewState(k0.Identifier()).SetPendingSuccessor(k1.Identifier()).ActivatePendingSuccessor("prop-0")

	// K1 proposes rotating back to the retired K0.
	prop := signedProposal(t, k1, k1.Identifier(), k0.Identifier(), testCitations(frame))
	res := Evaluate(Input{Proposal: prop}, frame, st)
	assert.False(t, res.Admitted)
	assert.Equal(t, S5LineageIntegrity, res.FailedGate)
	assert.Equal(t, RejectIdentityCycle, res.RejectionCode)
}

func TestEvaluate_S5_RejectsForkWhileAnotherSuccessorPending(t *testing.T) {
	prior := newSigner(t, "prior")
	a := newSigner(t, "a")
	b := newSigner(t, "b")
	frame := testFrame(t, testOverlayYAML)
	st := state.NewState(prior.Identifier()).SetPendingSuccessor(a.Identifier())
	prop := signedProposal(t, prior, prior.Identifier(), b.Identifier(), testCitations(frame))

	res := Evaluate(Input{Proposal: prop}, frame, st)
	assert.False(t, res.Admitted)
	assert.Equal(t, S5LineageIntegrity, res.FailedGate)
	assert.Equal(t, RejectLineageFork, res.RejectionCode)
}

func TestEvaluate_S6_RejectsWhenOverlayDisablesSuccession(t *testing.T) {
	prior := newSigner(t, "prior")
	successor := newSigner(t, "next")
	frame := testFrame(t, "")
	st := state.NewState(prior.Identifier())
	prop := signedProposal(t, prior, prior.Identifier(), successor.Identifier(), testCitations(frame))

	res := Evaluate(Input{Proposal: prop}, frame, st)
	assert.False(t, res.Admitted)
	assert.Equal(t, S6ConstitutionalCompliance, res.FailedGate)
	assert.Equal(t, RejectDisabled, res.RejectionCode)
}

func TestEvaluate_S7_RejectsSecondSuccessionInCycle(t *testing.T) {
	prior := newSigner(t, "prior")
	successor := newSigner(t, "next")
	frame := testFrame(t, testOverlayYAML)
	st := state.NewState(prior.Identifier())
	prop := signedProposal(t, prior, prior.Identifier(), successor.Identifier(), testCitations(frame))

	res := Evaluate(Input{Proposal: prop, AdmittedThisCycle: 1}, frame, st)
	assert.False(t, res.Admitted)
	assert.Equal(t, S7PerCycleUniqueness, res.FailedGate)
	assert.Equal(t, RejectMultiplePerCycle, res.RejectionCode)
}
