package ratification

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axionic/rsak/pkg/rsak/artifact"
	"github.com/axionic/rsak/pkg/rsak/constitution"
	"github.com/axionic/rsak/pkg/rsak/rsacrypto"
	"github.com/axionic/rsak/pkg/rsak/state"
)

// Two authorities x two action types with three constitutional pairs:
// restoring one delegated pair yields d_eff = 4/(3*2) = 0.667.
const ratifyConstitutionYAML = `
meta:
  version: "1.0.0"
action_space:
  action_types:
    - type: Notify
    - type: ReadLocal
AuthorityModel:
  action_permissions:
    - authority: AUTH_OPS
      actions: ["Notify", "ReadLocal"]
    - authority: AUTH_AUDIT
      actions: ["Notify"]
  amendment_permissions: []
  treaty_permissions: []
AmendmentProcedure:
  density_upper_bound: %v
`

func loadConstitution(t *testing.T, densityBound float64) *constitution.Constitution {
	t.Helper()
	c, err := constitution.Load([]byte(fmt.Sprintf(ratifyConstitutionYAML, densityBound)), "")
	require.NoError(t, err)
	return c
}

func newSigner(t *testing.T) *rsacrypto.Signer {
	t.Helper()
	s, err := rsacrypto.NewSigner("sovereign")
	require.NoError(t, err)
	return s
}

// signedRatification builds a TreatyRatification signed by signer over
// its own signing payload.
func signedRatification(t *testing.T, signer *rsacrypto.Signer, grantID string, ratify bool) *artifact.TreatyRatification {
	t.Helper()
	unsigned, err := artifact.NewTreatyRatification(grantID, ratify, []string{"treaty:" + grantID}, "", artifact.AuthorHost, "2024-01-01T00:00:00Z")
	require.NoError(t, err)
	sig, err := signer.SignContent(unsigned.SigningPayload())
	require.NoError(t, err)
	signed, err := artifact.NewTreatyRatification(grantID, ratify, []string{"treaty:" + grantID}, sig, artifact.AuthorHost, "2024-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, unsigned.ID, signed.ID)
	return signed
}

func suspendedState(sovereign *rsacrypto.Signer) state.State {
	st := state.NewState(sovereign.Identifier())
	st = st.AddTreaty(state.TreatyGrant{
		GrantID:       "grant-1",
		FromAuthority: "AUTH_OPS",
		ToAuthority:   "ed25519:grantee-1",
		Actions:       []string{"Notify"},
	})
	return st.SuspendAllActive()
}

func TestEvaluate_RatifiesSuspendedGrant(t *testing.T) {
	sov := newSigner(t)
	c := loadConstitution(t, 0.9)
	st := suspendedState(sov)
	r := signedRatification(t, sov, "grant-1", true)

	res := Evaluate(r, c, st)
	assert.True(t, res.Admitted)
	assert.Empty(t, res.FailedGate)
	assert.Len(t, res.Events, len(GateOrder))
}

func TestEvaluate_RejectionPathSkipsDensity(t *testing.T) {
	// ratify=false shrinks the active set; the density gate cannot fail.
	sov := newSigner(t)
	c := loadConstitution(t, 0.1)
	st := suspendedState(sov)
	r := signedRatification(t, sov, "grant-1", false)

	res := Evaluate(r, c, st)
	assert.True(t, res.Admitted)
}

func TestEvaluate_R0_NilArtifact(t *testing.T) {
	sov := newSigner(t)
	res := Evaluate(nil, loadConstitution(t, 0.9), suspendedState(sov))
	assert.False(t, res.Admitted)
	assert.Equal(t, R0Schema, res.FailedGate)
	assert.Equal(t, RejectSchemaInvalid, res.RejectionCode)
}

func TestEvaluate_R1_MissingSignature(t *testing.T) {
	sov := newSigner(t)
	r, err := artifact.NewTreatyRatification("grant-1", true, nil, "", artifact.AuthorHost, "2024-01-01T00:00:00Z")
	require.NoError(t, err)

	res := Evaluate(r, loadConstitution(t, 0.9), suspendedState(sov))
	assert.False(t, res.Admitted)
	assert.Equal(t, R1Completeness, res.FailedGate)
	assert.Equal(t, RejectInvalidField, res.RejectionCode)
}

func TestEvaluate_R2_RejectsUnverifiableSignature(t *testing.T) {
	sov := newSigner(t)
	stranger := newSigner(t)
	st := suspendedState(sov)
	r := signedRatification(t, stranger, "grant-1", true)

	res := Evaluate(r, loadConstitution(t, 0.9), st)
	assert.False(t, res.Admitted)
	assert.Equal(t, R2Signature, res.FailedGate)
	assert.Equal(t, RejectSignatureInvalid, res.RejectionCode)
}

func TestEvaluate_R2_PriorKeySignatureIsPrivilegeLeak(t *testing.T) {
	// K0 rotated out in favor of K1; a ratification signed by K0 must be
	// rejected as a privilege leak, not a mere bad signature.
	k0 := newSigner(t)
	k1 := newSigner(t)
	st := suspendedState(k0)
	st = st.SetPendingSuccessor(k1.Identifier()).ActivatePendingSuccessor("prop-0")
	require.Equal(t, k1.Identifier(), st.SovereignKeyID)

	r := signedRatification(t, k0, "grant-1", true)
	res := Evaluate(r, loadConstitution(t, 0.9), st)
	assert.False(t, res.Admitted)
	assert.Equal(t, R2Signature, res.FailedGate)
	assert.Equal(t, RejectPrivilegeLeak, res.RejectionCode)
}

func TestEvaluate_R3_RejectsGrantNotSuspended(t *testing.T) {
	sov := newSigner(t)
	st := state.NewState(sov.Identifier())
	r := signedRatification(t, sov, "grant-1", true)

	res := Evaluate(r, loadConstitution(t, 0.9), st)
	assert.False(t, res.Admitted)
	assert.Equal(t, R3TreatySuspended, res.FailedGate)
	assert.Equal(t, RejectNotSuspended, res.RejectionCode)
}

func TestEvaluate_R4_RejectsDensityViolation(t *testing.T) {
	// Restoring the grant yields d_eff = 4/6 against a bound of 0.5.
	sov := newSigner(t)
	st := suspendedState(sov)
	r := signedRatification(t, sov, "grant-1", true)

	res := Evaluate(r, loadConstitution(t, 0.5), st)
	assert.False(t, res.Admitted)
	assert.Equal(t, R4Density, res.FailedGate)
	assert.Equal(t, RejectDensityViolation, res.RejectionCode)
}
