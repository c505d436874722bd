package treaty

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axionic/rsak/pkg/rsak/constitution"
	"github.com/axionic/rsak/pkg/rsak/state"
)

const treatyYAML = `
meta:
  version: "1.0.0"
action_space:
  action_types:
    - type: Notify
    - type: ReadLocal
    - type: Exec
    - type: Extra
AuthorityModel:
  action_permissions:
    - authority: AUTH_OPS
      actions: ["Notify", "ReadLocal"]
    - authority: AUTH_AUDIT
      actions: ["Notify"]
  amendment_permissions: []
  treaty_permissions: []
AmendmentProcedure:
  authority_reference_mode: BOTH
  density_upper_bound: 0.5
`

func loadTreatyConstitution(t *testing.T) *constitution.Constitution {
	t.Helper()
	c, err := constitution.Load([]byte(treatyYAML), "")
	require.NoError(t, err)
	return c
}

func TestEvaluate_AdmitsWellFormedGrant(t *testing.T) {
	c := loadTreatyConstitution(t)
	p := NewPipeline(c)
	prop := &Proposal{FromAuthority: "AUTH_OPS", ToAuthority: "ed25519:grantee", Actions: []string{"Notify"}, GrantCycle: 0}

	res := p.Evaluate(prop, state.State{})
	require.True(t, res.Admitted)
	assert.Empty(t, res.FailedGate)
	assert.Len(t, res.Events, len(GateOrder))
}

func TestEvaluate_RejectsIncompleteProposal(t *testing.T) {
	c := loadTreatyConstitution(t)
	p := NewPipeline(c)
	prop := &Proposal{FromAuthority: "AUTH_OPS"}

	res := p.Evaluate(prop, state.State{})
	assert.False(t, res.Admitted)
	assert.Equal(t, GateCompleteness, res.FailedGate)
	assert.Equal(t, RejectIncomplete, res.RejectionCode)
}

func TestEvaluate_RejectsGrantorLackingAuthority(t *testing.T) {
	c := loadTreatyConstitution(t)
	p := NewPipeline(c)
	prop := &Proposal{FromAuthority: "AUTH_AUDIT", ToAuthority: "ed25519:grantee", Actions: []string{"ReadLocal"}, GrantCycle: 0}

	res := p.Evaluate(prop, state.State{})
	assert.False(t, res.Admitted)
	assert.Equal(t, GateCitation, res.FailedGate)
	assert.Equal(t, RejectUnauthorized, res.RejectionCode)
}

func TestEvaluate_RejectsDelegationCycle(t *testing.T) {
	c := loadTreatyConstitution(t)
	p := NewPipeline(c)
	st := state.State{ActiveTreaties: []state.TreatyGrant{
		{GrantID: "g1", FromAuthority: "ed25519:grantee", ToAuthority: "AUTH_OPS", Actions: []string{"Notify"}},
	}}
	prop := &Proposal{FromAuthority: "AUTH_OPS", ToAuthority: "ed25519:grantee", Actions: []string{"Notify"}, GrantCycle: 0}

	res := p.Evaluate(prop, st)
	assert.False(t, res.Admitted)
	assert.Equal(t, GateAcyclicity, res.FailedGate)
	assert.Equal(t, RejectCycle, res.RejectionCode)
}

func TestEvaluate_RejectsDepthExceeded(t *testing.T) {
	c := loadTreatyConstitution(t)
	p := NewPipeline(c)
	st := state.State{ActiveTreaties: []state.TreatyGrant{
		{GrantID: "g1", FromAuthority: "AUTH_ROOT", ToAuthority: "AUTH_OPS", Actions: []string{"Notify"}, DelegationDepth: 1},
	}}
	prop := &Proposal{FromAuthority: "AUTH_OPS", ToAuthority: "ed25519:grantee", Actions: []string{"Notify"}, GrantCycle: 0}

	res := p.Evaluate(prop, st)
	assert.False(t, res.Admitted)
	assert.Equal(t, GateDepthBound, res.FailedGate)
	assert.Equal(t, RejectDepthExceeded, res.RejectionCode)
}

func TestEvaluate_DensityBoundCountsActiveGrants(t *testing.T) {
	c := loadTreatyConstitution(t)
	p := NewPipeline(c)
	// A=2 authorities, B=4 action types, constitutional M=3. The same
	// candidate (2 actions to a fresh grantee) must be judged against
	// the whole active set, not the constitution's static density alone.
	prop := &Proposal{FromAuthority: "AUTH_OPS", ToAuthority: "ed25519:grantee", Actions: []string{"Notify", "ReadLocal"}, GrantCycle: 0}

	// Against an empty active set: M_eff=5, A_eff=3, d_eff=5/12=0.417,
	// under the 0.5 bound.
	res := p.Evaluate(prop, state.State{})
	assert.True(t, res.Admitted)

	// With two active grants already consuming the margin (M_eff=9,
	// A_eff=4, d_eff=9/16=0.5625) the identical candidate must be
	// rejected at the density gate, not silently pruned later.
	st := state.State{ActiveTreaties: []state.TreatyGrant{
		{GrantID: "g1", FromAuthority: "AUTH_OPS", ToAuthority: "ed25519:x", Actions: []string{"Notify", "ReadLocal"}},
		{GrantID: "g2", FromAuthority: "AUTH_AUDIT", ToAuthority: "ed25519:x", Actions: []string{"Notify", "Exec"}},
	}}
	res = p.Evaluate(prop, st)
	assert.False(t, res.Admitted)
	assert.Equal(t, GateDensityBound, res.FailedGate)
	assert.Equal(t, RejectDensityExceeded, res.RejectionCode)
}

func TestEffectiveDensity(t *testing.T) {
	assert.InDelta(t, 0.5, EffectiveDensity(2, 2, 2), 1e-9)
	assert.Equal(t, 0.0, EffectiveDensity(1, 0, 2))
	assert.Equal(t, 0.0, EffectiveDensity(1, 2, 0))
}

func TestGreedyPrune_KeepsUnderBoundSortedByGrantCycleThenID(t *testing.T) {
	candidates := []state.TreatyGrant{
		{GrantID: "b", GrantCycle: 1, Actions: []string{"Notify"}},
		{GrantID: "a", GrantCycle: 1, Actions: []string{"Notify"}},
		{GrantID: "z", GrantCycle: 0, Actions: []string{"Notify"}},
	}
	kept := GreedyPrune(candidates, 2, 2, 0.26)
	require.Len(t, kept, 1)
	assert.Equal(t, "z", kept[0].GrantID)
}

func TestGreedyPrune_EmptyWhenBoundTooTight(t *testing.T) {
	candidates := []state.TreatyGrant{
		{GrantID: "a", GrantCycle: 0, Actions: []string{"Notify"}},
	}
	kept := GreedyPrune(candidates, 2, 2, 0)
	assert.Empty(t, kept)
}

func TestEvaluate_RejectsWildcardMapping(t *testing.T) {
	c := loadTreatyConstitution(t)
	p := NewPipeline(c)
	prop := &Proposal{FromAuthority: "AUTH_OPS", ToAuthority: "ed25519:grantee", Actions: []string{"*"}, GrantCycle: 0}

	res := p.Evaluate(prop, state.State{})
	assert.False(t, res.Admitted)
	assert.Equal(t, GateCompleteness, res.FailedGate)
	assert.Equal(t, RejectWildcard, res.RejectionCode)
}

func TestEvaluate_RejectsDurationOverConstitutionalMaximum(t *testing.T) {
	c, err := constitution.Load([]byte(treatyYAML+"  max_treaty_duration_cycles: 5\n"), "")
	require.NoError(t, err)
	p := NewPipeline(c)
	prop := &Proposal{FromAuthority: "AUTH_OPS", ToAuthority: "ed25519:grantee", Actions: []string{"Notify"}, GrantCycle: 0, DurationCycles: 6}

	res := p.Evaluate(prop, state.State{})
	assert.False(t, res.Admitted)
	assert.Equal(t, GateCompleteness, res.FailedGate)
	assert.Equal(t, RejectIncomplete, res.RejectionCode)

	prop.DurationCycles = 5
	res = p.Evaluate(prop, state.State{})
	assert.True(t, res.Admitted)
}
