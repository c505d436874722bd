package policycore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axionic/rsak/pkg/rsak/artifact"
	"github.com/axionic/rsak/pkg/rsak/constitution"
	"github.com/axionic/rsak/pkg/rsak/state"
)

const policyYAML = `
meta:
  version: "1.0.0"
action_space:
  action_types:
    - type: Notify
    - type: ReadLocal
io_policy:
  allowlist:
    read_paths: ["/data"]
    write_paths: ["/out"]
  network:
    enabled: false
reflection_policy:
  proposal_budgets:
    max_candidates_per_cycle: 2
    max_total_tokens_per_cycle: 1000
AuthorityModel:
  action_permissions:
    - authority: AUTH_OPS
      actions: ["Notify", "ReadLocal"]
  amendment_permissions: []
  treaty_permissions: []
AmendmentProcedure:
  authority_reference_mode: BOTH
`

func loadPolicyConstitution(t *testing.T) *constitution.Constitution {
	t.Helper()
	c, err := constitution.Load([]byte(policyYAML), "")
	require.NoError(t, err)
	return c
}

func timestampObs(t *testing.T, iso string) *artifact.Observation {
	t.Helper()
	obs, err := artifact.NewObservation(artifact.ObservationTimestamp, map[string]any{"iso8601_utc": iso}, artifact.AuthorHost, iso)
	require.NoError(t, err)
	return obs
}

func notifyBundle(t *testing.T, c *constitution.Constitution, obsID string) (*artifact.CandidateBundle, *artifact.Observation) {
	t.Helper()
	obs, err := artifact.NewObservation(artifact.ObservationUserInput, map[string]any{"text": "hi"}, artifact.AuthorUser, "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	if obsID != "" {
		obs.ID = obsID
	}
	ar, err := artifact.NewActionRequest(artifact.ActionNotify, map[string]any{"target": "stdout", "message": "hi"}, artifact.AuthorUser, "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	sc, err := artifact.NewScopeClaim([]string{obs.ID}, "claim", "", artifact.AuthorUser, "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	j, err := artifact.NewJustification("because", artifact.AuthorUser, "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	bundle := &artifact.CandidateBundle{
		ActionRequest:      ar,
		ScopeClaim:         sc,
		Justification:      j,
		AuthorityCitations: []string{c.MakeAuthorityCitation("AUTH_OPS")},
	}
	return bundle, obs
}

func TestRunCycle_AdmitsAndIssuesWarrant(t *testing.T) {
	c := loadPolicyConstitution(t)
	bundle, obs := notifyBundle(t, c, "")
	st := state.NewState("sovereign-1")

	ts := timestampObs(t, "2026-01-01T00:00:00Z")
	out, err := RunCycle(c, []*artifact.Observation{ts, obs}, []*artifact.CandidateBundle{bundle}, st, 0)
	require.NoError(t, err)
	require.NotNil(t, out.Decision)
	assert.Equal(t, artifact.DecisionAction, out.Decision.DecisionType)
	require.NotNil(t, out.Decision.Warrant)
	assert.Equal(t, artifact.ActionNotify, out.Decision.Warrant.ActionType)
	assert.Equal(t, "stdout", out.Decision.Warrant.ScopeConstraints["target"])
	assert.Equal(t, "rsa", out.Decision.Warrant.ScopeConstraints["origin"])
	assert.True(t, out.Decision.Warrant.SingleUse)
	assert.Equal(t, "2026-01-01T00:00:00Z", out.Decision.Warrant.CreatedAt)
	assert.Equal(t, 1, out.NextState.Internal.CycleIndex)
	assert.NotNil(t, out.SelectorEvent)
}

func TestRunCycle_RefusesWhenNoTimestampObservation(t *testing.T) {
	c := loadPolicyConstitution(t)
	st := state.NewState("sovereign-1")

	out, err := RunCycle(c, nil, nil, st, 0)
	require.NoError(t, err)
	require.NotNil(t, out.Decision)
	assert.Equal(t, artifact.DecisionRefuse, out.Decision.DecisionType)
	require.NotNil(t, out.Decision.Refusal)
	assert.Equal(t, artifact.RefusalMissingRequiredObs, out.Decision.Refusal.ReasonCode)
	assert.Equal(t, "required_observations", out.Decision.Refusal.FailedGate)
	assert.Equal(t, []string{"TIMESTAMP"}, out.Decision.Refusal.MissingArtifacts)
	assert.Empty(t, out.AdmissionTrace)
}

func TestRunCycle_RefusesOnAmbiguousTimestamps(t *testing.T) {
	c := loadPolicyConstitution(t)
	st := state.NewState("sovereign-1")
	ts1 := timestampObs(t, "2026-01-01T00:00:00Z")
	ts2 := timestampObs(t, "2026-01-01T00:00:01Z")

	out, err := RunCycle(c, []*artifact.Observation{ts1, ts2}, nil, st, 0)
	require.NoError(t, err)
	assert.Equal(t, artifact.DecisionRefuse, out.Decision.DecisionType)
	assert.Equal(t, artifact.RefusalMissingRequiredObs, out.Decision.Refusal.ReasonCode)
	assert.Equal(t, 2, out.Decision.Refusal.RejectionSummaryByGate["required_observations"])
	assert.Len(t, out.Decision.Refusal.ObservationIDsReferenced, 2)
}

func TestRunCycle_RefusesWhenNoCandidates(t *testing.T) {
	c := loadPolicyConstitution(t)
	st := state.NewState("sovereign-1")
	ts := timestampObs(t, "2026-01-01T00:00:00Z")

	out, err := RunCycle(c, []*artifact.Observation{ts}, nil, st, 0)
	require.NoError(t, err)
	require.NotNil(t, out.Decision)
	assert.Equal(t, artifact.DecisionRefuse, out.Decision.DecisionType)
	require.NotNil(t, out.Decision.Refusal)
	assert.Equal(t, artifact.RefusalMissingRequiredArtifact, out.Decision.Refusal.ReasonCode)
}

func TestRunCycle_RefusesWhenAllCandidatesRejected(t *testing.T) {
	c := loadPolicyConstitution(t)
	// Bundle referencing an observation id that isn't in the known set.
	bundle, _ := notifyBundle(t, c, "")
	bundle.ScopeClaim.ObservationIDs = []string{"unknown-obs"}
	st := state.NewState("sovereign-1")
	ts := timestampObs(t, "2026-01-01T00:00:00Z")

	out, err := RunCycle(c, []*artifact.Observation{ts}, []*artifact.CandidateBundle{bundle}, st, 0)
	require.NoError(t, err)
	assert.Equal(t, artifact.DecisionRefuse, out.Decision.DecisionType)
	assert.Equal(t, artifact.RefusalNoAdmissibleAction, out.Decision.Refusal.ReasonCode)
}

func TestRunCycle_ExitsOnIntegrityRiskObservation(t *testing.T) {
	c := loadPolicyConstitution(t)
	sysObs, err := artifact.NewObservation(artifact.ObservationSystem, map[string]any{"event": string(artifact.SystemStartupIntegrityFail)}, artifact.AuthorHost, "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	st := state.NewState("sovereign-1")
	ts := timestampObs(t, "2026-01-01T00:00:00Z")

	out, err := RunCycle(c, []*artifact.Observation{ts, sysObs}, nil, st, 0)
	require.NoError(t, err)
	assert.Equal(t, artifact.DecisionExit, out.Decision.DecisionType)
	require.NotNil(t, out.Decision.ExitRecord)
	assert.Equal(t, artifact.ExitIntegrityRisk, out.Decision.ExitRecord.ReasonCode)
}

func TestRunCycle_ExitsOnBudgetExhausted(t *testing.T) {
	c := loadPolicyConstitution(t)
	bundle, obs := notifyBundle(t, c, "")
	st := state.NewState("sovereign-1")

	ts := timestampObs(t, "2026-01-01T00:00:00Z")
	out, err := RunCycle(c, []*artifact.Observation{ts, obs}, []*artifact.CandidateBundle{bundle}, st, 1000)
	require.NoError(t, err)
	assert.Equal(t, artifact.DecisionExit, out.Decision.DecisionType)
	assert.Equal(t, artifact.ExitBudgetExhausted, out.Decision.ExitRecord.ReasonCode)
}

func TestRunCycle_RefusesOnBudgetObservationOverCeiling(t *testing.T) {
	c := loadPolicyConstitution(t) // max_total_tokens_per_cycle: 1000
	bundle, obs := notifyBundle(t, c, "")
	st := state.NewState("sovereign-1")
	ts := timestampObs(t, "2026-01-01T00:00:00Z")
	budget, err := artifact.NewObservation(artifact.ObservationBudget, map[string]any{"llm_output_token_count": 1001}, artifact.AuthorHost, "2026-01-01T00:00:00Z")
	require.NoError(t, err)

	out, err := RunCycle(c, []*artifact.Observation{ts, budget, obs}, []*artifact.CandidateBundle{bundle}, st, 0)
	require.NoError(t, err)
	assert.Equal(t, artifact.DecisionRefuse, out.Decision.DecisionType)
	assert.Equal(t, artifact.RefusalBudgetExhausted, out.Decision.Refusal.ReasonCode)
}

func TestRunCycle_TruncatesCandidatesToMaxPerCycle(t *testing.T) {
	c := loadPolicyConstitution(t) // max_candidates_per_cycle: 2
	b1, o1 := notifyBundle(t, c, "")
	b2, o2 := notifyBundle(t, c, "")
	b3, o3 := notifyBundle(t, c, "")
	st := state.NewState("sovereign-1")

	ts := timestampObs(t, "2026-01-01T00:00:00Z")
	out, err := RunCycle(c, []*artifact.Observation{ts, o1, o2, o3}, []*artifact.CandidateBundle{b1, b2, b3}, st, 0)
	require.NoError(t, err)
	// Only the first 2 candidates should have been evaluated: 2 bundles * 5 gates = 10 events.
	assert.Len(t, out.AdmissionTrace, 10)
}

func TestIssueLogAppendWarrants_OnePerStream(t *testing.T) {
	warrants := IssueLogAppendWarrants(3, []string{"cycle_start", "admission_trace"})
	require.Len(t, warrants, 2)
	for _, w := range warrants {
		assert.Equal(t, artifact.ActionLogAppend, w.ActionType)
		assert.Equal(t, 3, w.IssuedInCycle)
	}
}
