// Package simulate implements dry-run evaluation: running the policy
// core (or a sequence of cycles) against a deep copy of the live state so
// a host can preview a decision, or a whole reflective plan, without any
// risk of the preview leaking into the real state chain.
package simulate

import (
	"fmt"

	"github.com/axionic/rsak/pkg/rsak/artifact"
	"github.com/axionic/rsak/pkg/rsak/constitution"
	"github.com/axionic/rsak/pkg/rsak/policycore"
	"github.com/axionic/rsak/pkg/rsak/state"
)

// CycleResult is one simulated cycle's outcome.
type CycleResult struct {
	Output    policycore.Output
	StateDiff StateDiff
}

// StateDiff summarizes what changed between two states, for a host to
// render a simulation report without exposing internal ledger structure.
type StateDiff struct {
	CycleIndexBefore, CycleIndexAfter int
	DecisionBefore, DecisionAfter     artifact.DecisionType
	PendingAmendmentsDelta            int
	ActiveTreatiesDelta               int
}

func diff(before, after state.State) StateDiff {
	return StateDiff{
		CycleIndexBefore:       before.Internal.CycleIndex,
		CycleIndexAfter:        after.Internal.CycleIndex,
		DecisionBefore:         before.Internal.LastDecision,
		DecisionAfter:          after.Internal.LastDecision,
		PendingAmendmentsDelta: len(after.PendingAmendments) - len(before.PendingAmendments),
		ActiveTreatiesDelta:    len(after.ActiveTreaties) - len(before.ActiveTreaties),
	}
}

// Cycle runs one cycle of the policy core against a copy of st, leaving
// the caller's original state untouched. deepCopyState performs the
// actual copy — state.State's slices are never mutated in place by
// Advance/QueueAmendment/etc, but a simulation must not let the caller's
// live slices be shared with the simulated run's future mutations either.
func Cycle(
	c *constitution.Constitution,
	observations []*artifact.Observation,
	candidates []*artifact.CandidateBundle,
	st state.State,
	tokensUsedSoFar int,
) (CycleResult, error) {
	copied := deepCopyState(st)
	out, err := policycore.RunCycle(c, observations, candidates, copied, tokensUsedSoFar)
	if err != nil {
		return CycleResult{}, fmt.Errorf("simulate: cycle: %w", err)
	}
	return CycleResult{Output: out, StateDiff: diff(st, out.NextState)}, nil
}

// TopologicalCycleResult is one simulated X-2/X-3 cycle's outcome.
type TopologicalCycleResult struct {
	Output    policycore.TopologicalOutput
	StateDiff StateDiff
}

// TopologicalCycle previews one full topological cycle (amendment adoption,
// treaty/revocation admission, density repair, delegated actions) against
// a copy of st, exactly as Cycle does for the plain RSA-0 path.
func TopologicalCycle(
	c *constitution.Constitution,
	in policycore.TopologicalInputs,
	st state.State,
) (TopologicalCycleResult, error) {
	copied := deepCopyState(st)
	out, err := policycore.RunTopologicalCycle(c, in, copied)
	if err != nil {
		return TopologicalCycleResult{}, fmt.Errorf("simulate: topological cycle: %w", err)
	}
	return TopologicalCycleResult{Output: out, StateDiff: diff(st, out.NextState)}, nil
}

// Plan is an ordered sequence of cycles to simulate back to back, each
// consuming the prior simulated cycle's next state — used to preview a
// multi-step reflective plan (e.g. "propose amendment, then act on it
// once adopted") before committing any of it for real.
type Plan struct {
	Constitution  *constitution.Constitution
	Observations  [][]*artifact.Observation
	Candidates    [][]*artifact.CandidateBundle
	TokensPerStep []int
}

// Run simulates every step of a Plan in order, threading state between
// steps but never touching the caller's real state.
func Run(plan Plan, initial state.State) ([]CycleResult, error) {
	st := deepCopyState(initial)
	results := make([]CycleResult, 0, len(plan.Observations))
	for i := range plan.Observations {
		out, err := policycore.RunCycle(plan.Constitution, plan.Observations[i], plan.Candidates[i], st, plan.TokensPerStep[i])
		if err != nil {
			return results, fmt.Errorf("simulate: plan step %d: %w", i, err)
		}
		results = append(results, CycleResult{Output: out, StateDiff: diff(st, out.NextState)})
		st = out.NextState
	}
	return results, nil
}

func deepCopyState(st state.State) state.State {
	next := st
	next.PendingAmendments = append([]state.PendingAmendment{}, st.PendingAmendments...)
	next.ActiveTreaties = make([]state.TreatyGrant, len(st.ActiveTreaties))
	for i, g := range st.ActiveTreaties {
		ng := g
		ng.Actions = append([]string{}, g.Actions...)
		next.ActiveTreaties[i] = ng
	}
	next.SuspendedTreaties = make([]state.TreatyGrant, len(st.SuspendedTreaties))
	for i, g := range st.SuspendedTreaties {
		ng := g
		ng.Actions = append([]string{}, g.Actions...)
		next.SuspendedTreaties[i] = ng
	}
	next.IdentityChain = append([]state.IdentityLink{}, st.IdentityChain...)
	next.HistoricalSovereignKeys = append([]string{}, st.HistoricalSovereignKeys...)
	return next
}
