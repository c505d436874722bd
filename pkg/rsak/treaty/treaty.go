// Package treaty implements the X-2 delegation admission pipeline: an
// authority may grant a bounded subset of its own action permissions to
// another authority for a bounded number of cycles. Grants compose into a
// directed graph that must stay acyclic and shallow, and the resulting
// effective density (how much authority is in circulation relative to
// the action-type space) must never exceed the constitution's bound.
package treaty

import (
	"sort"
	"strings"

	"github.com/axionic/rsak/pkg/rsak/constitution"
	"github.com/axionic/rsak/pkg/rsak/state"
)

// Gate is the closed set of treaty admission gates, 6T through 8C in the
// reference numbering (6T: completeness/citation, 7T: acyclicity/depth,
// 8C: density bound).
type Gate string

const (
	GateCompleteness Gate = "treaty_completeness"
	GateCitation     Gate = "treaty_authority_citation"
	GateAcyclicity   Gate = "treaty_acyclicity"
	GateDepthBound   Gate = "treaty_delegation_depth"
	GateDensityBound Gate = "treaty_density_bound"
)

var GateOrder = []Gate{GateCompleteness, GateCitation, GateAcyclicity, GateDepthBound, GateDensityBound}

const maxDelegationDepth = 1

// RejectionCode is the closed taxonomy of treaty gate failures.
type RejectionCode string

const (
	RejectIncomplete      RejectionCode = "INVALID_FIELD"
	RejectWildcard        RejectionCode = "WILDCARD_MAPPING"
	RejectUnauthorized    RejectionCode = "GRANTOR_LACKS_PERMISSION"
	RejectCycle           RejectionCode = "DELEGATION_CYCLE"
	RejectDepthExceeded   RejectionCode = "EXCESSIVE_DEPTH"
	RejectDensityExceeded RejectionCode = "DENSITY_MARGIN_VIOLATION"
)

// Event records one gate's outcome for a proposed grant.
type Event struct {
	Gate          Gate
	Passed        bool
	RejectionCode RejectionCode
	Detail        string
}

// Proposal is a candidate delegation from one authority to another.
// DurationCycles <= 0 means the caller left the bound unpopulated
// (revalidation of an already-admitted grant); a fresh grant must carry
// a positive duration within the constitutional maximum.
type Proposal struct {
	FromAuthority  string
	ToAuthority    string
	Actions        []string
	GrantCycle     int
	DurationCycles int
}

// Result is the outcome of evaluating a proposal against the current
// active treaty set.
type Result struct {
	Admitted      bool
	FailedGate    Gate
	RejectionCode RejectionCode
	Events        []Event
}

// Pipeline evaluates treaty proposals.
type Pipeline struct {
	Constitution *constitution.Constitution
}

func NewPipeline(c *constitution.Constitution) *Pipeline {
	return &Pipeline{Constitution: c}
}

// Evaluate runs all five gates against a proposal given the currently
// active treaty set in st.
func (p *Pipeline) Evaluate(prop *Proposal, st state.State) *Result {
	res := &Result{Admitted: true}
	record := func(g Gate, passed bool, code RejectionCode, detail string) {
		res.Events = append(res.Events, Event{Gate: g, Passed: passed, RejectionCode: code, Detail: detail})
		if !passed && res.FailedGate == "" {
			res.FailedGate, res.RejectionCode, res.Admitted = g, code, false
		}
	}

	if prop.FromAuthority == "" || prop.ToAuthority == "" || len(prop.Actions) == 0 {
		record(GateCompleteness, false, RejectIncomplete, "grant missing authority or actions")
		return res
	}
	if containsWildcard(prop.FromAuthority) || containsWildcard(prop.ToAuthority) || anyWildcard(prop.Actions) {
		record(GateCompleteness, false, RejectWildcard, "wildcard characters are forbidden in grants")
		return res
	}
	if max := p.Constitution.MaxTreatyDurationCycles(); prop.DurationCycles > 0 && max > 0 && prop.DurationCycles > max {
		record(GateCompleteness, false, RejectIncomplete, "duration_cycles exceeds constitutional maximum")
		return res
	}
	record(GateCompleteness, true, "", "")

	authorized := false
	for _, perm := range p.Constitution.GetActionPermissions() {
		auth, _ := perm["authority"].(string)
		if auth != prop.FromAuthority {
			continue
		}
		granted, _ := perm["actions"].([]any)
		grantedSet := map[string]bool{}
		for _, a := range granted {
			if s, ok := a.(string); ok {
				grantedSet[s] = true
			}
		}
		allCovered := true
		for _, want := range prop.Actions {
			if !grantedSet[want] {
				allCovered = false
				break
			}
		}
		if allCovered {
			authorized = true
			break
		}
	}
	if !authorized {
		record(GateCitation, false, RejectUnauthorized, prop.FromAuthority+" lacks authority over the proposed action set")
		return res
	}
	record(GateCitation, true, "", "")

	if hasCycle(st.ActiveTreaties, prop.FromAuthority, prop.ToAuthority) {
		record(GateAcyclicity, false, RejectCycle, "delegation would introduce a cycle")
		return res
	}
	record(GateAcyclicity, true, "", "")

	depth := DelegationDepth(st.ActiveTreaties, prop.FromAuthority) + 1
	if depth > maxDelegationDepth {
		record(GateDepthBound, false, RejectDepthExceeded, "delegation depth would exceed bound")
		return res
	}
	record(GateDepthBound, true, "", "")

	// Effective density is judged over the union of constitutional pairs,
	// every already-active delegated pair, and the candidate itself —
	// never the constitution's static density alone, which would let a
	// grant slip under the bound whenever earlier grants already consumed
	// the margin.
	aConst, b, mConst, _ := p.Constitution.ComputeDensity()
	granteeSet := map[string]bool{}
	mEff := mConst
	for _, g := range st.ActiveTreaties {
		granteeSet[g.ToAuthority] = true
		mEff += len(g.Actions)
	}
	granteeSet[prop.ToAuthority] = true
	mEff += len(prop.Actions)
	aEff := aConst + len(granteeSet)
	density := EffectiveDensity(mEff, aEff, b)
	if density == 1.0 {
		record(GateDensityBound, false, RejectDensityExceeded, "grant would saturate the authority/action matrix")
		return res
	}
	if bound, ok := p.Constitution.DensityUpperBound(); ok && density > bound {
		record(GateDensityBound, false, RejectDensityExceeded, "effective density would exceed bound")
		return res
	}
	record(GateDensityBound, true, "", "")

	return res
}

func containsWildcard(s string) bool { return strings.Contains(s, "*") }

func anyWildcard(items []string) bool {
	for _, s := range items {
		if containsWildcard(s) {
			return true
		}
	}
	return false
}

// EffectiveDensity computes d_eff = M_eff / (A_eff * B): the fraction of
// the theoretically possible authority-times-action-type space that is
// actually granted once active treaty delegations are folded in.
func EffectiveDensity(mEff, aEff, b int) float64 {
	if aEff == 0 || b == 0 {
		return 0
	}
	return float64(mEff) / float64(aEff*b)
}

func hasCycle(active []state.TreatyGrant, from, to string) bool {
	reachable := map[string]bool{to: true}
	changed := true
	for changed {
		changed = false
		for _, g := range active {
			if reachable[g.FromAuthority] && !reachable[g.ToAuthority] {
				reachable[g.ToAuthority] = true
				changed = true
			}
		}
	}
	return reachable[from]
}

// DelegationDepth returns the delegation depth of authority within the
// given active-grant set: 0 for a root (constitutional) authority that is
// not itself any grant's grantee, or one more than the deepest grant that
// made it a grantee.
func DelegationDepth(active []state.TreatyGrant, authority string) int {
	depth := 0
	for _, g := range active {
		if g.ToAuthority == authority && g.DelegationDepth+1 > depth {
			depth = g.DelegationDepth + 1
		}
	}
	return depth
}

// GreedyPrune selects the subset of candidate grants to keep when the
// active set would otherwise exceed the density bound: sorted by
// (grant_cycle ASC, id ASC), greedily accepted while density stays at or
// under the bound.
func GreedyPrune(candidates []state.TreatyGrant, aEff, b int, bound float64) []state.TreatyGrant {
	sorted := make([]state.TreatyGrant, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].GrantCycle != sorted[j].GrantCycle {
			return sorted[i].GrantCycle < sorted[j].GrantCycle
		}
		return sorted[i].GrantID < sorted[j].GrantID
	})

	var kept []state.TreatyGrant
	mEff := 0
	for _, g := range sorted {
		candidateM := mEff + len(g.Actions)
		if EffectiveDensity(candidateM, aEff, b) > bound {
			continue
		}
		mEff = candidateM
		kept = append(kept, g)
	}
	return kept
}
