package policycore

import (
	"sort"

	"github.com/axionic/rsak/pkg/rsak/admission"
	"github.com/axionic/rsak/pkg/rsak/amendment"
	"github.com/axionic/rsak/pkg/rsak/artifact"
	"github.com/axionic/rsak/pkg/rsak/constitution"
	"github.com/axionic/rsak/pkg/rsak/hashing"
	"github.com/axionic/rsak/pkg/rsak/ratification"
	"github.com/axionic/rsak/pkg/rsak/rsacrypto"
	"github.com/axionic/rsak/pkg/rsak/selector"
	"github.com/axionic/rsak/pkg/rsak/state"
	"github.com/axionic/rsak/pkg/rsak/succession"
	"github.com/axionic/rsak/pkg/rsak/treaty"
)

// AmendmentCandidate pairs a proposed full-replacement constitution
// artifact with its parsed form and the votes it has accumulated, ready
// for the nine-gate amendment pipeline.
type AmendmentCandidate struct {
	Proposal         *artifact.AmendmentProposal
	Parsed           *constitution.Constitution
	AuthorizingVotes int
}

// TreatyGrantCandidate is a proposed delegation awaiting the X-2 pipeline.
type TreatyGrantCandidate struct {
	Grant *artifact.TreatyGrant
}


// DelegatedActionRequest is one grantee-signed request for a delegated
// warrant.
type DelegatedActionRequest struct {
	GranteeIdentifier string
	SignatureHex      string
	ActionType        artifact.ActionType
	Fields            map[string]any
	ScopeType         string
	ScopeZone         string
	CitedTreatyID     string
	AuthorityCitation string
}

// DelegatedRejectionCode is the closed taxonomy of delegated-action
// rejections.
type DelegatedRejectionCode string

const (
	DelegatedSignatureMissing   DelegatedRejectionCode = "SIGNATURE_MISSING"
	DelegatedSignatureInvalid   DelegatedRejectionCode = "SIGNATURE_INVALID"
	DelegatedInvalidField       DelegatedRejectionCode = "INVALID_FIELD"
	DelegatedScopeCollapse      DelegatedRejectionCode = "SCOPE_COLLAPSE"
	DelegatedCitationInvalid    DelegatedRejectionCode = "AUTHORITY_CITATION_INVALID"
)

// DelegatedEvent records one delegated-action evaluation outcome.
type DelegatedEvent struct {
	GranteeIdentifier string
	Admitted          bool
	RejectionCode     DelegatedRejectionCode
	Detail            string
}

// TopologicalInputs is everything one X-2/X-3 cycle may act on. Any of
// the slices/pointers may be nil/empty — a cycle with no amendments,
// treaties, or succession activity degenerates to the RSA-0 action path.
type TopologicalInputs struct {
	Observations    []*artifact.Observation
	Candidates      []*artifact.CandidateBundle
	TokensUsedSoFar int

	Amendments        []*AmendmentCandidate
	TreatyGrants      []*TreatyGrantCandidate
	TreatyRevocations []*artifact.TreatyRevocation
	Ratifications     []*artifact.TreatyRatification
	Successions       []*artifact.SuccessionProposal
	DelegatedRequests []*DelegatedActionRequest

	// Overlay carries the X-3 succession clauses; nil outside the X-3
	// regime (succession is then constitutionally disabled).
	Overlay *constitution.Overlay
}

// TopologicalOutput is everything one X-2/X-3 cycle produces.
type TopologicalOutput struct {
	Decision           *artifact.Decision
	AdmissionTrace     []admission.Event
	SelectorEvent      *selector.Event
	AmendmentEvents    []amendment.Event
	TreatyEvents       map[string][]treaty.Event
	RevocationApplied    []string
	RatificationEvents   map[string][]ratification.Event
	SuccessionEvents     map[string][]succession.Event
	AdmittedSuccessionID string
	DelegatedEvents      []DelegatedEvent
	PrunedGrantIDs       []string
	NextState            state.State
}

// RunTopologicalCycle composes, in a fixed topological order:
//  1. amendment adoption (non-early-return)
//  2. treaty revalidation against the post-adoption constitution
//  3. treaty grant admission, candidates sorted ascending by hash
//  4. treaty revocation admission
//  5. implicit expiry
//  6. density enforcement + greedy-prune repair
//  7. amendment proposal queuing
//  8. RSA action admission
//  9. delegated action admission
//  10. warrant issuance and assembly
//
// into one pure state transition. It supersedes RunCycle wherever the X-2
// or X-3 layer is active. A cycle using none of the X-2/X-3 inputs still
// applies implicit expiry and density repair to any treaties already in st.
func RunTopologicalCycle(c *constitution.Constitution, in TopologicalInputs, st state.State) (TopologicalOutput, error) {
	out := TopologicalOutput{
		TreatyEvents:       map[string][]treaty.Event{},
		RatificationEvents: map[string][]ratification.Event{},
		SuccessionEvents:   map[string][]succession.Event{},
	}
	activeConstitution := c
	cycle := st.Internal.CycleIndex
	nextSt := st

	// Step 0: succession boundary effects (suspend-all-active on a prior
	// cycle's non-self rotation) are applied by the host's boundary
	// verifier (pkg/rsak/boundary) before this function runs;
	// RunTopologicalCycle assumes st already reflects any boundary-time
	// key rotation.

	// Step 1: amendment adoption, non-early-return.
	var adoptionRecord *artifact.AmendmentAdoptionRecord
	for _, ready := range st.ReadyAmendments() {
		cand := findAmendmentCandidate(in.Amendments, ready.BundleHashHex)
		if cand == nil || cand.Parsed == nil {
			continue
		}
		pipeline := amendment.NewPipeline(activeConstitution)
		res, err := pipeline.Evaluate(&amendment.Candidate{
			ProposedBytes:      cand.Parsed.RawBytes(),
			AuthorityCitations: cand.Proposal.AuthorityCitations,
			ProposedAtCycle:    ready.ProposedAtCycle,
			CurrentCycle:       cycle,
			CoolingUntilCycle:  ready.CoolingUntilCycle,
			CoolingSatisfied:   true,
			AuthorizingVotes:   cand.AuthorizingVotes,
		}, cand.Parsed)
		if err != nil {
			return out, err
		}
		out.AmendmentEvents = append(out.AmendmentEvents, res.Events...)
		if res.Admitted {
			rec, err := artifact.NewAmendmentAdoptionRecord(ready.ID, activeConstitution.SHA256(), cand.Proposal.ProposedConstitutionHash, cycle+1, "")
			if err != nil {
				return out, err
			}
			adoptionRecord = rec
			activeConstitution = cand.Parsed
			nextSt = nextSt.AdoptAmendment(ready.ID, cand.Proposal.ProposedConstitutionHash)
			break
		}
	}

	// Step 2: treaty revalidation against the (possibly just-adopted)
	// constitution — an active grant that no longer satisfies the
	// grantor's authority closure under the new constitution is dropped.
	if adoptionRecord != nil {
		revalidated := make([]state.TreatyGrant, 0, len(nextSt.ActiveTreaties))
		tp := treaty.NewPipeline(activeConstitution)
		for _, g := range nextSt.ActiveTreaties {
			scratch := nextSt
			scratch.ActiveTreaties = removeGrant(nextSt.ActiveTreaties, g.GrantID)
			res := tp.Evaluate(&treaty.Proposal{FromAuthority: g.FromAuthority, ToAuthority: g.ToAuthority, Actions: g.Actions, GrantCycle: g.GrantCycle}, scratch)
			out.TreatyEvents[g.GrantID] = append(out.TreatyEvents[g.GrantID], res.Events...)
			if res.Admitted {
				revalidated = append(revalidated, g)
			}
		}
		nextSt.ActiveTreaties = revalidated
	}

	// Step 3: treaty grant admission, sorted ascending by canonical hash.
	sortedGrants := make([]*TreatyGrantCandidate, len(in.TreatyGrants))
	copy(sortedGrants, in.TreatyGrants)
	sort.Slice(sortedGrants, func(i, j int) bool {
		hi, _ := hashing.ContentHashHex(sortedGrants[i].Grant.ToMap())
		hj, _ := hashing.ContentHashHex(sortedGrants[j].Grant.ToMap())
		return hi < hj
	})
	tp := treaty.NewPipeline(activeConstitution)
	for _, gc := range sortedGrants {
		g := gc.Grant
		if nextSt.HasSuspensions() {
			out.TreatyEvents[g.ID] = append(out.TreatyEvents[g.ID], treaty.Event{
				Gate: "authority_suspension", Passed: false,
				RejectionCode: "SUSPENSION_UNRESOLVED",
				Detail:        "treaty grants rejected while any grant remains suspended",
			})
			continue
		}
		if g.DurationCycles < 1 {
			out.TreatyEvents[g.ID] = append(out.TreatyEvents[g.ID], treaty.Event{
				Gate: treaty.GateCompleteness, Passed: false,
				RejectionCode: treaty.RejectIncomplete,
				Detail:        "new grant has duration_cycles below 1",
			})
			continue
		}
		res := tp.Evaluate(&treaty.Proposal{
			FromAuthority:  g.GrantorAuthorityID,
			ToAuthority:    g.GranteeIdentifier,
			Actions:        g.GrantedActions,
			GrantCycle:     cycle,
			DurationCycles: g.DurationCycles,
		}, nextSt)
		out.TreatyEvents[g.ID] = append(out.TreatyEvents[g.ID], res.Events...)
		if !res.Admitted {
			continue
		}
		depth := treaty.DelegationDepth(nextSt.ActiveTreaties, g.GrantorAuthorityID)
		nextSt = nextSt.AddTreaty(state.TreatyGrant{
			GrantID:         g.ID,
			FromAuthority:   g.GrantorAuthorityID,
			ToAuthority:     g.GranteeIdentifier,
			Actions:         g.GrantedActions,
			GrantCycle:      cycle,
			DurationCycles:  g.DurationCycles,
			DelegationDepth: depth,
		})
	}

	// Step 4: treaty revocation admission, applied sequentially.
	for _, rev := range in.TreatyRevocations {
		if findGrant(nextSt.ActiveTreaties, rev.GrantID) == nil {
			continue
		}
		nextSt = nextSt.RemoveTreaty(rev.GrantID)
		out.RevocationApplied = append(out.RevocationApplied, rev.GrantID)
	}

	// Ratification (restores or permanently drops suspended grants; runs
	// here so density repair below sees the post-ratification set).
	// Ratifications are applied sequentially, so each later one is judged
	// against the density the earlier restorations produced.
	for _, r := range in.Ratifications {
		res := ratification.Evaluate(r, activeConstitution, nextSt)
		out.RatificationEvents[r.GrantID] = res.Events
		if !res.Admitted {
			continue
		}
		if r.Ratify {
			nextSt = nextSt.Ratify(r.GrantID)
		} else {
			nextSt = nextSt.RejectRatification(r.GrantID)
		}
	}

	// Step 5: implicit expiry.
	live := make([]state.TreatyGrant, 0, len(nextSt.ActiveTreaties))
	for _, g := range nextSt.ActiveTreaties {
		if g.IsActive(cycle) {
			live = append(live, g)
		}
	}
	nextSt.ActiveTreaties = live

	// Step 6: density enforcement + greedy-prune repair.
	aConst, b, mConst, _ := activeConstitution.ComputeDensity()
	granteeSet := map[string]bool{}
	mEff := mConst
	for _, g := range nextSt.ActiveTreaties {
		granteeSet[g.ToAuthority] = true
		mEff += len(g.Actions)
	}
	aEff := aConst + len(granteeSet)
	bound, hasBound := activeConstitution.DensityUpperBound()
	density := treaty.EffectiveDensity(mEff, aEff, b)
	if hasBound && (density >= 1.0 || density > bound) {
		kept := treaty.GreedyPrune(nextSt.ActiveTreaties, aEff, b, bound)
		keptSet := map[string]bool{}
		for _, g := range kept {
			keptSet[g.GrantID] = true
		}
		for _, g := range nextSt.ActiveTreaties {
			if !keptSet[g.GrantID] {
				out.PrunedGrantIDs = append(out.PrunedGrantIDs, g.GrantID)
			}
		}
		nextSt.ActiveTreaties = kept
	}

	// Succession (S1-S7): an admitted non-self rotation only sets
	// pending_successor_key here; the actual key rotation happens at the
	// next cycle boundary (pkg/rsak/boundary), so the kernel records the
	// pending successor but never touches SovereignKeyID itself.
	frame := constitution.NewFrame(activeConstitution, in.Overlay)
	admittedSuccessions := 0
	for _, sp := range in.Successions {
		res := succession.Evaluate(succession.Input{
			Proposal:          sp,
			AdmittedThisCycle: admittedSuccessions,
		}, frame, nextSt)
		out.SuccessionEvents[sp.ID] = res.Events
		if res.Admitted && !res.SelfSuccession {
			nextSt = nextSt.SetPendingSuccessor(sp.SuccessorPublicKey)
			out.AdmittedSuccessionID = sp.ID
			admittedSuccessions++
		}
	}

	// Step 7: amendment proposal queuing — a new proposal that passes
	// every gate except cooling/quorum is queued, not adopted, this cycle.
	for _, cand := range in.Amendments {
		if alreadyQueued(nextSt, cand.Proposal.ID) || cand.Parsed == nil {
			continue
		}
		pipeline := amendment.NewPipeline(activeConstitution)
		res, err := pipeline.Evaluate(&amendment.Candidate{
			ProposedBytes:      cand.Parsed.RawBytes(),
			AuthorityCitations: cand.Proposal.AuthorityCitations,
			ProposedAtCycle:    cycle,
			CurrentCycle:       cycle,
			CoolingSatisfied:   true,
			AuthorizingVotes:   activeConstitution.AuthorizationThreshold(),
		}, cand.Parsed)
		if err != nil {
			return out, err
		}
		out.AmendmentEvents = append(out.AmendmentEvents, res.Events...)
		if res.Admitted {
			nextSt = nextSt.QueueAmendment(cand.Proposal.ID, cand.Proposal.ProposedConstitutionHash, activeConstitution.CoolingPeriodCycles(), cand.Proposal.AuthorityCitations)
		}
	}

	// Step 8: RSA action admission.
	decision, trace, selEvent, err := evaluateActionPath(activeConstitution, in.Observations, in.Candidates, cycle, in.TokensUsedSoFar)
	if err != nil {
		return out, err
	}
	out.AdmissionTrace = trace
	out.SelectorEvent = selEvent

	// Step 9: delegated action admission.
	var delegatedWarrants []*artifact.ExecutionWarrant
	for _, dr := range in.DelegatedRequests {
		w, ev := evaluateDelegated(activeConstitution, nextSt, dr, cycle)
		out.DelegatedEvents = append(out.DelegatedEvents, ev)
		if w != nil {
			delegatedWarrants = append(delegatedWarrants, w)
		}
	}

	// Step 10: warrant issuance and assembly.
	var warrants []*artifact.ExecutionWarrant
	if decision.Warrant != nil {
		warrants = append(warrants, decision.Warrant)
	}
	warrants = append(warrants, delegatedWarrants...)
	originRank := func(w *artifact.ExecutionWarrant) int {
		if w.ScopeConstraints["origin"] == "rsa" {
			return 0
		}
		return 1
	}
	sort.Slice(warrants, func(i, j int) bool {
		if ri, rj := originRank(warrants[i]), originRank(warrants[j]); ri != rj {
			return ri < rj
		}
		return warrants[i].WarrantID < warrants[j].WarrantID
	})

	if adoptionRecord != nil {
		decision.AdoptionRecord = adoptionRecord
	}
	decision.Warrants = warrants
	out.Decision = decision
	out.NextState = nextSt.Advance(decision.DecisionType)
	return out, nil
}

func findAmendmentCandidate(cands []*AmendmentCandidate, bundleHashHex string) *AmendmentCandidate {
	for _, c := range cands {
		if c.Proposal.ProposedConstitutionHash == bundleHashHex {
			return c
		}
	}
	return nil
}

func alreadyQueued(st state.State, proposalID string) bool {
	for _, pa := range st.PendingAmendments {
		if pa.ID == proposalID {
			return true
		}
	}
	return false
}

func findGrant(grants []state.TreatyGrant, id string) *state.TreatyGrant {
	for i := range grants {
		if grants[i].GrantID == id {
			return &grants[i]
		}
	}
	return nil
}

func removeGrant(grants []state.TreatyGrant, id string) []state.TreatyGrant {
	out := make([]state.TreatyGrant, 0, len(grants))
	for _, g := range grants {
		if g.GrantID != id {
			out = append(out, g)
		}
	}
	return out
}

// evaluateDelegated runs the delegated-action admission flow for one
// request against the currently active treaty set.
func evaluateDelegated(c *constitution.Constitution, st state.State, dr *DelegatedActionRequest, cycle int) (*artifact.ExecutionWarrant, DelegatedEvent) {
	ev := DelegatedEvent{GranteeIdentifier: dr.GranteeIdentifier}

	if dr.SignatureHex == "" {
		ev.RejectionCode, ev.Detail = DelegatedSignatureMissing, "delegated request missing signature"
		return nil, ev
	}
	ok, err := rsacrypto.VerifyContent(granteePubKeyHex(dr.GranteeIdentifier), dr.SignatureHex, map[string]any{
		"grantee_identifier": dr.GranteeIdentifier,
		"action_type":        string(dr.ActionType),
		"fields":             dr.Fields,
		"scope_type":         dr.ScopeType,
		"scope_zone":         dr.ScopeZone,
	})
	if err != nil || !ok {
		ev.RejectionCode, ev.Detail = DelegatedSignatureInvalid, "signature does not verify under grantee's own key"
		return nil, ev
	}

	allowed := false
	for _, t := range c.GetAllowedActionTypes() {
		if t == string(dr.ActionType) {
			allowed = true
			break
		}
	}
	if !allowed {
		ev.RejectionCode, ev.Detail = DelegatedInvalidField, "action type not in closed set: "+string(dr.ActionType)
		return nil, ev
	}

	if dr.CitedTreatyID == "" {
		ev.RejectionCode, ev.Detail = DelegatedCitationInvalid, "missing treaty: citation"
		return nil, ev
	}

	var match *state.TreatyGrant
	for i, g := range st.ActiveTreaties {
		if g.GrantID != dr.CitedTreatyID || g.ToAuthority != dr.GranteeIdentifier {
			continue
		}
		for _, a := range g.Actions {
			if a == string(dr.ActionType) {
				match = &st.ActiveTreaties[i]
				break
			}
		}
	}
	if match == nil {
		ev.RejectionCode, ev.Detail = DelegatedScopeCollapse, "no active grant covers this grantee/action pair"
		return nil, ev
	}

	fields := map[string]any{}
	for k, v := range dr.Fields {
		fields[k] = v
	}
	if dr.ScopeType != "" {
		fields["scope_type"] = dr.ScopeType
	}
	if dr.ScopeZone != "" {
		fields["scope_zone"] = dr.ScopeZone
	}
	w, err := artifact.NewExecutionWarrant("delegated:"+dr.CitedTreatyID, dr.ActionType, fields, cycle, "")
	if err != nil {
		ev.RejectionCode, ev.Detail = DelegatedInvalidField, "warrant construction failed: "+err.Error()
		return nil, ev
	}
	if w.ScopeConstraints == nil {
		w.ScopeConstraints = map[string]any{}
	}
	w.ScopeConstraints["origin"] = "delegated"
	ev.Admitted = true
	return w, ev
}

// granteePubKeyHex extracts the hex Ed25519 public key from a
// "ed25519:<64-hex>" grantee identifier.
func granteePubKeyHex(identifier string) string {
	const prefix = "ed25519:"
	if len(identifier) > len(prefix) && identifier[:len(prefix)] == prefix {
		return identifier[len(prefix):]
	}
	return ""
}
