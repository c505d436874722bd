// Package state extends the RSA-0 InternalState with the mutable ledgers
// the X-1/X-2/X-3 layers need across cycles: pending constitutional
// amendments under cooling, the active treaty (delegation) set, and the
// sovereign key/identity chain. Every mutator is a pure function from one
// State to the next — the kernel never mutates state in place, matching
// artifact.InternalState.Advance's pattern.
package state

import (
	"github.com/axionic/rsak/pkg/rsak/artifact"
	"github.com/axionic/rsak/pkg/rsak/hashing"
)

// AmendmentStatus is the closed set of lifecycle states a queued
// amendment proposal passes through.
type AmendmentStatus string

const (
	AmendmentCooling  AmendmentStatus = "COOLING"
	AmendmentReady    AmendmentStatus = "READY"
	AmendmentAdopted  AmendmentStatus = "ADOPTED"
	AmendmentInvalid  AmendmentStatus = "INVALIDATED"
)

// PendingAmendment is one constitutional amendment proposal under the
// cooling-period ratchet.
type PendingAmendment struct {
	ID               string
	BundleHashHex    string
	ProposedAtCycle  int
	CoolingUntilCycle int
	Status           AmendmentStatus
	AuthorizingCitations []string
}

// TreatyGrant is one active delegation of authority, as admitted by the
// X-2 treaty admission pipeline.
type TreatyGrant struct {
	GrantID         string
	FromAuthority   string
	ToAuthority     string
	Actions         []string
	GrantCycle      int
	DurationCycles  int
	DelegationDepth int
}

// IsActive reports whether the grant has not yet expired at the given
// cycle. DurationCycles <= 0 is treated as "not yet bounded" (expiry
// fields not populated by the caller) rather than "already expired".
func (g TreatyGrant) IsActive(cycle int) bool {
	if g.DurationCycles <= 0 {
		return true
	}
	return cycle < g.GrantCycle+g.DurationCycles
}

// IdentityLink is one entry in the sovereign key rotation chain.
type IdentityLink struct {
	PriorKeyID   string
	NewKeyID     string
	RotationCycle int
	LinkSignatureHex string
}

// State is the full mutable ledger the policy core threads across cycles.
type State struct {
	Internal artifact.InternalState

	PendingAmendments []PendingAmendment
	ActiveTreaties    []TreatyGrant
	SuspendedTreaties []TreatyGrant

	// SovereignKeyID is the active sovereign public key. PriorSovereignKey
	// is the immediately preceding one (zero authority after activation,
	// see succession S3's privilege-leak gate). PendingSuccessorKey is
	// set by an admitted non-self succession and consumed at the next
	// cycle boundary.
	SovereignKeyID          string
	PriorSovereignKey       string
	PendingSuccessorKey     string
	HistoricalSovereignKeys []string

	IdentityChain        []IdentityLink
	IdentityChainLength  int
	IdentityChainTipHash string
	OverlayHash          string
}

// NewState returns the initial state for cycle 0, before any decision.
// The genesis sovereign counts as chain position 1.
func NewState(sovereignKeyID string) State {
	return State{
		Internal:            artifact.InternalState{CycleIndex: 0, LastDecision: artifact.DecisionNone},
		SovereignKeyID:      sovereignKeyID,
		IdentityChainLength: 1,
	}
}

// Advance returns the next state after a cycle's decision, applying the
// base InternalState transition and expiring any amendment whose cooling
// period has elapsed into READY.
func (s State) Advance(decision artifact.DecisionType) State {
	next := s
	next.Internal = s.Internal.Advance(decision)
	next.PendingAmendments = make([]PendingAmendment, len(s.PendingAmendments))
	copy(next.PendingAmendments, s.PendingAmendments)
	for i, pa := range next.PendingAmendments {
		if pa.Status == AmendmentCooling && next.Internal.CycleIndex >= pa.CoolingUntilCycle {
			pa.Status = AmendmentReady
			next.PendingAmendments[i] = pa
		}
	}
	return next
}

// QueueAmendment appends a new pending amendment in COOLING status.
func (s State) QueueAmendment(id, bundleHashHex string, coolingPeriodCycles int, citations []string) State {
	next := s
	next.PendingAmendments = append(append([]PendingAmendment{}, s.PendingAmendments...), PendingAmendment{
		ID:                  id,
		BundleHashHex:       bundleHashHex,
		ProposedAtCycle:     s.Internal.CycleIndex,
		CoolingUntilCycle:   s.Internal.CycleIndex + coolingPeriodCycles,
		Status:              AmendmentCooling,
		AuthorizingCitations: citations,
	})
	return next
}

// AdoptAmendment marks a pending amendment ADOPTED, updates the overlay
// hash to the new constitution's identity, and invalidates every other
// pending amendment (the ECK rule: one full-replacement adoption
// invalidates all sibling proposals since they were drafted against the
// now-superseded document).
func (s State) AdoptAmendment(id, newOverlayHash string) State {
	next := s
	next.OverlayHash = newOverlayHash
	next.PendingAmendments = make([]PendingAmendment, len(s.PendingAmendments))
	for i, pa := range s.PendingAmendments {
		if pa.ID == id {
			pa.Status = AmendmentAdopted
		} else if pa.Status != AmendmentAdopted {
			pa.Status = AmendmentInvalid
		}
		next.PendingAmendments[i] = pa
	}
	return next
}

// ReadyAmendments returns pending amendments past cooling, eligible for
// adoption this cycle.
func (s State) ReadyAmendments() []PendingAmendment {
	var out []PendingAmendment
	for _, pa := range s.PendingAmendments {
		if pa.Status == AmendmentReady {
			out = append(out, pa)
		}
	}
	return out
}

// AddTreaty appends a new active treaty grant.
func (s State) AddTreaty(g TreatyGrant) State {
	next := s
	next.ActiveTreaties = append(append([]TreatyGrant{}, s.ActiveTreaties...), g)
	return next
}

// RemoveTreaty drops a treaty grant by id (expiry or revocation).
func (s State) RemoveTreaty(grantID string) State {
	next := s
	next.ActiveTreaties = nil
	for _, g := range s.ActiveTreaties {
		if g.GrantID != grantID {
			next.ActiveTreaties = append(next.ActiveTreaties, g)
		}
	}
	return next
}

// HasSuspensions reports whether any grant is currently suspended; while
// true, new treaty grants are rejected with SUSPENSION_UNRESOLVED.
func (s State) HasSuspensions() bool {
	return len(s.SuspendedTreaties) > 0
}

// SuspendAllActive moves every currently active grant into the suspended
// set, emptying ActiveTreaties. Called at a sovereign succession
// boundary: the new sovereign has not yet ratified any delegation made
// under the prior key.
func (s State) SuspendAllActive() State {
	next := s
	next.SuspendedTreaties = append(append([]TreatyGrant{}, s.SuspendedTreaties...), s.ActiveTreaties...)
	next.ActiveTreaties = nil
	return next
}

// Ratify moves a suspended grant back into the active set.
func (s State) Ratify(grantID string) State {
	next := s
	next.ActiveTreaties = append([]TreatyGrant{}, s.ActiveTreaties...)
	next.SuspendedTreaties = nil
	for _, g := range s.SuspendedTreaties {
		if g.GrantID == grantID {
			next.ActiveTreaties = append(next.ActiveTreaties, g)
		} else {
			next.SuspendedTreaties = append(next.SuspendedTreaties, g)
		}
	}
	return next
}

// RejectRatification permanently drops a suspended grant (moves it to
// revoked, i.e. simply removes it from every ledger).
func (s State) RejectRatification(grantID string) State {
	next := s
	next.SuspendedTreaties = nil
	for _, g := range s.SuspendedTreaties {
		if g.GrantID != grantID {
			next.SuspendedTreaties = append(next.SuspendedTreaties, g)
		}
	}
	return next
}

// RotateSovereignKey appends a new identity-chain link and updates the
// live sovereign key id.
func (s State) RotateSovereignKey(newKeyID, linkSignatureHex string) State {
	next := s
	next.IdentityChain = append(append([]IdentityLink{}, s.IdentityChain...), IdentityLink{
		PriorKeyID:       s.SovereignKeyID,
		NewKeyID:         newKeyID,
		RotationCycle:    s.Internal.CycleIndex,
		LinkSignatureHex: linkSignatureHex,
	})
	next.SovereignKeyID = newKeyID
	return next
}

// SetPendingSuccessor records an admitted non-self succession's successor
// key. The rotation itself does not happen until the next cycle boundary
// (ActivatePendingSuccessor).
func (s State) SetPendingSuccessor(successorKey string) State {
	next := s
	next.PendingSuccessorKey = successorKey
	return next
}

// ActivatePendingSuccessor applies a pending succession at the cycle
// boundary: the active key becomes prior, the pending successor becomes
// active, every active grant is suspended pending ratification by the new
// sovereign, the identity chain advances, and the retired key joins the
// historical set. successionProposalHash is the admitted proposal's id,
// folded into the new chain tip hash. A state with no pending successor
// is returned unchanged.
func (s State) ActivatePendingSuccessor(successionProposalHash string) State {
	if s.PendingSuccessorKey == "" {
		return s
	}
	next := s.RotateSovereignKey(s.PendingSuccessorKey, "")
	next.PriorSovereignKey = s.SovereignKeyID
	next.PendingSuccessorKey = ""
	next.HistoricalSovereignKeys = append(append([]string{}, s.HistoricalSovereignKeys...), s.SovereignKeyID)
	next = next.SuspendAllActive()
	next.IdentityChainLength = s.IdentityChainLength + 1
	tip, _ := hashing.ContentHashHex(map[string]any{
		"type":                     "identity_chain_tip",
		"chain_length":             next.IdentityChainLength,
		"active_key":               next.SovereignKeyID,
		"prior_tip_hash":           s.IdentityChainTipHash,
		"succession_proposal_hash": successionProposalHash,
	})
	next.IdentityChainTipHash = tip
	return next
}

// IsHistoricalSovereign reports whether key was ever an activated-past
// sovereign. Such a key has zero authority for sovereign-signed
// operations (PRIOR_KEY_PRIVILEGE_LEAK).
func (s State) IsHistoricalSovereign(key string) bool {
	if key != "" && key == s.PriorSovereignKey {
		return true
	}
	for _, k := range s.HistoricalSovereignKeys {
		if k == key {
			return true
		}
	}
	return false
}

// ToMap renders the full ledger as a plain tree for canonicalization and
// state-hash component hashing.
func (s State) ToMap() map[string]any {
	pending := make([]any, 0, len(s.PendingAmendments))
	for _, pa := range s.PendingAmendments {
		pending = append(pending, map[string]any{
			"id":                  pa.ID,
			"bundle_hash":         pa.BundleHashHex,
			"proposed_at_cycle":   pa.ProposedAtCycle,
			"cooling_until_cycle": pa.CoolingUntilCycle,
			"status":              string(pa.Status),
		})
	}
	grantMap := func(g TreatyGrant) map[string]any {
		actions := make([]any, 0, len(g.Actions))
		for _, a := range g.Actions {
			actions = append(actions, a)
		}
		return map[string]any{
			"grant_id":         g.GrantID,
			"from_authority":   g.FromAuthority,
			"to_authority":     g.ToAuthority,
			"actions":          actions,
			"grant_cycle":      g.GrantCycle,
			"duration_cycles":  g.DurationCycles,
			"delegation_depth": g.DelegationDepth,
		}
	}
	treaties := make([]any, 0, len(s.ActiveTreaties))
	for _, g := range s.ActiveTreaties {
		treaties = append(treaties, grantMap(g))
	}
	suspended := make([]any, 0, len(s.SuspendedTreaties))
	for _, g := range s.SuspendedTreaties {
		suspended = append(suspended, grantMap(g))
	}
	chain := make([]any, 0, len(s.IdentityChain))
	for _, l := range s.IdentityChain {
		chain = append(chain, map[string]any{
			"prior_key_id":   l.PriorKeyID,
			"new_key_id":     l.NewKeyID,
			"rotation_cycle": l.RotationCycle,
		})
	}
	historical := make([]any, 0, len(s.HistoricalSovereignKeys))
	for _, k := range s.HistoricalSovereignKeys {
		historical = append(historical, k)
	}
	return map[string]any{
		"internal":                    s.Internal.ToMap(),
		"pending_amendments":          pending,
		"active_treaties":             treaties,
		"suspended_treaties":          suspended,
		"sovereign_public_key_active": s.SovereignKeyID,
		"prior_sovereign_public_key":  s.PriorSovereignKey,
		"pending_successor_key":       s.PendingSuccessorKey,
		"historical_sovereign_keys":   historical,
		"identity_chain":              chain,
		"identity_chain_length":       s.IdentityChainLength,
		"identity_chain_tip_hash":     s.IdentityChainTipHash,
		"overlay_hash":                s.OverlayHash,
	}
}
