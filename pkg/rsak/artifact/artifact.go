// Package artifact defines the closed taxonomy of typed records the
// kernel exchanges: Observation, ActionRequest, ScopeClaim, Justification,
// CandidateBundle, ExecutionWarrant, RefusalRecord, ExitRecord, Decision,
// and the replayable InternalState the host carries across cycles.
//
// Every artifact's identity is SHA-256 of the canonical JSON of all of
// its fields except id (and, where documented, other volatile/bulky
// fields). Once an artifact's id is computed it never changes; there is
// no setter.
package artifact

import (
	"fmt"

	"github.com/axionic/rsak/pkg/rsak/hashing"
)

// ComputeID hashes a field map with "id" removed, matching the rule every
// artifact constructor in this package applies to itself.
func ComputeID(fields map[string]any) (string, error) {
	clean := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == "id" {
			continue
		}
		clean[k] = v
	}
	return hashing.ContentHashHex(clean)
}

// Observation is a single fact fed into a cycle: user input, the cycle
// timestamp, a budget reading, or a system integrity event.
type Observation struct {
	Kind      ObservationKind
	Payload   map[string]any
	Author    Author
	CreatedAt string
	ID        string
}

// NewObservation constructs an Observation and computes its id.
func NewObservation(kind ObservationKind, payload map[string]any, author Author, createdAt string) (*Observation, error) {
	o := &Observation{Kind: kind, Payload: payload, Author: author, CreatedAt: createdAt}
	id, err := ComputeID(o.dict())
	if err != nil {
		return nil, fmt.Errorf("artifact: observation id: %w", err)
	}
	o.ID = id
	return o, nil
}

func (o *Observation) dict() map[string]any {
	return map[string]any{
		"type":       "Observation",
		"kind":       string(o.Kind),
		"payload":    o.Payload,
		"author":     string(o.Author),
		"created_at": o.CreatedAt,
	}
}

// ToMap renders the full canonical representation, including id.
func (o *Observation) ToMap() map[string]any {
	d := o.dict()
	d["id"] = o.ID
	return d
}

// ActionRequest is a typed request for one action, addressed to the
// action type's declared field shape.
type ActionRequest struct {
	ActionType ActionType
	Fields     map[string]any
	Author     Author
	CreatedAt  string
	ID         string
}

func NewActionRequest(actionType ActionType, fields map[string]any, author Author, createdAt string) (*ActionRequest, error) {
	ar := &ActionRequest{ActionType: actionType, Fields: fields, Author: author, CreatedAt: createdAt}
	id, err := ComputeID(ar.dict())
	if err != nil {
		return nil, fmt.Errorf("artifact: action request id: %w", err)
	}
	ar.ID = id
	return ar, nil
}

func (ar *ActionRequest) dict() map[string]any {
	return map[string]any{
		"type":        "ActionRequest",
		"action_type": string(ar.ActionType),
		"fields":      ar.Fields,
		"author":      string(ar.Author),
		"created_at":  ar.CreatedAt,
	}
}

func (ar *ActionRequest) ToMap() map[string]any {
	d := ar.dict()
	d["id"] = ar.ID
	return d
}

// ScopeClaim asserts the observations and constitutional clause that
// justify a candidate's scope.
type ScopeClaim struct {
	ObservationIDs []string
	Claim          string
	ClauseRef      string
	Author         Author
	CreatedAt      string
	ID             string
}

func NewScopeClaim(observationIDs []string, claim, clauseRef string, author Author, createdAt string) (*ScopeClaim, error) {
	sc := &ScopeClaim{ObservationIDs: observationIDs, Claim: claim, ClauseRef: clauseRef, Author: author, CreatedAt: createdAt}
	id, err := ComputeID(sc.dict())
	if err != nil {
		return nil, fmt.Errorf("artifact: scope claim id: %w", err)
	}
	sc.ID = id
	return sc, nil
}

func (sc *ScopeClaim) dict() map[string]any {
	return map[string]any{
		"type":            "ScopeClaim",
		"observation_ids": toAnySlice(sc.ObservationIDs),
		"claim":           sc.Claim,
		"clause_ref":      sc.ClauseRef,
		"author":          string(sc.Author),
		"created_at":      sc.CreatedAt,
	}
}

func (sc *ScopeClaim) ToMap() map[string]any {
	d := sc.dict()
	d["id"] = sc.ID
	return d
}

// Justification is free-text reasoning attached to a candidate bundle.
type Justification struct {
	Text      string
	Author    Author
	CreatedAt string
	ID        string
}

func NewJustification(text string, author Author, createdAt string) (*Justification, error) {
	j := &Justification{Text: text, Author: author, CreatedAt: createdAt}
	id, err := ComputeID(j.dict())
	if err != nil {
		return nil, fmt.Errorf("artifact: justification id: %w", err)
	}
	j.ID = id
	return j, nil
}

func (j *Justification) dict() map[string]any {
	return map[string]any{
		"type":       "Justification",
		"text":       j.Text,
		"author":     string(j.Author),
		"created_at": j.CreatedAt,
	}
}

func (j *Justification) ToMap() map[string]any {
	d := j.dict()
	d["id"] = j.ID
	return d
}

// CandidateBundle is a complete proposal: an ActionRequest plus optional
// ScopeClaim and Justification, plus the citation list backing it.
type CandidateBundle struct {
	ActionRequest      *ActionRequest
	ScopeClaim         *ScopeClaim
	Justification      *Justification
	AuthorityCitations []string
}

func (b *CandidateBundle) ToMap() map[string]any {
	m := map[string]any{
		"action_request":      b.ActionRequest.ToMap(),
		"authority_citations": toAnySlice(b.AuthorityCitations),
	}
	if b.ScopeClaim != nil {
		m["scope_claim"] = b.ScopeClaim.ToMap()
	} else {
		m["scope_claim"] = nil
	}
	if b.Justification != nil {
		m["justification"] = b.Justification.ToMap()
	} else {
		m["justification"] = nil
	}
	return m
}

// BundleHash returns the raw 32-byte SHA-256 digest of the bundle's
// canonical JSON — the value the selector compares lexicographically.
func (b *CandidateBundle) BundleHash() ([32]byte, error) {
	return hashing.ContentHashRaw(b.ToMap())
}

// BundleHashHex is the hex form of BundleHash, used in trace events.
func (b *CandidateBundle) BundleHashHex() (string, error) {
	h, err := b.BundleHash()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h), nil
}

// ExecutionWarrant authorizes the host to actually carry out one action.
// Its id is deterministic so duplicate issuance is detectable.
type ExecutionWarrant struct {
	ActionRequestID   string
	ActionType        ActionType
	ScopeConstraints  map[string]any
	IssuedInCycle     int
	SingleUse         bool
	WarrantID         string
	CreatedAt         string
}

func NewExecutionWarrant(actionRequestID string, actionType ActionType, scopeConstraints map[string]any, issuedInCycle int, createdAt string) (*ExecutionWarrant, error) {
	w := &ExecutionWarrant{
		ActionRequestID:  actionRequestID,
		ActionType:       actionType,
		ScopeConstraints: scopeConstraints,
		IssuedInCycle:    issuedInCycle,
		SingleUse:        true,
		CreatedAt:        createdAt,
	}
	id, err := ComputeID(w.dict())
	if err != nil {
		return nil, fmt.Errorf("artifact: warrant id: %w", err)
	}
	w.WarrantID = id
	return w, nil
}

func (w *ExecutionWarrant) dict() map[string]any {
	return map[string]any{
		"type":               "ExecutionWarrant",
		"action_request_id":  w.ActionRequestID,
		"action_type":        string(w.ActionType),
		"scope_constraints":  w.ScopeConstraints,
		"issued_in_cycle":    w.IssuedInCycle,
		"single_use":         w.SingleUse,
		"created_at":         w.CreatedAt,
	}
}

func (w *ExecutionWarrant) ToMap() map[string]any {
	d := w.dict()
	d["warrant_id"] = w.WarrantID
	return d
}

// RefusalRecord is emitted for REFUSE decisions.
type RefusalRecord struct {
	ReasonCode              RefusalReasonCode
	FailedGate              string
	MissingArtifacts        []string
	AuthorityIDsConsidered  []string
	ObservationIDsReferenced []string
	RejectionSummaryByGate  map[string]int
	Author                  Author
	CreatedAt               string
	ID                      string
}

func NewRefusalRecord(reasonCode RefusalReasonCode, failedGate string, missingArtifacts, authorityIDs, observationIDs []string, summary map[string]int, createdAt string) (*RefusalRecord, error) {
	r := &RefusalRecord{
		ReasonCode:               reasonCode,
		FailedGate:               failedGate,
		MissingArtifacts:         missingArtifacts,
		AuthorityIDsConsidered:   authorityIDs,
		ObservationIDsReferenced: observationIDs,
		RejectionSummaryByGate:   summary,
		Author:                   AuthorKernel,
		CreatedAt:                createdAt,
	}
	id, err := ComputeID(r.dict())
	if err != nil {
		return nil, fmt.Errorf("artifact: refusal id: %w", err)
	}
	r.ID = id
	return r, nil
}

func (r *RefusalRecord) dict() map[string]any {
	summary := map[string]any{}
	for k, v := range r.RejectionSummaryByGate {
		summary[k] = v
	}
	return map[string]any{
		"type":                       "RefusalRecord",
		"reason_code":                string(r.ReasonCode),
		"failed_gate":                r.FailedGate,
		"missing_artifacts":          toAnySlice(r.MissingArtifacts),
		"authority_ids_considered":   toAnySlice(r.AuthorityIDsConsidered),
		"observation_ids_referenced": toAnySlice(r.ObservationIDsReferenced),
		"rejection_summary_by_gate":  summary,
		"author":                     string(r.Author),
		"created_at":                 r.CreatedAt,
	}
}

func (r *RefusalRecord) ToMap() map[string]any {
	d := r.dict()
	d["id"] = r.ID
	return d
}

// ExitRecord is emitted for EXIT decisions.
type ExitRecord struct {
	ReasonCode         ExitReasonCode
	AuthorityCitations []string
	ScopeClaim         map[string]any
	Justification      string
	Author             Author
	CreatedAt          string
	ID                 string
}

func NewExitRecord(reasonCode ExitReasonCode, authorityCitations []string, scopeClaim map[string]any, justification, createdAt string) (*ExitRecord, error) {
	e := &ExitRecord{
		ReasonCode:         reasonCode,
		AuthorityCitations: authorityCitations,
		ScopeClaim:         scopeClaim,
		Justification:      justification,
		Author:             AuthorKernel,
		CreatedAt:          createdAt,
	}
	id, err := ComputeID(e.dict())
	if err != nil {
		return nil, fmt.Errorf("artifact: exit record id: %w", err)
	}
	e.ID = id
	return e, nil
}

func (e *ExitRecord) dict() map[string]any {
	return map[string]any{
		"type":                "ExitRecord",
		"reason_code":         string(e.ReasonCode),
		"authority_citations": toAnySlice(e.AuthorityCitations),
		"scope_claim":         e.ScopeClaim,
		"justification":       e.Justification,
		"author":              string(e.Author),
		"created_at":          e.CreatedAt,
	}
}

func (e *ExitRecord) ToMap() map[string]any {
	d := e.dict()
	d["id"] = e.ID
	return d
}

// InternalState is the host-owned, kernel-advanced replayable state for
// the RSA-0 layer. Higher layers (X-1/X-2/X-3) embed this and add their
// own fields; see pkg/rsak/state.
type InternalState struct {
	CycleIndex   int
	LastDecision DecisionType
}

// Advance returns the next cycle's InternalState as a pure function of
// the current state and the decision type just taken.
func (s InternalState) Advance(decision DecisionType) InternalState {
	return InternalState{CycleIndex: s.CycleIndex + 1, LastDecision: decision}
}

func (s InternalState) ToMap() map[string]any {
	return map[string]any{
		"cycle_index":   s.CycleIndex,
		"last_decision": string(s.LastDecision),
	}
}

// Decision is the headline output of one policy-core evaluation: which of
// the five outcomes this cycle resolved to. In topological (X-2/X-3)
// cycles, amendment adoption/queuing and treaty/succession processing
// happen alongside the headline decision rather than replacing it
// ("non-early-return" composition) — their records travel in
// AdoptionRecord/QueuedAmendmentID/Warrants rather than supplanting
// DecisionType, which still names the RSA action-path outcome.
type Decision struct {
	DecisionType DecisionType
	Bundle       *CandidateBundle
	Warrant      *ExecutionWarrant
	Refusal      *RefusalRecord
	ExitRecord   *ExitRecord

	// Warrants carries every warrant issued this cycle (RSA-admitted plus
	// delegated), sorted by (origin_rank, warrant_id).
	// Populated only by topological (X-2/X-3) cycles; RSA-0/X-1 cycles
	// use the singular Warrant field above.
	Warrants []*ExecutionWarrant

	AdoptionRecord     *AmendmentAdoptionRecord
	QueuedAmendmentID  string
}

func (d *Decision) ToMap() map[string]any {
	m := map[string]any{"decision_type": string(d.DecisionType)}
	if d.Bundle != nil {
		m["bundle"] = d.Bundle.ToMap()
	}
	if d.Warrant != nil {
		m["warrant"] = d.Warrant.ToMap()
	}
	if len(d.Warrants) > 0 {
		warrants := make([]any, 0, len(d.Warrants))
		for _, w := range d.Warrants {
			warrants = append(warrants, w.ToMap())
		}
		m["warrants"] = warrants
	}
	if d.AdoptionRecord != nil {
		m["adoption_record"] = d.AdoptionRecord.ToMap()
	}
	if d.QueuedAmendmentID != "" {
		m["queued_amendment_id"] = d.QueuedAmendmentID
	}
	if d.Refusal != nil {
		m["refusal"] = d.Refusal.ToMap()
	}
	if d.ExitRecord != nil {
		m["exit_record"] = d.ExitRecord.ToMap()
	}
	return m
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
