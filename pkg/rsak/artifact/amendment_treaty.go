package artifact

import "fmt"

// AmendmentProposal proposes a full-replacement constitution. Its id
// excludes ProposedConstitutionYAML (a large free-text field) so the
// identity hash is whitespace-insensitive to the proposed document's
// formatting; proposed_constitution_hash, computed separately by the
// caller from the canonicalized bytes, carries the content identity
// instead.
type AmendmentProposal struct {
	PriorConstitutionHash    string
	ProposedConstitutionYAML string
	ProposedConstitutionHash string
	Justification            string
	AuthorityCitations       []string
	DiffSummary              string
	Author                   Author
	CreatedAt                string
	ID                       string
}

func NewAmendmentProposal(priorHash, proposedYAML, proposedHash, justification string, citations []string, diffSummary string, author Author, createdAt string) (*AmendmentProposal, error) {
	p := &AmendmentProposal{
		PriorConstitutionHash:    priorHash,
		ProposedConstitutionYAML: proposedYAML,
		ProposedConstitutionHash: proposedHash,
		Justification:            justification,
		AuthorityCitations:       citations,
		DiffSummary:              diffSummary,
		Author:                   author,
		CreatedAt:                createdAt,
	}
	id, err := ComputeID(p.dict())
	if err != nil {
		return nil, fmt.Errorf("artifact: amendment proposal id: %w", err)
	}
	p.ID = id
	return p, nil
}

func (p *AmendmentProposal) dict() map[string]any {
	return map[string]any{
		"type":                       "AmendmentProposal",
		"prior_constitution_hash":    p.PriorConstitutionHash,
		"proposed_constitution_hash": p.ProposedConstitutionHash,
		"justification":              p.Justification,
		"authority_citations":        toAnySlice(p.AuthorityCitations),
		"diff_summary":               p.DiffSummary,
		"author":                     string(p.Author),
		"created_at":                 p.CreatedAt,
	}
}

func (p *AmendmentProposal) ToMap() map[string]any {
	d := p.dict()
	d["id"] = p.ID
	d["proposed_constitution_yaml"] = p.ProposedConstitutionYAML
	return d
}

// AmendmentAdoptionRecord is emitted for an ADOPT decision.
type AmendmentAdoptionRecord struct {
	ProposalID     string
	PriorHash      string
	NewHash        string
	EffectiveCycle int
	CreatedAt      string
	ID             string
}

func NewAmendmentAdoptionRecord(proposalID, priorHash, newHash string, effectiveCycle int, createdAt string) (*AmendmentAdoptionRecord, error) {
	r := &AmendmentAdoptionRecord{
		ProposalID:     proposalID,
		PriorHash:      priorHash,
		NewHash:        newHash,
		EffectiveCycle: effectiveCycle,
		CreatedAt:      createdAt,
	}
	id, err := ComputeID(r.dict())
	if err != nil {
		return nil, fmt.Errorf("artifact: amendment adoption record id: %w", err)
	}
	r.ID = id
	return r, nil
}

func (r *AmendmentAdoptionRecord) dict() map[string]any {
	return map[string]any{
		"type":            "AmendmentAdoptionRecord",
		"proposal_id":     r.ProposalID,
		"prior_hash":      r.PriorHash,
		"new_hash":        r.NewHash,
		"effective_cycle": r.EffectiveCycle,
		"created_at":      r.CreatedAt,
	}
}

func (r *AmendmentAdoptionRecord) ToMap() map[string]any {
	d := r.dict()
	d["id"] = r.ID
	return d
}

// TreatyGrant is a scoped, time-bounded delegation of authority from a
// constitutional authority to an Ed25519-identified grantee. GrantCycle
// is filled in by the kernel at admission time and is runtime metadata,
// not part of the grant's identity.
type TreatyGrant struct {
	GrantorAuthorityID string
	GranteeIdentifier  string
	GrantedActions     []string
	ScopeConstraints   map[string][]string
	DurationCycles     int
	Revocable          bool
	Citations          []string
	Justification      string
	GrantCycle         int
	Author             Author
	CreatedAt          string
	ID                 string
}

func NewTreatyGrant(grantor, grantee string, actions []string, scope map[string][]string, durationCycles int, revocable bool, citations []string, justification string, author Author, createdAt string) (*TreatyGrant, error) {
	g := &TreatyGrant{
		GrantorAuthorityID: grantor,
		GranteeIdentifier:  grantee,
		GrantedActions:     actions,
		ScopeConstraints:   scope,
		DurationCycles:     durationCycles,
		Revocable:          revocable,
		Citations:          citations,
		Justification:      justification,
		Author:             author,
		CreatedAt:          createdAt,
	}
	id, err := ComputeID(g.dict())
	if err != nil {
		return nil, fmt.Errorf("artifact: treaty grant id: %w", err)
	}
	g.ID = id
	return g, nil
}

func (g *TreatyGrant) dict() map[string]any {
	scope := make(map[string]any, len(g.ScopeConstraints))
	for k, v := range g.ScopeConstraints {
		scope[k] = toAnySlice(v)
	}
	return map[string]any{
		"type":                "TreatyGrant",
		"grantor_authority_id": g.GrantorAuthorityID,
		"grantee_identifier":   g.GranteeIdentifier,
		"granted_actions":      toAnySlice(g.GrantedActions),
		"scope_constraints":    scope,
		"duration_cycles":      g.DurationCycles,
		"revocable":            g.Revocable,
		"citations":            toAnySlice(g.Citations),
		"justification":        g.Justification,
		"author":               string(g.Author),
		"created_at":           g.CreatedAt,
	}
}

func (g *TreatyGrant) ToMap() map[string]any {
	d := g.dict()
	d["id"] = g.ID
	d["grant_cycle"] = g.GrantCycle
	return d
}

// TreatyRevocation withdraws a previously admitted TreatyGrant.
type TreatyRevocation struct {
	GrantID            string
	AuthorityCitations []string
	Author             Author
	CreatedAt          string
	ID                 string
}

func NewTreatyRevocation(grantID string, citations []string, author Author, createdAt string) (*TreatyRevocation, error) {
	r := &TreatyRevocation{GrantID: grantID, AuthorityCitations: citations, Author: author, CreatedAt: createdAt}
	id, err := ComputeID(r.dict())
	if err != nil {
		return nil, fmt.Errorf("artifact: treaty revocation id: %w", err)
	}
	r.ID = id
	return r, nil
}

func (r *TreatyRevocation) dict() map[string]any {
	return map[string]any{
		"type":                "TreatyRevocation",
		"grant_id":            r.GrantID,
		"authority_citations": toAnySlice(r.AuthorityCitations),
		"author":              string(r.Author),
		"created_at":          r.CreatedAt,
	}
}

func (r *TreatyRevocation) ToMap() map[string]any {
	d := r.dict()
	d["id"] = r.ID
	return d
}

// TreatyRatification restores or permanently revokes a suspended grant.
// SignatureHex is excluded from identity (it signs the rest of the
// payload, so including it would make the record self-referential).
type TreatyRatification struct {
	GrantID            string
	Ratify             bool
	AuthorityCitations []string
	SignatureHex       string
	Author             Author
	CreatedAt          string
	ID                 string
}

func NewTreatyRatification(grantID string, ratify bool, citations []string, signatureHex string, author Author, createdAt string) (*TreatyRatification, error) {
	r := &TreatyRatification{GrantID: grantID, Ratify: ratify, AuthorityCitations: citations, SignatureHex: signatureHex, Author: author, CreatedAt: createdAt}
	id, err := ComputeID(r.dict())
	if err != nil {
		return nil, fmt.Errorf("artifact: treaty ratification id: %w", err)
	}
	r.ID = id
	return r, nil
}

func (r *TreatyRatification) dict() map[string]any {
	return map[string]any{
		"type":                "TreatyRatification",
		"grant_id":            r.GrantID,
		"ratify":              r.Ratify,
		"authority_citations": toAnySlice(r.AuthorityCitations),
		"author":              string(r.Author),
		"created_at":          r.CreatedAt,
	}
}

func (r *TreatyRatification) ToMap() map[string]any {
	d := r.dict()
	d["id"] = r.ID
	d["signature"] = r.SignatureHex
	return d
}

// SigningPayload is the canonical tree the sovereign signs: every field
// except the signature itself and the id.
func (r *TreatyRatification) SigningPayload() map[string]any { return r.dict() }

// SuccessionProposal proposes rotating the sovereign signing key.
// SignatureHex is excluded from identity for the same self-reference
// reason as TreatyRatification.
type SuccessionProposal struct {
	PriorSovereignPublicKey string
	SuccessorPublicKey      string
	AuthorityCitations      []string
	Justification           string
	SignatureHex            string
	Author                  Author
	CreatedAt               string
	ID                      string
}

func NewSuccessionProposal(priorKey, successorKey string, citations []string, justification, signatureHex string, author Author, createdAt string) (*SuccessionProposal, error) {
	p := &SuccessionProposal{
		PriorSovereignPublicKey: priorKey,
		SuccessorPublicKey:      successorKey,
		AuthorityCitations:      citations,
		Justification:           justification,
		SignatureHex:            signatureHex,
		Author:                  author,
		CreatedAt:               createdAt,
	}
	id, err := ComputeID(p.dict())
	if err != nil {
		return nil, fmt.Errorf("artifact: succession proposal id: %w", err)
	}
	p.ID = id
	return p, nil
}

func (p *SuccessionProposal) dict() map[string]any {
	return map[string]any{
		"type":                       "SuccessionProposal",
		"prior_sovereign_public_key": p.PriorSovereignPublicKey,
		"successor_public_key":       p.SuccessorPublicKey,
		"authority_citations":        toAnySlice(p.AuthorityCitations),
		"justification":              p.Justification,
		"author":                     string(p.Author),
		"created_at":                 p.CreatedAt,
	}
}

func (p *SuccessionProposal) ToMap() map[string]any {
	d := p.dict()
	d["id"] = p.ID
	d["signature"] = p.SignatureHex
	return d
}

// SigningPayload is the canonical tree the prior sovereign signs: every
// field except the signature itself and the id.
func (p *SuccessionProposal) SigningPayload() map[string]any { return p.dict() }
