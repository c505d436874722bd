// Package generator builds synthetic candidate bundles and observations
// for demos, simulation previews, and tests — it is never on the path a
// real deployment's candidates travel, only a convenience for exercising
// the kernel without a live proposing agent.
package generator

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/axionic/rsak/pkg/rsak/artifact"
	"github.com/axionic/rsak/pkg/rsak/constitution"
)

// TimestampObservation builds the mandatory per-cycle timestamp
// observation every RSA-0 cycle expects to see; createdAt doubles as the
// iso8601_utc payload the kernel extracts as cycle time.
func TimestampObservation(cycleIndex int, createdAt string) (*artifact.Observation, error) {
	return artifact.NewObservation(artifact.ObservationTimestamp, map[string]any{"iso8601_utc": createdAt, "cycle_index": cycleIndex}, artifact.AuthorHost, createdAt)
}

// SystemEventObservation wraps a SystemEvent as an observation payload.
func SystemEventObservation(event artifact.SystemEvent, createdAt string) (*artifact.Observation, error) {
	return artifact.NewObservation(artifact.ObservationSystem, map[string]any{"event": string(event)}, artifact.AuthorHost, createdAt)
}

// NotifyCandidate builds a minimal, well-formed candidate bundle
// requesting a stdout Notify action, citing the first authority found in
// the constitution that is permitted to Notify.
func NotifyCandidate(c *constitution.Constitution, message string, observationIDs []string, createdAt string) (*artifact.CandidateBundle, error) {
	citation := ""
	for _, perm := range c.GetActionPermissions() {
		actions, _ := perm["actions"].([]any)
		for _, a := range actions {
			if s, _ := a.(string); s == string(artifact.ActionNotify) {
				if auth, ok := perm["authority"].(string); ok {
					citation = c.MakeAuthorityCitation(auth)
				}
			}
		}
		if citation != "" {
			break
		}
	}
	if citation == "" {
		return nil, fmt.Errorf("generator: no authority in constitution may Notify")
	}

	action, err := artifact.NewActionRequest(artifact.ActionNotify, map[string]any{"target": string(artifact.NotifyStdout), "message": message}, artifact.AuthorReflection, createdAt)
	if err != nil {
		return nil, err
	}
	scope, err := artifact.NewScopeClaim(observationIDs, "notify the operator of cycle progress", "", artifact.AuthorReflection, createdAt)
	if err != nil {
		return nil, err
	}
	just, err := artifact.NewJustification("routine status notification", artifact.AuthorReflection, createdAt)
	if err != nil {
		return nil, err
	}
	return &artifact.CandidateBundle{
		ActionRequest:      action,
		ScopeClaim:         scope,
		Justification:      just,
		AuthorityCitations: []string{citation},
	}, nil
}

// Scorer ranks candidate bundles with small CEL expressions, standing in
// for whatever heuristic a real LLM generator would use to order its own
// output. The kernel never sees or consults this score: policycore's
// selector picks by lexicographically smallest bundle hash regardless of
// rank, so a buggy or adversarial Scorer can misorder candidates
// but can never bias which one is admitted or selected.
type Scorer struct {
	env *cel.Env
	prg map[string]cel.Program
}

// DefaultScoreExpr favors bundles with a justification and penalizes ones
// with more than one authority citation (taken as a proxy for an
// over-broad, less scrutable request).
const DefaultScoreExpr = `(has_justification ? 1.0 : 0.0) - (citation_count > 1 ? 0.25 : 0.0)`

// NewScorer builds a Scorer whose CEL environment exposes the two signals
// DefaultScoreExpr (or a caller-supplied expression) reads.
func NewScorer() (*Scorer, error) {
	env, err := cel.NewEnv(
		cel.Variable("has_justification", cel.BoolType),
		cel.Variable("citation_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("generator: cel environment: %w", err)
	}
	return &Scorer{env: env, prg: make(map[string]cel.Program)}, nil
}

// Score evaluates expr (DefaultScoreExpr if empty) against one bundle's
// signals, compiling and caching the program on first use.
func (s *Scorer) Score(bundle *artifact.CandidateBundle, expr string) (float64, error) {
	if expr == "" {
		expr = DefaultScoreExpr
	}
	prg, ok := s.prg[expr]
	if !ok {
		ast, iss := s.env.Compile(expr)
		if iss != nil && iss.Err() != nil {
			return 0, fmt.Errorf("generator: compile score expr: %w", iss.Err())
		}
		compiled, err := s.env.Program(ast)
		if err != nil {
			return 0, fmt.Errorf("generator: build score program: %w", err)
		}
		s.prg[expr] = compiled
		prg = compiled
	}
	out, _, err := prg.Eval(map[string]any{
		"has_justification": bundle.Justification != nil,
		"citation_count":    int64(len(bundle.AuthorityCitations)),
	})
	if err != nil {
		return 0, fmt.Errorf("generator: eval score expr: %w", err)
	}
	f, ok := out.Value().(float64)
	if !ok {
		return 0, fmt.Errorf("generator: score expr did not return a double")
	}
	return f, nil
}
