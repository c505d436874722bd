// Package policycore implements the kernel's pure policy function:
// (observations, candidates, constitution, state) -> (decision, events,
// next state). It performs no I/O and owns no mutable state of its own —
// every value it needs arrives as an argument and every value it
// produces is returned, never mutated in place.
package policycore

import (
	"github.com/axionic/rsak/pkg/rsak/admission"
	"github.com/axionic/rsak/pkg/rsak/artifact"
	"github.com/axionic/rsak/pkg/rsak/constitution"
	"github.com/axionic/rsak/pkg/rsak/selector"
	"github.com/axionic/rsak/pkg/rsak/state"
)

// Output is everything one cycle of the policy core produces: the
// decision itself, the gate-level admission trace, the selector event (if
// any candidate was admitted), and the next state.
type Output struct {
	Decision       *artifact.Decision
	AdmissionTrace []admission.Event
	SelectorEvent  *selector.Event
	NextState      state.State
}

// RunCycle evaluates one RSA-0 cycle. candidates is the set of
// CandidateBundles proposed this cycle; knownObservationIDs is the set of
// observation ids visible for scope-claim resolution.
func RunCycle(
	c *constitution.Constitution,
	observations []*artifact.Observation,
	candidates []*artifact.CandidateBundle,
	st state.State,
	tokensUsedSoFar int,
) (Output, error) {
	d, trace, selEvent, err := evaluateActionPath(c, observations, candidates, st.Internal.CycleIndex, tokensUsedSoFar)
	if err != nil {
		return Output{}, err
	}
	return Output{
		Decision:       d,
		AdmissionTrace: trace,
		SelectorEvent:  selEvent,
		NextState:      st.Advance(d.DecisionType),
	}, nil
}

// evaluateActionPath runs the RSA-0 action path (cycle-time extraction,
// integrity check, budget check, admission, selection, warrant issuance)
// without touching state — it is shared by RunCycle (the standalone
// RSA-0 entrypoint) and RunTopologicalCycle (the X-2/X-3 composition,
// which folds this result in as one step among several rather than the
// whole cycle).
func evaluateActionPath(
	c *constitution.Constitution,
	observations []*artifact.Observation,
	candidates []*artifact.CandidateBundle,
	cycleIndex int,
	tokensUsedSoFar int,
) (*artifact.Decision, []admission.Event, *selector.Event, error) {
	// Exactly one TIMESTAMP observation supplies the cycle time; zero or
	// more than one refuses the cycle. The refusal's reason code stays
	// machine-stable — the ambiguity count travels in the per-gate
	// summary and the referenced observation ids, not the code itself.
	cycleTime, tsIDs := extractCycleTime(observations)
	if len(tsIDs) != 1 {
		rec, err := artifact.NewRefusalRecord(
			artifact.RefusalMissingRequiredObs,
			"required_observations",
			[]string{"TIMESTAMP"},
			nil,
			tsIDs,
			map[string]int{"required_observations": len(tsIDs)},
			"",
		)
		if err != nil {
			return nil, nil, nil, err
		}
		return &artifact.Decision{DecisionType: artifact.DecisionRefuse, Refusal: rec}, nil, nil, nil
	}

	if risk, event := integrityRisk(observations); risk {
		rec, err := artifact.NewExitRecord(artifact.ExitIntegrityRisk, nil, nil, "integrity risk: "+string(event), cycleTime)
		if err != nil {
			return nil, nil, nil, err
		}
		return &artifact.Decision{DecisionType: artifact.DecisionExit, ExitRecord: rec}, nil, nil, nil
	}

	maxTokens := c.MaxTotalTokensPerCycle()
	if over, count := budgetExceeded(observations, maxTokens); over {
		rec, err := artifact.NewRefusalRecord(
			artifact.RefusalBudgetExhausted,
			"budget",
			nil, nil, nil,
			map[string]int{"budget": count},
			cycleTime,
		)
		if err != nil {
			return nil, nil, nil, err
		}
		return &artifact.Decision{DecisionType: artifact.DecisionRefuse, Refusal: rec}, nil, nil, nil
	}
	if tokensUsedSoFar >= maxTokens {
		rec, err := artifact.NewExitRecord(artifact.ExitBudgetExhausted, nil, nil, "cycle token budget exhausted", cycleTime)
		if err != nil {
			return nil, nil, nil, err
		}
		return &artifact.Decision{DecisionType: artifact.DecisionExit, ExitRecord: rec}, nil, nil, nil
	}

	known := map[string]bool{}
	for _, o := range observations {
		known[o.ID] = true
	}

	pipeline := admission.NewPipeline(c)
	maxCandidates := c.MaxCandidatesPerCycle()
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}

	var trace []admission.Event
	var admitted []*admission.Result
	rejectionSummary := map[string]int{}
	var failedGates []string

	for _, bundle := range candidates {
		res, err := pipeline.Evaluate(bundle, known, tokensUsedSoFar, maxTokens)
		if err != nil {
			return nil, nil, nil, err
		}
		trace = append(trace, res.Events...)
		if res.Admitted {
			admitted = append(admitted, res)
		} else {
			rejectionSummary[string(res.FailedGate)]++
			failedGates = append(failedGates, string(res.FailedGate))
		}
	}

	chosen, selEvent, ok := selector.Select(admitted)
	if !ok {
		reason := artifact.RefusalNoAdmissibleAction
		if len(candidates) == 0 {
			reason = artifact.RefusalMissingRequiredArtifact
		}
		rec, err := artifact.NewRefusalRecord(reason, earliestGate(failedGates), nil, nil, nil, rejectionSummary, cycleTime)
		if err != nil {
			return nil, nil, nil, err
		}
		return &artifact.Decision{DecisionType: artifact.DecisionRefuse, Refusal: rec}, trace, nil, nil
	}

	warrant, err := artifact.NewExecutionWarrant(
		chosen.Bundle.ActionRequest.ID,
		chosen.Bundle.ActionRequest.ActionType,
		deriveScopeConstraints(c, chosen.Bundle.ActionRequest),
		cycleIndex,
		cycleTime,
	)
	if err != nil {
		return nil, nil, nil, err
	}

	d := &artifact.Decision{DecisionType: artifact.DecisionAction, Bundle: chosen.Bundle, Warrant: warrant}
	return d, trace, &selEvent, nil
}

// integrityRisk scans this cycle's SYSTEM observations for any event in
// artifact.IntegrityRiskEvents, which forces an unconditional EXIT
// regardless of any candidate bundle present.
func integrityRisk(observations []*artifact.Observation) (bool, artifact.SystemEvent) {
	for _, o := range observations {
		if o.Kind != artifact.ObservationSystem {
			continue
		}
		ev, _ := o.Payload["event"].(string)
		se := artifact.SystemEvent(ev)
		if artifact.IntegrityRiskEvents[se] {
			return true, se
		}
	}
	return false, ""
}

// earliestGate returns the earliest gate in canonical admission order
// that rejected at least one candidate this cycle.
func earliestGate(failed []string) string {
	failedSet := map[string]bool{}
	for _, g := range failed {
		failedSet[g] = true
	}
	for _, g := range artifact.GateOrder {
		if failedSet[string(g)] {
			return string(g)
		}
	}
	return ""
}

// extractCycleTime returns the TIMESTAMP observation's iso8601_utc
// payload and the ids of every TIMESTAMP observation present — the
// caller refuses the cycle unless exactly one exists.
func extractCycleTime(observations []*artifact.Observation) (string, []string) {
	var cycleTime string
	var ids []string
	for _, o := range observations {
		if o.Kind != artifact.ObservationTimestamp {
			continue
		}
		ids = append(ids, o.ID)
		if ts, ok := o.Payload["iso8601_utc"].(string); ok {
			cycleTime = ts
		}
	}
	return cycleTime, ids
}

// budgetExceeded reports whether any BUDGET observation's
// llm_output_token_count exceeds the configured ceiling.
func budgetExceeded(observations []*artifact.Observation, maxTokens int) (bool, int) {
	for _, o := range observations {
		if o.Kind != artifact.ObservationBudget {
			continue
		}
		if count, ok := asInt(o.Payload["llm_output_token_count"]); ok && count > maxTokens {
			return true, count
		}
	}
	return false, 0
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}

// deriveScopeConstraints builds a warrant's scope constraints from the
// admitted action request: the per-action-type scope fields plus the
// allowlist roots the executor must honor, and the warrant's origin.
func deriveScopeConstraints(c *constitution.Constitution, ar *artifact.ActionRequest) map[string]any {
	sc := map[string]any{"origin": "rsa"}
	switch ar.ActionType {
	case artifact.ActionNotify:
		if target, ok := ar.Fields["target"]; ok {
			sc["target"] = target
		}
	case artifact.ActionReadLocal:
		if path, ok := ar.Fields["path"]; ok {
			sc["allowed_path"] = path
		}
		sc["read_roots"] = toAnyList(c.GetReadPaths())
	case artifact.ActionWriteLocal:
		if path, ok := ar.Fields["path"]; ok {
			sc["allowed_path"] = path
		}
		sc["write_roots"] = toAnyList(c.GetWritePaths())
	case artifact.ActionLogAppend:
		if name, ok := ar.Fields["log_name"]; ok {
			sc["log_name"] = name
		}
		if lines, ok := ar.Fields["jsonl_lines"]; ok {
			sc["jsonl_lines"] = lines
		}
	}
	return sc
}

func toAnyList(items []string) []any {
	out := make([]any, 0, len(items))
	for _, s := range items {
		out = append(out, s)
	}
	return out
}

// IssueLogAppendWarrants constructs the kernel-authoritative LogAppend
// warrants for one cycle's telemetry streams. Unlike the action decision
// above, these warrants are not subject to admission — the kernel is
// their sole author and the host executor trusts them unconditionally,
// matching the original's treatment of telemetry as a kernel-internal
// side channel rather than a candidate-proposed action.
func IssueLogAppendWarrants(cycleIndex int, streamNames []string) []*artifact.ExecutionWarrant {
	warrants := make([]*artifact.ExecutionWarrant, 0, len(streamNames))
	for _, name := range streamNames {
		w, err := artifact.NewExecutionWarrant(
			"kernel-telemetry-"+name,
			artifact.ActionLogAppend,
			map[string]any{"stream": name},
			cycleIndex,
			"",
		)
		if err == nil {
			warrants = append(warrants, w)
		}
	}
	return warrants
}
