// Package telemetry derives the five kernel-authoritative log streams
// from one cycle's artifacts and traces: observations, artifacts,
// admission_trace, selector_trace, and execution_trace. Every stream
// entry is an envelope of {run_id, cycle_id, <payload>} so a host can
// interleave and later replay streams from multiple runs without
// ambiguity.
package telemetry

import (
	"github.com/axionic/rsak/pkg/rsak/admission"
	"github.com/axionic/rsak/pkg/rsak/artifact"
	"github.com/axionic/rsak/pkg/rsak/policycore"
	"github.com/axionic/rsak/pkg/rsak/selector"
)

// StreamName is the closed set of log streams the kernel requires a host
// to persist every cycle.
type StreamName string

const (
	StreamObservations   StreamName = "observations"
	StreamArtifacts      StreamName = "artifacts"
	StreamAdmissionTrace StreamName = "admission_trace"
	StreamSelectorTrace  StreamName = "selector_trace"
	StreamExecutionTrace StreamName = "execution_trace"
)

// RequiredStreams lists every stream a complete cycle log must carry, in
// the canonical order the kernel issues LogAppend warrants for them.
var RequiredStreams = []StreamName{
	StreamObservations, StreamArtifacts, StreamAdmissionTrace, StreamSelectorTrace, StreamExecutionTrace,
}

// Envelope wraps one log entry with the run/cycle identity every stream
// entry must carry.
type Envelope struct {
	RunID   string
	CycleID int
	Stream  StreamName
	Payload map[string]any
}

func (e Envelope) ToMap() map[string]any {
	return map[string]any{
		"run_id":   e.RunID,
		"cycle_id": e.CycleID,
		"stream":   string(e.Stream),
		"payload":  e.Payload,
	}
}

// ExecutionOutcome is the host's report of carrying out a warrant, folded
// into the execution_trace stream alongside the decision itself.
type ExecutionOutcome struct {
	WarrantID string
	Succeeded bool
	Detail    string
}

// DeriveTelemetry builds all five streams for one completed cycle.
func DeriveTelemetry(
	runID string,
	cycleID int,
	observations []*artifact.Observation,
	decision *artifact.Decision,
	admissionTrace []admission.Event,
	selEvent *selector.Event,
	execOutcome *ExecutionOutcome,
) map[StreamName][]Envelope {
	streams := map[StreamName][]Envelope{}

	for _, o := range observations {
		streams[StreamObservations] = append(streams[StreamObservations], Envelope{
			RunID: runID, CycleID: cycleID, Stream: StreamObservations,
			Payload: map[string]any{"observation": o.ToMap()},
		})
	}

	streams[StreamArtifacts] = append(streams[StreamArtifacts], Envelope{
		RunID: runID, CycleID: cycleID, Stream: StreamArtifacts,
		Payload: map[string]any{"decision": decision.ToMap()},
	})

	for _, ev := range admissionTrace {
		streams[StreamAdmissionTrace] = append(streams[StreamAdmissionTrace], Envelope{
			RunID: runID, CycleID: cycleID, Stream: StreamAdmissionTrace,
			Payload: map[string]any{
				"bundle_hash":    ev.BundleHashHex,
				"gate":           string(ev.Gate),
				"passed":         ev.Passed,
				"rejection_code": string(ev.RejectionCode),
				"detail":         ev.Detail,
			},
		})
	}

	if selEvent != nil {
		streams[StreamSelectorTrace] = append(streams[StreamSelectorTrace], Envelope{
			RunID: runID, CycleID: cycleID, Stream: StreamSelectorTrace,
			Payload: map[string]any{
				"chosen_bundle_hash":     selEvent.ChosenBundleHash,
				"admitted_bundle_hashes": selEvent.AdmittedBundleHashes,
				"candidate_count":        selEvent.CandidateCount,
			},
		})
	}

	if execOutcome != nil {
		streams[StreamExecutionTrace] = append(streams[StreamExecutionTrace], Envelope{
			RunID: runID, CycleID: cycleID, Stream: StreamExecutionTrace,
			Payload: map[string]any{
				"warrant_id": execOutcome.WarrantID,
				"succeeded":  execOutcome.Succeeded,
				"detail":     execOutcome.Detail,
			},
		})
	}

	return streams
}

// FromPolicyOutput is a convenience wrapper building the observations,
// artifacts, admission_trace, and selector_trace streams directly from a
// policycore.Output, deferring only the execution_trace stream (which
// requires the host to have actually run the warrant) to a later call to
// DeriveTelemetry with execOutcome set.
func FromPolicyOutput(runID string, cycleID int, observations []*artifact.Observation, out policycore.Output) map[StreamName][]Envelope {
	return DeriveTelemetry(runID, cycleID, observations, out.Decision, out.AdmissionTrace, out.SelectorEvent, nil)
}
