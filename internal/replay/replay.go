// Package replay re-derives a run's state-hash chain from its archived
// telemetry and confirms it matches the recorded sequence — the host's
// external, independent check that the kernel's pure policy core
// actually behaved deterministically across the run's lifetime.
package replay

import (
	"fmt"

	"github.com/axionic/rsak/internal/hostarchive"
	"github.com/axionic/rsak/pkg/rsak/boundary"
	"github.com/axionic/rsak/pkg/rsak/hashing"
	"github.com/axionic/rsak/pkg/rsak/statehash"
)

// CycleRecord is the minimal per-cycle record a replay needs: the
// component trees that were hashed into that cycle's state hash, plus
// the hash the original run claimed.
type CycleRecord struct {
	CycleIndex      int
	Artifacts       any
	AdmissionTrace  any
	SelectorTrace   any
	ExecutionTrace  any
	ClaimedStateHash [32]byte
}

// Result is the outcome of replaying one run.
type Result struct {
	OK            bool
	FailedAtCycle int
	Reason        string
}

// Replay recomputes the state-hash chain for a sequence of cycle records
// against a given constitution hash and reports the first divergence, if
// any.
func Replay(constitutionHash string, cycles []CycleRecord) (Result, error) {
	prev := statehash.InitialStateHash(constitutionHash)
	for _, rec := range cycles {
		artifactsHash, err := hashing.ContentHashRaw(rec.Artifacts)
		if err != nil {
			return Result{}, fmt.Errorf("replay: hash artifacts at cycle %d: %w", rec.CycleIndex, err)
		}
		admissionHash, err := hashing.ContentHashRaw(rec.AdmissionTrace)
		if err != nil {
			return Result{}, fmt.Errorf("replay: hash admission trace at cycle %d: %w", rec.CycleIndex, err)
		}
		selectorHash, err := hashing.ContentHashRaw(rec.SelectorTrace)
		if err != nil {
			return Result{}, fmt.Errorf("replay: hash selector trace at cycle %d: %w", rec.CycleIndex, err)
		}
		executionHash, err := hashing.ContentHashRaw(rec.ExecutionTrace)
		if err != nil {
			return Result{}, fmt.Errorf("replay: hash execution trace at cycle %d: %w", rec.CycleIndex, err)
		}

		check := boundary.VerifyCycleCommit(prev, artifactsHash, admissionHash, selectorHash, executionHash, rec.ClaimedStateHash)
		if !check.OK {
			return Result{OK: false, FailedAtCycle: rec.CycleIndex, Reason: check.Reason}, nil
		}
		prev = check.StateHash
	}
	return Result{OK: true}, nil
}

// FromArchive reconstructs per-cycle component trees from an archive's
// flat entry list, grouping by cycle id and stream, for use with Replay
// when the host only has the raw archive rather than already-grouped
// records.
func FromArchive(entries []*hostarchive.Entry) map[int]map[string][]map[string]any {
	out := map[int]map[string][]map[string]any{}
	for _, e := range entries {
		if out[e.CycleID] == nil {
			out[e.CycleID] = map[string][]map[string]any{}
		}
		out[e.CycleID][string(e.Stream)] = append(out[e.CycleID][string(e.Stream)], e.Payload)
	}
	return out
}
