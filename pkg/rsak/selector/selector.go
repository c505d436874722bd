// Package selector implements the kernel's non-semantic selection rule:
// among admitted candidate bundles, the one with the lexicographically
// smallest bundle hash wins. The rule exists precisely so selection carries
// no judgment about which action is "better" — it is a deterministic
// tiebreaker over content-addressed identity, nothing more.
package selector

import (
	"bytes"
	"sort"

	"github.com/axionic/rsak/pkg/rsak/admission"
)

// Event records which bundle hash was chosen and the full admitted field
// it was chosen from, for the selector_trace telemetry stream. Admitted
// hashes are listed in ascending hash order, so the chosen one is always
// first.
type Event struct {
	ChosenBundleHash     string
	AdmittedBundleHashes []string
	CandidateCount       int
}

// Select returns the admitted result with the lexicographically smallest
// bundle hash, plus the selection event. Returns (nil, Event{}, false) if
// admitted is empty.
func Select(admitted []*admission.Result) (*admission.Result, Event, bool) {
	if len(admitted) == 0 {
		return nil, Event{}, false
	}
	sorted := make([]*admission.Result, len(admitted))
	copy(sorted, admitted)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].BundleHash[:], sorted[j].BundleHash[:]) < 0
	})
	chosen := sorted[0]
	hashes := make([]string, len(sorted))
	for i, r := range sorted {
		hashes[i] = r.BundleHashHex
	}
	return chosen, Event{
		ChosenBundleHash:     chosen.BundleHashHex,
		AdmittedBundleHashes: hashes,
		CandidateCount:       len(admitted),
	}, true
}
