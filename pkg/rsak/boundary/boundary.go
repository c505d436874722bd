// Package boundary implements the harness-side cycle boundary verifier:
// the checks a host must perform between committing cycle c-1 and
// starting cycle c, so that a misbehaving or compromised host can neither
// smuggle a cycle through without the state-hash chain catching it on
// replay, nor skip the key rotation a previously admitted succession
// mandates. Everything here is pure over values the host supplies; the
// host owns reading/writing the durable log.
package boundary

import (
	"fmt"

	"github.com/axionic/rsak/pkg/rsak/rsacrypto"
	"github.com/axionic/rsak/pkg/rsak/state"
	"github.com/axionic/rsak/pkg/rsak/statehash"
)

// FailureCode is the closed taxonomy of boundary verification failures.
// A boundary failure is terminal for the cycle: policy evaluation never
// runs.
type FailureCode string

const (
	SignatureMismatch        FailureCode = "BOUNDARY_SIGNATURE_MISMATCH"
	MissingPendingSuccessor  FailureCode = "BOUNDARY_STATE_MISSING_PENDING_SUCCESSOR"
	SpuriousPendingSuccessor FailureCode = "BOUNDARY_STATE_SPURIOUS_PENDING_SUCCESSOR"
	ChainMismatch            FailureCode = "BOUNDARY_STATE_CHAIN_MISMATCH"
)

// CyclePayload is the shared shape of the CycleCommit and CycleStart
// records the sovereign signs at each boundary.
type CyclePayload struct {
	CycleID              int
	KernelVersionID      string
	StateHashPrev        string
	StateHashEnd         string
	PendingSuccessorKey  string
	IdentityChainLength  int
	IdentityChainTipHash string
	OverlayHash          string
}

// SigningPayload is the canonical tree the sovereign signs; kind is
// "CycleCommit" or "CycleStart".
func (p CyclePayload) SigningPayload(kind string) map[string]any {
	return map[string]any{
		"type":                    kind,
		"cycle_id":                p.CycleID,
		"kernel_version_id":       p.KernelVersionID,
		"state_hash_prev":         p.StateHashPrev,
		"state_hash_end":          p.StateHashEnd,
		"pending_successor_key":   p.PendingSuccessorKey,
		"identity_chain_length":   p.IdentityChainLength,
		"identity_chain_tip_hash": p.IdentityChainTipHash,
		"overlay_hash":            p.OverlayHash,
	}
}

// SignedPayload pairs a boundary payload with its Ed25519 signature.
type SignedPayload struct {
	Payload      CyclePayload
	SignatureHex string
}

// Check is the outcome of one boundary verification step.
type Check struct {
	OK     bool
	Code   FailureCode
	Detail string
}

func fail(code FailureCode, detail string) Check { return Check{Code: code, Detail: detail} }

// VerifyAndActivate runs the full boundary sequence between committing
// cycle c-1 and starting cycle c:
//
//  1. verify the CycleCommit(c-1) signature under the active sovereign;
//  2. check pending-successor consistency between the committed payload
//     and the state;
//  3. if a successor is pending, activate it (key rotation, suspension of
//     every active grant, identity chain advance);
//  4. verify the CycleStart(c) signature under the now-active sovereign;
//  5. check chain continuity (chain length, tip hash, overlay hash)
//     between the start payload and the post-activation state.
//
// On success the returned state reflects any activation; on failure the
// input state is returned unchanged and the cycle must not proceed.
// successionProposalHash is the admitted proposal's id (folded into the
// new chain tip), "" when nothing is pending.
func VerifyAndActivate(commit, start SignedPayload, st state.State, successionProposalHash string) (state.State, Check) {
	// 1: CycleCommit(c-1) was signed by the key that was sovereign when
	// the cycle committed.
	if !verifySigned(st.SovereignKeyID, "CycleCommit", commit) {
		return st, fail(SignatureMismatch, fmt.Sprintf("CycleCommit(%d) signature does not verify under active sovereign", commit.Payload.CycleID))
	}

	// 2: pending-successor consistency.
	if commit.Payload.PendingSuccessorKey != "" && st.PendingSuccessorKey == "" {
		return st, fail(MissingPendingSuccessor, "commit records a pending successor the state does not carry")
	}
	if commit.Payload.PendingSuccessorKey == "" && st.PendingSuccessorKey != "" {
		return st, fail(SpuriousPendingSuccessor, "state carries a pending successor the commit does not record")
	}
	if commit.Payload.PendingSuccessorKey != st.PendingSuccessorKey {
		return st, fail(ChainMismatch, "pending successor key diverges between commit and state")
	}

	// 3: activation.
	next := st.ActivatePendingSuccessor(successionProposalHash)

	// 4: CycleStart(c) must be signed by whoever is sovereign now — the
	// successor after an activation, the unchanged key otherwise.
	if !verifySigned(next.SovereignKeyID, "CycleStart", start) {
		return st, fail(SignatureMismatch, fmt.Sprintf("CycleStart(%d) signature does not verify under active sovereign", start.Payload.CycleID))
	}

	// 5: chain continuity.
	sp := start.Payload
	if sp.IdentityChainLength != next.IdentityChainLength {
		return st, fail(ChainMismatch, fmt.Sprintf("identity chain length mismatch: payload=%d state=%d", sp.IdentityChainLength, next.IdentityChainLength))
	}
	if sp.IdentityChainTipHash != next.IdentityChainTipHash {
		return st, fail(ChainMismatch, "identity chain tip hash mismatch")
	}
	if sp.OverlayHash != next.OverlayHash {
		return st, fail(ChainMismatch, "overlay hash mismatch")
	}
	if sp.StateHashPrev != commit.Payload.StateHashEnd {
		return st, fail(ChainMismatch, "CycleStart state_hash_prev does not chain from CycleCommit state_hash_end")
	}

	return next, Check{OK: true}
}

func verifySigned(sovereignIdentifier, kind string, sp SignedPayload) bool {
	pubHex, ok := rsacrypto.PubKeyFromIdentifier(sovereignIdentifier)
	if !ok || sp.SignatureHex == "" {
		return false
	}
	valid, err := rsacrypto.VerifyContent(pubHex, sp.SignatureHex, sp.Payload.SigningPayload(kind))
	return err == nil && valid
}

// StartCheck is the result of verifying a cycle is safe to begin.
type StartCheck struct {
	OK     bool
	Reason string
}

// VerifyCycleStart checks that the host's recorded previous state hash
// matches the chain's expectation and that the cycle index about to run
// is exactly one more than the last committed cycle — the two invariants
// that must hold before the kernel is handed any observations at all.
func VerifyCycleStart(expectedPrevHash, recordedPrevHash [32]byte, nextCycleIndex, lastCommittedCycleIndex int) StartCheck {
	if expectedPrevHash != recordedPrevHash {
		return StartCheck{OK: false, Reason: fmt.Sprintf("prev state hash mismatch: expected %s got %s", statehash.Hex(expectedPrevHash), statehash.Hex(recordedPrevHash))}
	}
	if nextCycleIndex != lastCommittedCycleIndex+1 {
		return StartCheck{OK: false, Reason: fmt.Sprintf("cycle index discontinuity: expected %d got %d", lastCommittedCycleIndex+1, nextCycleIndex)}
	}
	return StartCheck{OK: true}
}

// CommitCheck is the result of verifying a completed cycle before it is
// appended to the durable log.
type CommitCheck struct {
	OK        bool
	Reason    string
	StateHash [32]byte
}

// VerifyCycleCommit recomputes the cycle's state hash from its four
// component hashes and compares it against the value the host intends to
// persist, rejecting any divergence before it becomes part of the
// replayable record.
func VerifyCycleCommit(prevHash [32]byte, artifacts, admission, selector, execution [32]byte, claimedHash [32]byte) CommitCheck {
	computed := statehash.CycleStateHash(prevHash, artifacts, admission, selector, execution)
	if computed != claimedHash {
		return CommitCheck{OK: false, Reason: "recomputed state hash does not match claimed commit hash", StateHash: computed}
	}
	return CommitCheck{OK: true, StateHash: computed}
}
