// Package statehash implements the kernel's replay-verification chain:
// each cycle's state hash is the SHA-256 of the prior state hash
// concatenated with the content hashes of that cycle's artifacts,
// admission trace, selector trace, and execution trace. A host replaying
// a recorded run recomputes this chain and compares it against the
// recorded sequence; any divergence is a replay_fail SYSTEM event.
package statehash

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/axionic/rsak/pkg/rsak/hashing"
)

// Kernel version ids are folded into the initial state hash and the
// boundary payloads so that runs against incompatible kernel semantics
// can never collide. The x0e id pins the RSA-0 regime; x3 pins the full
// succession-capable regime.
const (
	KernelVersionID   = "rsa-replay-regime-x0e-v0.1"
	KernelVersionIDX3 = "rsa-replay-regime-x3-v0.1"
)

// ComponentHash hashes one cycle component (artifacts, admission trace,
// selector trace, or execution trace) to its raw 32-byte digest.
func ComponentHash(v any) ([32]byte, error) {
	return hashing.ContentHashRaw(v)
}

// InitialStateHash returns state_hash[0]: SHA-256 over the raw
// constitution hash bytes concatenated with the SHA-256 of the kernel
// version id, so that two kernels running different constitutions or
// different semantics never produce comparable chains. A constitution
// hash that is not valid hex contributes its UTF-8 bytes directly.
func InitialStateHash(constitutionHash string) [32]byte {
	return InitialStateHashFor(constitutionHash, KernelVersionID)
}

// InitialStateHashFor is InitialStateHash pinned to an explicit kernel
// version id (the x3 regime uses KernelVersionIDX3).
func InitialStateHashFor(constitutionHash, kernelVersionID string) [32]byte {
	hashBytes, err := hex.DecodeString(constitutionHash)
	if err != nil {
		hashBytes = []byte(constitutionHash)
	}
	versionSum := sha256.Sum256([]byte(kernelVersionID))
	buf := make([]byte, 0, len(hashBytes)+32)
	buf = append(buf, hashBytes...)
	buf = append(buf, versionSum[:]...)
	return sha256.Sum256(buf)
}

// CycleStateHash computes state_hash[n] from state_hash[n-1] and the four
// per-cycle component hashes, in the fixed order: artifacts, admission,
// selector, execution.
func CycleStateHash(prev [32]byte, artifacts, admission, selector, execution [32]byte) [32]byte {
	buf := make([]byte, 0, 32*5)
	buf = append(buf, prev[:]...)
	buf = append(buf, artifacts[:]...)
	buf = append(buf, admission[:]...)
	buf = append(buf, selector[:]...)
	buf = append(buf, execution[:]...)
	return sha256.Sum256(buf)
}

// Hex renders a 32-byte digest as a hex string for telemetry/log output.
func Hex(h [32]byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range h {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
