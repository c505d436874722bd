// Package hashing implements the kernel's single content-addressing
// primitive: SHA-256 over canonical JSON bytes.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/axionic/rsak/pkg/rsak/canonical"
)

// ContentHashHex returns the SHA-256 hex digest of the canonical JSON
// encoding of v.
func ContentHashHex(v any) (string, error) {
	raw, err := canonical.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// ContentHashRaw returns the raw 32-byte SHA-256 digest of the canonical
// JSON encoding of v. Used by the state-hash chain, which concatenates
// raw digests rather than hex strings.
func ContentHashRaw(v any) ([32]byte, error) {
	raw, err := canonical.Marshal(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(raw), nil
}

// SHA256Hex is a convenience wrapper for hashing raw bytes directly, for
// input that is already bytes, not a tree to canonicalize.
func SHA256Hex(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
