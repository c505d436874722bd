// Package rsacrypto implements the kernel's signing primitives: Ed25519
// over canonical content hashes, plus HKDF-SHA256 subkey derivation for
// the sovereign key ceremony. Every signable kernel artifact (amendments,
// treaty grants, succession links) is signed over its content hash, never
// over a serialization the signer didn't produce itself.
package rsacrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/axionic/rsak/pkg/rsak/hashing"
)

// Signer signs and verifies content hashes with an Ed25519 key pair
// identified by KeyID. The signed payload is always the canonical 32-byte
// digest, not a serialization: SignContent hashes a structure via
// hashing.ContentHashRaw before signing, and SignHash takes the digest
// directly.
type Signer struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	KeyID string
}

// NewSigner generates a fresh Ed25519 key pair.
func NewSigner(keyID string) (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("rsacrypto: key generation: %w", err)
	}
	return &Signer{priv: priv, pub: pub, KeyID: keyID}, nil
}

// NewSignerFromSeed constructs a deterministic signer from a 32-byte
// seed, for derived subkeys produced by DeriveSubkey.
func NewSignerFromSeed(seed []byte, keyID string) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("rsacrypto: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey), KeyID: keyID}, nil
}

// PublicKeyHex returns the hex-encoded public key.
func (s *Signer) PublicKeyHex() string { return hex.EncodeToString(s.pub) }

// Identifier returns the key in "ed25519:<64-hex>" identifier form, the
// format grantee identifiers and sovereign keys use on the wire.
func (s *Signer) Identifier() string { return KeyIdentifier(s.PublicKeyHex()) }

// KeyIdentifier wraps a hex public key in the "ed25519:<64-hex>" form.
func KeyIdentifier(pubKeyHex string) string { return "ed25519:" + pubKeyHex }

// PubKeyFromIdentifier extracts the hex public key from an
// "ed25519:<64-hex>" identifier, reporting whether the identifier is
// well-formed.
func PubKeyFromIdentifier(identifier string) (string, bool) {
	const prefix = "ed25519:"
	if len(identifier) != len(prefix)+2*ed25519.PublicKeySize || identifier[:len(prefix)] != prefix {
		return "", false
	}
	pubHex := identifier[len(prefix):]
	if _, err := hex.DecodeString(pubHex); err != nil {
		return "", false
	}
	return pubHex, true
}

// SignHash signs a raw 32-byte content hash, returning the hex signature.
func (s *Signer) SignHash(h [32]byte) string {
	return hex.EncodeToString(ed25519.Sign(s.priv, h[:]))
}

// SignContent hashes v via hashing.ContentHashRaw and signs the digest.
func (s *Signer) SignContent(v any) (string, error) {
	h, err := hashing.ContentHashRaw(v)
	if err != nil {
		return "", err
	}
	return s.SignHash(h), nil
}

// VerifyHash verifies a hex signature against a raw content hash and a
// hex-encoded public key.
func VerifyHash(pubKeyHex, sigHex string, h [32]byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("rsacrypto: invalid public key hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("rsacrypto: invalid public key size")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("rsacrypto: invalid signature hex: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), h[:], sig), nil
}

// VerifyContent hashes v and verifies sigHex against pubKeyHex.
func VerifyContent(pubKeyHex, sigHex string, v any) (bool, error) {
	h, err := hashing.ContentHashRaw(v)
	if err != nil {
		return false, err
	}
	return VerifyHash(pubKeyHex, sigHex, h)
}

// sovereignSalt is the fixed HKDF salt for sovereign key derivation.
const sovereignSalt = "rsa-x3-genesis"

// DeriveSubkey derives a 32-byte Ed25519 seed from a master secret using
// HKDF-SHA256 with a caller-chosen info string. The sovereign key
// ceremony uses this to derive each successor key from a single ceremony
// secret without ever persisting the secret itself, so a leaked derived
// key cannot be used to recover earlier or later keys in the chain
// (info strings are one-way and rotation-specific).
func DeriveSubkey(masterSecret []byte, info string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, masterSecret, []byte(sovereignSalt), []byte(info))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(kdf, seed); err != nil {
		return nil, fmt.Errorf("rsacrypto: hkdf expand: %w", err)
	}
	return seed, nil
}

// DeriveSovereignSigner derives the signer for a given identity-chain
// position (1 = genesis sovereign), with the chain position folded into
// the HKDF info string.
func DeriveSovereignSigner(masterSecret []byte, chainLength int) (*Signer, error) {
	seed, err := DeriveSubkey(masterSecret, fmt.Sprintf("sovereign-key-%d", chainLength))
	if err != nil {
		return nil, err
	}
	return NewSignerFromSeed(seed, fmt.Sprintf("sovereign-%d", chainLength))
}

// DeriveSovereignSigners pre-computes the signer list for chain positions
// 1..count, for reproducible test lineages.
func DeriveSovereignSigners(masterSecret []byte, count int) ([]*Signer, error) {
	out := make([]*Signer, 0, count)
	for i := 1; i <= count; i++ {
		s, err := DeriveSovereignSigner(masterSecret, i)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// LinkSignature signs the succession link (prior key id, new public key,
// rotation cycle) with the PRIOR key, proving the rotation was authorized
// by the outgoing sovereign rather than self-asserted by the incoming one.
func (s *Signer) LinkSignature(priorKeyID, newPubKeyHex string, rotationCycle int) (string, error) {
	return s.SignContent(map[string]any{
		"prior_key_id":   priorKeyID,
		"new_public_key": newPubKeyHex,
		"rotation_cycle": rotationCycle,
	})
}
