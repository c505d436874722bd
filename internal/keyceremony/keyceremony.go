// Package keyceremony performs the host-side sovereign key ceremony: a
// one-time generation of a master secret, then deterministic derivation
// of the genesis sovereign key and every rotation key from it via
// rsacrypto.DeriveSubkey. The master secret itself is never logged,
// persisted in telemetry, or passed to the kernel — only the derived
// public keys and link signatures ever leave this package.
package keyceremony

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/axionic/rsak/pkg/rsak/rsacrypto"
)

const masterSecretSize = 32

// Ceremony holds the master secret for one sovereign identity lineage.
type Ceremony struct {
	masterSecret []byte
}

// NewCeremony generates a fresh random master secret.
func NewCeremony() (*Ceremony, error) {
	secret := make([]byte, masterSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("keyceremony: generate master secret: %w", err)
	}
	return &Ceremony{masterSecret: secret}, nil
}

// NewCeremonyFromSecret wraps an externally supplied master secret (e.g.
// recovered from a sealed backup), for rebuilding a lineage's signer set
// without regenerating keys that have already been cited on-chain.
func NewCeremonyFromSecret(secret []byte) (*Ceremony, error) {
	if len(secret) != masterSecretSize {
		return nil, fmt.Errorf("keyceremony: master secret must be %d bytes", masterSecretSize)
	}
	cp := make([]byte, masterSecretSize)
	copy(cp, secret)
	return &Ceremony{masterSecret: cp}, nil
}

// DeriveKey derives the Ed25519 signer for rotation index n (0 = genesis
// sovereign key, chain position 1) via the chain-position-specific HKDF
// info string, so leaking one derived key reveals nothing about any
// sibling derivation.
func (c *Ceremony) DeriveKey(rotationIndex int) (*rsacrypto.Signer, error) {
	s, err := rsacrypto.DeriveSovereignSigner(c.masterSecret, rotationIndex+1)
	if err != nil {
		return nil, fmt.Errorf("keyceremony: derive rotation %d: %w", rotationIndex, err)
	}
	return s, nil
}

// RotationLink produces the signed successor link for advancing from
// rotation n to rotation n+1 at the given cycle, signed by the outgoing
// key as a SuccessionProposal requires.
func (c *Ceremony) RotationLink(fromIndex int, atCycle int) (priorKeyHex, newKeyHex, linkSigHex string, err error) {
	prior, err := c.DeriveKey(fromIndex)
	if err != nil {
		return "", "", "", err
	}
	next, err := c.DeriveKey(fromIndex + 1)
	if err != nil {
		return "", "", "", err
	}
	sig, err := prior.LinkSignature(prior.PublicKeyHex(), next.PublicKeyHex(), atCycle)
	if err != nil {
		return "", "", "", err
	}
	return prior.PublicKeyHex(), next.PublicKeyHex(), sig, nil
}

// releaseLockScript deletes a lock key only if it still holds the token
// that acquired it, so a replica never releases a lock it no longer owns
// (e.g. after its own hold expired and a different replica acquired it).
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// CeremonyLock is a Redis-backed distributed lock guarding concurrent
// sovereign succession ceremonies across host replicas: at most one
// replica may derive and propose a rotation key for a given lineage at a
// time, since two replicas deriving "the next" key independently would
// both be valid derivations but only one can ever be adopted.
type CeremonyLock struct {
	client   *redis.Client
	key      string
	token    string
	lockedAt time.Time
}

// NewCeremonyLock returns a lock handle for lineageID against the given
// Redis client. token should be unique per acquiring process (a run ID).
func NewCeremonyLock(client *redis.Client, lineageID, token string) *CeremonyLock {
	return &CeremonyLock{client: client, key: "rsak:ceremony-lock:" + lineageID, token: token}
}

// Acquire attempts to take the lock for ttl, returning false without
// error if another replica currently holds it.
func (l *CeremonyLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("keyceremony: acquire lock: %w", err)
	}
	if ok {
		l.lockedAt = time.Now()
	}
	return ok, nil
}

// Release drops the lock iff this handle's token still owns it.
func (l *CeremonyLock) Release(ctx context.Context) error {
	if _, err := releaseLockScript.Run(ctx, l.client, []string{l.key}, l.token).Result(); err != nil && err != redis.Nil {
		return fmt.Errorf("keyceremony: release lock: %w", err)
	}
	return nil
}

// OperatorClaims extends the standard JWT claims with the succession
// authority an operator-facing bearer token grants. This authorizes who
// may submit a SuccessionProposal to the host; it is an authorization
// concern the host enforces before ever constructing the proposal
// artifact the kernel evaluates, not a kernel-level semantic.
type OperatorClaims struct {
	jwt.RegisteredClaims
	LineageID        string `json:"lineage_id"`
	MaySubmitRotation bool   `json:"may_submit_rotation"`
}

// IssueOperatorToken signs an OperatorClaims token authorizing bearer to
// submit succession proposals for lineageID until it expires.
func IssueOperatorToken(signingKey []byte, lineageID, subject string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "rsak-keyceremony",
		},
		LineageID:         lineageID,
		MaySubmitRotation: true,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("keyceremony: sign operator token: %w", err)
	}
	return signed, nil
}

// ValidateOperatorToken parses and verifies an operator token, returning
// its claims iff the signature is valid and it has not expired.
func ValidateOperatorToken(signingKey []byte, tokenString string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("keyceremony: validate operator token: %w", err)
	}
	return claims, nil
}
