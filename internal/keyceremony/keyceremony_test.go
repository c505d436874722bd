package keyceremony

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axionic/rsak/pkg/rsak/rsacrypto"
)

func TestNewCeremony_ProducesA32ByteSecret(t *testing.T) {
	c, err := NewCeremony()
	require.NoError(t, err)
	assert.Len(t, c.masterSecret, masterSecretSize)
}

func TestNewCeremonyFromSecret_RejectsWrongLength(t *testing.T) {
	_, err := NewCeremonyFromSecret([]byte("too-short"))
	assert.Error(t, err)
}

func TestNewCeremonyFromSecret_RoundTripsTheSameDerivations(t *testing.T) {
	secret := make([]byte, masterSecretSize)
	for i := range secret {
		secret[i] = byte(i)
	}
	c1, err := NewCeremonyFromSecret(secret)
	require.NoError(t, err)
	c2, err := NewCeremonyFromSecret(secret)
	require.NoError(t, err)

	s1, err := c1.DeriveKey(0)
	require.NoError(t, err)
	s2, err := c2.DeriveKey(0)
	require.NoError(t, err)
	assert.Equal(t, s1.PublicKeyHex(), s2.PublicKeyHex())
}

func TestDeriveKey_DistinctRotationIndicesYieldDistinctKeys(t *testing.T) {
	c, err := NewCeremony()
	require.NoError(t, err)
	k0, err := c.DeriveKey(0)
	require.NoError(t, err)
	k1, err := c.DeriveKey(1)
	require.NoError(t, err)
	assert.NotEqual(t, k0.PublicKeyHex(), k1.PublicKeyHex())
}

func TestRotationLink_ProducesASignatureTheSuccessorPackageAccepts(t *testing.T) {
	c, err := NewCeremony()
	require.NoError(t, err)
	priorHex, newHex, sigHex, err := c.RotationLink(0, 5)
	require.NoError(t, err)
	require.NotEmpty(t, priorHex)
	require.NotEmpty(t, newHex)
	require.NotEmpty(t, sigHex)

	ok, err := rsacrypto.VerifyContent(priorHex, sigHex, map[string]any{
		"prior_key_id":   priorHex,
		"new_public_key": newHex,
		"rotation_cycle": 5,
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIssueAndValidateOperatorToken_RoundTrips(t *testing.T) {
	key := []byte("a-test-signing-key-at-least-32b")
	token, err := IssueOperatorToken(key, "lineage-1", "operator-1", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateOperatorToken(key, token)
	require.NoError(t, err)
	assert.Equal(t, "lineage-1", claims.LineageID)
	assert.True(t, claims.MaySubmitRotation)
	assert.Equal(t, "operator-1", claims.Subject)
}

func TestValidateOperatorToken_RejectsWrongKey(t *testing.T) {
	token, err := IssueOperatorToken([]byte("key-one-at-least-32-bytes-long!"), "lineage-1", "operator-1", time.Hour)
	require.NoError(t, err)

	_, err = ValidateOperatorToken([]byte("key-two-at-least-32-bytes-long!"), token)
	assert.Error(t, err)
}

func TestValidateOperatorToken_RejectsExpiredToken(t *testing.T) {
	key := []byte("a-test-signing-key-at-least-32b")
	token, err := IssueOperatorToken(key, "lineage-1", "operator-1", -time.Hour)
	require.NoError(t, err)

	_, err = ValidateOperatorToken(key, token)
	assert.Error(t, err)
}
