package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHashHex_Deterministic(t *testing.T) {
	v := map[string]any{"a": int64(1), "b": "two"}
	h1, err := ContentHashHex(v)
	require.NoError(t, err)
	h2, err := ContentHashHex(v)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestContentHashHex_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"a": int64(1), "b": int64(2)}
	b := map[string]any{"b": int64(2), "a": int64(1)}
	ha, err := ContentHashHex(a)
	require.NoError(t, err)
	hb, err := ContentHashHex(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestContentHashHex_DifferentValuesDiffer(t *testing.T) {
	ha, err := ContentHashHex(map[string]any{"a": int64(1)})
	require.NoError(t, err)
	hb, err := ContentHashHex(map[string]any{"a": int64(2)})
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestContentHashRaw_MatchesHexDigest(t *testing.T) {
	v := map[string]any{"x": "y"}
	raw, err := ContentHashRaw(v)
	require.NoError(t, err)
	hexDigest, err := ContentHashHex(v)
	require.NoError(t, err)
	assert.Equal(t, hexDigest, hex.EncodeToString(raw[:]))
}

func TestSHA256Hex_RawBytes(t *testing.T) {
	data := []byte("hello rsak")
	want := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(want[:]), SHA256Hex(data))
}
