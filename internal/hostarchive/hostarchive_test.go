package hostarchive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axionic/rsak/internal/telemetry"
	"github.com/axionic/rsak/pkg/artifacts"
)

func TestAppend_ChainsEntries(t *testing.T) {
	a := NewArchive()
	e1, err := a.Append(telemetry.Envelope{Stream: telemetry.StreamObservations, Payload: map[string]any{"n": 1}})
	require.NoError(t, err)
	e2, err := a.Append(telemetry.Envelope{Stream: telemetry.StreamObservations, Payload: map[string]any{"n": 2}})
	require.NoError(t, err)

	assert.Equal(t, "genesis", e1.PreviousHash)
	assert.Equal(t, e1.EntryHash, e2.PreviousHash)
	assert.NotEqual(t, e1.EntryHash, e2.EntryHash)
	assert.Equal(t, uint64(1), e1.Sequence)
	assert.Equal(t, uint64(2), e2.Sequence)
}

func TestGet_ReturnsKnownEntry(t *testing.T) {
	a := NewArchive()
	e, err := a.Append(telemetry.Envelope{Stream: telemetry.StreamArtifacts, Payload: map[string]any{"x": "y"}})
	require.NoError(t, err)

	got, err := a.Get(e.EntryID)
	require.NoError(t, err)
	assert.Equal(t, e.EntryHash, got.EntryHash)
}

func TestGet_UnknownIDReturnsErrEntryNotFound(t *testing.T) {
	a := NewArchive()
	_, err := a.Get("missing")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestVerifyChain_OKOnUntamperedArchive(t *testing.T) {
	a := NewArchive()
	for i := 0; i < 5; i++ {
		_, err := a.Append(telemetry.Envelope{Stream: telemetry.StreamExecutionTrace, Payload: map[string]any{"i": i}})
		require.NoError(t, err)
	}
	assert.NoError(t, a.VerifyChain())
}

func TestVerifyChain_DetectsTamperedPreviousHash(t *testing.T) {
	a := NewArchive()
	_, err := a.Append(telemetry.Envelope{Stream: telemetry.StreamObservations, Payload: map[string]any{"n": 1}})
	require.NoError(t, err)
	_, err = a.Append(telemetry.Envelope{Stream: telemetry.StreamObservations, Payload: map[string]any{"n": 2}})
	require.NoError(t, err)

	a.entries[1].PreviousHash = "tampered"

	assert.ErrorIs(t, a.VerifyChain(), ErrChainBroken)
}

func TestVerifyChain_DetectsTamperedPayload(t *testing.T) {
	a := NewArchive()
	_, err := a.Append(telemetry.Envelope{Stream: telemetry.StreamObservations, Payload: map[string]any{"n": 1}})
	require.NoError(t, err)

	a.entries[0].Payload["n"] = 999

	assert.ErrorIs(t, a.VerifyChain(), ErrChainBroken)
}

func TestExportImport_RoundTrips(t *testing.T) {
	a := NewArchive()
	for i := 0; i < 3; i++ {
		_, err := a.Append(telemetry.Envelope{Stream: telemetry.StreamAdmissionTrace, Payload: map[string]any{"i": float64(i)}})
		require.NoError(t, err)
	}

	raw, err := a.Export()
	require.NoError(t, err)

	imported, err := Import(raw)
	require.NoError(t, err)
	require.NoError(t, imported.VerifyChain())
	assert.Equal(t, a.All()[2].EntryHash, imported.All()[2].EntryHash)
}

func TestImport_RejectsBrokenChain(t *testing.T) {
	a := NewArchive()
	_, err := a.Append(telemetry.Envelope{Stream: telemetry.StreamObservations, Payload: map[string]any{"n": 1}})
	require.NoError(t, err)
	_, err = a.Append(telemetry.Envelope{Stream: telemetry.StreamObservations, Payload: map[string]any{"n": 2}})
	require.NoError(t, err)

	raw, err := a.Export()
	require.NoError(t, err)

	a.entries[0].Payload["n"] = 999
	tampered, err := a.Export()
	require.NoError(t, err)

	_, err = Import(tampered)
	assert.ErrorIs(t, err, ErrChainBroken)

	// sanity: the untampered export still imports cleanly
	_, err = Import(raw)
	assert.NoError(t, err)
}

func TestPersistToAndLoadFrom_RoundTripThroughBackingStore(t *testing.T) {
	a := NewArchive()
	_, err := a.Append(telemetry.Envelope{Stream: telemetry.StreamSelectorTrace, Payload: map[string]any{"chosen": "bundle-1"}})
	require.NoError(t, err)

	backing, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key, err := a.PersistTo(ctx, backing)
	require.NoError(t, err)

	loaded, err := LoadFrom(ctx, backing, key)
	require.NoError(t, err)
	require.NoError(t, loaded.VerifyChain())
	assert.Equal(t, a.All()[0].EntryHash, loaded.All()[0].EntryHash)
}
