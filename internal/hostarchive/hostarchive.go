// Package hostarchive is the host-side append-only, hash-chained log
// store the kernel's LogAppend warrants write into. Every entry links to
// the previous entry's hash, so a truncated or tampered-with archive is
// detectable without needing the full state-hash chain — this is the
// per-entry analogue of what statehash does per-cycle.
package hostarchive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/axionic/rsak/internal/telemetry"
	"github.com/axionic/rsak/pkg/artifacts"
	"github.com/axionic/rsak/pkg/rsak/canonical"
)

var (
	ErrEntryNotFound   = errors.New("hostarchive: entry not found")
	ErrChainBroken     = errors.New("hostarchive: hash chain is broken")
	ErrMutationAttempt = errors.New("hostarchive: mutation of existing entry attempted")
)

// Entry is one immutable archive record.
type Entry struct {
	EntryID      string
	Sequence     uint64
	Stream       telemetry.StreamName
	RunID        string
	CycleID      int
	Payload      map[string]any
	PayloadHash  string
	PreviousHash string
	EntryHash    string
}

// Archive is an append-only, hash-chained store for kernel telemetry.
type Archive struct {
	mu        sync.RWMutex
	entries   []*Entry
	byID      map[string]*Entry
	sequence  uint64
	chainHead string
}

func NewArchive() *Archive {
	return &Archive{
		byID:      make(map[string]*Entry),
		chainHead: "genesis",
	}
}

// Append writes one telemetry envelope to the archive, chaining it to the
// current head. It never overwrites or reorders existing entries.
func (a *Archive) Append(env telemetry.Envelope) (*Entry, error) {
	payloadBytes, err := canonical.Marshal(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("hostarchive: canonicalize payload: %w", err)
	}
	payloadHash := sha256Hex(payloadBytes)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.sequence++
	entry := &Entry{
		EntryID:      uuid.New().String(),
		Sequence:     a.sequence,
		Stream:       env.Stream,
		RunID:        env.RunID,
		CycleID:      env.CycleID,
		Payload:      env.Payload,
		PayloadHash:  payloadHash,
		PreviousHash: a.chainHead,
	}
	entry.EntryHash = a.computeEntryHash(entry)
	a.chainHead = entry.EntryHash

	a.entries = append(a.entries, entry)
	a.byID[entry.EntryID] = entry
	return entry, nil
}

// computeEntryHash re-canonicalizes the entry's live Payload rather than
// trusting its stored PayloadHash, so a payload edited after Append no
// longer matches EntryHash.
func (a *Archive) computeEntryHash(e *Entry) string {
	payloadHash := ""
	if payloadBytes, err := canonical.Marshal(e.Payload); err == nil {
		payloadHash = sha256Hex(payloadBytes)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s|%d|%s|%s", e.Sequence, e.Stream, e.RunID, e.CycleID, payloadHash, e.PreviousHash)))
	return hex.EncodeToString(sum[:])
}

// Get returns one entry by id.
func (a *Archive) Get(id string) (*Entry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.byID[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return e, nil
}

// All returns every entry in append order.
func (a *Archive) All() []*Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// VerifyChain walks the archive in order and recomputes every entry hash,
// returning ErrChainBroken at the first mismatch.
func (a *Archive) VerifyChain() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	prev := "genesis"
	for _, e := range a.entries {
		if e.PreviousHash != prev {
			return fmt.Errorf("%w: entry %s expected prev %s got %s", ErrChainBroken, e.EntryID, prev, e.PreviousHash)
		}
		if got := a.computeEntryHash(e); got != e.EntryHash {
			return fmt.Errorf("%w: entry %s hash mismatch", ErrChainBroken, e.EntryID)
		}
		prev = e.EntryHash
	}
	return nil
}

// Export serializes every archived entry to JSON, in append order, for
// persistence in whatever content-addressed store the host already uses
// for the rest of its artifacts (FileStore, S3Store, GCSStore, or
// SQLStore) — an archive is just one more blob under that same store.
func (a *Archive) Export() ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out, err := json.Marshal(a.entries)
	if err != nil {
		return nil, fmt.Errorf("hostarchive: export: %w", err)
	}
	return out, nil
}

// PersistTo writes Export's bytes into backing and returns the content-hash
// key the store assigned, so the caller can record it (e.g. alongside a
// run's final state hash) for later retrieval via LoadFrom.
func (a *Archive) PersistTo(ctx context.Context, backing artifacts.Store) (string, error) {
	raw, err := a.Export()
	if err != nil {
		return "", err
	}
	key, err := backing.Store(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("hostarchive: persist: %w", err)
	}
	return key, nil
}

// Import reconstructs an Archive from bytes produced by Export, re-verifying
// the hash chain as each entry loads so a truncated or tampered export is
// rejected at load time rather than only when VerifyChain is next called.
func Import(data []byte) (*Archive, error) {
	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("hostarchive: import: %w", err)
	}
	a := NewArchive()
	for _, e := range entries {
		if e.PreviousHash != a.chainHead {
			return nil, fmt.Errorf("%w: entry %s expected prev %s got %s", ErrChainBroken, e.EntryID, a.chainHead, e.PreviousHash)
		}
		if got := a.computeEntryHash(e); got != e.EntryHash {
			return nil, fmt.Errorf("%w: entry %s hash mismatch", ErrChainBroken, e.EntryID)
		}
		a.sequence = e.Sequence
		a.chainHead = e.EntryHash
		a.entries = append(a.entries, e)
		a.byID[e.EntryID] = e
	}
	return a, nil
}

// LoadFrom fetches a previously PersistTo'd export by its content-hash key
// and reconstructs the Archive from it.
func LoadFrom(ctx context.Context, backing artifacts.Store, key string) (*Archive, error) {
	raw, err := backing.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("hostarchive: load: %w", err)
	}
	return Import(raw)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
