// Package hoststore wires the kernel's content-addressed artifact
// persistence (decisions, warrants, archived proposals, sovereign key
// ceremony material) onto the host's existing CAS abstraction, so a
// deployment already backed by S3 or GCS reuses the same bucket rather
// than standing up a second storage layer.
package hoststore

import (
	"context"
	"fmt"

	"github.com/axionic/rsak/pkg/artifacts"
	"github.com/axionic/rsak/pkg/rsak/canonical"
)

// Store persists canonicalizable kernel values keyed by their own content
// hash, delegating the actual byte storage to artifacts.Store (FileStore,
// S3Store, GCSStore, or SQLStore backed by SQLite/Postgres, chosen by the
// host at startup).
type Store struct {
	backing artifacts.Store
}

func New(backing artifacts.Store) *Store {
	return &Store{backing: backing}
}

// Put canonicalizes v and stores it, returning the "sha256:<hex>" key the
// backing store assigns.
func (s *Store) Put(ctx context.Context, v any) (string, error) {
	raw, err := canonical.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hoststore: canonicalize: %w", err)
	}
	return s.backing.Store(ctx, raw)
}

// GetRaw retrieves the canonical bytes for a previously stored value by
// its content-hash key.
func (s *Store) GetRaw(ctx context.Context, key string) ([]byte, error) {
	return s.backing.Get(ctx, key)
}

// Exists reports whether a key is present in the backing store.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.backing.Exists(ctx, key)
}
