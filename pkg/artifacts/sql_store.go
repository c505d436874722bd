package artifacts

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLStore is a database-backed Store, usable with either a SQLite file
// (via modernc.org/sqlite, no cgo) or a Postgres connection (via lib/pq).
// Both drivers use the same artifact_blobs(hash, data) table; they differ
// in the data column type (BLOB vs BYTEA) and in placeholder syntax
// (? vs $n) for every statement.
type SQLStore struct {
	db       *sql.DB
	postgres bool
}

const sqliteSchema = `CREATE TABLE IF NOT EXISTS artifact_blobs (
	hash TEXT PRIMARY KEY,
	data BLOB NOT NULL
)`

const postgresSchema = `CREATE TABLE IF NOT EXISTS artifact_blobs (
	hash TEXT PRIMARY KEY,
	data BYTEA NOT NULL
)`

// NewSQLiteStore opens (creating if absent) a SQLite-backed CAS at path,
// suitable for a single-host replay harness that wants durable artifacts
// without standing up a database server.
func NewSQLiteStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("artifacts: open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("artifacts: sqlite schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// NewPostgresStore wraps an already-open Postgres connection as a CAS,
// for multi-instance replay harnesses that share one artifact backend
// across hosts.
func NewPostgresStore(db *sql.DB) (*SQLStore, error) {
	if _, err := db.Exec(postgresSchema); err != nil {
		return nil, fmt.Errorf("artifacts: postgres schema: %w", err)
	}
	return &SQLStore{db: db, postgres: true}, nil
}

func (s *SQLStore) Store(ctx context.Context, data []byte) (string, error) {
	hashStr := sha256Hex(data)
	prefixedHash := "sha256:" + hashStr

	var query string
	if s.postgres {
		query = `INSERT INTO artifact_blobs (hash, data) VALUES ($1, $2) ON CONFLICT (hash) DO NOTHING`
	} else {
		query = `INSERT INTO artifact_blobs (hash, data) VALUES (?, ?) ON CONFLICT (hash) DO NOTHING`
	}
	if _, err := s.db.ExecContext(ctx, query, hashStr, data); err != nil {
		return "", fmt.Errorf("artifacts: store blob: %w", err)
	}
	return prefixedHash, nil
}

func (s *SQLStore) Get(ctx context.Context, hash string) ([]byte, error) {
	rawHash, err := rawHashOf(hash)
	if err != nil {
		return nil, err
	}
	query := `SELECT data FROM artifact_blobs WHERE hash = $1`
	if !s.postgres {
		query = `SELECT data FROM artifact_blobs WHERE hash = ?`
	}
	var data []byte
	err = s.db.QueryRowContext(ctx, query, rawHash).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact not found: %s", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: get blob: %w", err)
	}
	return data, nil
}

func (s *SQLStore) Exists(ctx context.Context, hash string) (bool, error) {
	rawHash, err := rawHashOf(hash)
	if err != nil {
		return false, err
	}
	query := `SELECT 1 FROM artifact_blobs WHERE hash = $1`
	if !s.postgres {
		query = `SELECT 1 FROM artifact_blobs WHERE hash = ?`
	}
	var x int
	err = s.db.QueryRowContext(ctx, query, rawHash).Scan(&x)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("artifacts: exists blob: %w", err)
	}
	return true, nil
}

func (s *SQLStore) Delete(ctx context.Context, hash string) error {
	rawHash, err := rawHashOf(hash)
	if err != nil {
		return err
	}
	query := `DELETE FROM artifact_blobs WHERE hash = $1`
	if !s.postgres {
		query = `DELETE FROM artifact_blobs WHERE hash = ?`
	}
	if _, err := s.db.ExecContext(ctx, query, rawHash); err != nil {
		return fmt.Errorf("artifacts: delete blob: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func rawHashOf(hash string) (string, error) {
	if len(hash) < 7 || hash[:7] != "sha256:" {
		return "", fmt.Errorf("invalid hash format: %s", hash)
	}
	raw := hash[7:]
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid hash hex: %w", err)
	}
	return raw, nil
}
