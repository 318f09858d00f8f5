package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/sleepd/sleepd/internal/model"
)

// Store persists sleepd's API key records in SQLite. Records are kept in
// insertion order; the store never sees a plaintext key.
type Store struct {
	db *sqlx.DB
}

// NewStore opens (creating if needed) the key database under dataDir. Pass
// an empty string for an in-memory store.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "sleepd.db") +
			"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open key database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate key database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateAPIKey inserts a new API key record. KeyHash and KeyPrefix must
// already be set. The ID and CreatedAt fields are populated after insert,
// which only returns once the write is committed.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO api_keys (key_hash, key_prefix, created_at)
		VALUES (:key_hash, :key_prefix, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, key)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get api key id: %w", err)
	}
	key.ID = id
	return nil
}

// ListAPIKeys returns every key record, revoked ones included, oldest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys, "SELECT * FROM api_keys ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// ListActiveAPIKeys returns the keys that have not been revoked, oldest first.
func (s *Store) ListActiveAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys,
		"SELECT * FROM api_keys WHERE revoked_at IS NULL ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list active api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKeyByPrefix marks the single active key whose prefix starts with
// prefix as revoked and returns it. Returns ErrNotFound when nothing matches
// and ErrAmbiguousPrefix when more than one active key does.
func (s *Store) RevokeAPIKeyByPrefix(ctx context.Context, prefix string) (*model.APIKey, error) {
	if prefix == "" {
		return nil, ErrNotFound
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin revoke: %w", err)
	}
	defer tx.Rollback()

	var matches []model.APIKey
	if err := tx.SelectContext(ctx, &matches,
		"SELECT * FROM api_keys WHERE revoked_at IS NULL AND substr(key_prefix, 1, ?) = ? ORDER BY id",
		len(prefix), prefix); err != nil {
		return nil, fmt.Errorf("find api key by prefix: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
	default:
		return nil, ErrAmbiguousPrefix
	}

	key := matches[0]
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		"UPDATE api_keys SET revoked_at = ? WHERE id = ?", now, key.ID); err != nil {
		return nil, fmt.Errorf("revoke api key: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit revoke: %w", err)
	}
	key.RevokedAt = &now
	return &key, nil
}

// UpdateAPIKeyLastUsed sets the last_used_at timestamp for an API key.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET last_used_at = ? WHERE id = ?", time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key last used rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
