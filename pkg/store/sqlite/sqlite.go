package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/google-proxy/pkg/store"
)

// Store is a key/value store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

const createKVTable = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// New opens (or creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createKVTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}

	return &Store{db: db}, nil
}

// DB returns the underlying handle so other tables can share the file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Get retrieves the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store get: %w", err)
	}
	return value, true, nil
}

// Put inserts or replaces the value under key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store put: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("store delete: %w", err)
	}
	return nil
}

// List returns all entries whose key starts with prefix, ordered by key.
func (s *Store) List(ctx context.Context, prefix string) ([]store.KV, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE key >= ? ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("store list: %w", err)
	}
	defer rows.Close()

	var out []store.KV
	for rows.Next() {
		var kv store.KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, fmt.Errorf("store list scan: %w", err)
		}
		if !strings.HasPrefix(kv.Key, prefix) {
			break
		}
		out = append(out, kv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store list: %w", err)
	}
	return out, nil
}

// DeletePrefix removes every key starting with prefix and returns the
// number of rows removed.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store delete prefix: %w", err)
	}
	defer tx.Rollback()
	for _, kv := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, kv.Key); err != nil {
			return 0, fmt.Errorf("store delete prefix: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store delete prefix: %w", err)
	}
	return int64(len(keys)), nil
}

// Count returns the number of keys starting with prefix.
func (s *Store) Count(ctx context.Context, prefix string) (int64, error) {
	kvs, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	return int64(len(kvs)), nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
