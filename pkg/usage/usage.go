// Package usage keeps a ledger of completed requests and their token counts.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/google-proxy/pkg/models"
)

// Tracker records and queries token usage.
type Tracker interface {
	// Record stores a usage record.
	Record(ctx context.Context, rec models.UsageRecord) error
	// Summary returns usage grouped by store and model, optionally filtered
	// by store id.
	Summary(ctx context.Context, storeID string) ([]models.UsageSummary, error)
	// SessionRecords returns the records of one conversation in order.
	SessionRecords(ctx context.Context, storeID, sessionID string) ([]models.UsageRecord, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db    *sql.DB
	owned bool
}

var _ Tracker = (*SQLiteTracker)(nil)

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	store_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	model TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	cached INTEGER NOT NULL DEFAULT 0,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_store_time ON usage_records(store_id, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_session ON usage_records(store_id, session_id);
`

// New opens the database at dbPath and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	db.SetMaxOpenConns(1)
	t, err := Open(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	t.owned = true
	return t, nil
}

// Open migrates an existing handle. Close leaves the handle open.
func Open(db *sql.DB) (*SQLiteTracker, error) {
	if _, err := db.Exec(createTable); err != nil {
		return nil, fmt.Errorf("migrate usage db: %w", err)
	}
	return &SQLiteTracker{db: db}, nil
}

// Record stores a usage record. A zero CreatedAt is set to now.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_records (store_id, kind, model, session_id, cached, prompt_tokens, completion_tokens, total_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.StoreID, string(rec.Kind), rec.Model, rec.SessionID, rec.Cached,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Summary returns aggregated usage grouped by store and model.
func (t *SQLiteTracker) Summary(ctx context.Context, storeID string) ([]models.UsageSummary, error) {
	query := `SELECT store_id, model, COUNT(*), COALESCE(SUM(cached), 0),
		 COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(total_tokens), 0)
		 FROM usage_records`
	var args []any
	if storeID != "" {
		query += ` WHERE store_id = ?`
		args = append(args, storeID)
	}
	query += ` GROUP BY store_id, model ORDER BY store_id, model`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		if err := rows.Scan(&s.StoreID, &s.Model, &s.RequestCount, &s.CachedCount, &s.TotalPrompt, &s.TotalCompletion, &s.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// SessionRecords returns the records of one conversation, oldest first.
func (t *SQLiteTracker) SessionRecords(ctx context.Context, storeID, sessionID string) ([]models.UsageRecord, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, store_id, kind, model, session_id, cached, prompt_tokens, completion_tokens, total_tokens, created_at
		 FROM usage_records WHERE store_id = ? AND session_id = ? ORDER BY created_at ASC, id ASC`,
		storeID, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("session records: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var (
			r    models.UsageRecord
			kind string
		)
		if err := rows.Scan(&r.ID, &r.StoreID, &kind, &r.Model, &r.SessionID, &r.Cached,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		r.Kind = models.Kind(kind)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close releases the database connection if the tracker opened it.
func (t *SQLiteTracker) Close() error {
	if !t.owned {
		return nil
	}
	return t.db.Close()
}
