package contextasm

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// CaptureStore is the optional, config-gated envelope-capture store: a
// bounded ring buffer of recently-assembled envelopes, kept purely for
// diagnostic inspection of what the agent invoker was actually handed.
// Off by default; its absence never affects Assemble's behaviour.
type CaptureStore struct {
	db  *sql.DB
	max int
}

// OpenCaptureStore opens (creating if needed) the envelope_captures table at
// path, retaining at most max rows (oldest pruned first). max <= 0 defaults
// to 200.
func OpenCaptureStore(path string, max int) (*CaptureStore, error) {
	if max <= 0 {
		max = 200
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("contextasm: open capture database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &CaptureStore{db: db, max: max}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS envelope_captures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id TEXT NOT NULL,
			origin TEXT NOT NULL,
			captured_at DATETIME NOT NULL,
			envelope TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("contextasm: create envelope_captures table: %w", err)
	}
	return store, nil
}

// Record inserts one captured envelope and prunes the table back down to max
// rows, oldest first. Never returns an error to a caller that treats capture
// as best-effort; callers that care can still inspect it.
func (c *CaptureStore) Record(ctx context.Context, channelID, origin, envelope string) error {
	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO envelope_captures (channel_id, origin, captured_at, envelope)
		VALUES (?, ?, ?, ?)
	`, channelID, origin, time.Now().UTC(), envelope); err != nil {
		return fmt.Errorf("contextasm: insert capture: %w", err)
	}

	_, err := c.db.ExecContext(ctx, `
		DELETE FROM envelope_captures
		WHERE id NOT IN (SELECT id FROM envelope_captures ORDER BY id DESC LIMIT ?)
	`, c.max)
	if err != nil {
		return fmt.Errorf("contextasm: prune captures: %w", err)
	}
	return nil
}

// Recent returns up to limit most-recently captured envelopes, newest first.
func (c *CaptureStore) Recent(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = c.max
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT envelope FROM envelope_captures ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("contextasm: query captures: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var envelope string
		if err := rows.Scan(&envelope); err != nil {
			return nil, fmt.Errorf("contextasm: scan capture: %w", err)
		}
		out = append(out, envelope)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (c *CaptureStore) Close() error {
	return c.db.Close()
}
