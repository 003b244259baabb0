// Package reminders implements the Reminder Store (C6): one-shot reminders
// persisted to SQLite and delivered exactly once at or shortly after their
// due time, via a polling claim loop.
package reminders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotPending is returned by Update/Delete when the reminder has already
// been claimed, delivered, cancelled, or failed.
var ErrNotPending = errors.New("reminders: reminder is not pending")

// Reminder is one durable one-shot reminder.
type Reminder struct {
	ID          string
	User        string
	Channel     string
	Task        string
	RunAtUTC    time.Time
	CreatedAt   time.Time
	ClaimedBy   string
	DeliveredAt *time.Time
	FailCount   int
}

// IsPending reports whether the reminder is still awaiting delivery.
func (r *Reminder) IsPending() bool {
	return r.ClaimedBy == "" && r.DeliveredAt == nil
}

// Store persists reminders in a SQLite table. All operations are
// context-bound and safe for concurrent use from multiple goroutines within
// one process (SQLite itself serialises writers at the file level).
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the reminders table at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("reminders: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			user TEXT NOT NULL,
			channel TEXT NOT NULL,
			task TEXT NOT NULL,
			run_at_utc DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			claimed_by TEXT,
			claimed_at DATETIME,
			delivered_at DATETIME,
			fail_count INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("reminders: create table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_reminders_user ON reminders(user)",
		"CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(run_at_utc, claimed_by, delivered_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("reminders: create index: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Create persists a new reminder, returning its generated id. The row is
// durable (committed) before this returns.
func (s *Store) Create(ctx context.Context, user, channel, task string, runAtUTC time.Time) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, user, channel, task, run_at_utc, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, user, channel, task, runAtUTC.UTC(), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("reminders: create: %w", err)
	}
	return id, nil
}

// List returns user's pending reminders, sorted by run_at_utc ascending.
func (s *Store) List(ctx context.Context, user string) ([]*Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user, channel, task, run_at_utc, created_at, claimed_by, delivered_at, fail_count
		FROM reminders
		WHERE user = ? AND claimed_by IS NULL AND delivered_at IS NULL
		ORDER BY run_at_utc ASC
	`, user)
	if err != nil {
		return nil, fmt.Errorf("reminders: list: %w", err)
	}
	defer rows.Close()

	var out []*Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountPending returns the number of reminders awaiting delivery across all
// users, for the pending-reminders gauge.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reminders
		WHERE claimed_by IS NULL AND delivered_at IS NULL
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("reminders: count pending: %w", err)
	}
	return n, nil
}

// Update changes task and/or run_at_utc on a still-pending reminder.
func (s *Store) Update(ctx context.Context, id string, task *string, runAtUTC *time.Time) error {
	r, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if !r.IsPending() {
		return ErrNotPending
	}

	newTask := r.Task
	if task != nil {
		newTask = *task
	}
	newRunAt := r.RunAtUTC
	if runAtUTC != nil {
		newRunAt = runAtUTC.UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET task = ?, run_at_utc = ?
		WHERE id = ? AND claimed_by IS NULL AND delivered_at IS NULL
	`, newTask, newRunAt, id)
	if err != nil {
		return fmt.Errorf("reminders: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reminders: update rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

// Delete cancels a still-pending reminder by marking it claimed by
// "cancelled", which blocks any future delivery claim.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET claimed_by = 'cancelled'
		WHERE id = ? AND claimed_by IS NULL AND delivered_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("reminders: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reminders: delete rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

func (s *Store) get(ctx context.Context, id string) (*Reminder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user, channel, task, run_at_utc, created_at, claimed_by, delivered_at, fail_count
		FROM reminders WHERE id = ?
	`, id)
	return scanReminder(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*Reminder, error) {
	var (
		r           Reminder
		claimedBy   sql.NullString
		deliveredAt sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.User, &r.Channel, &r.Task, &r.RunAtUTC, &r.CreatedAt, &claimedBy, &deliveredAt, &r.FailCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reminders: not found")
		}
		return nil, fmt.Errorf("reminders: scan: %w", err)
	}
	r.ClaimedBy = claimedBy.String
	if deliveredAt.Valid {
		t := deliveredAt.Time
		r.DeliveredAt = &t
	}
	return &r, nil
}
