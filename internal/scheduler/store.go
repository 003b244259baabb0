package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ExecutionStatus is the terminal or in-flight state of a JobExecution.
type ExecutionStatus string

const (
	ExecutionRunning    ExecutionStatus = "running"
	ExecutionSucceeded  ExecutionStatus = "succeeded"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionSuppressed ExecutionStatus = "suppressed"
)

// JobExecution captures a single scheduled job's run.
type JobExecution struct {
	ID            string
	JobName       string
	Status        ExecutionStatus
	StartedAt     time.Time
	CompletedAt   time.Time
	Duration      time.Duration
	Error         string
	OutputSnippet string
}

// ExecutionStore persists job run history with a rolling retention window.
type ExecutionStore interface {
	Create(ctx context.Context, exec *JobExecution) error
	Finish(ctx context.Context, id string, status ExecutionStatus, completedAt time.Time, errMsg, outputSnippet string) error
	LastStatus(ctx context.Context, jobName string) (*JobExecution, error)
	List(ctx context.Context, jobName string, limit int) ([]*JobExecution, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
	Close() error
}

// SQLiteStore is the durable ExecutionStore, backed by one of corebot.db's
// tables. All persisted state lives in one SQLite file shared across
// internal/scheduler and internal/reminders.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the job_executions table at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("scheduler: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single-writer model

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS job_executions (
			id TEXT PRIMARY KEY,
			job_name TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			duration_ms INTEGER,
			error TEXT,
			output_snippet TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("scheduler: create job_executions table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_job_executions_job_name ON job_executions(job_name)",
		"CREATE INDEX IF NOT EXISTS idx_job_executions_started_at ON job_executions(started_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("scheduler: create index: %w", err)
		}
	}
	return nil
}

// Create inserts a new running execution record.
func (s *SQLiteStore) Create(ctx context.Context, exec *JobExecution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_executions (id, job_name, status, started_at)
		VALUES (?, ?, ?, ?)
	`, exec.ID, exec.JobName, string(ExecutionRunning), exec.StartedAt)
	if err != nil {
		return fmt.Errorf("scheduler: insert execution: %w", err)
	}
	return nil
}

// Finish marks an execution's terminal state.
func (s *SQLiteStore) Finish(ctx context.Context, id string, status ExecutionStatus, completedAt time.Time, errMsg, outputSnippet string) error {
	var startedAt time.Time
	if err := s.db.QueryRowContext(ctx, `SELECT started_at FROM job_executions WHERE id = ?`, id).Scan(&startedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("scheduler: execution %s not found", id)
		}
		return fmt.Errorf("scheduler: lookup execution: %w", err)
	}
	durationMs := completedAt.Sub(startedAt).Milliseconds()

	_, err := s.db.ExecContext(ctx, `
		UPDATE job_executions SET status = ?, completed_at = ?, duration_ms = ?, error = ?, output_snippet = ?
		WHERE id = ?
	`, string(status), completedAt, durationMs, errMsg, outputSnippet, id)
	if err != nil {
		return fmt.Errorf("scheduler: finish execution: %w", err)
	}
	return nil
}

// LastStatus returns the most recently started execution for jobName, or
// nil if none has run yet.
func (s *SQLiteStore) LastStatus(ctx context.Context, jobName string) (*JobExecution, error) {
	rows, err := s.queryExecutions(ctx, `
		SELECT id, job_name, status, started_at, completed_at, duration_ms, error, output_snippet
		FROM job_executions WHERE job_name = ? ORDER BY started_at DESC LIMIT 1
	`, jobName)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// List returns up to limit most-recent executions for jobName (all jobs if empty).
func (s *SQLiteStore) List(ctx context.Context, jobName string, limit int) ([]*JobExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	if jobName == "" {
		return s.queryExecutions(ctx, `
			SELECT id, job_name, status, started_at, completed_at, duration_ms, error, output_snippet
			FROM job_executions ORDER BY started_at DESC LIMIT ?
		`, limit)
	}
	return s.queryExecutions(ctx, `
		SELECT id, job_name, status, started_at, completed_at, duration_ms, error, output_snippet
		FROM job_executions WHERE job_name = ? ORDER BY started_at DESC LIMIT ?
	`, jobName, limit)
}

func (s *SQLiteStore) queryExecutions(ctx context.Context, query string, args ...any) ([]*JobExecution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scheduler: query executions: %w", err)
	}
	defer rows.Close()

	var out []*JobExecution
	for rows.Next() {
		var (
			exec        JobExecution
			completedAt sql.NullTime
			durationMs  sql.NullInt64
			errMsg      sql.NullString
			snippet     sql.NullString
		)
		if err := rows.Scan(&exec.ID, &exec.JobName, &exec.Status, &exec.StartedAt, &completedAt, &durationMs, &errMsg, &snippet); err != nil {
			return nil, fmt.Errorf("scheduler: scan execution: %w", err)
		}
		if completedAt.Valid {
			exec.CompletedAt = completedAt.Time
		}
		if durationMs.Valid {
			exec.Duration = time.Duration(durationMs.Int64) * time.Millisecond
		}
		if errMsg.Valid {
			exec.Error = errMsg.String
		}
		if snippet.Valid {
			exec.OutputSnippet = snippet.String
		}
		out = append(out, &exec)
	}
	return out, rows.Err()
}

// Prune deletes executions started before the retention cutoff, returning
// the number removed.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_executions WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("scheduler: prune executions: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
