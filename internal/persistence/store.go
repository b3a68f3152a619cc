// Package persistence records durable execution metadata: one row per run,
// one row per terminal task result. Workflow documents live elsewhere
// (internal/workflow); this store only covers what the scheduler produces.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aristath/dispatch/internal/scheduler"
)

// RunRecord is one persisted scheduler run.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  int
	Failed     int
	Skipped    int
}

// ResultRecord is one persisted terminal task result.
type ResultRecord struct {
	RunID      string
	TaskID     string
	Status     string
	Agent      string
	Output     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// SQLiteStore persists runs and results in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the store at dbPath. Enables WAL mode
// and a busy timeout; creates parent directories as needed.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating parent directories: %w", err)
	}
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore opens an in-memory store for tests. Shared cache keeps the
// database visible across connections in the pool.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	return open(ctx, "file::memory:?mode=memory&cache=shared")
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	db.SetMaxOpenConns(2)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS task_results (
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		status TEXT NOT NULL,
		agent TEXT,
		output TEXT,
		error TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		PRIMARY KEY (run_id, task_id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_results_run ON task_results(run_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// BeginRun records the start of a scheduler run.
func (s *SQLiteStore) BeginRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at) VALUES (?, ?)`, runID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", runID, err)
	}
	return nil
}

// SaveResult records one terminal task result. Implements
// scheduler.ResultSink. Idempotent per (run, task).
func (s *SQLiteStore) SaveResult(ctx context.Context, runID string, res *scheduler.Result) error {
	errStr := ""
	if res.Cause != nil {
		errStr = res.Cause.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_results (run_id, task_id, status, agent, output, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, task_id) DO UPDATE SET
			status = excluded.status,
			agent = excluded.agent,
			output = excluded.output,
			error = excluded.error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, runID, res.TaskID, res.Status.String(), string(res.Agent), res.Output, errStr,
		res.StartedAt.UTC(), res.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("upserting result %s/%s: %w", runID, res.TaskID, err)
	}
	return nil
}

// FinishRun stamps the run's end time and summary counts.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, summary scheduler.Summary) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, succeeded = ?, failed = ?, skipped = ?
		WHERE id = ?
	`, time.Now().UTC(), summary.Succeeded, summary.Failed, summary.Skipped, runID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	return nil
}

// GetRun loads one run record.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, COALESCE(finished_at, started_at), succeeded, failed, skipped
		FROM runs WHERE id = ?
	`, runID)

	var r RunRecord
	if err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Succeeded, &r.Failed, &r.Skipped); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	return &r, nil
}

// ListResults returns all results for a run ordered by task ID.
func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, task_id, status, COALESCE(agent, ''), COALESCE(output, ''), COALESCE(error, ''), started_at, finished_at
		FROM task_results WHERE run_id = ? ORDER BY task_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing results for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []ResultRecord
	for rows.Next() {
		var r ResultRecord
		if err := rows.Scan(&r.RunID, &r.TaskID, &r.Status, &r.Agent, &r.Output, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
