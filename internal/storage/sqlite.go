package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrent performance
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		source_dir TEXT NOT NULL,
		workers INTEGER NOT NULL,
		config TEXT,
		processed INTEGER DEFAULT 0,
		cached INTEGER DEFAULT 0,
		successes INTEGER DEFAULT 0,
		errors INTEGER DEFAULT 0,
		timeouts INTEGER DEFAULT 0,
		abandoned INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0,
		throughput REAL DEFAULT 0,
		status TEXT DEFAULT 'running',
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateRun inserts a new run in "running" state.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, source_dir, workers, config, status)
		VALUES (?, ?, ?, ?, ?, 'running')`,
		run.ID, run.StartedAt, run.SourceDir, run.Workers, run.Config)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun records the final counters for a run.
func (s *SQLiteStorage) CompleteRun(ctx context.Context, run *Run) error {
	completed := time.Now()
	run.CompletedAt = &completed

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			completed_at = ?, processed = ?, cached = ?, successes = ?,
			errors = ?, timeouts = ?, abandoned = ?, duration_ms = ?,
			throughput = ?, status = ?, error_message = ?
		WHERE id = ?`,
		completed, run.Processed, run.Cached, run.Successes,
		run.Errors, run.Timeouts, run.Abandoned, run.DurationMs,
		run.Throughput, run.Status, run.ErrorMessage, run.ID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, completed_at, source_dir, workers,
			COALESCE(config, ''), processed, cached, successes, errors,
			timeouts, abandoned, duration_ms, throughput, status,
			COALESCE(error_message, '')
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var completedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartedAt, &completedAt, &r.SourceDir, &r.Workers,
			&r.Config, &r.Processed, &r.Cached, &r.Successes, &r.Errors,
			&r.Timeouts, &r.Abandoned, &r.DurationMs, &r.Throughput, &r.Status,
			&r.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
