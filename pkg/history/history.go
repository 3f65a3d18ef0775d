// Package history keeps a local journal of orchestration runs and their
// progress events in SQLite, so past installs and rollbacks can be inspected
// after the fact.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run is one orchestration run.
type Run struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Domain      string     `json:"domain,omitempty"`
	Status      string     `json:"status"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Event is one progress event within a run.
type Event struct {
	ID        int64          `json:"id"`
	RunID     string         `json:"run_id"`
	Step      string         `json:"step"`
	Component string         `json:"component,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is the SQLite-backed journal.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a store for the given database path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history database path is required")
	}
	return &Store{path: path}, nil
}

// Init opens the database and applies pending migrations.
func (s *Store) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return s.migrate()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// BeginRun records a new run in "running" state.
func (s *Store) BeginRun(ctx context.Context, id, kind, domain string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, domain, status, started_at) VALUES (?, ?, ?, 'running', ?)`,
		id, kind, domain, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// RecordEvent appends a progress event to a run.
func (s *Store) RecordEvent(ctx context.Context, runID, step, component string, meta map[string]any) error {
	var metaJSON *string
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to encode event meta: %w", err)
		}
		str := string(raw)
		metaJSON = &str
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, step, component, meta, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, step, component, metaJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// FinishRun marks a run as completed with its final status.
func (s *Store) FinishRun(ctx context.Context, id, status, errMsg string) error {
	var errVal *string
	if errMsg != "" {
		errVal = &errMsg
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		status, errVal, now, id)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, domain, status, error, started_at, completed_at FROM runs WHERE id = ?`,
		id).Scan(&run.ID, &run.Kind, &run.Domain, &run.Status, &run.Error, &run.StartedAt, &run.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs newest-first with pagination.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, domain, status, error, started_at, completed_at
		 FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(&run.ID, &run.Kind, &run.Domain, &run.Status, &run.Error, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// ListEvents returns a run's events in insertion order.
func (s *Store) ListEvents(ctx context.Context, runID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step, component, meta, created_at
		 FROM run_events WHERE run_id = ? ORDER BY id ASC`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		ev := &Event{}
		var metaJSON *string
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Step, &ev.Component, &metaJSON, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if metaJSON != nil {
			if err := json.Unmarshal([]byte(*metaJSON), &ev.Meta); err != nil {
				return nil, fmt.Errorf("failed to decode event meta: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}
