package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/openqembed/openqembed/pkg/embedding"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

var _ Store = (*SQLiteStore)(nil)
var _ embedding.RunRecorder = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

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

// SaveRun inserts a run record, or updates it if the ID already exists. The
// workflow saves twice per run: once on admission and once on completion.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *embedding.RunRecord) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run record requires an ID")
	}
	query := `
		INSERT INTO runs (
			id, formula, method, backend, rule, status, energy,
			iterations, final_delta, started_at, completed_at, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			energy = excluded.energy,
			iterations = excluded.iterations,
			final_delta = excluded.final_delta,
			completed_at = excluded.completed_at,
			error = excluded.error,
			updated_at = CURRENT_TIMESTAMP
	`

	var errMsg *string
	if run.Error != "" {
		errMsg = &run.Error
	}
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Formula,
		run.Method,
		run.Backend,
		run.Rule,
		run.Status,
		run.Energy,
		run.Iterations,
		run.FinalDelta,
		run.StartedAt.UTC(),
		run.CompletedAt,
		errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*embedding.RunRecord, error) {
	query := `
		SELECT id, formula, method, backend, rule, status, energy,
			   iterations, final_delta, started_at, completed_at, error
		FROM runs
		WHERE id = ?
	`

	run := &embedding.RunRecord{}
	var errMsg sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Formula,
		&run.Method,
		&run.Backend,
		&run.Rule,
		&run.Status,
		&run.Energy,
		&run.Iterations,
		&run.FinalDelta,
		&run.StartedAt,
		&run.CompletedAt,
		&errMsg,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	run.Error = errMsg.String
	return run, nil
}

// ListRuns lists runs with pagination, most recent first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*embedding.RunRecord, error) {
	query := `
		SELECT id, formula, method, backend, rule, status, energy,
			   iterations, final_delta, started_at, completed_at, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*embedding.RunRecord{}
	for rows.Next() {
		run := &embedding.RunRecord{}
		var errMsg sql.NullString
		err := rows.Scan(
			&run.ID,
			&run.Formula,
			&run.Method,
			&run.Backend,
			&run.Rule,
			&run.Status,
			&run.Energy,
			&run.Iterations,
			&run.FinalDelta,
			&run.StartedAt,
			&run.CompletedAt,
			&errMsg,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Error = errMsg.String
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run by ID; its iteration trace cascades.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// SaveIteration appends one iteration record to a run's trace.
func (s *SQLiteStore) SaveIteration(ctx context.Context, runID string, rec embedding.IterationRecord) error {
	query := `
		INSERT INTO run_iterations (run_id, iteration, delta, succeeded, failed, attempts, wall_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, iteration) DO UPDATE SET
			delta = excluded.delta,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			attempts = excluded.attempts,
			wall_time_ms = excluded.wall_time_ms
	`

	_, err := s.db.ExecContext(ctx, query,
		runID,
		rec.Iteration,
		rec.Delta,
		rec.Summary.Succeeded,
		rec.Summary.Failed,
		rec.Summary.Attempts,
		rec.WallTime.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to save iteration: %w", err)
	}
	return nil
}

// ListIterations returns a run's iteration trace in order.
func (s *SQLiteStore) ListIterations(ctx context.Context, runID string) ([]embedding.IterationRecord, error) {
	query := `
		SELECT iteration, delta, succeeded, failed, attempts, wall_time_ms
		FROM run_iterations
		WHERE run_id = ?
		ORDER BY iteration ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list iterations: %w", err)
	}
	defer rows.Close()

	recs := []embedding.IterationRecord{}
	for rows.Next() {
		var rec embedding.IterationRecord
		var wallMs int64
		err := rows.Scan(
			&rec.Iteration,
			&rec.Delta,
			&rec.Summary.Succeeded,
			&rec.Summary.Failed,
			&rec.Summary.Attempts,
			&wallMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		rec.WallTime = time.Duration(wallMs) * time.Millisecond
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trace: %w", err)
	}

	return recs, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
