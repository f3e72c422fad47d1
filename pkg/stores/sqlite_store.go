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

	"github.com/openfroyo/polsync/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

var _ Store = (*SQLiteStore)(nil)

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

	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)
	if s.path != MemoryPath {
		dsn += "&_pragma=journal_mode(WAL)"
	}

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

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// RecordRun implements engine.Journal. The run and its outcomes are written
// in one transaction; recording the same run twice replaces it.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *engine.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if run.Status != "" && !run.Status.IsTerminal() {
		return fmt.Errorf("run %s is still %s, only finished runs are recorded", run.ID, run.Status)
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = s.RollbackTx(tx) }()

	for _, stmt := range []string{`DELETE FROM outcomes WHERE run_id = ?`, `DELETE FROM runs WHERE id = ?`} {
		if _, err := tx.ExecContext(ctx, stmt, run.ID); err != nil {
			return fmt.Errorf("failed to replace run: %w", err)
		}
	}

	var completedAt sql.NullTime
	if !run.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: run.CompletedAt, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, status, dry_run, started_at, completed_at, total, created, updated, deleted, unchanged, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		string(run.Status),
		run.DryRun,
		run.StartedAt,
		completedAt,
		run.Summary.Total,
		run.Summary.Created,
		run.Summary.Updated,
		run.Summary.Deleted,
		run.Summary.Unchanged,
		run.Summary.Failed,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	for i, o := range run.Outcomes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO outcomes (run_id, seq, key, resource_type, name, container, operation, changed, error, error_code, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.ID,
			i,
			o.Key,
			o.ResourceType,
			o.Name,
			o.Container,
			string(o.Operation),
			o.Changed,
			o.Error,
			o.ErrorCode,
			o.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to record outcome %s: %w", o.Key, err)
		}
	}

	if err := s.CommitTx(tx); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const runColumns = `id, status, dry_run, started_at, completed_at, total, created, updated, deleted, unchanged, failed`

// GetRun retrieves a run and its outcomes by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.Outcomes, err = s.listOutcomes(ctx, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns lists runs newest first, without outcomes.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*engine.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	var args []interface{}
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*engine.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (s *SQLiteStore) listOutcomes(ctx context.Context, runID string) ([]engine.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, resource_type, name, container, operation, changed, error, error_code, duration_ms
		FROM outcomes
		WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []engine.Outcome
	for rows.Next() {
		var (
			o          engine.Outcome
			operation  string
			durationMS int64
		)
		if err := rows.Scan(&o.Key, &o.ResourceType, &o.Name, &o.Container, &operation,
			&o.Changed, &o.Error, &o.ErrorCode, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Operation = engine.OperationType(operation)
		o.Duration = time.Duration(durationMS) * time.Millisecond
		outcomes = append(outcomes, o)
	}

	return outcomes, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*engine.Run, error) {
	var (
		run         engine.Run
		status      string
		completedAt sql.NullTime
	)
	err := row.Scan(
		&run.ID,
		&status,
		&run.DryRun,
		&run.StartedAt,
		&completedAt,
		&run.Summary.Total,
		&run.Summary.Created,
		&run.Summary.Updated,
		&run.Summary.Deleted,
		&run.Summary.Unchanged,
		&run.Summary.Failed,
	)
	if err != nil {
		return nil, err
	}
	run.Status = engine.RunStatus(status)
	if completedAt.Valid {
		run.CompletedAt = completedAt.Time
	}
	return &run, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
