package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/openfroyo/daqconf/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

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

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to set busy timeout: %w", err)
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

// SetOverrides disables (or re-enables) ids in partition. Each id replaces
// any earlier override of the same object.
func (s *SQLiteStore) SetOverrides(ctx context.Context, partition string, ids []string, disabled bool, actor string) error {
	if partition == "" {
		return fmt.Errorf("partition is required")
	}
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO overrides (partition, object_id, disabled, actor, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(partition, object_id) DO UPDATE SET
			disabled = excluded.disabled,
			actor = excluded.actor,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, query, partition, id, disabled, actor, now); err != nil {
			return fmt.Errorf("failed to set override for %s: %w", id, err)
		}
	}

	details, err := json.Marshal(map[string]interface{}{"ids": ids, "disabled": disabled})
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}
	if err := insertAudit(ctx, tx, ActionOverrideSet, actor, partition, nil, string(details), now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit overrides: %w", err)
	}
	return nil
}

// ClearOverrides removes the overrides of ids, or all overrides of
// partition when ids is empty. It returns the number of removed overrides.
func (s *SQLiteStore) ClearOverrides(ctx context.Context, partition string, ids []string, actor string) (int64, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `DELETE FROM overrides WHERE partition = ?`
	args := []interface{}{partition}
	if len(ids) > 0 {
		query += ` AND object_id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clear overrides: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	details, err := json.Marshal(map[string]interface{}{"ids": ids, "removed": rows})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal audit details: %w", err)
	}
	if err := insertAudit(ctx, tx, ActionOverrideCleared, actor, partition, nil, string(details), time.Now().UTC()); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit overrides: %w", err)
	}
	return rows, nil
}

// Overrides lists the overrides of partition ordered by object id.
func (s *SQLiteStore) Overrides(ctx context.Context, partition string) ([]*Override, error) {
	query := `
		SELECT partition, object_id, disabled, actor, updated_at
		FROM overrides
		WHERE partition = ?
		ORDER BY object_id
	`

	rows, err := s.db.QueryContext(ctx, query, partition)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	overrides := []*Override{}
	for rows.Next() {
		o := &Override{}
		if err := rows.Scan(&o.Partition, &o.ObjectID, &o.Disabled, &o.Actor, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		overrides = append(overrides, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating overrides: %w", err)
	}

	return overrides, nil
}

// RecordLintRun stores run, assigning an id when it has none.
func (s *SQLiteStore) RecordLintRun(ctx context.Context, run *LintRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Report == "" {
		run.Report = "{}"
	}

	query := `
		INSERT INTO lint_runs (id, partition, started_at, duration_ms, errors, warnings, infos, failed, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Partition,
		run.StartedAt,
		run.Duration.Milliseconds(),
		run.Errors,
		run.Warnings,
		run.Infos,
		run.Failed,
		run.Report,
	)
	if err != nil {
		return fmt.Errorf("failed to record lint run: %w", err)
	}

	return nil
}

const lintRunColumns = `id, partition, started_at, duration_ms, errors, warnings, infos, failed, report`

func scanLintRun(scan func(dest ...interface{}) error) (*LintRun, error) {
	run := &LintRun{}
	var durationMS int64
	err := scan(
		&run.ID,
		&run.Partition,
		&run.StartedAt,
		&durationMS,
		&run.Errors,
		&run.Warnings,
		&run.Infos,
		&run.Failed,
		&run.Report,
	)
	if err != nil {
		return nil, err
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}

// GetLintRun retrieves a lint run by ID
func (s *SQLiteStore) GetLintRun(ctx context.Context, id string) (*LintRun, error) {
	query := `SELECT ` + lintRunColumns + ` FROM lint_runs WHERE id = ?`

	run, err := scanLintRun(s.db.QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("lint run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lint run: %w", err)
	}

	return run, nil
}

// ListLintRuns lists the newest lint runs of partition. An empty partition
// lists all of them.
func (s *SQLiteStore) ListLintRuns(ctx context.Context, partition string, limit int) ([]*LintRun, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT ` + lintRunColumns + `
		FROM lint_runs
		WHERE (? = '' OR partition = ?)
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, partition, partition, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list lint runs: %w", err)
	}
	defer rows.Close()

	runs := []*LintRun{}
	for rows.Next() {
		run, err := scanLintRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lint run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lint runs: %w", err)
	}

	return runs, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO events (id, type, source, partition, component, level, message, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Type,
		event.Source,
		event.Partition,
		event.Component,
		event.Level,
		event.Message,
		event.Data,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// GetEvents retrieves the newest events matching q.
func (s *SQLiteStore) GetEvents(ctx context.Context, q EventQuery) ([]*Event, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, type, source, partition, component, level, message, data, timestamp
		FROM events
		WHERE (? = '' OR partition = ?)
		  AND (? = '' OR type = ?)
		  AND timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, q.Partition, q.Partition, q.Type, q.Type, q.Since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.Type,
			&event.Source,
			&event.Partition,
			&event.Component,
			&event.Level,
			&event.Message,
			&event.Data,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// DeleteEventsBefore removes events older than t.
func (s *SQLiteStore) DeleteEventsBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, t.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// EventSink returns a subscriber that persists published events. Storage
// failures are passed to onError, which may be nil.
func (s *SQLiteStore) EventSink(ctx context.Context, onError func(error)) telemetry.EventSubscriber {
	return func(e telemetry.Event) {
		if err := s.AppendEvent(ctx, FromTelemetry(e)); err != nil && onError != nil {
			onError(err)
		}
	}
}

// FromTelemetry converts a published event into its stored form.
func FromTelemetry(e telemetry.Event) *Event {
	event := &Event{
		ID:        e.ID,
		Type:      e.Type,
		Source:    e.Source,
		Partition: e.Partition,
		Component: e.Component,
		Level:     e.Level,
		Message:   e.Message,
		Timestamp: e.Timestamp.UTC(),
	}
	if len(e.Data) > 0 {
		if data, err := json.Marshal(e.Data); err == nil {
			s := string(data)
			event.Data = &s
		}
	}
	return event
}

func insertAudit(ctx context.Context, tx *sql.Tx, action, actor, partition string, target *string, details string, ts time.Time) error {
	query := `
		INSERT INTO audit (action, actor, partition, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query, action, actor, partition, target, details, ts); err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, partition string, action *string, limit, offset int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, action, actor, partition, target_id, details, timestamp
		FROM audit
		WHERE (? = '' OR partition = ?)
		  AND (? IS NULL OR action = ?)
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, partition, partition, action, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.Partition,
			&entry.TargetID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

var _ Store = (*SQLiteStore)(nil)
