package confdb

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

	"github.com/openfroyo/daqconf/pkg/dal"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists configuration snapshots in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// SnapshotInfo describes the last saved snapshot.
type SnapshotInfo struct {
	SavedAt time.Time
	Objects int
	Source  string
}

// OpenSQLite opens (creating if needed) a snapshot database and runs migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	s := &SQLiteStore{path: path}
	if err := s.init(ctx); err != nil {
		return nil, err
	}
	if err := s.migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) migrate() error {
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

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save replaces the stored snapshot with doc.
func (s *SQLiteStore) Save(ctx context.Context, doc *Document, source string) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		"DELETE FROM relationships",
		"DELETE FROM attributes",
		"DELETE FROM objects",
		"DELETE FROM classes",
		"DELETE FROM snapshot_info",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear snapshot: %w", err)
		}
	}

	for _, c := range doc.Schema {
		supers, err := json.Marshal(c.Superclasses)
		if err != nil {
			return fmt.Errorf("failed to encode class %s: %w", c.Name, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO classes (name, superclasses) VALUES (?, ?)", c.Name, string(supers)); err != nil {
			return fmt.Errorf("failed to save class %s: %w", c.Name, err)
		}
	}

	for _, o := range doc.Objects {
		if _, err := tx.ExecContext(ctx, "INSERT INTO objects (id, class) VALUES (?, ?)", o.ID, o.Class); err != nil {
			return fmt.Errorf("failed to save object %s: %w", o.ID, err)
		}
		for name, v := range o.Attrs {
			value, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to encode %s.%s: %w", o.ID, name, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO attributes (object_id, name, value) VALUES (?, ?, ?)",
				o.ID, name, string(value)); err != nil {
				return fmt.Errorf("failed to save attribute %s.%s: %w", o.ID, name, err)
			}
		}
		for name, targets := range o.Rels {
			for i, target := range targets {
				if _, err := tx.ExecContext(ctx,
					"INSERT INTO relationships (object_id, name, position, target_id) VALUES (?, ?, ?, ?)",
					o.ID, name, i, target); err != nil {
					return fmt.Errorf("failed to save relationship %s.%s: %w", o.ID, name, err)
				}
			}
		}
	}

	info := map[string]string{
		"saved_at": time.Now().UTC().Format(time.RFC3339),
		"objects":  fmt.Sprint(len(doc.Objects)),
		"source":   source,
	}
	for k, v := range info {
		if _, err := tx.ExecContext(ctx, "INSERT INTO snapshot_info (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("failed to save snapshot info: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load reads the stored snapshot.
func (s *SQLiteStore) Load(ctx context.Context) (*Document, error) {
	doc := &Document{}

	rows, err := s.db.QueryContext(ctx, "SELECT name, superclasses FROM classes ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to read classes: %w", err)
	}
	for rows.Next() {
		var c dal.ClassDef
		var supers string
		if err := rows.Scan(&c.Name, &supers); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan class: %w", err)
		}
		if err := json.Unmarshal([]byte(supers), &c.Superclasses); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decode class %s: %w", c.Name, err)
		}
		doc.Schema = append(doc.Schema, c)
	}
	rows.Close()

	index := make(map[string]*ObjectSpec)
	rows, err = s.db.QueryContext(ctx, "SELECT id, class FROM objects ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to read objects: %w", err)
	}
	for rows.Next() {
		spec := &ObjectSpec{}
		if err := rows.Scan(&spec.ID, &spec.Class); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan object: %w", err)
		}
		doc.Objects = append(doc.Objects, spec)
		index[spec.ID] = spec
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, "SELECT object_id, name, value FROM attributes")
	if err != nil {
		return nil, fmt.Errorf("failed to read attributes: %w", err)
	}
	for rows.Next() {
		var id, name, value string
		if err := rows.Scan(&id, &name, &value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decode %s.%s: %w", id, name, err)
		}
		if spec, ok := index[id]; ok {
			spec.Set(name, v)
		}
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, "SELECT object_id, name, target_id FROM relationships ORDER BY object_id, name, position")
	if err != nil {
		return nil, fmt.Errorf("failed to read relationships: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name, target string
		if err := rows.Scan(&id, &name, &target); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		if spec, ok := index[id]; ok {
			spec.Link(name, target)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read relationships: %w", err)
	}

	return doc, nil
}

// Info returns metadata about the stored snapshot.
func (s *SQLiteStore) Info(ctx context.Context) (*SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM snapshot_info")
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot info: %w", err)
	}
	defer rows.Close()

	info := &SnapshotInfo{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot info: %w", err)
		}
		switch k {
		case "saved_at":
			info.SavedAt, _ = time.Parse(time.RFC3339, v)
		case "objects":
			_, _ = fmt.Sscan(v, &info.Objects)
		case "source":
			info.Source = v
		}
	}
	return info, rows.Err()
}
