package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// pragma is a connection setting and the value PRAGMA reports once applied.
type pragma struct {
	name   string
	set    string
	report string
}

// pragmas are applied to every opened store. WAL lets results be read
// while a run is still recording.
var pragmas = []pragma{
	{name: "journal_mode", set: "WAL", report: "wal"},
	{name: "synchronous", set: "NORMAL", report: "1"},
	{name: "busy_timeout", set: "5000", report: "5000"},
	{name: "foreign_keys", set: "ON", report: "1"},
}

// migration upgrades a schema to version.
type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations run in order against stores whose user_version is lower.
// schema.sql always holds the version-0 tables.
var migrations = []migration{
	{
		version: 1,
		name:    "index unmatched events by digest",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_unmatched_events_digest ON unmatched_events(event_digest)`,
		},
	},
}

// currentSchemaVersion is the version a freshly opened store reports.
var currentSchemaVersion = migrations[len(migrations)-1].version

// Store persists statement results, unmatched events and statement
// lifecycle transitions in SQLite.
type Store struct {
	db *sql.DB
}

// Open creates or opens the result store at path, applies the connection
// pragmas and brings the schema up to date. Opening an up-to-date store
// changes nothing.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to result store %s: %w", path, err)
	}

	// One connection: the recorder is the only writer and pragmas are
	// per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.set)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p.name, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying connection pool for ad-hoc queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SchemaVersion reports the store's user_version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) migrate(ctx context.Context) error {
	version, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("result store schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return fmt.Errorf("migrate to v%d (%s): %w", m.version, m.name, err)
		}
		slog.Debug("result store migrated", "version", m.version, "migration", m.name)
	}
	return nil
}

// apply runs one migration and records its version atomically.
func (s *Store) apply(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return err
	}
	return tx.Commit()
}

// verifyPragma checks that a pragma reports the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
