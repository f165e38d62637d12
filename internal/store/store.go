package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/roach88/talon/internal/ir"
)

//go:embed schema.sql
var dataSchemaSQL string

// DataSchema is the schema of the shared module store (data.db).
// The relational module's sql.db is opened without a schema.
func DataSchema() string {
	return dataSchemaSQL
}

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Partial index on kv_entries.expires_at, format_version stamp
const currentSchemaVersion = 1

// Driver names registered with database/sql.
const (
	// DriverCGO is github.com/mattn/go-sqlite3.
	DriverCGO = "sqlite3"

	// DriverPureGo is modernc.org/sqlite.
	DriverPureGo = "sqlite"
)

// Options controls how a store file is opened.
type Options struct {
	// Driver is the database/sql driver name (DriverCGO or DriverPureGo).
	Driver string

	// Synchronous is the PRAGMA synchronous level (OFF, NORMAL, FULL, EXTRA).
	Synchronous string

	// BusyTimeoutMS is the PRAGMA busy_timeout in milliseconds.
	BusyTimeoutMS int

	// Schema is executed after the pragmas. Empty means an unmanaged file:
	// no schema, no migrations, no format stamp.
	Schema string
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Driver:        DriverCGO,
		Synchronous:   "NORMAL",
		BusyTimeoutMS: 5000,
	}
}

// Option mutates Options.
type Option func(*Options)

// WithDriver selects the database/sql driver.
func WithDriver(name string) Option {
	return func(o *Options) { o.Driver = name }
}

// WithSynchronous sets the PRAGMA synchronous level.
func WithSynchronous(level string) Option {
	return func(o *Options) { o.Synchronous = level }
}

// WithBusyTimeout sets the PRAGMA busy_timeout in milliseconds.
func WithBusyTimeout(ms int) Option {
	return func(o *Options) { o.BusyTimeoutMS = ms }
}

// WithSchema applies schema, migrations and the format stamp on open.
func WithSchema(schema string) Option {
	return func(o *Options) { o.Schema = schema }
}

// Store is one SQLite file with a single connection.
// SQLite only supports one writer at a time, so every caller is serialized
// through that connection.
type Store struct {
	db   *sql.DB
	path string
	opts Options
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and, for managed files, schema and migrations.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - configurable synchronous mode (default NORMAL)
//   - configurable busy timeout (default 5 seconds)
//   - Foreign key enforcement
//
// Errors caused by a file that is not a valid database satisfy IsCorrupt.
func Open(path string, opts ...Option) (*Store, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Driver != DriverCGO && o.Driver != DriverPureGo {
		return nil, fmt.Errorf("unknown sqlite driver %q", o.Driver)
	}

	db, err := sql.Open(o.Driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1) // Single writer to avoid SQLITE_BUSY errors
	db.SetMaxIdleConns(1) // Keep one connection ready

	if err := applyPragmas(db, o); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if o.Schema != "" {
		if err := applySchema(db, o.Schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
		if err := checkFormatVersion(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Store{db: db, path: path, opts: o}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Callers must not hold a transaction from WithTx while using it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the file path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Driver returns the database/sql driver in use.
func (s *Store) Driver() string {
	return s.opts.Driver
}

// Query executes a query and returns the resulting rows.
// Callers are responsible for closing the returned rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// QueryRow executes a query that returns at most one row.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// Exec executes a statement outside any explicit transaction.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Checkpoint copies the WAL into the main database file and truncates it.
func (s *Store) Checkpoint(ctx context.Context) error {
	var busy, logFrames, checkpointed int
	err := s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	if busy != 0 {
		return fmt.Errorf("wal checkpoint: database busy (%d of %d frames copied)", checkpointed, logFrames)
	}
	return nil
}

// SizeBytes returns page_count * page_size.
func (s *Store) SizeBytes(ctx context.Context) (int64, error) {
	var pages, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return 0, fmt.Errorf("page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("page_size: %w", err)
	}
	return pages * pageSize, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB, o Options) error {
	sync := strings.ToUpper(o.Synchronous)
	switch sync {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		return fmt.Errorf("invalid synchronous level %q", o.Synchronous)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = " + sync,
		fmt.Sprintf("PRAGMA busy_timeout = %d", o.BusyTimeoutMS),
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB, schema string) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("%w: schema version %d is newer than supported %d",
			ErrCorrupt, version, currentSchemaVersion)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the partial expiry index used by the KV reaper and stamps
// the format version for files created before talon_meta existed.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_kv_expires
		ON kv_entries(expires_at) WHERE expires_at IS NOT NULL
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	_, err = db.Exec(
		`INSERT OR IGNORE INTO talon_meta (key, value) VALUES ('format_version', ?)`,
		fmt.Sprintf("%d", ir.FormatVersion),
	)
	if err != nil {
		return fmt.Errorf("migrate to v1: stamp format: %w", err)
	}
	return nil
}

// checkFormatVersion refuses roots written by a newer engine.
func checkFormatVersion(db *sql.DB) error {
	var raw string
	err := db.QueryRow(`SELECT value FROM talon_meta WHERE key = 'format_version'`).Scan(&raw)
	if err == sql.ErrNoRows {
		_, err = db.Exec(
			`INSERT INTO talon_meta (key, value) VALUES ('format_version', ?)`,
			fmt.Sprintf("%d", ir.FormatVersion),
		)
		if err != nil {
			return fmt.Errorf("stamp format version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read format version: %w", err)
	}

	var version int
	if _, err := fmt.Sscanf(raw, "%d", &version); err != nil {
		return fmt.Errorf("%w: unreadable format version %q", ErrCorrupt, raw)
	}
	if version > ir.FormatVersion {
		return fmt.Errorf("%w: format version %d is newer than supported %d",
			ErrCorrupt, version, ir.FormatVersion)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
