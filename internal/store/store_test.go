package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func openData(t *testing.T, path string, opts ...Option) *Store {
	t.Helper()
	s, err := Open(path, append([]Option{WithSchema(DataSchema())}, opts...)...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	openData(t, path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")

	s1, err := Open(path, WithSchema(DataSchema()))
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	if _, err := s1.db.Exec(`INSERT INTO kv_entries (key, value, updated_at) VALUES (x'01', x'02', 0)`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	s1.Close()

	s2 := openData(t, path)
	var count int
	if err := s2.db.QueryRow("SELECT COUNT(*) FROM kv_entries").Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path, WithSchema(DataSchema()))
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s := openData(t, path)
	tables := []string{"talon_meta", "kv_entries", "ts_points", "mq_topics", "mq_messages", "vec_collections", "vec_embeddings"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_UnmanagedHasNoTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sql.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table'").Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 0 {
		t.Errorf("unmanaged store has %d tables, want 0", count)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "x.db"), WithDriver("postgres"))
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpen_PureGoDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	s := openData(t, path, WithDriver(DriverPureGo))

	if s.Driver() != DriverPureGo {
		t.Errorf("Driver() = %q, want %q", s.Driver(), DriverPureGo)
	}
	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestOpen_NotADatabaseIsCorrupt(t *testing.T) {
	for _, driver := range []string{DriverCGO, DriverPureGo} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "data.db")
			garbage := make([]byte, 4096)
			for i := range garbage {
				garbage[i] = 0xAB
			}
			if err := os.WriteFile(path, garbage, 0o644); err != nil {
				t.Fatal(err)
			}

			_, err := Open(path, WithDriver(driver), WithSchema(DataSchema()))
			if err == nil {
				t.Fatal("expected error opening garbage file")
			}
			if !IsCorrupt(err) {
				t.Errorf("IsCorrupt(%v) = false, want true", err)
			}
		})
	}
}

func TestOpen_NewerFormatIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	s, err := Open(path, WithSchema(DataSchema()))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE talon_meta SET value = '99' WHERE key = 'format_version'`); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	s.Close()

	_, err = Open(path, WithSchema(DataSchema()))
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestIsCorrupt_Nil(t *testing.T) {
	if IsCorrupt(nil) {
		t.Error("IsCorrupt(nil) = true")
	}
	if IsCorrupt(errors.New("disk full")) {
		t.Error("IsCorrupt on unrelated error = true")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestWithTx_CommitAndRollback(t *testing.T) {
	s := openData(t, filepath.Join(t.TempDir(), "data.db"))
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO mq_topics (name, created_at) VALUES ('a', 0)`)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO mq_topics (name, created_at) VALUES ('b', 0)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx error = %v, want boom", err)
	}

	var count int
	if err := s.QueryRow(ctx, "SELECT COUNT(*) FROM mq_topics").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("topics = %d, want 1 (rollback must discard 'b')", count)
	}
}

func TestCheckpoint_TruncatesWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	s := openData(t, path)
	ctx := context.Background()

	if _, err := s.Exec(ctx, `INSERT INTO kv_entries (key, value, updated_at) VALUES (x'01', x'02', 0)`); err != nil {
		t.Fatal(err)
	}
	if err := s.Checkpoint(ctx); err != nil {
		t.Fatalf("Checkpoint() failed: %v", err)
	}

	info, err := os.Stat(path + "-wal")
	if err == nil && info.Size() != 0 {
		t.Errorf("wal size after TRUNCATE checkpoint = %d, want 0", info.Size())
	}
}

func TestSizeBytes(t *testing.T) {
	s := openData(t, filepath.Join(t.TempDir(), "data.db"))
	size, err := s.SizeBytes(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if size <= 0 {
		t.Errorf("SizeBytes() = %d, want > 0", size)
	}
}

// Pragma tests

func TestPragma_JournalMode(t *testing.T) {
	s := openData(t, filepath.Join(t.TempDir(), "data.db"))
	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	s := openData(t, filepath.Join(t.TempDir(), "data.db"))
	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}

	full := openData(t, filepath.Join(t.TempDir(), "full.db"), WithSynchronous("full"))
	// FULL = 2
	if err := full.verifyPragma("synchronous", "2"); err != nil {
		t.Error(err)
	}
}

func TestPragma_InvalidSynchronous(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "x.db"), WithSynchronous("sometimes"))
	if err == nil {
		t.Fatal("expected error for invalid synchronous level")
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := openData(t, filepath.Join(t.TempDir(), "data.db"), WithBusyTimeout(1234))
	if err := s.verifyPragma("busy_timeout", "1234"); err != nil {
		t.Error(err)
	}
}

func TestPragma_ForeignKeys(t *testing.T) {
	s := openData(t, filepath.Join(t.TempDir(), "data.db"))
	// ON = 1
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
}

// Constraint tests

func TestConstraint_MessagesRequireTopic(t *testing.T) {
	s := openData(t, filepath.Join(t.TempDir(), "data.db"))
	_, err := s.db.Exec(`INSERT INTO mq_messages (topic, seq, payload, size, created_at) VALUES ('ghost', 0, x'00', 1, 0)`)
	if err == nil {
		t.Error("expected foreign key violation for unknown topic")
	}
}

func TestConstraint_VectorIDNonNegative(t *testing.T) {
	s := openData(t, filepath.Join(t.TempDir(), "data.db"))
	if _, err := s.db.Exec(`INSERT INTO vec_collections (name, dimension, created_at) VALUES ('c', 2, 0)`); err != nil {
		t.Fatal(err)
	}
	_, err := s.db.Exec(`INSERT INTO vec_embeddings (collection, id, embedding) VALUES ('c', -1, x'00')`)
	if err == nil {
		t.Error("expected CHECK violation for negative id")
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := openData(t, filepath.Join(t.TempDir(), "data.db"))

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	// Apply schema but NOT migrations (simulates pre-migration state)
	if _, err := db.Exec(DataSchema()); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	s := openData(t, path)

	indexes := getTableIndexes(t, s.db, "kv_entries")
	if !contains(indexes, "idx_kv_expires") {
		t.Errorf("expected idx_kv_expires after migration, got indexes: %v", indexes)
	}

	var raw string
	if err := s.db.QueryRow(`SELECT value FROM talon_meta WHERE key='format_version'`).Scan(&raw); err != nil {
		t.Fatalf("format_version missing: %v", err)
	}
	if raw != "1" {
		t.Errorf("format_version = %q, want \"1\"", raw)
	}
}

func TestMigration_NewerSchemaRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	s, err := Open(path, WithSchema(DataSchema()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 42"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	_, err = Open(path, WithSchema(DataSchema()))
	if !IsCorrupt(err) {
		t.Fatalf("expected corrupt error, got %v", err)
	}
}

// Helper functions

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
