// Package store provides the SQLite files behind a Talon storage root.
//
// A root holds two stores:
//   - data.db: shared by the kv, timeseries, mq and vector modules
//     (managed schema, see schema.sql)
//   - sql.db: owned by the relational module, holds only user tables
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous: NORMAL by default, configurable
//   - busy_timeout: 5000ms by default, configurable
//   - foreign_keys=ON: Enforce referential integrity
//   - one connection per file: SQLite allows a single writer
//
// Two drivers are supported: github.com/mattn/go-sqlite3 (cgo, default) and
// modernc.org/sqlite (pure Go). Both produce identical files.
//
// The root itself is claimed with LockRoot, which combines an in-process
// registry with flock(2) on <root>/LOCK.
package store
