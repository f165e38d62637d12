package store

import (
	"errors"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
)

// ErrCorrupt marks a store file that exists but cannot be used: not a
// database, damaged pages, or a format written by a newer engine.
var ErrCorrupt = errors.New("store: corrupt or unsupported database")

// Primary SQLite result codes, shared by both drivers.
const (
	sqliteCorrupt = 11
	sqliteNotADB  = 26
)

// IsCorrupt reports whether err was caused by an unreadable database file.
// Both drivers are recognized through their own error types.
func IsCorrupt(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCorrupt) {
		return true
	}

	var cgoErr sqlite3.Error
	if errors.As(err, &cgoErr) {
		return cgoErr.Code == sqlite3.ErrNotADB || cgoErr.Code == sqlite3.ErrCorrupt
	}

	var pureErr *sqlite.Error
	if errors.As(err, &pureErr) {
		code := pureErr.Code() & 0xff
		return code == sqliteNotADB || code == sqliteCorrupt
	}

	msg := err.Error()
	return strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "database disk image is malformed")
}
