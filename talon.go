// Package talon is the Go binding for the Talon multi-model engine.
//
// A DB owns one root directory holding a SQL store and the KV, time-series,
// message-queue and vector modules. All methods are safe for concurrent use.
// Every failure is a *Error carrying the engine's error kind.
//
//	db, err := talon.Open("/var/lib/app")
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	res, err := db.RunSQL(ctx, "SELECT 1 AS one")
package talon

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/roach88/talon/internal/command"
	"github.com/roach88/talon/internal/engine"
	"github.com/roach88/talon/internal/ir"
	"github.com/roach88/talon/internal/response"
)

// Error kinds reported in Error.Kind.
const (
	KindInvalidHandle   = string(ir.KindInvalidHandle)
	KindPathInvalid     = string(ir.KindPathInvalid)
	KindAlreadyLocked   = string(ir.KindAlreadyLocked)
	KindCorruptState    = string(ir.KindCorruptState)
	KindModuleNotFound  = string(ir.KindModuleNotFound)
	KindActionNotFound  = string(ir.KindActionNotFound)
	KindParseError      = string(ir.KindParseError)
	KindValidationError = string(ir.KindValidationError)
	KindExecutionError  = string(ir.KindExecutionError)
	KindIOError         = string(ir.KindIOError)
)

// Error is returned by every failing call.
type Error struct {
	Kind    string
	Message string
	// Module is empty for failures raised before a module was selected.
	Module string
}

func (e *Error) Error() string {
	if e.Module != "" {
		return fmt.Sprintf("talon: %s: %s (module=%s)", e.Kind, e.Message, e.Module)
	}
	return fmt.Sprintf("talon: %s: %s", e.Kind, e.Message)
}

// Status returns the foreign-boundary status code of the error kind.
func (e *Error) Status() int32 {
	return response.KindStatus(ir.ErrorKind(e.Kind))
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind string) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var e *ir.Error
	if errors.As(err, &e) {
		return &Error{Kind: string(e.Kind), Message: e.Message, Module: e.Module}
	}
	return &Error{Kind: KindExecutionError, Message: err.Error()}
}

// Option configures Open.
type Option = engine.Option

// WithLogger sets the logger. The default logs to stderr per talon.yaml.
func WithLogger(l *slog.Logger) Option { return engine.WithLogger(l) }

// WithDriver selects the SQLite driver: "sqlite3" (cgo) or "sqlite" (pure Go).
func WithDriver(name string) Option { return engine.WithDriver(name) }

// WithClock replaces the wall clock used for TTLs and timestamps.
func WithClock(c clock.Clock) Option { return engine.WithClock(c) }

// DB is an open Talon root.
type DB struct {
	db *engine.DB
}

// Open opens or creates the root directory. A root can be open in only one
// place at a time; a second Open fails with KindAlreadyLocked.
func Open(root string, opts ...Option) (*DB, error) {
	db, err := engine.Open(root, opts...)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &DB{db: db}, nil
}

// Close waits for in-flight calls, checkpoints and releases the root.
// Calls made after Close fail with KindInvalidHandle.
func (d *DB) Close() error {
	return wrapErr(d.db.Close())
}

// ID returns the instance id assigned at Open.
func (d *DB) ID() string { return d.db.ID() }

func (d *DB) exec(ctx context.Context, cmd command.Command) (ir.IRObject, error) {
	out, err := d.db.Execute(ctx, cmd)
	return out, wrapErr(err)
}

// Execute runs a generic JSON command and returns the response envelope.
// The envelope is produced for failures too; err mirrors its error member.
func (d *DB) Execute(ctx context.Context, commandJSON []byte) ([]byte, error) {
	out, err := d.db.ExecuteJSON(ctx, commandJSON)
	return response.Encode(out, err), wrapErr(err)
}

// Persist flushes both stores to their main files.
func (d *DB) Persist(ctx context.Context) error {
	return wrapErr(d.db.Persist(ctx))
}

// Stats returns instance statistics as plain Go values.
func (d *DB) Stats(ctx context.Context) (map[string]any, error) {
	out, err := d.db.Stats(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}
	return ir.ToGo(out).(map[string]any), nil
}

// Result is the outcome of one SQL call. Queries fill Columns and Rows;
// other statements fill RowsAffected and LastInsertID.
type Result struct {
	Columns      []string
	Rows         []map[string]any
	Truncated    bool
	RowsAffected int64
	LastInsertID int64
}

// RunSQL runs one SQL string.
func (d *DB) RunSQL(ctx context.Context, sql string) (*Result, error) {
	return d.RunSQLParams(ctx, sql)
}

// RunSQLParams runs sql with positional args. Args may be nil, bool, string,
// []byte, integers or finite floats.
func (d *DB) RunSQLParams(ctx context.Context, sql string, args ...any) (*Result, error) {
	irArgs := make([]ir.IRValue, len(args))
	for i, a := range args {
		v, err := sqlArg(a)
		if err != nil {
			return nil, &Error{Kind: KindValidationError, Message: fmt.Sprintf("args[%d]: %v", i, err), Module: "sql"}
		}
		irArgs[i] = v
	}
	out, err := d.exec(ctx, command.RunSQL(sql, irArgs...))
	if err != nil {
		return nil, err
	}
	return newResult(out), nil
}

func sqlArg(a any) (ir.IRValue, error) {
	switch v := a.(type) {
	case []byte:
		return ir.IRObject{"blob": ir.IRString(base64.StdEncoding.EncodeToString(v))}, nil
	case int32:
		return ir.IRInt(v), nil
	case uint32:
		return ir.IRInt(v), nil
	default:
		return ir.FromGo(a)
	}
}

func newResult(out ir.IRObject) *Result {
	res := &Result{}
	if cols, ok := out["columns"].(ir.IRArray); ok {
		res.Columns = make([]string, len(cols))
		for i, c := range cols {
			s, _ := c.(ir.IRString)
			res.Columns[i] = string(s)
		}
		rows, _ := out["rows"].(ir.IRArray)
		res.Rows = make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			if m, ok := ir.ToGo(r).(map[string]any); ok {
				res.Rows = append(res.Rows, m)
			}
		}
		truncated, _ := out["truncated"].(ir.IRBool)
		res.Truncated = bool(truncated)
		return res
	}
	n, _ := out["rows_affected"].(ir.IRInt)
	id, _ := out["last_insert_id"].(ir.IRInt)
	res.RowsAffected = int64(n)
	res.LastInsertID = int64(id)
	return res
}
