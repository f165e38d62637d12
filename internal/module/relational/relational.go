// Package relational implements the sql module on its own SQLite file.
//
// Outside an explicit transaction every command runs in an implicit one, so a
// multi-statement string either fully applies or not at all. begin opens a
// handle-wide transaction that later commands join until commit or rollback.
package relational

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/roach88/talon/internal/ir"
	"github.com/roach88/talon/internal/module"
	"github.com/roach88/talon/internal/store"
)

// Config tunes the adapter.
type Config struct {
	// MaxRows caps the rows returned by one query. Zero means unlimited.
	MaxRows int
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{MaxRows: 10000}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Adapter is the sql module.
type Adapter struct {
	store   *store.Store
	cfg     Config
	logger  *slog.Logger
	actions module.Actions

	// mu serializes commands; the store has a single connection and an open
	// transaction pins it.
	mu sync.Mutex
	tx *sql.Tx
}

// New creates the adapter over s.
func New(s *store.Store, cfg Config, logger *slog.Logger) *Adapter {
	a := &Adapter{
		store:  s,
		cfg:    cfg,
		logger: logger.With("module", module.SQL),
	}
	a.actions = module.Actions{
		"query":    a.query,
		"begin":    a.begin,
		"commit":   a.commit,
		"rollback": a.rollback,
		"tables":   a.tables,
	}
	return a
}

// Name implements module.Adapter.
func (a *Adapter) Name() string { return module.SQL }

// Actions implements module.Adapter.
func (a *Adapter) Actions() []string { return a.actions.Names() }

// Execute implements module.Adapter.
func (a *Adapter) Execute(ctx context.Context, action string, p module.Params) (ir.IRObject, error) {
	return a.actions.Dispatch(ctx, module.SQL, action, p)
}

// Close rolls back an open transaction.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tx == nil {
		return nil
	}
	a.logger.Warn("rolling back open transaction on close")
	err := a.tx.Rollback()
	a.tx = nil
	if err != nil {
		return fmt.Errorf("sql close: rollback: %w", err)
	}
	return nil
}

// InTransaction reports whether an explicit transaction is open.
func (a *Adapter) InTransaction() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tx != nil
}

// Stats implements module.StatsProvider.
func (a *Adapter) Stats(ctx context.Context) (ir.IRObject, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	names, err := a.tableNames(ctx, a.conn())
	if err != nil {
		return nil, err
	}
	return ir.IRObject{
		"tables":         ir.IRInt(len(names)),
		"in_transaction": ir.IRBool(a.tx != nil),
	}, nil
}

// Ping checks sql.db through the connection currently in use.
func (a *Adapter) Ping(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.conn().QueryContext(ctx, "SELECT 1")
	if err != nil {
		return fmt.Errorf("sql ping: %w", err)
	}
	return rows.Close()
}

// Checkpoint truncates the WAL of sql.db. It reports false without touching
// the file while an explicit transaction is open.
func (a *Adapter) Checkpoint(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tx != nil {
		return false, nil
	}
	if err := a.store.Checkpoint(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (a *Adapter) conn() querier {
	if a.tx != nil {
		return a.tx
	}
	return a.store.DB()
}

func invalid(format string, args ...any) error {
	return ir.ModuleErrorf(ir.KindValidationError, module.SQL, format, args...)
}

// execErr classifies a failure reported by SQLite while running user SQL.
func execErr(err error) error {
	if store.IsCorrupt(err) {
		return ir.Wrap(ir.KindCorruptState, module.SQL, err)
	}
	return ir.Wrap(ir.KindExecutionError, module.SQL, err)
}

func (a *Adapter) query(ctx context.Context, p module.Params) (ir.IRObject, error) {
	text, err := p.String("sql")
	if err != nil {
		return nil, err
	}
	st := scan(text)
	if len(st.leading) == 0 {
		return nil, invalid("sql must contain a statement")
	}
	if kw, ok := st.txControl(); ok {
		return nil, invalid("%s is not allowed in sql; use the begin, commit and rollback actions", kw)
	}
	args, err := bindArgs(p)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	run := func(q querier) (ir.IRObject, error) {
		if st.producesRows() {
			return a.queryRows(ctx, q, text, args)
		}
		return execStatement(ctx, q, text, args)
	}

	if a.tx != nil {
		return run(a.tx)
	}

	var out ir.IRObject
	err = a.store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = run(tx)
		return err
	})
	if err != nil {
		return nil, execErr(err)
	}
	return out, nil
}

// bindArgs converts the positional args array into driver values.
func bindArgs(p module.Params) ([]any, error) {
	if !p.Has("args") {
		return nil, nil
	}
	arr, err := p.Array("args")
	if err != nil {
		return nil, err
	}
	args := make([]any, len(arr))
	for i, v := range arr {
		switch x := v.(type) {
		case ir.IRNull:
			args[i] = nil
		case ir.IRString:
			args[i] = string(x)
		case ir.IRInt:
			args[i] = int64(x)
		case ir.IRFloat:
			args[i] = float64(x)
		case ir.IRBool:
			args[i] = bool(x)
		case ir.IRObject:
			b, err := blobArg(x)
			if err != nil {
				return nil, invalid("args[%d]: %v", i, err)
			}
			args[i] = b
		default:
			return nil, invalid("args[%d] must be a scalar, got %s", i, ir.TypeName(v))
		}
	}
	return args, nil
}

// blobArg decodes a {"blob": "<base64>"} argument.
func blobArg(obj ir.IRObject) ([]byte, error) {
	s, ok := obj["blob"].(ir.IRString)
	if !ok || len(obj) != 1 {
		return nil, fmt.Errorf(`object args must be {"blob": "<base64>"}`)
	}
	b, err := base64.StdEncoding.DecodeString(string(s))
	if err != nil {
		return nil, fmt.Errorf("blob: %w", err)
	}
	return b, nil
}

func execStatement(ctx context.Context, q querier, text string, args []any) (ir.IRObject, error) {
	res, err := q.ExecContext(ctx, text, args...)
	if err != nil {
		return nil, execErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, execErr(err)
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		return nil, execErr(err)
	}
	return ir.IRObject{
		"rows_affected":  ir.IRInt(affected),
		"last_insert_id": ir.IRInt(lastID),
	}, nil
}

func (a *Adapter) queryRows(ctx context.Context, q querier, text string, args []any) (ir.IRObject, error) {
	rows, err := q.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, execErr(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, execErr(err)
	}

	out := ir.IRObject{"columns": ir.Strings(cols)}
	result := ir.IRArray{}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if a.cfg.MaxRows > 0 && len(result) == a.cfg.MaxRows {
			out["truncated"] = ir.IRBool(true)
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, execErr(err)
		}
		row := make(ir.IRObject, len(cols))
		for i, col := range cols {
			row[col] = toIR(vals[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, execErr(err)
	}
	out["rows"] = result
	return out, nil
}

// toIR maps a scanned SQLite value. BLOBs become base64 strings.
func toIR(v any) ir.IRValue {
	switch x := v.(type) {
	case nil:
		return ir.IRNull{}
	case int64:
		return ir.IRInt(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return ir.IRNull{}
		}
		return ir.IRFloat(x)
	case string:
		return ir.IRString(x)
	case []byte:
		return ir.IRString(base64.StdEncoding.EncodeToString(x))
	case bool:
		return ir.IRBool(x)
	case time.Time:
		return ir.IRString(x.UTC().Format(time.RFC3339Nano))
	default:
		return ir.IRString(fmt.Sprint(x))
	}
}

func (a *Adapter) begin(ctx context.Context, _ module.Params) (ir.IRObject, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tx != nil {
		return nil, ir.ModuleErrorf(ir.KindExecutionError, module.SQL, "transaction already active")
	}
	// The transaction spans commands, so it must not end with this one's context.
	tx, err := a.store.DB().BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, execErr(err)
	}
	a.tx = tx
	return ir.IRObject{"ok": ir.IRBool(true)}, nil
}

func (a *Adapter) commit(context.Context, module.Params) (ir.IRObject, error) {
	return a.finish("commit", (*sql.Tx).Commit)
}

func (a *Adapter) rollback(context.Context, module.Params) (ir.IRObject, error) {
	return a.finish("rollback", (*sql.Tx).Rollback)
}

func (a *Adapter) finish(op string, end func(*sql.Tx) error) (ir.IRObject, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tx == nil {
		return nil, ir.ModuleErrorf(ir.KindExecutionError, module.SQL, "%s without active transaction", op)
	}
	tx := a.tx
	a.tx = nil
	if err := end(tx); err != nil {
		return nil, execErr(fmt.Errorf("%s: %w", op, err))
	}
	return ir.IRObject{"ok": ir.IRBool(true)}, nil
}

func (a *Adapter) tables(ctx context.Context, _ module.Params) (ir.IRObject, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	names, err := a.tableNames(ctx, a.conn())
	if err != nil {
		return nil, err
	}
	return ir.IRObject{"tables": ir.Strings(names)}, nil
}

func (a *Adapter) tableNames(ctx context.Context, q querier) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, ir.Wrap(ir.KindIOError, module.SQL, fmt.Errorf("sql tables: %w", err))
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, ir.Wrap(ir.KindIOError, module.SQL, fmt.Errorf("sql tables: %w", err))
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, ir.Wrap(ir.KindIOError, module.SQL, fmt.Errorf("sql tables: %w", err))
	}
	return names, nil
}
