// Package kv implements the key-value module on the shared data store.
//
// Keys and values are arbitrary byte strings. Entries may carry a TTL; an
// entry whose expiry has passed is invisible to every action immediately and
// is physically removed later by the reaper goroutine.
package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/roach88/talon/internal/ir"
	"github.com/roach88/talon/internal/module"
	"github.com/roach88/talon/internal/store"
)

// TTL sentinels returned by the ttl action.
const (
	TTLNoExpiry = -1
	TTLMissing  = -2
)

// Config tunes the adapter.
type Config struct {
	// ReapInterval is how often expired rows are deleted. Zero disables the reaper.
	ReapInterval time.Duration

	// ReapBatch caps rows deleted per reaper pass.
	ReapBatch int

	// LockStripes is the number of per-key lock stripes.
	LockStripes int
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		ReapInterval: time.Second,
		ReapBatch:    512,
		LockStripes:  module.DefaultStripes,
	}
}

// Adapter is the kv module.
type Adapter struct {
	store   *store.Store
	clock   clock.Clock
	cfg     Config
	logger  *slog.Logger
	locks   *module.KeyedMutex
	actions module.Actions

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates the adapter and starts its reaper.
func New(s *store.Store, clk clock.Clock, cfg Config, logger *slog.Logger) *Adapter {
	if cfg.ReapBatch < 1 {
		cfg.ReapBatch = DefaultConfig().ReapBatch
	}
	a := &Adapter{
		store:  s,
		clock:  clk,
		cfg:    cfg,
		logger: logger.With("module", module.KV),
		locks:  module.NewKeyedMutex(cfg.LockStripes),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	a.actions = module.Actions{
		"set":    a.set,
		"get":    a.get,
		"delete": a.delete,
		"incrby": a.incrBy,
		"setnx":  a.setNX,
		"exists": a.exists,
		"ttl":    a.ttl,
		"keys":   a.keys,
	}

	if cfg.ReapInterval > 0 {
		// The ticker is created before New returns so clock advances made
		// right after construction are never missed.
		go a.reapLoop(clk.Ticker(cfg.ReapInterval))
	} else {
		close(a.done)
	}
	return a
}

// Name implements module.Adapter.
func (a *Adapter) Name() string { return module.KV }

// Actions implements module.Adapter.
func (a *Adapter) Actions() []string { return a.actions.Names() }

// Execute implements module.Adapter.
func (a *Adapter) Execute(ctx context.Context, action string, p module.Params) (ir.IRObject, error) {
	return a.actions.Dispatch(ctx, module.KV, action, p)
}

// Close stops the reaper and waits for it to exit.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		close(a.stop)
		<-a.done
	})
	return nil
}

// Stats implements module.StatsProvider.
func (a *Adapter) Stats(ctx context.Context) (ir.IRObject, error) {
	var live int64
	err := a.store.QueryRow(ctx,
		`SELECT COUNT(*) FROM kv_entries WHERE expires_at IS NULL OR expires_at > ?`,
		a.nowMS(),
	).Scan(&live)
	if err != nil {
		return nil, ioErr("stats", err)
	}
	return ir.IRObject{"keys": ir.IRInt(live)}, nil
}

func (a *Adapter) nowMS() int64 {
	return a.clock.Now().UnixMilli()
}

func ioErr(op string, err error) error {
	return ir.Wrap(ir.KindIOError, module.KV, fmt.Errorf("kv %s: %w", op, err))
}

func keyParam(p module.Params) ([]byte, error) {
	key, err := p.Bytes("key")
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, ir.ModuleErrorf(ir.KindValidationError, module.KV, "key must not be empty")
	}
	return key, nil
}

// expiresAt converts a ttl param (seconds) into an absolute expiry.
// A nil result means no expiry.
func (a *Adapter) expiresAt(p module.Params) (*int64, error) {
	ttl, err := p.OptInt("ttl", 0)
	if err != nil {
		return nil, err
	}
	if ttl < 0 {
		return nil, ir.ModuleErrorf(ir.KindValidationError, module.KV, "ttl must be >= 0, got %d", ttl)
	}
	if ttl == 0 {
		return nil, nil
	}
	if ttl > math.MaxInt64/1000-a.nowMS()/1000 {
		return nil, ir.ModuleErrorf(ir.KindValidationError, module.KV, "ttl %d is out of range", ttl)
	}
	at := a.nowMS() + ttl*1000
	return &at, nil
}

func (a *Adapter) set(ctx context.Context, p module.Params) (ir.IRObject, error) {
	key, err := keyParam(p)
	if err != nil {
		return nil, err
	}
	value, err := p.Bytes("value")
	if err != nil {
		return nil, err
	}
	exp, err := a.expiresAt(p)
	if err != nil {
		return nil, err
	}

	unlock := a.locks.Lock(key)
	defer unlock()

	if err := a.put(ctx, a.store.DB(), key, value, exp); err != nil {
		return nil, ioErr("set", err)
	}
	return ir.IRObject{"ok": ir.IRBool(true)}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (a *Adapter) put(ctx context.Context, db execer, key, value []byte, exp *int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, key, nonNil(value), exp, a.nowMS())
	return err
}

// nonNil keeps empty values from binding as SQL NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// lookup returns the live value and expiry for key.
func (a *Adapter) lookup(ctx context.Context, db execer, key []byte) (value []byte, exp sql.NullInt64, found bool, err error) {
	err = db.QueryRowContext(ctx, `
		SELECT value, expires_at FROM kv_entries
		WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)
	`, key, a.nowMS()).Scan(&value, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, exp, false, nil
	}
	if err != nil {
		return nil, exp, false, err
	}
	return value, exp, true, nil
}

func (a *Adapter) get(ctx context.Context, p module.Params) (ir.IRObject, error) {
	key, err := keyParam(p)
	if err != nil {
		return nil, err
	}

	unlock := a.locks.RLock(key)
	defer unlock()

	value, _, found, err := a.lookup(ctx, a.store.DB(), key)
	if err != nil {
		return nil, ioErr("get", err)
	}
	if !found {
		return ir.IRObject{"found": ir.IRBool(false)}, nil
	}
	out := ir.IRObject{"found": ir.IRBool(true)}
	module.PutBytes(out, map[string][]byte{"value": value})
	return out, nil
}

func (a *Adapter) delete(ctx context.Context, p module.Params) (ir.IRObject, error) {
	key, err := keyParam(p)
	if err != nil {
		return nil, err
	}

	unlock := a.locks.Lock(key)
	defer unlock()

	var deleted bool
	err = a.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, _, found, err := a.lookup(ctx, tx, key)
		if err != nil {
			return err
		}
		deleted = found
		_, err = tx.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key)
		return err
	})
	if err != nil {
		return nil, ioErr("delete", err)
	}
	return ir.IRObject{"deleted": ir.IRBool(deleted)}, nil
}

func (a *Adapter) incrBy(ctx context.Context, p module.Params) (ir.IRObject, error) {
	key, err := keyParam(p)
	if err != nil {
		return nil, err
	}
	delta, err := p.OptInt("delta", 1)
	if err != nil {
		return nil, err
	}

	unlock := a.locks.Lock(key)
	defer unlock()

	var result int64
	err = a.store.WithTx(ctx, func(tx *sql.Tx) error {
		raw, exp, found, err := a.lookup(ctx, tx, key)
		if err != nil {
			return err
		}

		var current int64
		var expiry *int64
		if found {
			current, err = strconv.ParseInt(string(raw), 10, 64)
			if err != nil {
				return ir.ModuleErrorf(ir.KindExecutionError, module.KV, "value at key is not an integer")
			}
			if exp.Valid {
				expiry = &exp.Int64
			}
		}

		if (delta > 0 && current > math.MaxInt64-delta) || (delta < 0 && current < math.MinInt64-delta) {
			return ir.ModuleErrorf(ir.KindExecutionError, module.KV, "increment would overflow")
		}
		result = current + delta
		return a.put(ctx, tx, key, []byte(strconv.FormatInt(result, 10)), expiry)
	})
	if err != nil {
		return nil, ioErr("incrby", err)
	}
	return ir.IRObject{"value": ir.IRInt(result)}, nil
}

func (a *Adapter) setNX(ctx context.Context, p module.Params) (ir.IRObject, error) {
	key, err := keyParam(p)
	if err != nil {
		return nil, err
	}
	value, err := p.Bytes("value")
	if err != nil {
		return nil, err
	}
	exp, err := a.expiresAt(p)
	if err != nil {
		return nil, err
	}

	unlock := a.locks.Lock(key)
	defer unlock()

	var wrote bool
	err = a.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, _, found, err := a.lookup(ctx, tx, key)
		if err != nil || found {
			return err
		}
		wrote = true
		return a.put(ctx, tx, key, value, exp)
	})
	if err != nil {
		return nil, ioErr("setnx", err)
	}
	return ir.IRObject{"set": ir.IRBool(wrote)}, nil
}

func (a *Adapter) exists(ctx context.Context, p module.Params) (ir.IRObject, error) {
	key, err := keyParam(p)
	if err != nil {
		return nil, err
	}

	unlock := a.locks.RLock(key)
	defer unlock()

	_, _, found, err := a.lookup(ctx, a.store.DB(), key)
	if err != nil {
		return nil, ioErr("exists", err)
	}
	return ir.IRObject{"exists": ir.IRBool(found)}, nil
}

func (a *Adapter) ttl(ctx context.Context, p module.Params) (ir.IRObject, error) {
	key, err := keyParam(p)
	if err != nil {
		return nil, err
	}

	unlock := a.locks.RLock(key)
	defer unlock()

	_, exp, found, err := a.lookup(ctx, a.store.DB(), key)
	if err != nil {
		return nil, ioErr("ttl", err)
	}
	switch {
	case !found:
		return ir.IRObject{"ttl": ir.IRInt(TTLMissing)}, nil
	case !exp.Valid:
		return ir.IRObject{"ttl": ir.IRInt(TTLNoExpiry)}, nil
	}
	remainingMS := exp.Int64 - a.nowMS()
	secs := (remainingMS + 999) / 1000
	return ir.IRObject{"ttl": ir.IRInt(secs)}, nil
}

func (a *Adapter) keys(ctx context.Context, p module.Params) (ir.IRObject, error) {
	var prefix []byte
	if p.Has("prefix") {
		b, err := p.Bytes("prefix")
		if err != nil {
			return nil, err
		}
		prefix = b
	}
	limit, err := p.OptInt("limit", 0)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, ir.ModuleErrorf(ir.KindValidationError, module.KV, "limit must be >= 0, got %d", limit)
	}

	query := `SELECT key FROM kv_entries WHERE (expires_at IS NULL OR expires_at > ?) AND key >= ?`
	args := []any{a.nowMS(), nonNil(prefix)}
	if upper := prefixUpperBound(prefix); upper != nil {
		query += ` AND key < ?`
		args = append(args, upper)
	}
	query += ` ORDER BY key`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := a.store.Query(ctx, query, args...)
	if err != nil {
		return nil, ioErr("keys", err)
	}
	defer rows.Close()

	var keys [][]byte
	for rows.Next() {
		var k []byte
		if err := rows.Scan(&k); err != nil {
			return nil, ioErr("keys", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("keys", err)
	}

	return encodeKeyList(keys), nil
}

// prefixUpperBound returns the smallest byte string greater than every
// string with the given prefix, or nil when no such bound exists.
func prefixUpperBound(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] < 0xff {
			upper := make([]byte, i+1)
			copy(upper, prefix[:i+1])
			upper[i]++
			return upper
		}
	}
	return nil
}
