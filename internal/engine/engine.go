package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/roach88/talon/internal/command"
	"github.com/roach88/talon/internal/config"
	"github.com/roach88/talon/internal/ir"
	"github.com/roach88/talon/internal/metrics"
	"github.com/roach88/talon/internal/module"
	"github.com/roach88/talon/internal/module/kv"
	"github.com/roach88/talon/internal/module/mq"
	"github.com/roach88/talon/internal/module/relational"
	"github.com/roach88/talon/internal/module/timeseries"
	"github.com/roach88/talon/internal/module/vector"
	"github.com/roach88/talon/internal/store"
)

// Store file names inside a root.
const (
	DataFileName = "data.db"
	SQLFileName  = "sql.db"
)

// DB is one opened storage root.
//
// Thread-safety model:
//   - Execute, ExecuteJSON, Persist, Stats, Health: safe from any goroutine
//   - Close: safe from any goroutine; only the first call does work
type DB struct {
	id     string
	root   string
	cfg    config.Config
	logger *slog.Logger
	clock  clock.Clock
	ids    IDGenerator
	seq    *Sequence

	lock    *store.RootLock
	data    *store.Store
	sqlDB   *store.Store
	sql     *relational.Adapter
	router  *command.Router
	metrics *metrics.Metrics

	guard guard
}

// Open locks root, opens its stores and builds the module adapters.
//
// Errors:
//   - PathInvalid: empty path, NUL byte, or an existing non-directory
//   - IOError: root cannot be created or a store cannot be opened
//   - AlreadyLocked: root is held by another DB, in this process or another
//   - CorruptState: a store is not a database or was written by a newer format
//   - ValidationError: talon.yaml fails the config schema
func Open(root string, opts ...Option) (*DB, error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	if err := checkRoot(root); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, ir.Wrap(ir.KindIOError, "", fmt.Errorf("create root: %w", err))
	}

	lock, err := store.LockRoot(root)
	if err != nil {
		if errors.Is(err, store.ErrLocked) {
			return nil, ir.Wrap(ir.KindAlreadyLocked, "", err)
		}
		return nil, ir.Wrap(ir.KindIOError, "", err)
	}

	db, err := open(lock, s)
	if err != nil {
		lock.Release()
		return nil, err
	}
	return db, nil
}

func checkRoot(root string) error {
	if root == "" {
		return ir.Errorf(ir.KindPathInvalid, "empty path")
	}
	if strings.IndexByte(root, 0) >= 0 {
		return ir.Errorf(ir.KindPathInvalid, "path contains NUL byte")
	}
	info, err := os.Stat(root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return ir.Wrap(ir.KindIOError, "", fmt.Errorf("stat root: %w", err))
	case !info.IsDir():
		return ir.Errorf(ir.KindPathInvalid, "%s is not a directory", root)
	}
	return nil
}

// open builds the instance once the root is locked. On failure everything it
// opened is closed again; the caller releases the lock.
func open(lock *store.RootLock, s settings) (_ *DB, err error) {
	root := lock.Root()

	var cfg config.Config
	if s.cfg != nil {
		cfg = *s.cfg
	} else if cfg, err = config.Load(root); err != nil {
		var cerr *config.Error
		if errors.As(err, &cerr) {
			return nil, ir.Wrap(ir.KindValidationError, "", err)
		}
		return nil, ir.Wrap(ir.KindIOError, "", err)
	}
	if s.driver != "" {
		cfg.Storage.Driver = s.driver
	}

	db := &DB{
		root:  root,
		cfg:   cfg,
		clock: s.clock,
		ids:   s.ids,
		seq:   NewSequence(),
		lock:  lock,
	}
	if db.clock == nil {
		db.clock = clock.New()
	}
	if db.ids == nil {
		db.ids = UUIDv7Generator{}
	}
	db.id = db.ids.Generate()

	logger := s.logger
	if logger == nil {
		logger = cfg.Log.NewLogger(os.Stderr)
	}
	db.logger = logger.With("db_id", db.id, "root", root)
	db.metrics = metrics.New(prometheus.Labels{"db_id": db.id})

	var cleanup []func() error
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				cleanup[i]()
			}
		}
	}()

	storeOpts := []store.Option{
		store.WithDriver(cfg.Storage.Driver),
		store.WithSynchronous(cfg.Storage.Synchronous),
		store.WithBusyTimeout(cfg.Storage.BusyTimeoutMS),
	}

	db.data, err = openStore(filepath.Join(root, DataFileName), append(storeOpts, store.WithSchema(store.DataSchema()))...)
	if err != nil {
		return nil, err
	}
	cleanup = append(cleanup, db.data.Close)

	db.sqlDB, err = openStore(filepath.Join(root, SQLFileName), storeOpts...)
	if err != nil {
		return nil, err
	}
	cleanup = append(cleanup, db.sqlDB.Close)

	kvAdapter := kv.New(db.data, db.clock, kv.Config{
		ReapInterval: cfg.KV.ReapInterval,
		ReapBatch:    cfg.KV.ReapBatch,
		LockStripes:  cfg.KV.LockStripes,
	}, db.logger)
	cleanup = append(cleanup, kvAdapter.Close)

	mqAdapter, err := mq.New(db.data, db.clock, mq.Config{
		CompressThreshold: cfg.MQ.CompressThreshold,
		LockStripes:       cfg.KV.LockStripes,
	}, db.logger)
	if err != nil {
		return nil, ir.Wrap(ir.KindIOError, module.MQ, err)
	}
	cleanup = append(cleanup, mqAdapter.Close)

	db.sql = relational.New(db.sqlDB, relational.Config{MaxRows: cfg.SQL.MaxRows}, db.logger)
	adapters := []module.Adapter{
		db.sql,
		kvAdapter,
		timeseries.New(db.data, db.clock, cfg.KV.LockStripes, db.logger),
		mqAdapter,
		vector.New(db.data, db.clock, vector.Config{MaxDimension: cfg.Vector.MaxDimension}, db.logger),
	}

	db.router, err = command.NewRouter(db.logger, adapters...)
	if err != nil {
		return nil, ir.Wrap(ir.KindExecutionError, "", err)
	}

	db.logger.Info("database opened", "driver", cfg.Storage.Driver)
	return db, nil
}

func openStore(path string, opts ...store.Option) (*store.Store, error) {
	s, err := store.Open(path, opts...)
	if err != nil {
		if store.IsCorrupt(err) {
			return nil, ir.Wrap(ir.KindCorruptState, "", fmt.Errorf("%s: %w", filepath.Base(path), err))
		}
		return nil, ir.Wrap(ir.KindIOError, "", fmt.Errorf("%s: %w", filepath.Base(path), err))
	}
	return s, nil
}

// ID returns the instance id (a UUIDv7 unless WithIDGenerator was given).
func (db *DB) ID() string { return db.id }

// Root returns the resolved absolute root path.
func (db *DB) Root() string { return db.root }

// Config returns the effective settings.
func (db *DB) Config() config.Config { return db.cfg }

// Metrics returns the instance collectors.
func (db *DB) Metrics() *metrics.Metrics { return db.metrics }

func closedErr() error {
	return ir.Errorf(ir.KindInvalidHandle, "database is closed")
}

// Execute runs one command. After Close has begun it fails with
// InvalidHandle without touching any module.
func (db *DB) Execute(ctx context.Context, cmd command.Command) (ir.IRObject, error) {
	if !db.guard.enter() {
		db.metrics.Rejected()
		return nil, closedErr()
	}
	defer db.guard.leave()

	seq := db.seq.Next()
	requestID := db.ids.Generate()
	done := db.metrics.Begin(cmd.Module(), cmd.Action())
	start := time.Now()

	out, err := db.router.Dispatch(ctx, cmd)
	elapsed := time.Since(start)
	done(err, elapsed)

	if err != nil {
		db.logger.Warn("command failed",
			"module", cmd.Module(),
			"action", cmd.Action(),
			"seq", seq,
			"request_id", requestID,
			"kind", ir.KindOf(err),
			"error", err)
		return nil, err
	}
	db.logger.Debug("command executed",
		"module", cmd.Module(),
		"action", cmd.Action(),
		"seq", seq,
		"request_id", requestID,
		"duration", elapsed)
	return out, nil
}

// ExecuteJSON parses raw as a generic command and runs it.
func (db *DB) ExecuteJSON(ctx context.Context, raw []byte) (ir.IRObject, error) {
	if db.guard.isClosed() {
		db.metrics.Rejected()
		return nil, closedErr()
	}
	cmd, err := command.Parse(raw)
	if err != nil {
		return nil, err
	}
	return db.Execute(ctx, cmd)
}

// Persist checkpoints both stores without closing them. sql.db is skipped
// while an explicit transaction is open.
func (db *DB) Persist(ctx context.Context) error {
	if !db.guard.enter() {
		return closedErr()
	}
	defer db.guard.leave()
	return db.checkpoint(ctx)
}

func (db *DB) checkpoint(ctx context.Context) error {
	err := db.data.Checkpoint(ctx)
	done, serr := db.sql.Checkpoint(ctx)
	err = multierr.Append(err, serr)
	if err != nil {
		return ir.Wrap(ir.KindIOError, "", err)
	}
	if !done {
		db.logger.Debug("sql.db checkpoint skipped: transaction open")
	}
	return nil
}

// Stats reports the instance id, root, per-module counters and command
// totals.
func (db *DB) Stats(ctx context.Context) (ir.IRObject, error) {
	if !db.guard.enter() {
		return nil, closedErr()
	}
	defer db.guard.leave()

	modules := ir.IRObject{}
	for _, name := range module.Names {
		a, _ := db.router.Adapter(name)
		sp, ok := a.(module.StatsProvider)
		if !ok {
			continue
		}
		st, err := sp.Stats(ctx)
		if err != nil {
			return nil, ir.Wrap(ir.KindIOError, name, err)
		}
		modules[name] = st
	}

	commands, err := db.metrics.Snapshot()
	if err != nil {
		return nil, ir.Wrap(ir.KindExecutionError, "", err)
	}
	dataBytes, err := db.data.SizeBytes(ctx)
	if err != nil {
		return nil, ir.Wrap(ir.KindIOError, "", err)
	}

	return ir.IRObject{
		"db_id":      ir.IRString(db.id),
		"root":       ir.IRString(db.root),
		"driver":     ir.IRString(db.cfg.Storage.Driver),
		"data_bytes": ir.IRInt(dataBytes),
		"seq":        ir.IRInt(db.seq.Current()),
		"modules":    modules,
		"commands":   commands,
	}, nil
}

// Health pings both stores.
func (db *DB) Health(ctx context.Context) (ir.IRObject, error) {
	if !db.guard.enter() {
		return nil, closedErr()
	}
	defer db.guard.leave()

	if err := multierr.Append(db.data.Ping(ctx), db.sql.Ping(ctx)); err != nil {
		return nil, ir.Wrap(ir.KindIOError, "", err)
	}
	return ir.IRObject{"status": ir.IRString("ok")}, nil
}

// Close shuts the admission gate, waits for admitted commands, then releases
// every resource in order: adapters, WAL checkpoint, stores, root lock.
// A second Close fails with InvalidHandle.
func (db *DB) Close() error {
	if !db.guard.close() {
		return closedErr()
	}

	ctx := context.Background()
	var err error
	if cerr := db.router.Close(); cerr != nil {
		err = multierr.Append(err, cerr)
	}
	if cerr := db.checkpoint(ctx); cerr != nil {
		err = multierr.Append(err, cerr)
	}
	if cerr := db.sqlDB.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close %s: %w", SQLFileName, cerr))
	}
	if cerr := db.data.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("close %s: %w", DataFileName, cerr))
	}
	if cerr := db.lock.Release(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("release lock: %w", cerr))
	}

	if err != nil {
		db.logger.Warn("database closed with errors", "error", err)
		return ir.Wrap(ir.KindIOError, "", err)
	}
	db.logger.Info("database closed")
	return nil
}
