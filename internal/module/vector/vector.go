// Package vector implements the vector module: named collections of
// fixed-dimension float32 embeddings with exact (flat) top-k search.
//
// Each collection is loaded into memory on first use and kept in sync with
// SQLite on every write.
package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/talon/internal/ir"
	"github.com/roach88/talon/internal/module"
	"github.com/roach88/talon/internal/store"
)

// Config tunes the adapter.
type Config struct {
	// MaxDimension caps the embedding length a collection may use.
	MaxDimension int
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{MaxDimension: 4096}
}

type collection struct {
	mu   sync.RWMutex
	dim  int
	vecs map[int64][]float32
}

// Adapter is the vector module.
type Adapter struct {
	store   *store.Store
	clock   clock.Clock
	cfg     Config
	logger  *slog.Logger
	actions module.Actions

	mu     sync.RWMutex
	cols   map[string]*collection
	loads  singleflight.Group
	create sync.Mutex
}

// New creates the adapter.
func New(s *store.Store, clk clock.Clock, cfg Config, logger *slog.Logger) *Adapter {
	a := &Adapter{
		store:  s,
		clock:  clk,
		cfg:    cfg,
		logger: logger.With("module", module.Vector),
		cols:   make(map[string]*collection),
	}
	a.actions = module.Actions{
		"insert":      a.insert,
		"search":      a.search,
		"delete":      a.delete,
		"count":       a.count,
		"collections": a.collections,
	}
	return a
}

// Name implements module.Adapter.
func (a *Adapter) Name() string { return module.Vector }

// Actions implements module.Adapter.
func (a *Adapter) Actions() []string { return a.actions.Names() }

// Execute implements module.Adapter.
func (a *Adapter) Execute(ctx context.Context, action string, p module.Params) (ir.IRObject, error) {
	return a.actions.Dispatch(ctx, module.Vector, action, p)
}

// Close drops the in-memory indexes.
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.cols = make(map[string]*collection)
	a.mu.Unlock()
	return nil
}

// Stats implements module.StatsProvider.
func (a *Adapter) Stats(ctx context.Context) (ir.IRObject, error) {
	var cols, vecs int64
	err := a.store.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM vec_collections), (SELECT COUNT(*) FROM vec_embeddings)`,
	).Scan(&cols, &vecs)
	if err != nil {
		return nil, ioErr("stats", err)
	}

	a.mu.RLock()
	loaded := len(a.cols)
	a.mu.RUnlock()

	return ir.IRObject{
		"collections": ir.IRInt(cols),
		"vectors":     ir.IRInt(vecs),
		"loaded":      ir.IRInt(loaded),
	}, nil
}

func ioErr(op string, err error) error {
	return ir.Wrap(ir.KindIOError, module.Vector, fmt.Errorf("vector %s: %w", op, err))
}

func invalid(format string, args ...any) error {
	return ir.ModuleErrorf(ir.KindValidationError, module.Vector, format, args...)
}

// collectionParam reads "collection", accepting "index" as a synonym.
func collectionParam(p module.Params) (string, error) {
	key := "collection"
	if !p.Has(key) && p.Has("index") {
		key = "index"
	}
	name, err := p.String(key)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", invalid("collection must not be empty")
	}
	return name, nil
}

func idParam(p module.Params) (int64, error) {
	id, err := p.Int("id")
	if err != nil {
		return 0, err
	}
	if id < 0 {
		return 0, invalid("id must be >= 0, got %d", id)
	}
	return id, nil
}

// lookup returns the named collection, loading it from the store on first
// use. It returns nil when the collection does not exist.
func (a *Adapter) lookup(ctx context.Context, name string) (*collection, error) {
	a.mu.RLock()
	c := a.cols[name]
	a.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	v, err, _ := a.loads.Do(name, func() (any, error) {
		c, err := a.load(ctx, name)
		if err != nil || c == nil {
			return c, err
		}
		return a.adopt(name, c), nil
	})
	if err != nil {
		return nil, err
	}
	c, _ = v.(*collection)
	return c, nil
}

// adopt caches c unless another goroutine already cached one, in which case
// the cached collection wins.
func (a *Adapter) adopt(name string, c *collection) *collection {
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing := a.cols[name]; existing != nil {
		return existing
	}
	a.cols[name] = c
	return c
}

func (a *Adapter) load(ctx context.Context, name string) (*collection, error) {
	var dim int
	err := a.store.QueryRow(ctx, `SELECT dimension FROM vec_collections WHERE name = ?`, name).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, ioErr("load", err)
	}

	rows, err := a.store.Query(ctx, `SELECT id, embedding FROM vec_embeddings WHERE collection = ?`, name)
	if err != nil {
		return nil, ioErr("load", err)
	}
	defer rows.Close()

	c := &collection{dim: dim, vecs: make(map[int64][]float32)}
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, ioErr("load", err)
		}
		vec, err := decodeEmbedding(blob, dim)
		if err != nil {
			return nil, ir.Wrap(ir.KindCorruptState, module.Vector,
				fmt.Errorf("vector load %s/%d: %w", name, id, err))
		}
		c.vecs[id] = vec
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("load", err)
	}

	a.logger.Debug("vector collection loaded", "collection", name, "dimension", dim, "vectors", len(c.vecs))
	return c, nil
}

// ensure returns the named collection, creating it with dim when absent.
func (a *Adapter) ensure(ctx context.Context, name string, dim int) (*collection, error) {
	c, err := a.lookup(ctx, name)
	if err != nil || c != nil {
		return c, err
	}

	a.create.Lock()
	defer a.create.Unlock()

	if c, err = a.lookup(ctx, name); err != nil || c != nil {
		return c, err
	}
	_, err = a.store.Exec(ctx,
		`INSERT INTO vec_collections (name, dimension, created_at) VALUES (?, ?, ?)`,
		name, dim, a.clock.Now().UnixMilli(),
	)
	if err != nil {
		return nil, ioErr("create collection", err)
	}
	return a.adopt(name, &collection{dim: dim, vecs: make(map[int64][]float32)}), nil
}

func (a *Adapter) insert(ctx context.Context, p module.Params) (ir.IRObject, error) {
	name, err := collectionParam(p)
	if err != nil {
		return nil, err
	}
	id, err := idParam(p)
	if err != nil {
		return nil, err
	}
	vec, err := p.Floats("embedding")
	if err != nil {
		return nil, err
	}
	if a.cfg.MaxDimension > 0 && len(vec) > a.cfg.MaxDimension {
		return nil, invalid("embedding dimension %d exceeds maximum %d", len(vec), a.cfg.MaxDimension)
	}

	c, err := a.ensure(ctx, name, len(vec))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(vec) != c.dim {
		return nil, invalid("collection %q has dimension %d, got %d", name, c.dim, len(vec))
	}
	_, err = a.store.Exec(ctx, `
		INSERT INTO vec_embeddings (collection, id, embedding) VALUES (?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET embedding = excluded.embedding
	`, name, id, encodeEmbedding(vec))
	if err != nil {
		return nil, ioErr("insert", err)
	}
	c.vecs[id] = vec

	return ir.IRObject{"ok": ir.IRBool(true)}, nil
}

func (a *Adapter) search(ctx context.Context, p module.Params) (ir.IRObject, error) {
	name, err := collectionParam(p)
	if err != nil {
		return nil, err
	}
	query, err := p.Floats("embedding")
	if err != nil {
		return nil, err
	}
	k, err := p.Int("k")
	if err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, invalid("k must be >= 1, got %d", k)
	}
	metricName, err := p.OptString("metric", "cosine")
	if err != nil {
		return nil, err
	}
	metric, err := ParseMetric(metricName)
	if err != nil {
		return nil, invalid("%v", err)
	}

	c, err := a.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return ir.IRObject{"hits": ir.IRArray{}}, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(query) != c.dim {
		return nil, invalid("collection %q has dimension %d, got %d", name, c.dim, len(query))
	}

	n := min(k, int64(len(c.vecs)))
	if n == 0 {
		return ir.IRObject{"hits": ir.IRArray{}}, nil
	}
	top := newTopK(metric, int(n))
	for id, vec := range c.vecs {
		top.offer(Hit{ID: id, Score: metric.Score(query, vec)})
	}

	hits := top.sorted()
	arr := make(ir.IRArray, len(hits))
	for i, h := range hits {
		arr[i] = ir.IRObject{"id": ir.IRInt(h.ID), "score": ir.IRFloat(h.Score)}
	}
	return ir.IRObject{"hits": arr}, nil
}

func (a *Adapter) delete(ctx context.Context, p module.Params) (ir.IRObject, error) {
	name, err := collectionParam(p)
	if err != nil {
		return nil, err
	}
	id, err := idParam(p)
	if err != nil {
		return nil, err
	}

	c, err := a.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return ir.IRObject{"deleted": ir.IRBool(false)}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := a.store.Exec(ctx, `DELETE FROM vec_embeddings WHERE collection = ? AND id = ?`, name, id)
	if err != nil {
		return nil, ioErr("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, ioErr("delete", err)
	}
	delete(c.vecs, id)
	return ir.IRObject{"deleted": ir.IRBool(n > 0)}, nil
}

func (a *Adapter) count(ctx context.Context, p module.Params) (ir.IRObject, error) {
	name, err := collectionParam(p)
	if err != nil {
		return nil, err
	}
	c, err := a.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return ir.IRObject{"count": ir.IRInt(0)}, nil
	}

	c.mu.RLock()
	n := len(c.vecs)
	c.mu.RUnlock()
	return ir.IRObject{"count": ir.IRInt(n)}, nil
}

func (a *Adapter) collections(ctx context.Context, _ module.Params) (ir.IRObject, error) {
	rows, err := a.store.Query(ctx, `
		SELECT c.name, c.dimension, COUNT(e.id)
		FROM vec_collections c LEFT JOIN vec_embeddings e ON e.collection = c.name
		GROUP BY c.name, c.dimension
		ORDER BY c.name
	`)
	if err != nil {
		return nil, ioErr("collections", err)
	}
	defer rows.Close()

	type entry struct {
		name     string
		dim, cnt int64
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.name, &e.dim, &e.cnt); err != nil {
			return nil, ioErr("collections", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("collections", err)
	}

	arr := make(ir.IRArray, len(entries))
	for i, e := range entries {
		arr[i] = ir.IRObject{
			"name":      ir.IRString(e.name),
			"dimension": ir.IRInt(e.dim),
			"count":     ir.IRInt(e.cnt),
		}
	}
	return ir.IRObject{"collections": arr}, nil
}

