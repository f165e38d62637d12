// Package timeseries implements the time-series module: numeric points keyed
// by (series, timestamp) with optional string tags.
//
// A second write at the same (series, timestamp) replaces the first.
package timeseries

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"

	"github.com/benbjohnson/clock"

	"github.com/roach88/talon/internal/ir"
	"github.com/roach88/talon/internal/module"
	"github.com/roach88/talon/internal/store"
)

// Aggregate functions accepted by the aggregate action.
var aggregates = map[string]string{
	"avg":   "AVG(value)",
	"min":   "MIN(value)",
	"max":   "MAX(value)",
	"sum":   "SUM(value)",
	"count": "COUNT(*)",
}

// Adapter is the timeseries module.
type Adapter struct {
	store   *store.Store
	clock   clock.Clock
	logger  *slog.Logger
	locks   *module.KeyedMutex
	actions module.Actions
}

// New creates the adapter.
func New(s *store.Store, clk clock.Clock, stripes int, logger *slog.Logger) *Adapter {
	a := &Adapter{
		store:  s,
		clock:  clk,
		logger: logger.With("module", module.TimeSeries),
		locks:  module.NewKeyedMutex(stripes),
	}
	a.actions = module.Actions{
		"append":    a.append,
		"query":     a.query,
		"latest":    a.latest,
		"aggregate": a.aggregate,
		"series":    a.listSeries,
	}
	return a
}

// Name implements module.Adapter.
func (a *Adapter) Name() string { return module.TimeSeries }

// Actions implements module.Adapter.
func (a *Adapter) Actions() []string { return a.actions.Names() }

// Execute implements module.Adapter.
func (a *Adapter) Execute(ctx context.Context, action string, p module.Params) (ir.IRObject, error) {
	return a.actions.Dispatch(ctx, module.TimeSeries, action, p)
}

// Close implements module.Adapter. The adapter holds no resources of its own.
func (a *Adapter) Close() error { return nil }

// Stats implements module.StatsProvider.
func (a *Adapter) Stats(ctx context.Context) (ir.IRObject, error) {
	var series, points int64
	err := a.store.QueryRow(ctx, `SELECT COUNT(DISTINCT series), COUNT(*) FROM ts_points`).Scan(&series, &points)
	if err != nil {
		return nil, ioErr("stats", err)
	}
	return ir.IRObject{"series": ir.IRInt(series), "points": ir.IRInt(points)}, nil
}

func ioErr(op string, err error) error {
	return ir.Wrap(ir.KindIOError, module.TimeSeries, fmt.Errorf("timeseries %s: %w", op, err))
}

func invalid(format string, args ...any) error {
	return ir.ModuleErrorf(ir.KindValidationError, module.TimeSeries, format, args...)
}

// Point is one stored sample.
type Point struct {
	Timestamp int64
	Value     float64
	Tags      ir.IRObject
}

func (pt Point) toIR() ir.IRObject {
	obj := ir.IRObject{
		"timestamp": ir.IRInt(pt.Timestamp),
		"value":     ir.IRFloat(pt.Value),
	}
	if len(pt.Tags) > 0 {
		obj["tags"] = pt.Tags
	}
	return obj
}

func seriesParam(p module.Params) (string, error) {
	name, err := p.String("series")
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", invalid("series must not be empty")
	}
	return name, nil
}

// decodePoint reads timestamp/value/tags from one params object.
// A missing timestamp defaults to the clock's current unix milliseconds.
func (a *Adapter) decodePoint(p module.Params) (Point, error) {
	ts, err := p.OptInt("timestamp", a.clock.Now().UnixMilli())
	if err != nil {
		return Point{}, err
	}
	value, err := p.Float("value")
	if err != nil {
		return Point{}, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Point{}, invalid("value must be finite")
	}
	tags, _, err := p.Object("tags")
	if err != nil {
		return Point{}, err
	}
	for k, v := range tags {
		if _, ok := v.(ir.IRString); !ok {
			return Point{}, invalid("tag %q must be a string, got %s", k, ir.TypeName(v))
		}
	}
	return Point{Timestamp: ts, Value: value, Tags: tags}, nil
}

func (a *Adapter) append(ctx context.Context, p module.Params) (ir.IRObject, error) {
	series, err := seriesParam(p)
	if err != nil {
		return nil, err
	}

	var points []Point
	if p.Has("points") {
		arr, err := p.Array("points")
		if err != nil {
			return nil, err
		}
		if len(arr) == 0 {
			return nil, invalid("points must not be empty")
		}
		for i, elem := range arr {
			obj, ok := elem.(ir.IRObject)
			if !ok {
				return nil, invalid("points[%d] must be an object, got %s", i, ir.TypeName(elem))
			}
			pt, err := a.decodePoint(module.NewParams(module.TimeSeries, obj))
			if err != nil {
				return nil, err
			}
			points = append(points, pt)
		}
	} else {
		pt, err := a.decodePoint(p)
		if err != nil {
			return nil, err
		}
		points = []Point{pt}
	}

	unlock := a.locks.LockString(series)
	defer unlock()

	err = a.store.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO ts_points (series, ts, value, tags) VALUES (?, ?, ?, ?)
			ON CONFLICT(series, ts) DO UPDATE SET value = excluded.value, tags = excluded.tags
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, pt := range points {
			tags, err := encodeTags(pt.Tags)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, series, pt.Timestamp, pt.Value, tags); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, ioErr("append", err)
	}
	return ir.IRObject{"written": ir.IRInt(len(points))}, nil
}

// window reads the inclusive [from, to] bounds.
func window(p module.Params) (from, to int64, err error) {
	from, err = p.OptInt("from", math.MinInt64)
	if err != nil {
		return 0, 0, err
	}
	to, err = p.OptInt("to", math.MaxInt64)
	if err != nil {
		return 0, 0, err
	}
	if from > to {
		return 0, 0, invalid("from (%d) must be <= to (%d)", from, to)
	}
	return from, to, nil
}

func (a *Adapter) query(ctx context.Context, p module.Params) (ir.IRObject, error) {
	series, err := seriesParam(p)
	if err != nil {
		return nil, err
	}
	from, to, err := window(p)
	if err != nil {
		return nil, err
	}
	limit, err := p.OptInt("limit", 0)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, invalid("limit must be >= 0, got %d", limit)
	}
	order, err := p.OptString("order", "asc")
	if err != nil {
		return nil, err
	}
	var dir string
	switch order {
	case "asc":
		dir = "ASC"
	case "desc":
		dir = "DESC"
	default:
		return nil, invalid("order must be asc or desc, got %q", order)
	}

	unlock := a.locks.RLockString(series)
	defer unlock()

	q := `SELECT ts, value, tags FROM ts_points WHERE series = ? AND ts >= ? AND ts <= ? ORDER BY ts ` + dir
	args := []any{series, from, to}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	points, err := a.scanPoints(ctx, q, args...)
	if err != nil {
		return nil, ioErr("query", err)
	}

	arr := make(ir.IRArray, len(points))
	for i, pt := range points {
		arr[i] = pt.toIR()
	}
	return ir.IRObject{"series": ir.IRString(series), "points": arr}, nil
}

func (a *Adapter) scanPoints(ctx context.Context, q string, args ...any) ([]Point, error) {
	rows, err := a.store.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var pt Point
		var tags sql.NullString
		if err := rows.Scan(&pt.Timestamp, &pt.Value, &tags); err != nil {
			return nil, err
		}
		if tags.Valid {
			pt.Tags, err = decodeTags(tags.String)
			if err != nil {
				return nil, err
			}
		}
		points = append(points, pt)
	}
	return points, rows.Err()
}

func (a *Adapter) latest(ctx context.Context, p module.Params) (ir.IRObject, error) {
	series, err := seriesParam(p)
	if err != nil {
		return nil, err
	}

	unlock := a.locks.RLockString(series)
	defer unlock()

	points, err := a.scanPoints(ctx,
		`SELECT ts, value, tags FROM ts_points WHERE series = ? ORDER BY ts DESC LIMIT 1`, series)
	if err != nil {
		return nil, ioErr("latest", err)
	}
	if len(points) == 0 {
		return ir.IRObject{"series": ir.IRString(series), "found": ir.IRBool(false)}, nil
	}
	return ir.IRObject{
		"series": ir.IRString(series),
		"found":  ir.IRBool(true),
		"point":  points[0].toIR(),
	}, nil
}

func (a *Adapter) aggregate(ctx context.Context, p module.Params) (ir.IRObject, error) {
	series, err := seriesParam(p)
	if err != nil {
		return nil, err
	}
	fn, err := p.String("fn")
	if err != nil {
		return nil, err
	}
	expr, ok := aggregates[fn]
	if !ok {
		return nil, invalid("fn must be one of avg, min, max, sum, count; got %q", fn)
	}
	from, to, err := window(p)
	if err != nil {
		return nil, err
	}

	unlock := a.locks.RLockString(series)
	defer unlock()

	var value sql.NullFloat64
	var count int64
	err = a.store.QueryRow(ctx,
		`SELECT `+expr+`, COUNT(*) FROM ts_points WHERE series = ? AND ts >= ? AND ts <= ?`,
		series, from, to,
	).Scan(&value, &count)
	if err != nil {
		return nil, ioErr("aggregate", err)
	}

	out := ir.IRObject{
		"series": ir.IRString(series),
		"fn":     ir.IRString(fn),
		"count":  ir.IRInt(count),
	}
	switch {
	case fn == "count":
		out["value"] = ir.IRInt(count)
	case !value.Valid:
		out["value"] = ir.IRNull{}
	default:
		out["value"] = ir.IRFloat(value.Float64)
	}
	return out, nil
}

func (a *Adapter) listSeries(ctx context.Context, _ module.Params) (ir.IRObject, error) {
	rows, err := a.store.Query(ctx, `SELECT DISTINCT series FROM ts_points ORDER BY series`)
	if err != nil {
		return nil, ioErr("series", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, ioErr("series", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("series", err)
	}
	return ir.IRObject{"series": ir.Strings(names)}, nil
}

func encodeTags(tags ir.IRObject) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	b, err := ir.MarshalCanonical(tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(s string) (ir.IRObject, error) {
	v, err := ir.UnmarshalIRValue([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("decode tags: expected object, got %s", ir.TypeName(v))
	}
	return obj, nil
}
