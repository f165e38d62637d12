package talon

import (
	"context"

	"github.com/roach88/talon/internal/command"
	"github.com/roach88/talon/internal/ir"
	"github.com/roach88/talon/internal/module"
)

// KV is the key-value module. Keys and values are arbitrary bytes.
type KV struct{ d *DB }

// KV returns the key-value module.
func (d *DB) KV() KV { return KV{d: d} }

// Set stores value under key. ttlSecs 0 means no expiry.
func (kv KV) Set(ctx context.Context, key, value []byte, ttlSecs uint64) error {
	_, err := kv.d.exec(ctx, command.KVSet(key, value, ttlSecs))
	return err
}

// Get returns the value under key. found is false for missing or expired keys.
func (kv KV) Get(ctx context.Context, key []byte) (value []byte, found bool, err error) {
	out, err := kv.d.exec(ctx, command.KVGet(key))
	if err != nil {
		return nil, false, err
	}
	if ok, _ := out["found"].(ir.IRBool); !ok {
		return nil, false, nil
	}
	value, err = module.NewParams(module.KV, out).Bytes("value")
	if err != nil {
		return nil, false, wrapErr(err)
	}
	return value, true, nil
}

// Del removes key and reports whether it existed.
func (kv KV) Del(ctx context.Context, key []byte) (bool, error) {
	out, err := kv.d.exec(ctx, command.KVDelete(key))
	if err != nil {
		return false, err
	}
	deleted, _ := out["deleted"].(ir.IRBool)
	return bool(deleted), nil
}

// IncrBy adds delta to the decimal integer under key, treating a missing
// key as 0, and returns the result.
func (kv KV) IncrBy(ctx context.Context, key []byte, delta int64) (int64, error) {
	out, err := kv.d.exec(ctx, command.KVIncrBy(key, delta))
	if err != nil {
		return 0, err
	}
	v, _ := out["value"].(ir.IRInt)
	return int64(v), nil
}

// SetNX stores value only when key is absent and reports whether it did.
func (kv KV) SetNX(ctx context.Context, key, value []byte, ttlSecs uint64) (bool, error) {
	out, err := kv.d.exec(ctx, command.KVSetNX(key, value, ttlSecs))
	if err != nil {
		return false, err
	}
	set, _ := out["set"].(ir.IRBool)
	return bool(set), nil
}

// Hit is one vector search match.
type Hit struct {
	ID    uint64
	Score float64
}

// Vector is one named vector collection.
type Vector struct {
	d    *DB
	name string
}

// Vector returns the collection name. It is created on first insert.
func (d *DB) Vector(name string) Vector { return Vector{d: d, name: name} }

// Insert upserts the embedding for id.
func (v Vector) Insert(ctx context.Context, id uint64, embedding []float32) error {
	cmd, err := command.VectorInsert(v.name, id, embedding)
	if err != nil {
		return wrapErr(err)
	}
	_, err = v.d.exec(ctx, cmd)
	return err
}

// Search returns at most k hits, best first. metric is "cosine", "l2" or
// "dot"; empty means cosine.
func (v Vector) Search(ctx context.Context, query []float32, k int, metric string) ([]Hit, error) {
	if metric == "" {
		metric = "cosine"
	}
	cmd, err := command.VectorSearch(v.name, query, k, metric)
	if err != nil {
		return nil, wrapErr(err)
	}
	out, err := v.d.exec(ctx, cmd)
	if err != nil {
		return nil, err
	}
	arr, _ := out["hits"].(ir.IRArray)
	hits := make([]Hit, 0, len(arr))
	for _, h := range arr {
		obj, _ := h.(ir.IRObject)
		id, _ := obj["id"].(ir.IRInt)
		score, _ := obj["score"].(ir.IRFloat)
		hits = append(hits, Hit{ID: uint64(id), Score: float64(score)})
	}
	return hits, nil
}

// Delete removes id and reports whether it existed.
func (v Vector) Delete(ctx context.Context, id uint64) (bool, error) {
	cmd, err := command.VectorDelete(v.name, id)
	if err != nil {
		return false, wrapErr(err)
	}
	out, err := v.d.exec(ctx, cmd)
	if err != nil {
		return false, err
	}
	deleted, _ := out["deleted"].(ir.IRBool)
	return bool(deleted), nil
}

// Count returns the number of embeddings in the collection.
func (v Vector) Count(ctx context.Context) (int64, error) {
	out, err := v.d.exec(ctx, command.VectorCount(v.name))
	if err != nil {
		return 0, err
	}
	n, _ := out["count"].(ir.IRInt)
	return int64(n), nil
}

// Point is one time-series sample.
type Point struct {
	Timestamp int64
	Value     float64
	Tags      map[string]string
}

// TimeSeries is one named series.
type TimeSeries struct {
	d    *DB
	name string
}

// TimeSeries returns the series name.
func (d *DB) TimeSeries(name string) TimeSeries { return TimeSeries{d: d, name: name} }

// Append writes one point. A second write at the same timestamp replaces it.
func (ts TimeSeries) Append(ctx context.Context, p Point) error {
	cmd, err := command.TSAppend(ts.name, p.Timestamp, p.Value, p.Tags)
	if err != nil {
		return wrapErr(err)
	}
	_, err = ts.d.exec(ctx, cmd)
	return err
}

// Query returns the points in [from, to] in timestamp order.
func (ts TimeSeries) Query(ctx context.Context, from, to int64) ([]Point, error) {
	out, err := ts.d.exec(ctx, command.TSQuery(ts.name, from, to))
	if err != nil {
		return nil, err
	}
	arr, _ := out["points"].(ir.IRArray)
	points := make([]Point, 0, len(arr))
	for _, v := range arr {
		obj, _ := v.(ir.IRObject)
		points = append(points, newPoint(obj))
	}
	return points, nil
}

// Latest returns the newest point. found is false for an empty series.
func (ts TimeSeries) Latest(ctx context.Context) (p Point, found bool, err error) {
	cmd, err := command.New(module.TimeSeries, "latest", ir.IRObject{"series": ir.IRString(ts.name)})
	if err != nil {
		return Point{}, false, wrapErr(err)
	}
	out, err := ts.d.exec(ctx, cmd)
	if err != nil {
		return Point{}, false, err
	}
	if ok, _ := out["found"].(ir.IRBool); !ok {
		return Point{}, false, nil
	}
	obj, _ := out["point"].(ir.IRObject)
	return newPoint(obj), true, nil
}

func newPoint(obj ir.IRObject) Point {
	tsv, _ := obj["timestamp"].(ir.IRInt)
	p := Point{Timestamp: int64(tsv)}
	switch v := obj["value"].(type) {
	case ir.IRFloat:
		p.Value = float64(v)
	case ir.IRInt:
		p.Value = float64(v)
	}
	if tags, ok := obj["tags"].(ir.IRObject); ok {
		p.Tags = make(map[string]string, len(tags))
		for k, v := range tags {
			s, _ := v.(ir.IRString)
			p.Tags[k] = string(s)
		}
	}
	return p
}

// Message is one queue message.
type Message struct {
	Offset    int64
	Timestamp int64
	Payload   []byte
}

// Queue is one named message topic.
type Queue struct {
	d     *DB
	topic string
}

// Queue returns the topic name.
func (d *DB) Queue(topic string) Queue { return Queue{d: d, topic: topic} }

// Produce appends payload and returns its offset. Offsets start at 0.
func (q Queue) Produce(ctx context.Context, payload []byte) (int64, error) {
	out, err := q.d.exec(ctx, command.MQProduce(q.topic, payload))
	if err != nil {
		return 0, err
	}
	off, _ := out["offset"].(ir.IRInt)
	return int64(off), nil
}

// Consume reads up to limit messages starting at offset; limit 0 reads all.
// It returns the offset to resume from.
func (q Queue) Consume(ctx context.Context, offset, limit int64) ([]Message, int64, error) {
	out, err := q.d.exec(ctx, command.MQConsume(q.topic, offset, limit))
	if err != nil {
		return nil, 0, err
	}
	arr, _ := out["messages"].(ir.IRArray)
	msgs := make([]Message, 0, len(arr))
	for _, v := range arr {
		obj, _ := v.(ir.IRObject)
		payload, err := module.NewParams(module.MQ, obj).Bytes("payload")
		if err != nil {
			return nil, 0, wrapErr(err)
		}
		off, _ := obj["offset"].(ir.IRInt)
		created, _ := obj["timestamp"].(ir.IRInt)
		msgs = append(msgs, Message{Offset: int64(off), Timestamp: int64(created), Payload: payload})
	}
	next, _ := out["next_offset"].(ir.IRInt)
	return msgs, int64(next), nil
}
