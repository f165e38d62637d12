package command

import (
	"math"

	"github.com/roach88/talon/internal/ir"
	"github.com/roach88/talon/internal/module"
)

// Typed constructors. Each builds exactly the Command the generic path
// would parse from the same logical request.

// RunSQL runs one SQL string with optional positional args.
func RunSQL(sql string, args ...ir.IRValue) Command {
	params := ir.IRObject{"sql": ir.IRString(sql)}
	if len(args) > 0 {
		params["args"] = ir.NewIRArray(args...)
	}
	return mustNew(module.SQL, "query", params)
}

// SQLBegin opens an explicit transaction.
func SQLBegin() Command { return mustNew(module.SQL, "begin", nil) }

// SQLCommit commits the explicit transaction.
func SQLCommit() Command { return mustNew(module.SQL, "commit", nil) }

// SQLRollback rolls back the explicit transaction.
func SQLRollback() Command { return mustNew(module.SQL, "rollback", nil) }

func keyParams(key []byte, value []byte, withValue bool) ir.IRObject {
	params := ir.IRObject{}
	fields := map[string][]byte{"key": key}
	if withValue {
		fields["value"] = value
	}
	module.PutBytes(params, fields)
	return params
}

// KVSet stores value under key. ttl is in seconds; 0 means no expiry.
// A ttl beyond the int64 range is clamped.
func KVSet(key, value []byte, ttl uint64) Command {
	params := keyParams(key, value, true)
	params["ttl"] = ir.IRInt(clampUint(ttl))
	return mustNew(module.KV, "set", params)
}

// KVGet reads key.
func KVGet(key []byte) Command {
	return mustNew(module.KV, "get", keyParams(key, nil, false))
}

// KVDelete removes key.
func KVDelete(key []byte) Command {
	return mustNew(module.KV, "delete", keyParams(key, nil, false))
}

// KVIncrBy adds delta to the integer stored under key.
func KVIncrBy(key []byte, delta int64) Command {
	params := keyParams(key, nil, false)
	params["delta"] = ir.IRInt(delta)
	return mustNew(module.KV, "incrby", params)
}

// KVSetNX stores value only when key is absent.
func KVSetNX(key, value []byte, ttl uint64) Command {
	params := keyParams(key, value, true)
	params["ttl"] = ir.IRInt(clampUint(ttl))
	return mustNew(module.KV, "setnx", params)
}

// vectorID rejects ids that do not fit the signed 64-bit id column.
func vectorID(id uint64) (ir.IRInt, error) {
	if id > math.MaxInt64 {
		return 0, ir.ModuleErrorf(ir.KindValidationError, module.Vector,
			"id must be in [0, 2^63), got %d", id)
	}
	return ir.IRInt(id), nil
}

// VectorInsert upserts one embedding. Ids must be in [0, 2^63).
func VectorInsert(collection string, id uint64, embedding []float32) (Command, error) {
	vid, err := vectorID(id)
	if err != nil {
		return Command{}, err
	}
	return New(module.Vector, "insert", ir.IRObject{
		"collection": ir.IRString(collection),
		"id":         vid,
		"embedding":  ir.Floats(embedding),
	})
}

// VectorSearch returns the k best matches for embedding under metric.
func VectorSearch(collection string, embedding []float32, k int, metric string) (Command, error) {
	return New(module.Vector, "search", ir.IRObject{
		"collection": ir.IRString(collection),
		"embedding":  ir.Floats(embedding),
		"k":          ir.IRInt(k),
		"metric":     ir.IRString(metric),
	})
}

// VectorDelete removes one embedding. Ids must be in [0, 2^63).
func VectorDelete(collection string, id uint64) (Command, error) {
	vid, err := vectorID(id)
	if err != nil {
		return Command{}, err
	}
	return mustNew(module.Vector, "delete", ir.IRObject{
		"collection": ir.IRString(collection),
		"id":         vid,
	}), nil
}

// VectorCount counts a collection's embeddings.
func VectorCount(collection string) Command {
	return mustNew(module.Vector, "count", ir.IRObject{"collection": ir.IRString(collection)})
}

// TSAppend writes one point. Tags may be nil.
func TSAppend(series string, timestamp int64, value float64, tags map[string]string) (Command, error) {
	params := ir.IRObject{
		"series":    ir.IRString(series),
		"timestamp": ir.IRInt(timestamp),
		"value":     ir.IRFloat(value),
	}
	if len(tags) > 0 {
		obj := make(ir.IRObject, len(tags))
		for k, v := range tags {
			obj[k] = ir.IRString(v)
		}
		params["tags"] = obj
	}
	return New(module.TimeSeries, "append", params)
}

// TSQuery reads the inclusive window [from, to] in timestamp order.
func TSQuery(series string, from, to int64) Command {
	return mustNew(module.TimeSeries, "query", ir.IRObject{
		"series": ir.IRString(series),
		"from":   ir.IRInt(from),
		"to":     ir.IRInt(to),
	})
}

// MQProduce appends payload to topic.
func MQProduce(topic string, payload []byte) Command {
	params := ir.IRObject{"topic": ir.IRString(topic)}
	module.PutBytes(params, map[string][]byte{"payload": payload})
	return mustNew(module.MQ, "produce", params)
}

// MQConsume reads up to limit messages from offset. limit 0 reads all.
func MQConsume(topic string, offset, limit int64) Command {
	return mustNew(module.MQ, "consume", ir.IRObject{
		"topic":  ir.IRString(topic),
		"offset": ir.IRInt(offset),
		"limit":  ir.IRInt(limit),
	})
}

func clampUint(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
