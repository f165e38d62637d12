// Package boundary implements the foreign call surface over Go values.
//
// Every call returns a status code (0 ok, negative per error kind). Calls
// that return JSON always produce a response envelope, even on failure.
// cmd/libtalon wraps these calls with cgo exports and copies results into
// C-owned buffers.
package boundary

import (
	"context"
	"math"

	"github.com/roach88/talon/internal/command"
	"github.com/roach88/talon/internal/engine"
	"github.com/roach88/talon/internal/handle"
	"github.com/roach88/talon/internal/ir"
	"github.com/roach88/talon/internal/module"
	"github.com/roach88/talon/internal/response"
	"github.com/roach88/talon/internal/tlv"
)

// Boundary owns the process-wide handle table.
type Boundary struct {
	handles *handle.Manager
	buffers *Ledger
}

// New creates a Boundary whose databases are opened with opts.
func New(opts ...engine.Option) *Boundary {
	return &Boundary{
		handles: handle.NewManager(opts...),
		buffers: NewLedger(),
	}
}

// Buffers returns the ledger of C buffers handed out by the exports.
func (b *Boundary) Buffers() *Ledger { return b.buffers }

// Shutdown closes every open handle.
func (b *Boundary) Shutdown() error { return b.handles.CloseAll() }

func (b *Boundary) exec(h uint64, cmd command.Command) (ir.IRObject, error) {
	return b.handles.Execute(context.Background(), handle.Handle(h), cmd)
}

func envelope(out ir.IRObject, err error) ([]byte, int32) {
	return response.Encode(out, err), response.Status(err)
}

// Open opens path. The handle is 0 when the status is not 0.
func (b *Boundary) Open(path string) (uint64, int32) {
	h, err := b.handles.Open(path)
	if err != nil {
		return 0, response.Status(err)
	}
	return uint64(h), response.StatusOK
}

// Close closes h. A second close reports InvalidHandle.
func (b *Boundary) Close(h uint64) int32 {
	return response.Status(b.handles.Close(handle.Handle(h)))
}

// RunSQL runs one SQL string and returns the response envelope.
func (b *Boundary) RunSQL(h uint64, sql string) ([]byte, int32) {
	return envelope(b.exec(h, command.RunSQL(sql)))
}

// Execute runs a generic JSON command and returns the response envelope.
func (b *Boundary) Execute(h uint64, raw []byte) ([]byte, int32) {
	return envelope(b.handles.ExecuteJSON(context.Background(), handle.Handle(h), raw))
}

// Persist checkpoints h.
func (b *Boundary) Persist(h uint64) int32 {
	return response.Status(b.handles.Persist(context.Background(), handle.Handle(h)))
}

// Stats returns the response envelope of the instance statistics of h.
func (b *Boundary) Stats(h uint64) ([]byte, int32) {
	return envelope(b.handles.Stats(context.Background(), handle.Handle(h)))
}

// Health returns the response envelope of a store ping on h.
func (b *Boundary) Health(h uint64) ([]byte, int32) {
	return envelope(b.handles.Health(context.Background(), handle.Handle(h)))
}

func ttlSecs(ttl int64) (uint64, error) {
	if ttl < 0 {
		return 0, ir.ModuleErrorf(ir.KindValidationError, module.KV, "ttl must be >= 0, got %d", ttl)
	}
	return uint64(ttl), nil
}

// KVSet stores value under key. ttl is in seconds; 0 means no expiry.
func (b *Boundary) KVSet(h uint64, key, value []byte, ttl int64) int32 {
	secs, err := ttlSecs(ttl)
	if err != nil {
		return response.Status(err)
	}
	_, err = b.exec(h, command.KVSet(key, value, secs))
	return response.Status(err)
}

// KVGet reads key. found is false, with status 0, for a missing key.
func (b *Boundary) KVGet(h uint64, key []byte) (value []byte, found bool, status int32) {
	out, err := b.exec(h, command.KVGet(key))
	if err != nil {
		return nil, false, response.Status(err)
	}
	if ok, _ := out["found"].(ir.IRBool); !ok {
		return nil, false, response.StatusOK
	}
	value, err = module.NewParams(module.KV, out).Bytes("value")
	if err != nil {
		return nil, false, response.Status(err)
	}
	return value, true, response.StatusOK
}

// KVDel removes key. Deleting a missing key succeeds.
func (b *Boundary) KVDel(h uint64, key []byte) int32 {
	_, err := b.exec(h, command.KVDelete(key))
	return response.Status(err)
}

// KVIncrBy adds delta to the integer under key and returns the new value.
func (b *Boundary) KVIncrBy(h uint64, key []byte, delta int64) (int64, int32) {
	out, err := b.exec(h, command.KVIncrBy(key, delta))
	if err != nil {
		return 0, response.Status(err)
	}
	v, _ := out["value"].(ir.IRInt)
	return int64(v), response.StatusOK
}

// KVSetNX stores value only when key is absent and reports whether it did.
func (b *Boundary) KVSetNX(h uint64, key, value []byte, ttl int64) (bool, int32) {
	secs, err := ttlSecs(ttl)
	if err != nil {
		return false, response.Status(err)
	}
	out, err := b.exec(h, command.KVSetNX(key, value, secs))
	if err != nil {
		return false, response.Status(err)
	}
	set, _ := out["set"].(ir.IRBool)
	return bool(set), response.StatusOK
}

// VectorInsert upserts one embedding.
func (b *Boundary) VectorInsert(h uint64, collection string, id uint64, vec []float32) int32 {
	cmd, err := command.VectorInsert(collection, id, vec)
	if err == nil {
		_, err = b.exec(h, cmd)
	}
	return response.Status(err)
}

func (b *Boundary) search(h uint64, collection string, vec []float32, k uint64, metric string) (ir.IRObject, error) {
	if metric == "" {
		metric = "cosine"
	}
	if k > math.MaxInt32 {
		k = math.MaxInt32
	}
	cmd, err := command.VectorSearch(collection, vec, int(k), metric)
	if err != nil {
		return nil, err
	}
	return b.exec(h, cmd)
}

// VectorSearch returns the response envelope of a top-k search.
func (b *Boundary) VectorSearch(h uint64, collection string, vec []float32, k uint64, metric string) ([]byte, int32) {
	return envelope(b.search(h, collection, vec, k, metric))
}

// VectorSearchBin returns the top-k hits in the TLV hit encoding.
func (b *Boundary) VectorSearchBin(h uint64, collection string, vec []float32, k uint64, metric string) ([]byte, int32) {
	out, err := b.search(h, collection, vec, k, metric)
	if err != nil {
		return nil, response.Status(err)
	}
	hits, err := tlv.HitsFromResult(out)
	if err != nil {
		return nil, response.Status(ir.Wrap(ir.KindExecutionError, module.Vector, err))
	}
	return tlv.EncodeHits(hits), response.StatusOK
}

// RunSQLBin runs sql and returns its rows in the TLV row encoding.
func (b *Boundary) RunSQLBin(h uint64, sql string) ([]byte, int32) {
	return b.rowsBin(h, command.RunSQL(sql))
}

// RunSQLParamBin runs sql with TLV-encoded positional params.
func (b *Boundary) RunSQLParamBin(h uint64, sql string, params []byte) ([]byte, int32) {
	vals, err := tlv.DecodeParams(params)
	if err != nil {
		return nil, response.Status(ir.Wrap(ir.KindParseError, module.SQL, err))
	}
	args := make([]ir.IRValue, len(vals))
	for i, v := range vals {
		if args[i], err = tlv.ArgIR(v); err != nil {
			return nil, response.Status(ir.Wrap(ir.KindValidationError, module.SQL, err))
		}
	}
	return b.rowsBin(h, command.RunSQL(sql, args...))
}

func (b *Boundary) rowsBin(h uint64, cmd command.Command) ([]byte, int32) {
	out, err := b.exec(h, cmd)
	if err != nil {
		return nil, response.Status(err)
	}
	rows, err := tlv.RowsFromResult(out)
	if err == nil {
		var buf []byte
		if buf, err = tlv.EncodeRows(rows); err == nil {
			return buf, response.StatusOK
		}
	}
	return nil, response.Status(ir.Wrap(ir.KindExecutionError, module.SQL, err))
}
