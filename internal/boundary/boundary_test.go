package boundary

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/talon/internal/engine"
	"github.com/roach88/talon/internal/ir"
	"github.com/roach88/talon/internal/module"
	"github.com/roach88/talon/internal/response"
	"github.com/roach88/talon/internal/tlv"
)

const (
	statusInvalidHandle   int32 = -1
	statusPathInvalid     int32 = -2
	statusAlreadyLocked   int32 = -3
	statusModuleNotFound  int32 = -4
	statusParseError      int32 = -6
	statusValidationError int32 = -7
	statusExecutionError  int32 = -8
)

func newBoundary(t *testing.T) (*Boundary, uint64) {
	t.Helper()
	b := New(engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() { b.Shutdown() })

	h, status := b.Open(t.TempDir())
	require.Equal(t, response.StatusOK, status)
	require.NotZero(t, h)
	return b, h
}

func TestOpenStatuses(t *testing.T) {
	b, _ := newBoundary(t)

	h, status := b.Open("")
	assert.Zero(t, h)
	assert.Equal(t, statusPathInvalid, status)

	root := t.TempDir()
	first, status := b.Open(root)
	require.Equal(t, response.StatusOK, status)
	_, status = b.Open(root)
	assert.Equal(t, statusAlreadyLocked, status)

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, status = b.Open(file)
	assert.Equal(t, statusPathInvalid, status)

	assert.Equal(t, response.StatusOK, b.Close(first))
}

func TestCloseTwice(t *testing.T) {
	b, h := newBoundary(t)

	assert.Equal(t, response.StatusOK, b.Close(h))
	assert.Equal(t, statusInvalidHandle, b.Close(h))

	out, status := b.RunSQL(h, "SELECT 1")
	assert.Equal(t, statusInvalidHandle, status)
	assert.Contains(t, string(out), `"kind":"InvalidHandle"`)
	assert.Equal(t, statusInvalidHandle, b.KVSet(h, []byte("k"), []byte("v"), 0))
	assert.Equal(t, statusInvalidHandle, b.Persist(h))
}

func TestRunSQLEnvelope(t *testing.T) {
	b, h := newBoundary(t)

	_, status := b.RunSQL(h, "CREATE TABLE t(id INTEGER PRIMARY KEY)")
	require.Equal(t, response.StatusOK, status)
	_, status = b.RunSQL(h, "INSERT INTO t VALUES (1)")
	require.Equal(t, response.StatusOK, status)

	out, status := b.RunSQL(h, "SELECT id FROM t")
	require.Equal(t, response.StatusOK, status)
	assert.Equal(t, `{"data":{"columns":["id"],"rows":[{"id":1}]},"ok":true}`, string(out))

	out, status = b.RunSQL(h, "SELECT * FROM missing")
	assert.Equal(t, statusExecutionError, status)
	assert.Contains(t, string(out), `"ok":false`)
}

func TestKV(t *testing.T) {
	b, h := newBoundary(t)
	key := []byte{0x00, 0xff, 'k'}

	require.Equal(t, response.StatusOK, b.KVSet(h, key, []byte{0xfe, 0x01}, 0))
	v, found, status := b.KVGet(h, key)
	require.Equal(t, response.StatusOK, status)
	assert.True(t, found)
	assert.Equal(t, []byte{0xfe, 0x01}, v)

	_, found, status = b.KVGet(h, []byte("absent"))
	assert.Equal(t, response.StatusOK, status)
	assert.False(t, found)

	n, status := b.KVIncrBy(h, []byte("n"), 4)
	require.Equal(t, response.StatusOK, status)
	assert.Equal(t, int64(4), n)

	set, status := b.KVSetNX(h, []byte("n"), []byte("x"), 0)
	require.Equal(t, response.StatusOK, status)
	assert.False(t, set)

	require.Equal(t, response.StatusOK, b.KVDel(h, key))
	_, found, _ = b.KVGet(h, key)
	assert.False(t, found)

	assert.Equal(t, statusValidationError, b.KVSet(h, []byte("k"), nil, -1))
	assert.Equal(t, statusValidationError, b.KVSet(h, nil, []byte("v"), 0))
}

func TestVector(t *testing.T) {
	b, h := newBoundary(t)

	require.Equal(t, response.StatusOK, b.VectorInsert(h, "docs", 1, []float32{1, 0}))
	require.Equal(t, response.StatusOK, b.VectorInsert(h, "docs", 2, []float32{0, 1}))
	assert.Equal(t, statusValidationError, b.VectorInsert(h, "docs", 3, []float32{1, 0, 0}))
	assert.Equal(t, statusValidationError, b.VectorInsert(h, "docs", 1<<63, []float32{1, 0}))

	out, status := b.VectorSearch(h, "docs", []float32{1, 0}, 1, "cosine")
	require.Equal(t, response.StatusOK, status)
	assert.Equal(t, `{"data":{"hits":[{"id":1,"score":1}]},"ok":true}`, string(out))

	buf, status := b.VectorSearchBin(h, "docs", []float32{1, 0}, 5, "")
	require.Equal(t, response.StatusOK, status)
	hits, err := tlv.DecodeHits(buf)
	require.NoError(t, err)
	assert.Equal(t, []tlv.Hit{{ID: 1, Score: 1}, {ID: 2, Score: 0}}, hits)

	_, status = b.VectorSearch(h, "docs", []float32{1, 0}, 0, "cosine")
	assert.Equal(t, statusValidationError, status)
	_, status = b.VectorSearchBin(h, "docs", []float32{1, 0}, 1, "hamming")
	assert.Equal(t, statusValidationError, status)
}

func TestExecute(t *testing.T) {
	b, h := newBoundary(t)

	out, status := b.Execute(h, []byte(`{"module":"mq","action":"produce","params":{"topic":"t","payload":"x"}}`))
	require.Equal(t, response.StatusOK, status)
	assert.Equal(t, `{"data":{"offset":0,"topic":"t"},"ok":true}`, string(out))

	out, status = b.Execute(h, []byte(`{"module":"graph","action":"x"}`))
	assert.Equal(t, statusModuleNotFound, status)
	assert.Contains(t, string(out), `"kind":"ModuleNotFound"`)

	_, status = b.Execute(h, []byte(`not json`))
	assert.Equal(t, statusParseError, status)

	assert.Equal(t, response.StatusOK, b.Persist(h))
}

func TestStatsAndHealth(t *testing.T) {
	b, h := newBoundary(t)
	require.Equal(t, response.StatusOK, b.KVSet(h, []byte("k"), []byte("v"), 0))

	out, status := b.Stats(h)
	require.Equal(t, response.StatusOK, status)
	stats, err := response.Decode(out)
	require.NoError(t, err)
	assert.Contains(t, stats, "db_id")
	assert.Contains(t, stats, "modules")

	out, status = b.Health(h)
	require.Equal(t, response.StatusOK, status)
	assert.Equal(t, `{"data":{"status":"ok"},"ok":true}`, string(out))

	require.Equal(t, response.StatusOK, b.Close(h))
	out, status = b.Stats(h)
	assert.Equal(t, statusInvalidHandle, status)
	assert.Contains(t, string(out), `"kind":"InvalidHandle"`)
	out, status = b.Health(h)
	assert.Equal(t, statusInvalidHandle, status)
	assert.Contains(t, string(out), `"ok":false`)
}

func TestKVGetMatchesExecute(t *testing.T) {
	values := map[string][]byte{
		"decomposed":  []byte("Cafe\u0301"),
		"composed":    []byte("Caf\u00e9"),
		"invalid":     {0xff, 0x00},
		"empty":       {},
		"replacement": []byte("\ufffd"),
	}
	b, h := newBoundary(t)

	for name, value := range values {
		t.Run(name, func(t *testing.T) {
			key := []byte("k-" + name)
			require.Equal(t, response.StatusOK, b.KVSet(h, key, value, 0))

			typed, found, status := b.KVGet(h, key)
			require.Equal(t, response.StatusOK, status)
			require.True(t, found)
			assert.Equal(t, string(value), string(typed))

			raw, err := ir.MarshalCanonical(ir.IRObject{
				"module": ir.IRString("kv"),
				"action": ir.IRString("get"),
				"params": ir.IRObject{"key": ir.IRString(key)},
			})
			require.NoError(t, err)
			out, status := b.Execute(h, raw)
			require.Equal(t, response.StatusOK, status)
			data, err := response.Decode(out)
			require.NoError(t, err)
			generic, err := module.NewParams(module.KV, data).Bytes("value")
			require.NoError(t, err)
			assert.Equal(t, string(typed), string(generic))
		})
	}
}

func TestRunSQLBin(t *testing.T) {
	b, h := newBoundary(t)

	_, status := b.RunSQLBin(h, "CREATE TABLE p(id INTEGER, name TEXT, data BLOB)")
	require.Equal(t, response.StatusOK, status)

	params := tlv.EncodeParams([]tlv.Value{tlv.Int(1), tlv.Text("ann"), tlv.Blob([]byte{0xff})})
	_, status = b.RunSQLParamBin(h, "INSERT INTO p VALUES (?, ?, ?)", params)
	require.Equal(t, response.StatusOK, status)

	buf, status := b.RunSQLParamBin(h, "SELECT id, name, hex(data) FROM p WHERE id = ?",
		tlv.EncodeParams([]tlv.Value{tlv.Int(1)}))
	require.Equal(t, response.StatusOK, status)
	rows, err := tlv.DecodeRows(buf)
	require.NoError(t, err)
	assert.Equal(t, [][]tlv.Value{{tlv.Int(1), tlv.Text("ann"), tlv.Text("FF")}}, rows)

	_, status = b.RunSQLParamBin(h, "SELECT ?", []byte{1, 0, 0, 0, 42})
	assert.Equal(t, statusParseError, status)
	_, status = b.RunSQLParamBin(h, "SELECT ?", tlv.EncodeParams([]tlv.Value{tlv.Vector([]float32{1})}))
	assert.Equal(t, statusValidationError, status)
}

func TestLedger(t *testing.T) {
	l := NewLedger()
	l.Track(0x1000, 16)
	l.Track(0x2000, 4)
	assert.Equal(t, 2, l.Outstanding())

	n, ok := l.Release(0x1000)
	assert.True(t, ok)
	assert.Equal(t, 16, n)

	_, ok = l.Release(0x1000)
	assert.False(t, ok)
	_, ok = l.Release(0x3000)
	assert.False(t, ok)
	assert.Equal(t, 1, l.Outstanding())
}

func TestLedgerReleaseSized(t *testing.T) {
	l := NewLedger()
	l.Track(0x1000, 16)

	found, sized := l.ReleaseSized(0x1000, 8)
	assert.True(t, found)
	assert.False(t, sized)
	assert.Equal(t, 1, l.Outstanding())

	found, sized = l.ReleaseSized(0x1000, 16)
	assert.True(t, found)
	assert.True(t, sized)
	assert.Equal(t, 0, l.Outstanding())

	found, _ = l.ReleaseSized(0x1000, 16)
	assert.False(t, found)
}

func TestLedgerConcurrentReleaseSized(t *testing.T) {
	l := NewLedger()
	l.Track(0x1000, 16)

	var wg sync.WaitGroup
	var freed atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// Wrong sizes never hide the buffer from a correct release.
			if _, sized := l.ReleaseSized(0x1000, 16+n%2); sized {
				freed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), freed.Load())
	assert.Equal(t, 0, l.Outstanding())
}
