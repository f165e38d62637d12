package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/talon/internal/command"
	"github.com/roach88/talon/internal/config"
	"github.com/roach88/talon/internal/ir"
	"github.com/roach88/talon/internal/module"
	"github.com/roach88/talon/internal/response"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T, root string, opts ...Option) (*DB, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	opts = append([]Option{
		WithLogger(discardLogger()),
		WithClock(clk),
		WithIDGenerator(NewFixedGenerator("db-test")),
	}, opts...)
	db, err := Open(root, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, clk
}

func mustExec(t *testing.T, db *DB, cmd command.Command) ir.IRObject {
	t.Helper()
	out, err := db.Execute(context.Background(), cmd)
	require.NoError(t, err, cmd.String())
	return out
}

func canonical(t *testing.T, v ir.IRObject) string {
	t.Helper()
	b, err := ir.MarshalCanonical(v)
	require.NoError(t, err)
	return string(b)
}

func TestOpenRejectsBadPaths(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	for name, path := range map[string]string{
		"empty":         "",
		"nul byte":      "a\x00b",
		"not directory": file,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Open(path, WithLogger(discardLogger()))
			assert.True(t, ir.IsKind(err, ir.KindPathInvalid), "got %v", err)
		})
	}
}

func TestOpenCreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "root")
	db, _ := openTestDB(t, root)

	assert.Equal(t, "db-test", db.ID())
	for _, name := range []string{DataFileName, SQLFileName, "LOCK"} {
		assert.FileExists(t, filepath.Join(root, name))
	}
}

func TestDoubleOpenAlreadyLocked(t *testing.T) {
	root := t.TempDir()
	db, _ := openTestDB(t, root)

	_, err := Open(root, WithLogger(discardLogger()))
	assert.True(t, ir.IsKind(err, ir.KindAlreadyLocked), "got %v", err)

	require.NoError(t, db.Close())
	again, err := Open(root, WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestOpenDistinctRootsConcurrently(t *testing.T) {
	base := t.TempDir()
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			db, err := Open(filepath.Join(base, fmt.Sprint(i)), WithLogger(discardLogger()))
			if err == nil {
				err = db.Close()
			}
			errs <- err
		}(i)
	}
	for i := 0; i < 8; i++ {
		assert.NoError(t, <-errs)
	}
}

func TestCorruptStoreIsCorruptState(t *testing.T) {
	root := t.TempDir()
	garbage := make([]byte, 4096)
	for i := range garbage {
		garbage[i] = byte(i*7 + 3)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, DataFileName), garbage, 0o644))

	_, err := Open(root, WithLogger(discardLogger()))
	assert.True(t, ir.IsKind(err, ir.KindCorruptState), "got %v", err)

	// The failed open must not keep the root locked.
	_, err = Open(root, WithLogger(discardLogger()))
	assert.True(t, ir.IsKind(err, ir.KindCorruptState), "got %v", err)
}

func TestInvalidConfigFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, config.FileName), []byte("kv:\n  nope: 1\n"), 0o644))

	_, err := Open(root, WithLogger(discardLogger()))
	assert.True(t, ir.IsKind(err, ir.KindValidationError), "got %v", err)
}

func TestConfigFileApplied(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, config.FileName), []byte("sql:\n  max_rows: 1\n"), 0o644))
	db, _ := openTestDB(t, root)
	assert.Equal(t, 1, db.Config().SQL.MaxRows)

	mustExec(t, db, command.RunSQL("CREATE TABLE t(id INTEGER)"))
	mustExec(t, db, command.RunSQL("INSERT INTO t VALUES (1), (2)"))
	out := mustExec(t, db, command.RunSQL("SELECT id FROM t"))
	assert.Equal(t, ir.IRBool(true), out["truncated"])
}

func TestCloseInvalidatesHandle(t *testing.T) {
	db, _ := openTestDB(t, t.TempDir())
	mustExec(t, db, command.KVSet([]byte("k"), []byte("v"), 0))

	require.NoError(t, db.Close())

	_, err := db.Execute(context.Background(), command.KVGet([]byte("k")))
	assert.True(t, ir.IsInvalidHandle(err))
	_, err = db.ExecuteJSON(context.Background(), []byte(`{"module":"kv","action":"get","params":{"key":"k"}}`))
	assert.True(t, ir.IsInvalidHandle(err))
	_, err = db.Stats(context.Background())
	assert.True(t, ir.IsInvalidHandle(err))
	assert.True(t, ir.IsInvalidHandle(db.Persist(context.Background())))
	assert.True(t, ir.IsInvalidHandle(db.Close()))
}

func TestCloseKeepsCommittedState(t *testing.T) {
	root := t.TempDir()
	db, _ := openTestDB(t, root)
	mustExec(t, db, command.KVSet([]byte("k"), []byte("v"), 0))
	mustExec(t, db, command.RunSQL("CREATE TABLE t(id INTEGER)"))
	mustExec(t, db, command.SQLBegin())
	mustExec(t, db, command.RunSQL("INSERT INTO t VALUES (1)"))
	require.NoError(t, db.Close())

	db2, _ := openTestDB(t, root)
	out := mustExec(t, db2, command.KVGet([]byte("k")))
	assert.Equal(t, ir.IRString("v"), out["value"])

	// The open transaction was rolled back on close.
	out = mustExec(t, db2, command.RunSQL("SELECT count(*) AS n FROM t"))
	assert.Equal(t, ir.IRArray{ir.IRObject{"n": ir.IRInt(0)}}, out["rows"])
}

func TestTypedAndGenericEquivalence(t *testing.T) {
	insert, err := command.VectorInsert("docs", 1, []float32{1, 0, 0})
	require.NoError(t, err)
	insert2, err := command.VectorInsert("docs", 2, []float32{0.5, 0.5, 0})
	require.NoError(t, err)
	search, err := command.VectorSearch("docs", []float32{1, 0, 0}, 2, "cosine")
	require.NoError(t, err)
	vdelete, err := command.VectorDelete("docs", 2)
	require.NoError(t, err)
	appendPt, err := command.TSAppend("cpu", 1000, 0.5, map[string]string{"host": "a"})
	require.NoError(t, err)
	appendPt2, err := command.TSAppend("cpu", 2000, 2, nil)
	require.NoError(t, err)

	cmds := []command.Command{
		command.RunSQL("CREATE TABLE t(id INTEGER PRIMARY KEY, name TEXT)"),
		command.RunSQL("INSERT INTO t(name) VALUES (?)", ir.IRString("a")),
		command.RunSQL("INSERT INTO t(name) VALUES (?)", ir.IRString("Cafe\u0301")),
		command.RunSQL("SELECT id, name FROM t"),
		command.KVSet([]byte("k"), []byte("v"), 0),
		command.KVSet([]byte{0xff, 0x00}, []byte{0x01}, 10),
		command.KVGet([]byte("k")),
		command.KVGet([]byte{0xff, 0x00}),
		command.KVSet([]byte("cafe\u0301"), []byte("Cafe\u0301"), 0),
		command.KVGet([]byte("cafe\u0301")),
		command.KVSet([]byte("empty"), []byte{}, 0),
		command.KVGet([]byte("empty")),
		command.KVIncrBy([]byte("n"), 5),
		command.KVSetNX([]byte("k"), []byte("other"), 0),
		command.KVDelete([]byte("k")),
		insert,
		insert2,
		search,
		command.VectorCount("docs"),
		vdelete,
		appendPt,
		appendPt2,
		command.TSQuery("cpu", 0, 5000),
		command.MQProduce("events", []byte("one")),
		command.MQProduce("events", []byte{0xde, 0xad}),
		command.MQProduce("events", []byte("Cafe\u0301")),
		command.MQConsume("events", 0, 0),
	}

	typed, _ := openTestDB(t, t.TempDir())
	generic, _ := openTestDB(t, t.TempDir())
	ctx := context.Background()

	for _, cmd := range cmds {
		raw, err := cmd.MarshalJSON()
		require.NoError(t, err)
		parsed, err := command.Parse(raw)
		require.NoError(t, err)
		require.True(t, cmd.Equal(parsed), "%s: %s", cmd, raw)
		assert.Equal(t, cmd.Fingerprint(), parsed.Fingerprint())

		want := mustExec(t, typed, cmd)
		got, err := generic.ExecuteJSON(ctx, raw)
		require.NoError(t, err, string(raw))
		if diff := cmp.Diff(canonical(t, want), canonical(t, got)); diff != "" {
			t.Errorf("%s mismatch (-typed +generic):\n%s", cmd, diff)
		}
	}
}

func TestTypedAndGenericPreserveBytes(t *testing.T) {
	values := map[string][]byte{
		"decomposed": []byte("Cafe\u0301"),
		"composed":   []byte("Caf\u00e9"),
		"invalid":    {0xff, 0x00},
		"empty":      {},
	}
	db, _ := openTestDB(t, t.TempDir())
	ctx := context.Background()
	mustExec(t, db, command.RunSQL("CREATE TABLE notes(id INTEGER PRIMARY KEY, body TEXT)"))

	// wire passes a result through the response envelope as a host reads it.
	wire := func(out ir.IRObject, err error) ir.IRObject {
		t.Helper()
		require.NoError(t, err)
		data, err := response.Decode(response.Encode(out, nil))
		require.NoError(t, err)
		return data
	}
	execJSON := func(cmd command.Command) ir.IRObject {
		t.Helper()
		raw, err := cmd.MarshalJSON()
		require.NoError(t, err)
		return wire(db.ExecuteJSON(ctx, raw))
	}

	for name, value := range values {
		t.Run(name, func(t *testing.T) {
			key := []byte("k-" + name)
			mustExec(t, db, command.KVSet(key, value, 0))

			typed, err := module.NewParams(module.KV, mustExec(t, db, command.KVGet(key))).Bytes("value")
			require.NoError(t, err)
			generic, err := module.NewParams(module.KV, execJSON(command.KVGet(key))).Bytes("value")
			require.NoError(t, err)
			assert.Equal(t, string(value), string(typed))
			assert.Equal(t, string(value), string(generic))

			topic := "t-" + name
			mustExec(t, db, command.MQProduce(topic, value))
			msgs := execJSON(command.MQConsume(topic, 0, 0))["messages"].(ir.IRArray)
			require.Len(t, msgs, 1)
			payload, err := module.NewParams(module.MQ, msgs[0].(ir.IRObject)).Bytes("payload")
			require.NoError(t, err)
			assert.Equal(t, string(value), string(payload))

			if !utf8.Valid(value) {
				return
			}
			insert := execJSON(command.RunSQL("INSERT INTO notes(body) VALUES (?) RETURNING id", ir.IRString(value)))
			id := insert["rows"].(ir.IRArray)[0].(ir.IRObject)["id"]
			rows := execJSON(command.RunSQL("SELECT body FROM notes WHERE id = ?", id))["rows"].(ir.IRArray)
			require.Len(t, rows, 1)
			assert.Equal(t, ir.IRString(value), rows[0].(ir.IRObject)["body"])
		})
	}
}

func TestKVTTLWithMockClock(t *testing.T) {
	db, clk := openTestDB(t, t.TempDir())

	mustExec(t, db, command.KVSet([]byte("forever"), []byte("v"), 0))
	mustExec(t, db, command.KVSet([]byte("short"), []byte("v"), 2))

	out := mustExec(t, db, command.KVGet([]byte("short")))
	assert.Equal(t, ir.IRBool(true), out["found"])

	clk.Add(3 * time.Second)
	out = mustExec(t, db, command.KVGet([]byte("short")))
	assert.Equal(t, ir.IRObject{"found": ir.IRBool(false)}, out)

	clk.Add(365 * 24 * time.Hour)
	out = mustExec(t, db, command.KVGet([]byte("forever")))
	assert.Equal(t, ir.IRObject{"found": ir.IRBool(true), "value": ir.IRString("v")}, out)
}

func TestMQConsumeAfterProduce(t *testing.T) {
	db, _ := openTestDB(t, t.TempDir())
	const n = 10
	for i := 0; i < n; i++ {
		out := mustExec(t, db, command.MQProduce("jobs", []byte(fmt.Sprintf("job-%d", i))))
		assert.Equal(t, ir.IRInt(i), out["offset"])
	}

	out := mustExec(t, db, command.MQConsume("jobs", 0, 0))
	msgs := out["messages"].(ir.IRArray)
	require.Len(t, msgs, n)
	for i, m := range msgs {
		assert.Equal(t, ir.IRInt(i), m.(ir.IRObject)["offset"])
	}
	assert.Equal(t, ir.IRInt(n), out["next_offset"])
}

func TestVectorSearchBound(t *testing.T) {
	db, _ := openTestDB(t, t.TempDir())
	for i := 0; i < 20; i++ {
		cmd, err := command.VectorInsert("v", uint64(i), []float32{float32(i), 1, float32(20 - i)})
		require.NoError(t, err)
		mustExec(t, db, cmd)
	}

	search, err := command.VectorSearch("v", []float32{1, 1, 1}, 5, "cosine")
	require.NoError(t, err)
	hits := mustExec(t, db, search)["hits"].(ir.IRArray)
	require.Len(t, hits, 5)
	prev := 2.0
	for _, h := range hits {
		score := float64(h.(ir.IRObject)["score"].(ir.IRFloat))
		assert.LessOrEqual(t, score, prev)
		prev = score
	}
}

func TestSQLScenario(t *testing.T) {
	db, _ := openTestDB(t, t.TempDir())

	mustExec(t, db, command.RunSQL("CREATE TABLE t(id INTEGER PRIMARY KEY)"))
	mustExec(t, db, command.RunSQL("INSERT INTO t VALUES (1)"))
	out := mustExec(t, db, command.RunSQL("SELECT id FROM t"))

	assert.Equal(t, `{"columns":["id"],"rows":[{"id":1}]}`, canonical(t, out))
}

func TestExecuteErrors(t *testing.T) {
	db, _ := openTestDB(t, t.TempDir())
	ctx := context.Background()

	tests := map[string]struct {
		raw  string
		kind ir.ErrorKind
	}{
		"malformed":      {`{"module":`, ir.KindParseError},
		"unknown module": {`{"module":"graph","action":"walk"}`, ir.KindModuleNotFound},
		"unknown action": {`{"module":"kv","action":"flush"}`, ir.KindActionNotFound},
		"bad params":     {`{"module":"kv","action":"get","params":{}}`, ir.KindValidationError},
		"bad sql":        {`{"module":"sql","action":"query","params":{"sql":"SELEC 1"}}`, ir.KindExecutionError},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := db.ExecuteJSON(ctx, []byte(tt.raw))
			assert.Equal(t, tt.kind, ir.KindOf(err), "got %v", err)
		})
	}

	_, err := db.Execute(ctx, command.Command{})
	assert.True(t, ir.IsKind(err, ir.KindParseError))
}

func TestStatsHealthPersist(t *testing.T) {
	db, _ := openTestDB(t, t.TempDir())
	ctx := context.Background()

	mustExec(t, db, command.KVSet([]byte("a"), []byte("1"), 0))
	mustExec(t, db, command.MQProduce("q", []byte("m")))
	_, err := db.Execute(ctx, command.KVGet(nil))
	require.Error(t, err)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("db-test"), stats["db_id"])
	assert.Equal(t, ir.IRInt(3), stats["seq"])

	modules := stats["modules"].(ir.IRObject)
	for _, name := range []string{"sql", "kv", "timeseries", "mq", "vector"} {
		assert.Contains(t, modules, name)
	}
	commands := stats["commands"].(ir.IRObject)
	assert.Equal(t, ir.IRInt(3), commands["total"])
	assert.Equal(t, ir.IRInt(1), commands["error"])

	health, err := db.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{"status": ir.IRString("ok")}, health)

	require.NoError(t, db.Persist(ctx))

	mustExec(t, db, command.SQLBegin())
	require.NoError(t, db.Persist(ctx))
	_, err = db.Health(ctx)
	require.NoError(t, err)
	mustExec(t, db, command.SQLRollback())
}

func TestConcurrentCommands(t *testing.T) {
	db, _ := openTestDB(t, t.TempDir())
	ctx := context.Background()

	errs := make(chan error, 16)
	for w := 0; w < 16; w++ {
		go func(w int) {
			var err error
			for i := 0; i < 20 && err == nil; i++ {
				_, err = db.Execute(ctx, command.KVIncrBy([]byte("counter"), 1))
				if err == nil {
					_, err = db.Execute(ctx, command.MQProduce(fmt.Sprintf("t%d", w%2), []byte("x")))
				}
			}
			errs <- err
		}(w)
	}
	for w := 0; w < 16; w++ {
		require.NoError(t, <-errs)
	}

	out := mustExec(t, db, command.KVGet([]byte("counter")))
	assert.Equal(t, ir.IRString("320"), out["value"])
	out = mustExec(t, db, command.MQConsume("t0", 0, 0))
	assert.Equal(t, ir.IRInt(160), out["next_offset"])
}

func TestPureGoDriver(t *testing.T) {
	db, _ := openTestDB(t, t.TempDir(), WithDriver("sqlite"))
	assert.Equal(t, "sqlite", db.Config().Storage.Driver)

	mustExec(t, db, command.KVSet([]byte("k"), []byte("v"), 0))
	out := mustExec(t, db, command.RunSQL("SELECT 1 AS one"))
	assert.Equal(t, `{"columns":["one"],"rows":[{"one":1}]}`, canonical(t, out))
}
