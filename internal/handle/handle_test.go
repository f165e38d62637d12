package handle

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/talon/internal/command"
	"github.com/roach88/talon/internal/engine"
	"github.com/roach88/talon/internal/ir"
)

func TestArenaTokensNeverReused(t *testing.T) {
	a := NewArena[string]()

	h1 := a.Insert("one")
	h2 := a.Insert("two")
	assert.Equal(t, Handle(1), h1)
	assert.Equal(t, Handle(2), h2)

	v, ok := a.Remove(h1)
	require.True(t, ok)
	assert.Equal(t, "one", v)

	_, ok = a.Remove(h1)
	assert.False(t, ok)
	_, ok = a.Get(h1)
	assert.False(t, ok)

	h3 := a.Insert("three")
	assert.Equal(t, Handle(3), h3)
	assert.Equal(t, 2, a.Len())
}

func TestArenaConcurrentInsert(t *testing.T) {
	a := NewArena[int]()
	var wg sync.WaitGroup
	seen := make(chan Handle, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seen <- a.Insert(i)
		}(i)
	}
	wg.Wait()
	close(seen)

	unique := map[Handle]bool{}
	for h := range seen {
		assert.NotZero(t, h)
		unique[h] = true
	}
	assert.Len(t, unique, 100)
}

func TestArenaDrain(t *testing.T) {
	a := NewArena[string]()
	a.Insert("a")
	h := a.Insert("b")
	a.Insert("c")
	a.Remove(h)

	assert.Equal(t, []string{"a", "c"}, a.Drain())
	assert.Equal(t, 0, a.Len())
}

func newManager() *Manager {
	return NewManager(engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestManagerLifecycle(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	h, err := m.Open(t.TempDir())
	require.NoError(t, err)
	assert.NotZero(t, h)

	_, err = m.Execute(ctx, h, command.KVSet([]byte("k"), []byte("v"), 0))
	require.NoError(t, err)
	out, err := m.ExecuteJSON(ctx, h, []byte(`{"module":"kv","action":"get","params":{"key":"k"}}`))
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("v"), out["value"])
	require.NoError(t, m.Persist(ctx, h))

	stats, err := m.Stats(ctx, h)
	require.NoError(t, err)
	assert.Contains(t, stats, "db_id")
	health, err := m.Health(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("ok"), health["status"])

	require.NoError(t, m.Close(h))
	assert.True(t, ir.IsInvalidHandle(m.Close(h)))

	_, err = m.Stats(ctx, h)
	assert.True(t, ir.IsInvalidHandle(err))
	_, err = m.Health(ctx, h)
	assert.True(t, ir.IsInvalidHandle(err))

	_, err = m.Execute(ctx, h, command.KVGet([]byte("k")))
	assert.True(t, ir.IsInvalidHandle(err))
	assert.True(t, ir.IsInvalidHandle(m.Persist(ctx, h)))
}

func TestManagerUnknownHandles(t *testing.T) {
	m := newManager()
	for _, h := range []Handle{0, 1, 42} {
		_, err := m.Get(h)
		assert.True(t, ir.IsInvalidHandle(err))
	}
}

func TestManagerOpenErrorsAllocateNothing(t *testing.T) {
	m := newManager()
	root := t.TempDir()

	h, err := m.Open(root)
	require.NoError(t, err)

	_, err = m.Open(root)
	assert.True(t, ir.IsKind(err, ir.KindAlreadyLocked))
	_, err = m.Open("")
	assert.True(t, ir.IsKind(err, ir.KindPathInvalid))
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Close(h))
}

func TestManagerCloseAll(t *testing.T) {
	m := newManager()
	h1, err := m.Open(t.TempDir())
	require.NoError(t, err)
	h2, err := m.Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, m.CloseAll())
	assert.Equal(t, 0, m.Len())
	assert.True(t, ir.IsInvalidHandle(m.Close(h1)))
	assert.True(t, ir.IsInvalidHandle(m.Close(h2)))
}
