package handle

import (
	"context"

	"go.uber.org/multierr"

	"github.com/roach88/talon/internal/command"
	"github.com/roach88/talon/internal/engine"
	"github.com/roach88/talon/internal/ir"
)

// Manager owns every database opened through it.
type Manager struct {
	dbs  *Arena[*engine.DB]
	opts []engine.Option
}

// NewManager returns a Manager that passes opts to every engine.Open.
func NewManager(opts ...engine.Option) *Manager {
	return &Manager{dbs: NewArena[*engine.DB](), opts: opts}
}

func invalidHandle(h Handle) error {
	return ir.Errorf(ir.KindInvalidHandle, "unknown or closed handle %d", h)
}

// Open opens root and returns its handle.
func (m *Manager) Open(root string) (Handle, error) {
	db, err := engine.Open(root, m.opts...)
	if err != nil {
		return 0, err
	}
	return m.dbs.Insert(db), nil
}

// Get returns the database behind h.
func (m *Manager) Get(h Handle) (*engine.DB, error) {
	if h == 0 {
		return nil, invalidHandle(h)
	}
	db, ok := m.dbs.Get(h)
	if !ok {
		return nil, invalidHandle(h)
	}
	return db, nil
}

// Close invalidates h, then closes its database. The token is dropped
// before the database drains, so new lookups fail immediately.
func (m *Manager) Close(h Handle) error {
	db, ok := m.dbs.Remove(h)
	if !ok {
		return invalidHandle(h)
	}
	return db.Close()
}

// Execute runs cmd on the database behind h.
func (m *Manager) Execute(ctx context.Context, h Handle, cmd command.Command) (ir.IRObject, error) {
	db, err := m.Get(h)
	if err != nil {
		return nil, err
	}
	return db.Execute(ctx, cmd)
}

// ExecuteJSON parses raw and runs it on the database behind h.
func (m *Manager) ExecuteJSON(ctx context.Context, h Handle, raw []byte) (ir.IRObject, error) {
	db, err := m.Get(h)
	if err != nil {
		return nil, err
	}
	return db.ExecuteJSON(ctx, raw)
}

// Persist checkpoints the database behind h.
func (m *Manager) Persist(ctx context.Context, h Handle) error {
	db, err := m.Get(h)
	if err != nil {
		return err
	}
	return db.Persist(ctx)
}

// Stats returns the instance statistics of the database behind h.
func (m *Manager) Stats(ctx context.Context, h Handle) (ir.IRObject, error) {
	db, err := m.Get(h)
	if err != nil {
		return nil, err
	}
	return db.Stats(ctx)
}

// Health pings the stores of the database behind h.
func (m *Manager) Health(ctx context.Context, h Handle) (ir.IRObject, error) {
	db, err := m.Get(h)
	if err != nil {
		return nil, err
	}
	return db.Health(ctx)
}

// Len returns the number of open handles.
func (m *Manager) Len() int {
	return m.dbs.Len()
}

// CloseAll closes every open database.
func (m *Manager) CloseAll() error {
	var err error
	for _, db := range m.dbs.Drain() {
		err = multierr.Append(err, db.Close())
	}
	return err
}
