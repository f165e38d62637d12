package module

import (
	"context"
	"slices"

	"github.com/roach88/talon/internal/ir"
)

// Module names as they appear in canonical commands.
const (
	SQL        = "sql"
	KV         = "kv"
	TimeSeries = "timeseries"
	MQ         = "mq"
	Vector     = "vector"
)

// Names lists every module in catalog order.
var Names = []string{SQL, KV, TimeSeries, MQ, Vector}

// Adapter is the execution entry point of one module.
//
// Execute must be safe for concurrent use. Close is called exactly once,
// after every admitted command has returned.
type Adapter interface {
	// Name returns the module name (one of Names).
	Name() string

	// Actions returns the canonical action names, sorted.
	Actions() []string

	// Execute runs one action. Failures are *ir.Error values.
	Execute(ctx context.Context, action string, params Params) (ir.IRObject, error)

	// Close releases module resources.
	Close() error
}

// StatsProvider is implemented by adapters that report counters.
type StatsProvider interface {
	Stats(ctx context.Context) (ir.IRObject, error)
}

// Handler runs one action against decoded params.
type Handler func(ctx context.Context, p Params) (ir.IRObject, error)

// Actions is an adapter's action table.
type Actions map[string]Handler

// Names returns the sorted action names.
func (a Actions) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Dispatch looks up action and runs it. Unknown actions fail with
// ActionNotFound; there is no fallback handler.
func (a Actions) Dispatch(ctx context.Context, module, action string, p Params) (ir.IRObject, error) {
	h, ok := a[action]
	if !ok {
		return nil, ir.ModuleErrorf(ir.KindActionNotFound, module, "unknown action %q", action)
	}
	return h(ctx, p)
}
