package command

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"

	"go.uber.org/multierr"

	"github.com/roach88/talon/internal/ir"
	"github.com/roach88/talon/internal/module"
)

// Router dispatches Commands to module adapters. The adapter set is fixed
// when the Router is built.
type Router struct {
	adapters map[string]module.Adapter
	logger   *slog.Logger
}

// NewRouter builds a Router over adapters. Every catalog module must be
// covered by exactly one adapter whose actions match the catalog.
func NewRouter(logger *slog.Logger, adapters ...module.Adapter) (*Router, error) {
	r := &Router{adapters: make(map[string]module.Adapter, len(adapters)), logger: logger}
	for _, a := range adapters {
		name := a.Name()
		want, ok := catalog[name]
		if !ok {
			return nil, fmt.Errorf("router: adapter for unknown module %q", name)
		}
		if _, dup := r.adapters[name]; dup {
			return nil, fmt.Errorf("router: duplicate adapter for module %q", name)
		}
		if got := a.Actions(); !slices.Equal(got, want) {
			return nil, fmt.Errorf("router: module %q actions %v do not match catalog %v", name, got, want)
		}
		r.adapters[name] = a
	}
	for _, name := range module.Names {
		if _, ok := r.adapters[name]; !ok {
			return nil, fmt.Errorf("router: no adapter for module %q", name)
		}
	}
	return r, nil
}

// Adapter returns the adapter registered for mod.
func (r *Router) Adapter(mod string) (module.Adapter, bool) {
	a, ok := r.adapters[mod]
	return a, ok
}

// Dispatch runs cmd on its adapter. Every failure is an *ir.Error: adapter
// errors of other types become ExecutionError, and a panicking adapter is
// recovered into ExecutionError.
func (r *Router) Dispatch(ctx context.Context, cmd Command) (out ir.IRObject, err error) {
	if cmd.IsZero() {
		return nil, ir.Errorf(ir.KindParseError, "empty command")
	}
	a, ok := r.adapters[cmd.module]
	if !ok {
		return nil, ir.Errorf(ir.KindModuleNotFound, "unknown module %q", cmd.module)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("adapter panic",
				"module", cmd.module,
				"action", cmd.action,
				"panic", rec,
				"stack", string(debug.Stack()))
			out = nil
			err = ir.ModuleErrorf(ir.KindExecutionError, cmd.module, "internal error in %s: %v", cmd, rec)
		}
	}()

	out, err = a.Execute(ctx, cmd.action, module.NewParams(cmd.module, cmd.Params()))
	if err != nil {
		return nil, ir.Wrap(ir.KindExecutionError, cmd.module, err)
	}
	if out == nil {
		out = ir.IRObject{}
	}
	return out, nil
}

// Close closes every adapter in reverse catalog order. All adapters are
// closed even when some fail; the failures are combined.
func (r *Router) Close() error {
	var err error
	for i := len(module.Names) - 1; i >= 0; i-- {
		name := module.Names[i]
		if a, ok := r.adapters[name]; ok {
			if cerr := a.Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("close %s: %w", name, cerr))
			}
		}
	}
	return err
}
