// Package command defines the canonical Command value, the parser for
// generic JSON commands, typed constructors, and the Router that hands
// commands to module adapters.
//
// Both the generic and the typed path produce the same Command, so they
// share one execution path. A Command is immutable: its params are copied
// on construction and on every read.
package command

import (
	"fmt"

	"github.com/roach88/talon/internal/ir"
)

// Command is one canonical {module, action, params} request.
type Command struct {
	module string
	action string
	params ir.IRObject
}

// New builds a Command from canonical or aliased names. Params must be
// representable in canonical JSON.
func New(mod, action string, params ir.IRObject) (Command, error) {
	canonicalModule, ok := ResolveModule(mod)
	if !ok {
		return Command{}, ir.Errorf(ir.KindModuleNotFound, "unknown module %q", mod)
	}
	canonicalAction, ok := ResolveAction(canonicalModule, action)
	if !ok {
		return Command{}, ir.ModuleErrorf(ir.KindActionNotFound, canonicalModule,
			"unknown action %q for module %s", action, canonicalModule)
	}

	cmd := Command{module: canonicalModule, action: canonicalAction, params: params.Clone()}
	if _, err := ir.MarshalCanonical(cmd.params); err != nil {
		return Command{}, ir.ModuleErrorf(ir.KindValidationError, canonicalModule, "params: %v", err)
	}
	return cmd, nil
}

// mustNew is New for constructors whose module and action are constants.
func mustNew(mod, action string, params ir.IRObject) Command {
	cmd, err := New(mod, action, params)
	if err != nil {
		panic(fmt.Sprintf("command: %s.%s: %v", mod, action, err))
	}
	return cmd
}

// Module returns the canonical module name.
func (c Command) Module() string { return c.module }

// Action returns the canonical action name.
func (c Command) Action() string { return c.action }

// Params returns a copy of the params object.
func (c Command) Params() ir.IRObject { return c.params.Clone() }

// IsZero reports whether c is the zero Command.
func (c Command) IsZero() bool { return c.module == "" }

// ToIR returns the command as {"action","module","params"}.
func (c Command) ToIR() ir.IRObject {
	return ir.IRObject{
		"module": ir.IRString(c.module),
		"action": ir.IRString(c.action),
		"params": c.params.Clone(),
	}
}

// MarshalJSON renders the canonical JSON form.
func (c Command) MarshalJSON() ([]byte, error) {
	return ir.MarshalCanonical(c.ToIR())
}

// Fingerprint is the domain-separated SHA-256 of the canonical form.
// Two commands with equal fingerprints denote the same logical operation.
func (c Command) Fingerprint() string {
	return ir.MustCommandFingerprint(c.module, c.action, c.params)
}

// Equal reports whether c and other are the same logical operation.
func (c Command) Equal(other Command) bool {
	return c.module == other.module && c.action == other.action && c.Fingerprint() == other.Fingerprint()
}

func (c Command) String() string {
	return c.module + "." + c.action
}
