package harness

import "github.com/roach88/talon/internal/ir"

// TraceEvent records one executed step.
type TraceEvent struct {
	// Step is the 1-based step index.
	Step int
	// Advance is set for clock steps; the other fields are empty then.
	Advance string
	Module  string
	Action  string
	OK      bool
	Data    ir.IRObject
	// Error is the error member of the response envelope.
	Error ir.IRObject
}

// Name returns "module.action", the form assertions refer to.
func (e TraceEvent) Name() string {
	if e.Module == "" {
		return ""
	}
	return e.Module + "." + e.Action
}

func (e TraceEvent) toIR() ir.IRObject {
	obj := ir.IRObject{"step": ir.IRInt(e.Step)}
	if e.Advance != "" {
		obj["advance"] = ir.IRString(e.Advance)
		return obj
	}
	obj["module"] = ir.IRString(e.Module)
	obj["action"] = ir.IRString(e.Action)
	obj["ok"] = ir.IRBool(e.OK)
	if e.OK {
		obj["data"] = e.Data
	} else {
		obj["error"] = e.Error
	}
	return obj
}

// Result is the outcome of one scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool

	// Trace holds one event per step, in order.
	Trace []TraceEvent

	// Errors describes each failed expectation.
	Errors []string
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
