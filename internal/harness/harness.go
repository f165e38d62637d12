package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/roach88/talon/internal/command"
	"github.com/roach88/talon/internal/engine"
	"github.com/roach88/talon/internal/ir"
	"github.com/roach88/talon/internal/response"
)

// InstanceID is the fixed db_id every scenario root is opened with.
const InstanceID = "scenario"

// Harness executes one scenario against an open root.
type Harness struct {
	db    *engine.DB
	clock *clock.Mock
}

// Run executes a scenario in a fresh temporary root and returns its result.
//
// Execution flow:
//  1. Create a temporary root and open it on a mock clock
//  2. Run every step, checking expect clauses
//  3. Evaluate trace assertions
//  4. Close the root and remove it
//
// A step that does not meet its expectation fails the result but does not
// stop the run; err is reserved for harness failures.
func Run(scenario *Scenario) (_ *Result, err error) {
	root, err := os.MkdirTemp("", "talon-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario root: %w", err)
	}
	defer os.RemoveAll(root)

	mock := clock.NewMock()
	db, err := engine.Open(root,
		engine.WithClock(mock),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithIDGenerator(engine.NewFixedGenerator(InstanceID)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario root: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close scenario root: %w", cerr)
		}
	}()

	h := &Harness{db: db, clock: mock}
	result := NewResult()
	ctx := context.Background()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	for _, msg := range EvaluateAssertions(result.Trace, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) executeStep(ctx context.Context, n int, step Step, result *Result) error {
	if step.Advance != "" {
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Add(d)
		result.Trace = append(result.Trace, TraceEvent{Step: n, Advance: step.Advance})
		return nil
	}

	var (
		event TraceEvent
		cmd   command.Command
		err   error
	)
	if step.Call != "" {
		build, ok := calls[step.Call]
		if !ok {
			return fmt.Errorf("unknown call %q", step.Call)
		}
		cmd, err = build(callArgs{m: step.Args})
		if err != nil && !isEngineError(err) {
			return fmt.Errorf("%s: %w", step.Call, err)
		}
	} else {
		cmd, err = parseCommand(step.Command)
	}

	event.Step = n
	if err == nil {
		event.Module, event.Action = cmd.Module(), cmd.Action()
		event.Data, err = h.db.Execute(ctx, cmd)
	} else {
		event.Module, event.Action = rawNames(step)
	}
	event.OK = err == nil
	if err != nil {
		event.Error, _ = response.Envelope(nil, err)["error"].(ir.IRObject)
	}
	result.Trace = append(result.Trace, event)

	if msg := checkExpect(event, step.Expect); msg != "" {
		result.AddError(fmt.Sprintf("step %d (%s): %s", n, event.Name(), msg))
	}
	return nil
}

// parseCommand runs a generic step through the same parser talon_execute uses.
func parseCommand(m map[string]any) (command.Command, error) {
	v, err := ir.FromGo(m)
	if err != nil {
		return command.Command{}, ir.Errorf(ir.KindParseError, "command: %v", err)
	}
	raw, err := ir.MarshalCanonical(v)
	if err != nil {
		return command.Command{}, ir.Errorf(ir.KindParseError, "command: %v", err)
	}
	return command.Parse(raw)
}

func rawNames(step Step) (string, string) {
	if step.Call != "" {
		mod, action, _ := strings.Cut(step.Call, ".")
		return mod, action
	}
	mod, _ := step.Command["module"].(string)
	action, _ := step.Command["action"].(string)
	return mod, action
}

func isEngineError(err error) bool {
	var e *ir.Error
	return errors.As(err, &e)
}
