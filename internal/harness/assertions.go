package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/talon/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		if event.Advance != "" {
			fmt.Fprintf(&buf, "  [%d] advance %s\n", event.Step, event.Advance)
			continue
		}
		fmt.Fprintf(&buf, "  [%d] %s ok=%t\n", event.Step, event.Name(), event.OK)
	}
	return buf.String()
}

// checkExpect returns a description of how event misses expect, or "".
func checkExpect(event TraceEvent, expect *Expect) string {
	wantOK := expect.wantOK()
	if event.OK != wantOK {
		if event.OK {
			return fmt.Sprintf("expected failure, got success %s", render(event.Data))
		}
		return fmt.Sprintf("expected success, got %s", render(event.Error))
	}
	if expect == nil {
		return ""
	}
	if expect.Kind != "" {
		got, _ := event.Error["kind"].(ir.IRString)
		if string(got) != expect.Kind {
			return fmt.Sprintf("expected kind %s, got %q", expect.Kind, string(got))
		}
	}
	if expect.Data != nil {
		want, err := ir.FromGo(expect.Data)
		if err != nil {
			return fmt.Sprintf("expect.data: %v", err)
		}
		if !matchIR(want, event.Data) {
			return fmt.Sprintf("data %s does not contain %s", render(event.Data), render(want))
		}
	}
	return ""
}

// matchIR reports whether actual contains want. Objects match on the keys
// want lists; arrays must have equal length with matching elements;
// integers and floats compare numerically.
func matchIR(want, actual ir.IRValue) bool {
	switch w := want.(type) {
	case ir.IRObject:
		a, ok := actual.(ir.IRObject)
		if !ok {
			return false
		}
		for k, wv := range w {
			av, ok := a[k]
			if !ok || !matchIR(wv, av) {
				return false
			}
		}
		return true
	case ir.IRArray:
		a, ok := actual.(ir.IRArray)
		if !ok || len(a) != len(w) {
			return false
		}
		for i := range w {
			if !matchIR(w[i], a[i]) {
				return false
			}
		}
		return true
	case ir.IRInt, ir.IRFloat:
		wf, ok := number(want)
		af, ok2 := number(actual)
		return ok && ok2 && wf == af
	case ir.IRNull:
		_, ok := actual.(ir.IRNull)
		return ok || actual == nil
	default:
		return want == actual
	}
}

func number(v ir.IRValue) (float64, bool) {
	switch n := v.(type) {
	case ir.IRInt:
		return float64(n), true
	case ir.IRFloat:
		return float64(n), true
	}
	return 0, false
}

func render(v ir.IRValue) string {
	if v == nil {
		return "null"
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// assertTraceContains checks that some successful run of the action
// returned data containing assertion.Data.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	var want ir.IRValue = ir.IRObject{}
	if assertion.Data != nil {
		v, err := ir.FromGo(assertion.Data)
		if err != nil {
			return fmt.Errorf("trace_contains data: %w", err)
		}
		want = v
	}
	for _, event := range trace {
		if event.OK && event.Name() == assertion.Action && matchIR(want, event.Data) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s returning %s", assertion.Action, render(want)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that actions first appear in the listed order.
// Intervening steps are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for _, event := range trace {
		name := event.Name()
		if name != "" && positions[name] == 0 {
			positions[name] = event.Step
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(assertion.Actions); i++ {
		prev, curr := assertion.Actions[i-1], assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (step %d) should be before %s (step %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that the action ran exactly assertion.Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Name() == assertion.Action {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the trace and
// returns one message per failure.
func EvaluateAssertions(trace []TraceEvent, assertions []Assertion) []string {
	var errors []string
	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}
		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
