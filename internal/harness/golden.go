package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/talon/internal/ir"
)

// GoldenDir is where golden traces live, relative to the test package.
const GoldenDir = "testdata/golden"

// Snapshot renders a trace as canonical JSON:
//
//	{"name":"...","trace":[{"action":"...","data":{...},"module":"...","ok":true,"step":1}, ...]}
func Snapshot(name string, trace []TraceEvent) ([]byte, error) {
	events := make(ir.IRArray, len(trace))
	for i, event := range trace {
		events[i] = event.toIR()
	}
	return ir.MarshalCanonical(ir.IRObject{
		"name":  ir.IRString(name),
		"trace": events,
	})
}

// RunWithGolden executes a scenario, fails t on any unmet expectation, and
// compares the trace against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(name, result.Trace)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snapshot)
	return nil
}
