package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/talon/internal/ir"
)

func TestGoldenScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestRun_ExpectMismatchFailsResult(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: mismatch
description: "A wrong expectation is reported, not fatal"
steps:
  - call: kv.set
    args: { key: k, value: v }
  - call: kv.get
    args: { key: k }
    expect:
      data: { value: other }
  - call: kv.get
    args: { key: k }
    expect:
      kind: ValidationError
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "step 2 (kv.get)")
	assert.Contains(t, result.Errors[1], "expected failure")
	assert.Len(t, result.Trace, 3)
}

func TestRun_UnexpectedFailure(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: unexpected
description: "A failing step without expect fails the result"
steps:
  - command: { module: kv, action: get, params: {} }
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Trace, 1)
	assert.False(t, result.Trace[0].OK)
	assert.Equal(t, ir.IRString("ValidationError"), result.Trace[0].Error["kind"])
}

func TestRun_BadCallArgsAreHarnessErrors(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_args",
		Description: "Typed calls need their args",
		Steps:       []Step{{Call: "kv.set", Args: map[string]any{"key": "k"}}},
	}
	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing arg "value"`)
}

func TestRun_AssertionFailures(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: assertions
description: "Trace assertions report mismatches"
steps:
  - call: mq.produce
    args: { topic: t, payload: x }
  - call: kv.incrby
    args: { key: n }
assertions:
  - type: trace_count
    action: mq.produce
    count: 2
  - type: trace_order
    actions: [kv.incrby, mq.produce]
  - type: trace_contains
    action: kv.incrby
    data: { value: 1 }
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "trace_count")
	assert.Contains(t, result.Errors[1], "trace_order")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "description: d\nsteps: [{advance: 1s}]", "name is required"},
		{"missing description", "name: n\nsteps: [{advance: 1s}]", "description is required"},
		{"no steps", "name: n\ndescription: d", "steps list is required"},
		{"two kinds", "name: n\ndescription: d\nsteps: [{advance: 1s, call: kv.get}]", "exactly one of"},
		{"empty step", "name: n\ndescription: d\nsteps: [{}]", "exactly one of"},
		{"unknown call", "name: n\ndescription: d\nsteps: [{call: kv.nope}]", `unknown call "kv.nope"`},
		{"bad duration", "name: n\ndescription: d\nsteps: [{advance: soon}]", "advance"},
		{"negative duration", "name: n\ndescription: d\nsteps: [{advance: -1s}]", "must not be negative"},
		{"args without call", "name: n\ndescription: d\nsteps: [{command: {module: kv}, args: {}}]", "only valid with call"},
		{"unknown field", "name: n\ndescription: d\nstep: []", "failed to parse YAML"},
		{"unknown assertion", "name: n\ndescription: d\nsteps: [{advance: 1s}]\nassertions: [{type: final_state}]", "unknown assertion type"},
		{"count without action", "name: n\ndescription: d\nsteps: [{advance: 1s}]\nassertions: [{type: trace_count}]", "action is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "failed to read scenario file"))
}

func TestMatchIR(t *testing.T) {
	actual := ir.IRObject{
		"rows":  ir.IRArray{ir.IRObject{"id": ir.IRInt(1), "name": ir.IRString("a")}},
		"score": ir.IRFloat(1),
		"none":  ir.IRNull{},
	}
	assert.True(t, matchIR(ir.IRObject{}, actual))
	assert.True(t, matchIR(ir.IRObject{"rows": ir.IRArray{ir.IRObject{"id": ir.IRInt(1)}}}, actual))
	assert.True(t, matchIR(ir.IRObject{"score": ir.IRInt(1)}, actual))
	assert.True(t, matchIR(ir.IRObject{"none": ir.IRNull{}}, actual))
	assert.False(t, matchIR(ir.IRObject{"rows": ir.IRArray{}}, actual))
	assert.False(t, matchIR(ir.IRObject{"missing": ir.IRBool(true)}, actual))
	assert.False(t, matchIR(ir.IRObject{"score": ir.IRString("1")}, actual))
}

func TestCallsSorted(t *testing.T) {
	names := Calls()
	assert.Contains(t, names, "kv.set")
	assert.Contains(t, names, "vector.search")
	assert.IsIncreasing(t, names)
}

func TestSnapshotLayout(t *testing.T) {
	got, err := Snapshot("s", []TraceEvent{
		{Step: 1, Module: "kv", Action: "set", OK: true, Data: ir.IRObject{"ok": ir.IRBool(true)}},
		{Step: 2, Advance: "1s"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`{"name":"s","trace":[{"action":"set","data":{"ok":true},"module":"kv","ok":true,"step":1},{"advance":"1s","step":2}]}`,
		string(got))
}
