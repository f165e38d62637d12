package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: counter
description: "incrby accumulates"
steps:
  - call: kv.incrby
    args: { key: n, delta: 2 }
  - call: kv.incrby
    args: { key: n }
    expect:
      data: { value: 3 }
`

const failingScenario = `name: wrong
description: "a wrong expectation"
steps:
  - call: kv.get
    args: { key: missing }
    expect:
      data: { found: true }
`

func writeScenario(t *testing.T, dir, file, body string) string {
	t.Helper()
	path := filepath.Join(dir, file)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := run(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentPath(t *testing.T) {
	_, err := run(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario path not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := run(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")

	out, err = run(t, "test", t.TempDir(), "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, `{"data":{"failed":0,"pass":true,"passed":0,"scenarios":[],"total":0},"ok":true}`+"\n", out)
}

func TestTestCommandGoldenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "counter.yaml", passingScenario)

	out, err := run(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ counter (golden updated)")

	golden := filepath.Join(dir, "golden", "counter.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name":"counter"`)

	out, err = run(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ counter")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "All scenarios passed")

	require.NoError(t, os.WriteFile(golden, []byte(`{"name":"counter","trace":[]}`), 0o644))
	out, err = run(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandFailures(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "counter.yaml", passingScenario)
	writeScenario(t, dir, "wrong.yml", failingScenario)
	writeScenario(t, dir, "broken.yaml", "name: [")
	writeScenario(t, dir, "notes.txt", "ignored")

	out, err := run(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong")
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
	assert.Contains(t, out, "Test Summary: 1 passed, 2 failed, 3 total")

	out, err = run(t, "test", dir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `"failed":2`)
	assert.Contains(t, out, `"pass":false`)
	assert.Contains(t, out, `"name":"wrong","pass":false}`)
}

func TestTestCommandFilterAndFile(t *testing.T) {
	dir := t.TempDir()
	counter := writeScenario(t, dir, "counter.yaml", passingScenario)
	writeScenario(t, dir, "wrong.yaml", failingScenario)

	out, err := run(t, "test", dir, "--filter", "count*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")

	out, err = run(t, "test", counter)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ counter")

	_, err = run(t, "test", dir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
