package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const harnessTestdata = "../harness/testdata"

const failingScenario = `
name: wrong_expectation
description: "Expects a reply that never happens"
handlers:
  - name: echo
    type: keyword
    options:
      pattern: "^echo$"
      response: "echo"
steps:
  - deliver: { id: c1, kind: comment, author: alice, scope: pics, body: "no" }
assertions:
  - type: trace_contains
    event: reply
    item: c1
`

// scenarioDir copies the named harness scenarios into a temp dir, with their
// golden files when withGolden is set.
func scenarioDir(t *testing.T, withGolden bool, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(harnessTestdata, "scenarios", name+".yaml"))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), data, 0o644))

		if withGolden {
			golden, err := os.ReadFile(filepath.Join(harnessTestdata, "golden", name+".golden"))
			require.NoError(t, err)
			require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", name+".golden"), golden, 0o644))
		}
	}
	return dir
}

func executeTest(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"test"}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommand_PassingScenarios(t *testing.T) {
	dir := scenarioDir(t, true, "echo_reply", "deferred_update")

	out, err := executeTest(t, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ echo_reply")
	assert.Contains(t, out, "✓ deferred_update")
	assert.Contains(t, out, "2 passed, 0 failed, 2 total")
}

func TestTestCommand_Filter(t *testing.T) {
	dir := scenarioDir(t, false, "echo_reply", "deferred_update")

	out, err := executeTest(t, dir, "--filter", "echo_*")
	require.NoError(t, err)
	assert.Contains(t, out, "echo_reply")
	assert.NotContains(t, out, "deferred_update")
	assert.Contains(t, out, "1 total")
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(failingScenario), 0o644))

	out, err := executeTest(t, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_expectation")
	assert.Contains(t, out, "0 passed, 1 failed, 1 total")
}

func TestTestCommand_GoldenMismatch(t *testing.T) {
	dir := scenarioDir(t, false, "echo_reply")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0o755))
	stale := filepath.Join(dir, "golden", "echo_reply.golden")
	require.NoError(t, os.WriteFile(stale, []byte("{}\n"), 0o644))

	out, err := executeTest(t, dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_UpdateWritesGolden(t *testing.T) {
	dir := scenarioDir(t, false, "echo_reply")

	out, err := executeTest(t, dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "(golden updated)")

	written, err := os.ReadFile(filepath.Join(dir, "golden", "echo_reply.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(harnessTestdata, "golden", "echo_reply.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	// A second run compares against the file just written.
	_, err = executeTest(t, dir)
	require.NoError(t, err)
}

func TestTestCommand_JSON(t *testing.T) {
	dir := scenarioDir(t, false, "echo_reply")

	out, err := executeTest(t, "--format", "json", dir)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "echo_reply", resp.Data.Scenarios[0].Name)
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := executeTest(t, filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommand_EmptyDir(t *testing.T) {
	out, err := executeTest(t, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("scenarios", "golden", "echo.golden"), goldenFilePath(filepath.Join("scenarios", "echo.yaml")))
	assert.Equal(t, filepath.Join("golden", "ban.golden"), goldenFilePath("ban.yml"))
}
