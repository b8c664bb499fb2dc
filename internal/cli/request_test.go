package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bouncer/internal/testutil"
)

// cliEnv runs commands through the root command against one SQLite file,
// a fake clock and sequential job IDs.
type cliEnv struct {
	opts   *RootOptions
	clock  *testutil.FakeClock
	dbPath string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	clk := testutil.NewFakeClockAt(100)
	return &cliEnv{
		opts: &RootOptions{
			Clock: clk,
			IDs:   testutil.NewSequentialIDGenerator("job"),
		},
		clock:  clk,
		dbPath: filepath.Join(t.TempDir(), "bouncer.db"),
	}
}

// run executes args with --db set and returns stdout.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := newRootCommand(e.opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--db", e.dbPath}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

// at moves the fake clock to epoch seconds s.
func (e *cliEnv) at(s float64) {
	e.clock.Set(testutil.NewFakeClockAt(s).Now())
}

func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func TestRequestCommand_Scheduled(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "request", "Foo", "1", "2")
	require.NoError(t, err)
	assert.Equal(t, "scheduled Foo:1,2: fires at 160, job runs at 160.01\n", out)
}

func TestRequestCommand_Skipped(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "request", "Foo")
	require.NoError(t, err)

	env.at(101)
	out, err := env.run(t, "request", "Foo")
	require.NoError(t, err)
	assert.Equal(t, "skipped Foo:: job already pending for 160\n", out)
}

func TestRequestCommand_DelayFlag(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "request", "Foo", "--delay", "5s")
	require.NoError(t, err)
	assert.Contains(t, out, "fires at 105, job runs at 105.01")

	out, err = env.run(t, "request", "Bar", "--delay", "0s")
	require.NoError(t, err)
	assert.Contains(t, out, "fires at 100, job runs at 100.01")
}

func TestRequestCommand_NegativeDelay(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "request", "Foo", "--delay", "-1s")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "negative")
}

func TestRequestCommand_EmptyTopic(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "request", " ")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRequestCommand_FirstRun(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "request", "Sync", "acct-1", "--first-run")
	require.NoError(t, err)
	assert.Equal(t, "dispatched Sync:acct-1: first run at 100\n", out)

	env.at(110)
	out, err = env.run(t, "request", "Sync", "acct-1", "--first-run")
	require.NoError(t, err)
	assert.Equal(t, "scheduled Sync:acct-1: fires at 170, job runs at 170.01\n", out)
}

func TestRequestCommand_JSON(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "--format", "json", "request", "Foo", "7")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{
		"key":      "Foo:7",
		"decision": "scheduled",
		"fire_at":  "160",
		"run_at":   "160.01",
	}, resp.Data)
}

func TestRequestCommand_ConfigFile(t *testing.T) {
	env := newCLIEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "bouncer.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("debounce:\n  delay: 10s\n  buffer: 1s\n"), 0644))

	out, err := env.run(t, "--config", cfgPath, "request", "Foo")
	require.NoError(t, err)
	assert.Contains(t, out, "fires at 110, job runs at 111")
}

func TestRequestCommand_BadConfig(t *testing.T) {
	env := newCLIEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "bouncer.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("debounce:\n  delay: soon\n"), 0644))

	_, err := env.run(t, "--config", cfgPath, "request", "Foo")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRequestCommand_MissingTopic(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "request")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}
