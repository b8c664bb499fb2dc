package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bouncer/internal/bouncer"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestRunOnce_NothingDue(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "request", "Foo")
	require.NoError(t, err)

	out, err := env.run(t, "run", "--once")
	require.NoError(t, err)
	assert.Equal(t, "Claimed 0: 0 done, 0 superseded, 0 failed\n", out)
}

func TestRunOnce_BurstRunsOnce(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "request", "Foo", "1")
	require.NoError(t, err)
	env.at(105)
	_, err = env.run(t, "request", "Foo", "1")
	require.NoError(t, err)

	env.at(162)
	out, err := env.run(t, "run", "--once")
	require.NoError(t, err)
	assert.Equal(t, "Claimed 1: 0 done, 1 superseded, 0 failed\n", out)

	env.at(170)
	out, err = env.run(t, "--format", "json", "run", "--once")
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	assert.Equal(t, map[string]any{
		"claimed":    float64(1),
		"done":       float64(1),
		"superseded": float64(0),
		"failed":     float64(0),
	}, resp.Data)
}

func TestRunOnce_Exec(t *testing.T) {
	env := newCLIEnv(t)
	script := writeScript(t, `echo "$BOUNCER_TOPIC $BOUNCER_KEY $BOUNCER_JOB_ID $*"`)

	_, err := env.run(t, "request", "Foo", "1", "2")
	require.NoError(t, err)

	env.at(161)
	out, err := env.run(t, "run", "--once", "--exec", script)
	require.NoError(t, err)
	assert.Contains(t, out, "Foo Foo:1,2 job-1 1 2\n")
	assert.Contains(t, out, "Claimed 1: 1 done")
}

func TestRunOnce_ExecFailure(t *testing.T) {
	env := newCLIEnv(t)
	script := writeScript(t, "exit 3")

	_, err := env.run(t, "request", "Foo")
	require.NoError(t, err)

	env.at(161)
	out, err := env.run(t, "run", "--once", "--exec", script)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "1 failed")

	out, err = env.run(t, "--format", "json", "jobs", "--status", "failed")
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	job := resp.Data.(map[string]any)["jobs"].([]any)[0].(map[string]any)
	assert.Contains(t, job["last_error"], "exit status 3")
}

func TestRunStopsOnCancel(t *testing.T) {
	env := newCLIEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	buf := &bytes.Buffer{}
	cmd := newRootCommand(env.opts)
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--db", env.dbPath, "run"})

	err := cmd.ExecuteContext(ctx)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Worker started")
}

func TestRunRejectsArgs(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "run", "extra")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestJobHandler_NoCommandLogs(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, nil))

	fn := jobHandler("", logger, io.Discard, io.Discard)
	err := fn(context.Background(), bouncer.Job{ID: "job-9", Identity: bouncer.NewIdentity("Foo", 1)})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "job performed")
	assert.Contains(t, buf.String(), "key=Foo:1")
}

func TestJobHandler_ExtraArguments(t *testing.T) {
	script := writeScript(t, `echo "$*"`)
	out := &bytes.Buffer{}

	fn := jobHandler(script+" --flag", slog.New(slog.NewTextHandler(io.Discard, nil)), out, io.Discard)
	err := fn(context.Background(), bouncer.Job{ID: "job-1", Identity: bouncer.NewIdentity("Foo", "a")})
	require.NoError(t, err)
	assert.Equal(t, "--flag a\n", out.String())
}
