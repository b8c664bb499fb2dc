package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bouncer/internal/bouncer"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bouncer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "bouncer.db", cfg.Store.Path)
	assert.Equal(t, 60*time.Second, cfg.Debounce.Delay)
	assert.Equal(t, 10*time.Millisecond, cfg.Debounce.Buffer)
	assert.Equal(t, 2*time.Second, cfg.Debounce.SkipBuffer)
	assert.True(t, cfg.Debounce.SkipCheck)
	assert.False(t, cfg.Debounce.FirstRun)
	assert.Equal(t, "sqlite", cfg.Scheduler.Backend)
	assert.Equal(t, "localhost:7233", cfg.Scheduler.Temporal.HostPort)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_ValidFile(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: memory
debounce:
  delay: 5m
  buffer: 1s
  skip_check: false
  first_run: true
worker:
  poll_interval: 1s
  batch_size: 10
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Debounce.Delay)
	assert.Equal(t, time.Second, cfg.Debounce.Buffer)
	assert.Equal(t, 2*time.Second, cfg.Debounce.SkipBuffer, "unset keys keep defaults")
	assert.False(t, cfg.Debounce.SkipCheck)
	assert.True(t, cfg.Debounce.FirstRun)
	assert.Equal(t, time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 10, cfg.Worker.BatchSize)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("BOUNCER_TEST_DSN", "postgres://bouncer@localhost/bouncer")
	path := writeConfig(t, `
store:
  driver: postgres
  dsn: "${BOUNCER_TEST_DSN}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://bouncer@localhost/bouncer", cfg.Store.DSN)
}

func TestLoad_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown top-level key", "cache:\n  size: 1\n"},
		{"unknown nested key", "debounce:\n  window: 5s\n"},
		{"wrong type", "worker:\n  batch_size: many\n"},
		{"bad enum", "store:\n  driver: redis\n"},
		{"bad duration", "debounce:\n  delay: soon\n"},
		{"negative batch", "worker:\n  batch_size: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSchema)

			var ce *Error
			require.ErrorAs(t, err, &ce)
			assert.NotEmpty(t, ce.Details)
		})
	}
}

func TestLoad_ValidatorRules(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"postgres without dsn", "store:\n  driver: postgres\n", "DSN"},
		{"sqlite without path", "store:\n  path: \"\"\n", "Path"},
		{"zero poll interval", "worker:\n  poll_interval: 0s\n", "PollInterval"},
		{"empty task queue", "scheduler:\n  temporal:\n    task_queue: \"\"\n", "TaskQueue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)

			var ce *Error
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, path, ce.Path)
			require.NotEmpty(t, ce.Details)
			assert.Contains(t, ce.Details[0], tt.field)
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/bouncer.yaml")
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	const name = "BOUNCER_TEST_FROM_DOTENV"
	require.NoError(t, os.Unsetenv(name))
	t.Cleanup(func() { os.Unsetenv(name) })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(name+"=hello\n"), 0o644))

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "hello", os.Getenv(name))

	assert.Error(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func TestDebouncerOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debounce.Delay = 5 * time.Second
	cfg.Debounce.Buffer = time.Second

	d := bouncer.New(nil, nil, cfg.DebouncerOptions()...)
	assert.Equal(t, 5*time.Second, d.Delay())
	assert.Equal(t, time.Second, d.Buffer())
}
