package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPurgeCommand(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "request", "Foo")
	require.NoError(t, err)

	out, err := env.run(t, "purge")
	require.NoError(t, err)
	assert.Equal(t, "Removed 0 expired record(s)\n", out)

	// TTL is delay + buffer + the default one hour grace.
	env.at(100 + 60 + 3600 + 1)
	out, err = env.run(t, "--format", "json", "purge")
	require.NoError(t, err)
	resp := decodeResponse(t, out)
	assert.Equal(t, map[string]any{"removed": float64(1)}, resp.Data)
}

func TestPurgeCommand_NoGrace(t *testing.T) {
	env := newCLIEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "bouncer.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  record_grace: 0s\n"), 0644))

	_, err := env.run(t, "--config", cfgPath, "request", "Foo")
	require.NoError(t, err)

	env.at(1e6)
	out, err := env.run(t, "--config", cfgPath, "purge")
	require.NoError(t, err)
	assert.Equal(t, "Removed 0 expired record(s)\n", out)
}

func TestPurgeCommand_MemoryStore(t *testing.T) {
	env := newCLIEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "bouncer.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  driver: memory\n"), 0644))

	out, err := env.run(t, "--config", cfgPath, "purge")
	require.NoError(t, err)
	assert.Equal(t, "Removed 0 expired record(s)\n", out)
}
