package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServeFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()

	cmd := &cobra.Command{}
	addRootFlags(cmd.Flags())
	addServeFlags(cmd.Flags())
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pbdgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("serial:\n  port: /dev/ttyUSB1\ncommand:\n  addr: \":7000\"\n"), 0o600))

	cmd := newServeFlags(t, "--config", path, "--port", "none", "--http-addr", "")
	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "none", cfg.Serial.Port)
	assert.Equal(t, ":7000", cfg.Command.Addr)
	assert.Equal(t, ":6001", cfg.State.Addr)
	assert.Empty(t, cfg.HTTP.Addr)
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("PBDGATE_STATE_ADDR", "127.0.0.1:9001")

	cfg, err := loadConfig(newServeFlags(t, "--state-addr", "127.0.0.1:9002"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9002", cfg.State.Addr)

	cfg, err = loadConfig(newServeFlags(t))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9001", cfg.State.Addr)
}

func TestLoadConfigInvalid(t *testing.T) {
	_, err := loadConfig(newServeFlags(t, "--baud-rate", "-1"))
	assert.ErrorContains(t, err, "serial.baud_rate must be positive")
}
