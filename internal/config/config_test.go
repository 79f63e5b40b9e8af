package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	fs.String("host", "127.0.0.1", "")
	fs.Int("port", 4891, "")
	fs.String("stata-path", "", "")
	fs.Int("max-sessions", 8, "")
	return fs
}

func TestNew_DefaultsOnlyWhenNothingSet(t *testing.T) {
	cfg, err := New(newFlags(), "")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 4891, cfg.Port)
	assert.Equal(t, EditionSE, cfg.StataEdition)
	assert.Equal(t, LogFileWorkspace, cfg.LogFileLocation)
	assert.Equal(t, DisplayCompact, cfg.ResultDisplayMode)
	assert.Equal(t, 8, cfg.MaxSessions)
	assert.Equal(t, 1800, cfg.SessionTimeout)
}

func TestNew_FlagOverridesDefault(t *testing.T) {
	fs := newFlags()
	require.NoError(t, fs.Set("port", "9999"))

	cfg, err := New(fs, "")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
}

func TestNew_EnvOverridesDefaultButNotExplicitFlag(t *testing.T) {
	t.Setenv("STATA_BRIDGE_PORT", "7000")

	cfg, err := New(newFlags(), "")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port, "env should win over the unset default")

	fs := newFlags()
	require.NoError(t, fs.Set("port", "9999"))
	cfg, err = New(fs, "")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port, "an explicitly set flag still outranks env")
}

func TestNew_ConfigFileLowestPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stata-bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 5555\nstata_path: /opt/stata/stata\n"), 0o644))

	cfg, err := New(newFlags(), path)
	require.NoError(t, err)
	assert.Equal(t, 5555, cfg.Port)
	assert.Equal(t, "/opt/stata/stata", cfg.StataPath)

	fs := newFlags()
	require.NoError(t, fs.Set("port", "9999"))
	cfg, err = New(fs, path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port, "an explicitly set flag outranks the config file")
}

func TestNew_UnreadableConfigFileErrors(t *testing.T) {
	_, err := New(newFlags(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
