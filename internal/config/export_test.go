package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDumpYAML_RoundTrips(t *testing.T) {
	cfg := &Config{Host: "0.0.0.0", Port: 1234, StataEdition: EditionMP, MaxSessions: 3}

	var buf bytes.Buffer
	require.NoError(t, DumpYAML(cfg, &buf))

	var decoded Config
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, *cfg, decoded)
}

func TestWriteScaffold_CreatesFileWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scaffold.toml")
	require.NoError(t, WriteScaffold(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "host")
	assert.Contains(t, string(content), "127.0.0.1")
}

func TestWriteScaffold_FailsIfFileExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scaffold.toml")
	require.NoError(t, WriteScaffold(path))

	err := WriteScaffold(path)
	assert.Error(t, err)
}
