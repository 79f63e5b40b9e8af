package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLogPath_WorkspaceMode(t *testing.T) {
	root := t.TempDir()
	path, err := resolveLogPath(Config{WorkspaceRoot: root, LogFileLocation: "workspace"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "session.log"), path)
}

func TestResolveLogPath_DefaultsToWorkspaceWhenUnset(t *testing.T) {
	root := t.TempDir()
	path, err := resolveLogPath(Config{WorkspaceRoot: root})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "session.log"), path)
}

func TestResolveLogPath_ExtensionMode(t *testing.T) {
	root := t.TempDir()
	path, err := resolveLogPath(Config{WorkspaceRoot: root, LogFileLocation: "extension"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".stata-bridge", "session.log"), path)
}

func TestResolveLogPath_CustomRequiresDir(t *testing.T) {
	_, err := resolveLogPath(Config{WorkspaceRoot: t.TempDir(), LogFileLocation: "custom"})
	assert.Error(t, err)
}

func TestResolveLogPath_CustomMode(t *testing.T) {
	custom := t.TempDir()
	path, err := resolveLogPath(Config{
		WorkspaceRoot:   t.TempDir(),
		LogFileLocation: "custom",
		CustomLogDir:    custom,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(custom, "session.log"), path)
}

func TestResolveLogPath_UnrecognizedMode(t *testing.T) {
	_, err := resolveLogPath(Config{WorkspaceRoot: t.TempDir(), LogFileLocation: "bogus"})
	assert.Error(t, err)
}

func TestTruncateLogFile_CreatesAndEmpties(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")
	require.NoError(t, os.WriteFile(path, []byte("stale content"), 0o644))

	require.NoError(t, truncateLogFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}
