package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeDirCommand_StripsTrailingSeparator(t *testing.T) {
	assert.Equal(t, `cd /a/b`, changeDirCommand("/a/b/"))
	assert.Equal(t, `cd /a/b`, changeDirCommand("/a/b"))
}

func TestChangeDirCommand_QuotesSpaces(t *testing.T) {
	cmd := changeDirCommand("/a dir/b")
	assert.Contains(t, cmd, "a dir/b")
	assert.True(t, len(cmd) > len("cd /a dir/b"))
}

func TestClassifyExit(t *testing.T) {
	deadline, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-deadline.Done()
	assert.Equal(t, outcomeTimedOut, classifyExit(deadline, context.DeadlineExceeded))

	canceled, cancelFn := context.WithCancel(context.Background())
	cancelFn()
	assert.Equal(t, outcomeCancelled, classifyExit(canceled, context.Canceled))

	assert.Equal(t, outcomeCompleted, classifyExit(context.Background(), nil))
}

func TestWriteDoFile_IncludesMarkersAndGraphExportLoop(t *testing.T) {
	dir := t.TempDir()
	graphsDir := filepath.Join(dir, "graphs")
	logPath := filepath.Join(dir, "session.log")

	path, err := writeDoFile(dir, "summarize x", logPath, graphsDir, "")
	require.NoError(t, err)
	defer os.Remove(path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(content)

	assert.Contains(t, body, execStartMarker)
	assert.Contains(t, body, execEndMarker)
	assert.Contains(t, body, graphsDetectedHeader)
	assert.Contains(t, body, graphsDetectedFooter)
	assert.Contains(t, body, "summarize x")
	assert.Contains(t, body, "graph drop _all")
	assert.Contains(t, body, "foreach __g of local __graphs {")
	assert.Contains(t, body, "graph export")
	assert.Contains(t, body, "capture noisily {")
	assert.Contains(t, body, "local __rc = _rc")
	assert.Contains(t, body, "RC=`__rc'")
}

func TestDetectEngineError_NoMarkerMeansNoFailure(t *testing.T) {
	rc, failed := detectEngineError("some output\nno marker here\n")
	assert.False(t, failed)
	assert.Empty(t, rc)
}

func TestDetectEngineError_ZeroRCMeansSuccess(t *testing.T) {
	rc, failed := detectEngineError("*** RC=0 ***\n")
	assert.False(t, failed)
	assert.Empty(t, rc)
}

func TestDetectEngineError_NonzeroRCMeansFailure(t *testing.T) {
	rc, failed := detectEngineError("some log text\n*** RC=198 ***\nmore text\n")
	assert.True(t, failed)
	assert.Equal(t, "198", rc)
}

func TestDetectEngineError_UsesLastMarkerWhenMultiplePresent(t *testing.T) {
	rc, failed := detectEngineError("*** RC=198 ***\n*** RC=0 ***\n")
	assert.False(t, failed)
	assert.Empty(t, rc)

	rc, failed = detectEngineError("*** RC=0 ***\n*** RC=111 ***\n")
	assert.True(t, failed)
	assert.Equal(t, "111", rc)
}

func TestWriteDoFile_IncludesChangeDirWhenSet(t *testing.T) {
	dir := t.TempDir()
	path, err := writeDoFile(dir, "di 1", filepath.Join(dir, "s.log"), filepath.Join(dir, "graphs"), "cd /tmp")
	require.NoError(t, err)
	defer os.Remove(path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "cd /tmp")
}
