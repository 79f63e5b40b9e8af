package stream

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/stata-bridge/internal/engine"
)

func TestClassify_MatchesStatusMarkers(t *testing.T) {
	assert.Equal(t, "status", classify("*** Execution started ***"))
	assert.Equal(t, "status", classify("*** Execution ended ***"))
	assert.Equal(t, "stdout", classify("summarize x"))
}

func TestFrameLine_DoneIsRawText(t *testing.T) {
	f := Frame{Kind: "done", Text: `{"status":"success"}`}
	assert.Equal(t, `{"status":"success"}`, frameLine(f))
}

func TestFrameLine_OtherKindsAreJSON(t *testing.T) {
	f := Frame{Kind: "stdout", Text: "hello"}
	line := frameLine(f)

	var decoded Frame
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	assert.Equal(t, f, decoded)
}

func TestTailFrom_EmitsOnlyNewLinesAndAdvancesOffset(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "session.log")
	require.NoError(t, os.WriteFile(logPath, []byte("line one\nline two\n"), 0o644))

	rec := httptest.NewRecorder()
	offset := tailFrom(rec, rec, logPath, 0)
	assert.Greater(t, offset, int64(0))
	assert.Contains(t, rec.Body.String(), "line one")
	assert.Contains(t, rec.Body.String(), "line two")

	require.NoError(t, os.WriteFile(logPath, []byte("line one\nline two\nline three\n"), 0o644))
	rec2 := httptest.NewRecorder()
	newOffset := tailFrom(rec2, rec2, logPath, offset)
	assert.Contains(t, rec2.Body.String(), "line three")
	assert.NotContains(t, rec2.Body.String(), "line one")
	assert.Greater(t, newOffset, offset)
}

func TestTailFrom_MissingFileReturnsSameOffset(t *testing.T) {
	rec := httptest.NewRecorder()
	offset := tailFrom(rec, rec, filepath.Join(t.TempDir(), "missing.log"), 5)
	assert.Equal(t, int64(5), offset)
}

func TestEmitDone_IncludesStatusAndGraphCount(t *testing.T) {
	rec := httptest.NewRecorder()
	emitDone(rec, rec, engine.RunOutcome{
		Result: engine.Result{
			Status:  engine.StatusSuccess,
			LogPath: "/tmp/session.log",
			Graphs:  []engine.GraphRef{{Name: "graph1"}},
		},
	})

	body := rec.Body.String()
	assert.Contains(t, body, `"status":"success"`)
	assert.Contains(t, body, `"graphs":1`)
}

func TestEmitDone_IncludesErrorWhenPresent(t *testing.T) {
	rec := httptest.NewRecorder()
	emitDone(rec, rec, engine.RunOutcome{
		Result: engine.Result{Status: engine.StatusTimeout},
		Err:    assertableErr{"boom"},
	})

	assert.Contains(t, rec.Body.String(), "boom")
}

type assertableErr struct{ msg string }

func (e assertableErr) Error() string { return e.msg }
