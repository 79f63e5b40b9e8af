package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildViewDataScript_IncludesIfClause(t *testing.T) {
	script := buildViewDataScript("age > 30", 100, "/tmp/out.csv", "/tmp/out.total")
	assert.Contains(t, script, "quietly count if age > 30")
	assert.Contains(t, script, "quietly keep if age > 30")
	assert.Contains(t, script, "export delimited using")
}

func TestBuildViewDataScript_OmitsIfClauseWhenEmpty(t *testing.T) {
	script := buildViewDataScript("", 50, "/tmp/out.csv", "/tmp/out.total")
	assert.NotContains(t, script, "count if ")
	assert.NotContains(t, script, "keep if ")
	assert.Contains(t, script, "quietly count\n")
}

func TestParseViewDataOutput_ReshapesColumnMajor(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out.csv")
	totalPath := filepath.Join(dir, "out.total")

	require.NoError(t, os.WriteFile(csvPath, []byte("age,income\n30,50000\n40,60000\n"), 0o644))
	require.NoError(t, os.WriteFile(totalPath, []byte("2\n"), 0o644))

	view, err := parseViewDataOutput(csvPath, totalPath, 500)
	require.NoError(t, err)

	assert.Equal(t, []string{"age", "income"}, view.Columns)
	require.Len(t, view.Rows, 2)
	assert.Equal(t, []string{"30", "40"}, view.Rows[0])
	assert.Equal(t, []string{"50000", "60000"}, view.Rows[1])
	assert.Equal(t, 2, view.DisplayedRows)
	assert.Equal(t, 2, view.TotalRows)
	assert.Equal(t, 500, view.MaxRows)
}

func TestParseViewDataOutput_EmptyCSV(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out.csv")
	totalPath := filepath.Join(dir, "out.total")
	require.NoError(t, os.WriteFile(csvPath, []byte(""), 0o644))
	require.NoError(t, os.WriteFile(totalPath, []byte("0"), 0o644))

	view, err := parseViewDataOutput(csvPath, totalPath, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, view.MaxRows)
	assert.Empty(t, view.Columns)
}

func TestParseViewDataOutput_FallsBackToDisplayedWhenTotalMissing(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("a\n1\n2\n"), 0o644))

	view, err := parseViewDataOutput(csvPath, filepath.Join(dir, "missing.total"), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, view.TotalRows)
}

func TestBuildViewDataScript_QuotesPaths(t *testing.T) {
	script := buildViewDataScript("", 10, "/tmp/a b.csv", "/tmp/a b.total")
	assert.True(t, strings.Contains(script, "'/tmp/a b.csv'") || strings.Contains(script, `"/tmp/a b.csv"`))
}
