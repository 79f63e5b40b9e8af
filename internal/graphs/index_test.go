package graphs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/stata-bridge/internal/graphs"
)

func writeGraphFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
}

func TestScan_ParsesLogBlock(t *testing.T) {
	dir := t.TempDir()
	writeGraphFile(t, dir, "scatter1.png")
	writeGraphFile(t, dir, "hist1.png")

	log := "some stata output\n" +
		"*** GRAPHS DETECTED ***\n" +
		"scatter1.png\n" +
		"hist1.png\n" +
		"*** END GRAPHS ***\n" +
		"more output\n"

	idx := graphs.NewIndex()
	refs := idx.Scan(dir, log)

	require.Len(t, refs, 2)
	assert.Equal(t, "scatter1", refs[0].Name)
	assert.Equal(t, 1, refs[0].Sequence)
	assert.Equal(t, "hist1", refs[1].Name)
	assert.Equal(t, 2, refs[1].Sequence)
	assert.Equal(t, filepath.Join(dir, "scatter1.png"), refs[0].AbsolutePath)
}

func TestScan_FallsBackToDirListingWhenBlockMissing(t *testing.T) {
	dir := t.TempDir()
	writeGraphFile(t, dir, "b.svg")
	writeGraphFile(t, dir, "a.png")
	writeGraphFile(t, dir, "notes.txt")

	idx := graphs.NewIndex()
	refs := idx.Scan(dir, "no graphs block in this log")

	require.Len(t, refs, 2)
	assert.Equal(t, "a", refs[0].Name)
	assert.Equal(t, "b", refs[1].Name)
}

func TestScan_ReplacesPriorRegistryEachRun(t *testing.T) {
	dir := t.TempDir()
	writeGraphFile(t, dir, "first.png")
	writeGraphFile(t, dir, "second.png")

	idx := graphs.NewIndex()

	first := idx.Scan(dir, "*** GRAPHS DETECTED ***\nfirst.png\n*** END GRAPHS ***\n")
	require.Len(t, first, 1)

	second := idx.Scan(dir, "*** GRAPHS DETECTED ***\nsecond.png\n*** END GRAPHS ***\n")
	require.Len(t, second, 1)
	assert.Equal(t, "second", second[0].Name)
}

func TestScan_EmptyBlockYieldsNoGraphs(t *testing.T) {
	dir := t.TempDir()
	idx := graphs.NewIndex()
	refs := idx.Scan(dir, "*** GRAPHS DETECTED ***\n*** END GRAPHS ***\n")
	assert.Empty(t, refs)
}
