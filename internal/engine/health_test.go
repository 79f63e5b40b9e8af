package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersionLine(t *testing.T) {
	cases := []struct {
		name   string
		output string
		want   string
	}{
		{"plain version", "Stata/SE 17.0 for Unix64", "17.0"},
		{"three-part version", "Stata 18.5.2 (Revision date)", "18.5.2"},
		{"no version token", "no digits here at all", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseVersionLine(tc.output))
		})
	}
}

func TestCoerceSemver(t *testing.T) {
	assert.Equal(t, "17.0.0", coerceSemver("17.0"))
	assert.Equal(t, "17.0.0", coerceSemver("17"))
	assert.Equal(t, "18.5.2", coerceSemver("18.5.2"))
}

func TestMeetsMinimum(t *testing.T) {
	ok, err := meetsMinimum("18.5.2", "17.0.0")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = meetsMinimum("16.1", "17.0.0")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = meetsMinimum("17.0.0", "17.0.0")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMeetsMinimum_InvalidVersionErrors(t *testing.T) {
	_, err := meetsMinimum("not-a-version", "17.0.0")
	assert.Error(t, err)
}
