package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckDiskSpace(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tmpl := writeTemplate(t, dir, 50, 50)
	info, err := os.Stat(tmpl)
	require.NoError(t, err)

	check, err := CheckDiskSpace(filepath.Join(dir, "not", "yet", "created"), tmpl, 3)
	require.NoError(t, err)

	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	assert.Equal(t, abs, check.Path)
	assert.Equal(t, uint64(info.Size())*6, check.Needed)
	assert.Positive(t, check.Free)
	assert.True(t, check.Enough())
}

func TestCheckDiskSpace_MissingTemplate(t *testing.T) {
	t.Parallel()

	_, err := CheckDiskSpace(t.TempDir(), filepath.Join(t.TempDir(), "missing.png"), 1)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
