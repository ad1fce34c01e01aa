package cgi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNPH(t *testing.T) {
	assert.True(t, IsNPH("/var/www/nph-stream.cgi"))
	assert.False(t, IsNPH("/var/www/app.cgi"))
}

func TestCheckPermissionsRejectsGroupWritable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.cgi")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0775))
	// WriteFile's mode is filtered by the umask; set the group-write bit explicitly.
	require.NoError(t, os.Chmod(path, 0775))
	info, err := os.Stat(path)
	require.NoError(t, err)

	assert.ErrorIs(t, CheckPermissions(info), ErrWritable)
}

func TestCheckPermissionsAllowsOwnerOnlyWritable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.cgi")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))
	info, err := os.Stat(path)
	require.NoError(t, err)

	assert.NoError(t, CheckPermissions(info))
}

func TestIsExecutable(t *testing.T) {
	dir := t.TempDir()
	execPath := filepath.Join(dir, "app.cgi")
	require.NoError(t, os.WriteFile(execPath, []byte("#!/bin/sh\n"), 0755))
	info, _ := os.Stat(execPath)
	assert.True(t, IsExecutable(info))

	plainPath := filepath.Join(dir, "plain.html")
	require.NoError(t, os.WriteFile(plainPath, []byte("hi"), 0644))
	info2, _ := os.Stat(plainPath)
	assert.False(t, IsExecutable(info2))
}
