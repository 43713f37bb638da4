package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestExists(t *testing.T) {
	f := New()
	dir := t.TempDir()

	file := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("data"), 0o644))

	executable := filepath.Join(dir, "tool")
	require.NoError(t, os.WriteFile(executable, []byte("#!/bin/sh\n"), 0o755))

	t.Run("DirExists", func(t *testing.T) {
		exists, err := f.DirExists(dir)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = f.DirExists(file)
		require.NoError(t, err)
		assert.False(t, exists)

		exists, err = f.DirExists(filepath.Join(dir, "missing"))
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("FileExists", func(t *testing.T) {
		exists, err := f.FileExists(file)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = f.FileExists(dir)
		require.NoError(t, err)
		assert.False(t, exists)

		exists, err = f.FileExists(filepath.Join(dir, "missing"))
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("ExecutableExists", func(t *testing.T) {
		exists, err := f.ExecutableExists(executable)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = f.ExecutableExists(file)
		require.NoError(t, err)
		assert.False(t, exists)

		exists, err = f.ExecutableExists(filepath.Join(dir, "missing"))
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestReadWrite(t *testing.T) {
	f := New()
	dir := t.TempDir()

	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, f.MkdirAll(nested))

	name := filepath.Join(nested, "file.txt")
	require.NoError(t, f.WriteFile(name, "content"))

	data, err := f.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	tmp, err := f.MkdirTemp(dir, "scratch-")
	require.NoError(t, err)
	require.NoError(t, f.RemoveAll(tmp))
	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, f.Remove(name))
	_, err = os.Stat(name)
	assert.True(t, os.IsNotExist(err))
}
