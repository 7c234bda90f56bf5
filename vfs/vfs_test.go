//go:build linux || darwin
// +build linux darwin

package vfs

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndStat(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0640))

	accessor, err := NewAccessor()
	require.NoError(t, err)

	stat, err := accessor.Lstat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stat.Size)
	assert.False(t, stat.IsDir)
	assert.NotZero(t, stat.Inode)
	assert.False(t, stat.ModTime.IsZero())
	assert.False(t, stat.Atime.IsZero())
	assert.False(t, stat.Ctime.IsZero())

	fd, err := accessor.Open(path)
	require.NoError(t, err)
	defer fd.Close()

	data, err := io.ReadAll(fd)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestReadDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "a"), []byte("1"), 0600))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0700))

	accessor, err := NewAccessor()
	require.NoError(t, err)

	entries, err := accessor.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := map[string]*Entry{}
	for _, entry := range entries {
		byName[entry.Info.Name] = entry
	}
	assert.False(t, byName["a"].Info.IsDir)
	assert.True(t, byName["sub"].Info.IsDir)
}

func TestErrorClassification(t *testing.T) {
	accessor, err := NewAccessor()
	require.NoError(t, err)

	_, err = accessor.Open(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = accessor.Lstat(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSymlinkTarget(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "target")
	link := filepath.Join(root, "link")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0600))
	require.NoError(t, os.Symlink(target, link))

	accessor, err := NewAccessor()
	require.NoError(t, err)

	stat, err := accessor.Lstat(link)
	require.NoError(t, err)
	assert.Equal(t, target, stat.LinkTarget)
}
