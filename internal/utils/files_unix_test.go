//go:build unix

package utils

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceFileCrossDeviceFallback(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scratch.mp4")
	dst := filepath.Join(dir, "movie.mp4")
	require.NoError(t, os.WriteFile(src, []byte("converted"), 0o600))

	calls := 0
	renameFunc = func(oldpath, newpath string) error {
		calls++
		if calls == 1 {
			return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EXDEV}
		}
		return os.Rename(oldpath, newpath)
	}
	t.Cleanup(func() { renameFunc = os.Rename })

	require.NoError(t, ReplaceFile(src, dst))
	assert.Equal(t, 2, calls)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "converted", string(got))
	assert.NoFileExists(t, src)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp file left behind")
}

func TestReplaceFileCrossDeviceKeepsResultWhenSourceStays(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scratch.mp4")
	dst := filepath.Join(dir, "movie.mp4")
	require.NoError(t, os.WriteFile(src, []byte("converted"), 0o600))

	calls := 0
	renameFunc = func(oldpath, newpath string) error {
		calls++
		if calls == 1 {
			return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EXDEV}
		}
		return os.Rename(oldpath, newpath)
	}
	removeFunc = func(name string) error {
		return &os.PathError{Op: "remove", Path: name, Err: syscall.EROFS}
	}
	t.Cleanup(func() {
		renameFunc = os.Rename
		removeFunc = os.Remove
	})

	require.NoError(t, ReplaceFile(src, dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "converted", string(got))
	assert.FileExists(t, src, "left for the next scratch purge")
}

func TestRenameTagsCrossDevice(t *testing.T) {
	renameFunc = func(oldpath, newpath string) error {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EXDEV}
	}
	t.Cleanup(func() { renameFunc = os.Rename })

	err := Rename("a", "b")
	var xdev *CrossDeviceError
	require.ErrorAs(t, err, &xdev)
	assert.Equal(t, "a", xdev.Src)
	assert.ErrorIs(t, err, syscall.EXDEV)
}
