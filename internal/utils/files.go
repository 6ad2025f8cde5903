package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// renameFunc and removeFunc are swapped in tests to simulate failures.
var (
	renameFunc = os.Rename
	removeFunc = os.Remove
)

// CrossDeviceError marks a rename that failed because src and dst live on
// different filesystems.
type CrossDeviceError struct {
	Src string
	Dst string
	Err error
}

func (e *CrossDeviceError) Error() string {
	return fmt.Sprintf("cross-device rename %q -> %q: %v", e.Src, e.Dst, e.Err)
}

func (e *CrossDeviceError) Unwrap() error { return e.Err }

// Rename wraps os.Rename and tags EXDEV failures as CrossDeviceError.
func Rename(src, dst string) error {
	if err := renameFunc(src, dst); err != nil {
		if isEXDEV(err) {
			return &CrossDeviceError{Src: src, Dst: dst, Err: err}
		}
		return err
	}
	return nil
}

// ReplaceFile moves src over dst, overwriting it. When the scratch area is on
// another filesystem the content is first copied next to dst and then renamed,
// so dst is never observed half written.
func ReplaceFile(src, dst string) error {
	err := Rename(src, dst)
	if err == nil {
		return nil
	}
	var xdev *CrossDeviceError
	if !errors.As(err, &xdev) {
		return err
	}

	tmp, err := copyBeside(src, dst)
	if err != nil {
		return err
	}
	if err := renameFunc(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	_ = syncDir(filepath.Dir(dst))
	// dst is committed; a src left in the scratch area is purged before the
	// next run
	_ = removeFunc(src)
	return nil
}

func copyBeside(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return "", err
	}

	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return "", err
	}
	tmp := out.Name()
	fail := func(err error) (string, error) {
		out.Close()
		_ = os.Remove(tmp)
		return "", err
	}

	if _, err := io.Copy(out, in); err != nil {
		return fail(err)
	}
	if err := out.Chmod(fi.Mode().Perm()); err != nil {
		return fail(err)
	}
	if err := out.Sync(); err != nil {
		return fail(err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// PurgeDir removes everything inside dir and makes sure dir itself exists.
func PurgeDir(dir string) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// WaitFileStable waits until two consecutive stats, delay apart, report the
// same size. It gives up after a few cycles and returns nil.
func WaitFileStable(ctx context.Context, path string, delay time.Duration) error {
	var lastSize int64 = -1
	for i := 0; i < 5; i++ {
		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		sz := fi.Size()
		if lastSize == sz {
			return nil
		}
		lastSize = sz

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}
