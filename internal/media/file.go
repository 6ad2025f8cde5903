package media

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// File is a candidate file as seen by discovery.
type File struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Dir returns the directory grouping key.
func (f File) Dir() string {
	return filepath.Dir(f.Path)
}

// Name returns the base name of the file.
func (f File) Name() string {
	return filepath.Base(f.Path)
}

// Stat builds a File from the current on-disk state of path.
func Stat(path string) (File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return File{}, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return File{}, err
	}
	if fi.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", abs)
	}
	return FromInfo(abs, fi), nil
}

// FromInfo builds a File from an already obtained FileInfo.
func FromInfo(path string, fi os.FileInfo) File {
	return File{Path: filepath.Clean(path), Size: fi.Size(), ModTime: fi.ModTime()}
}
