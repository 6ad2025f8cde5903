package converter

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// DefaultFooterWindow is how many trailing bytes are searched for a marker.
const DefaultFooterWindow int64 = 64 * 1024

// HasFooterMarker reports whether the last window bytes of path contain
// marker and, when tag is non-empty, the provenance tag as well. Muxers that
// write their metadata at the tail (mp4 without faststart, mkv tags, ...)
// leave both there.
func HasFooterMarker(path, marker, tag string, window int64) (bool, error) {
	if marker == "" {
		return false, nil
	}
	if window <= 0 {
		window = DefaultFooterWindow
	}

	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return false, err
	}
	offset := fi.Size() - window
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return false, err
	}
	tail, err := io.ReadAll(io.LimitReader(f, window))
	if err != nil {
		return false, fmt.Errorf("read tail of %s: %w", path, err)
	}

	if !bytes.Contains(tail, []byte(marker)) {
		return false, nil
	}
	if tag != "" && !bytes.Contains(tail, []byte(tag)) {
		return false, nil
	}
	return true, nil
}
