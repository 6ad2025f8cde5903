package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/ah-its-andy/mediaconv/internal/media"
)

// Strict digests path, size and modification time (unix seconds).
func Strict(f media.File) string {
	return digest(f.Path, strconv.FormatInt(f.Size, 10), strconv.FormatInt(f.ModTime.Unix(), 10))
}

// Loose digests path and size only, so a file whose mtime was touched after
// it was recorded is still recognized.
func Loose(f media.File) string {
	return digest(f.Path, strconv.FormatInt(f.Size, 10))
}

func digest(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
