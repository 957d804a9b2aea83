package fileinfo

import (
	"crypto/md5"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// FileHash returns the installer file hash of path: the MD5 digest split
// into four little-endian 32-bit parts.
func FileHash(path string) ([4]int32, error) {
	var parts [4]int32

	f, err := os.Open(path)
	if err != nil {
		return parts, err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return parts, errors.Wrapf(err, "hashing %s", path)
	}
	sum := h.Sum(nil)

	for i := range parts {
		parts[i] = int32(binary.LittleEndian.Uint32(sum[i*4:]))
	}
	return parts, nil
}
