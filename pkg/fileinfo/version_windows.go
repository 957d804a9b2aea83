//go:build windows
// +build windows

package fileinfo

import (
	"fmt"
	"os"
	"strconv"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// SystemVersionReader asks the operating system for version resources.
type SystemVersionReader struct{}

func DefaultVersionReader() VersionReader {
	return SystemVersionReader{}
}

func (SystemVersionReader) FileVersion(path string) (string, string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", "", err
	}

	var zero windows.Handle
	size, err := windows.GetFileVersionInfoSize(path, &zero)
	if err != nil || size == 0 {
		// ERROR_RESOURCE_TYPE_NOT_FOUND and friends: unversioned.
		return "", "", nil
	}

	buf := make([]byte, size)
	if err := windows.GetFileVersionInfo(path, 0, size, unsafe.Pointer(&buf[0])); err != nil {
		return "", "", errors.Wrapf(err, "reading version info of %s", path)
	}

	var (
		fixed    *windows.VS_FIXEDFILEINFO
		fixedLen uint32
	)
	if err := windows.VerQueryValue(unsafe.Pointer(&buf[0]), `\`, unsafe.Pointer(&fixed), &fixedLen); err != nil || fixedLen == 0 {
		return "", "", nil
	}

	version := fmt.Sprintf("%d.%d.%d.%d",
		fixed.FileVersionMS>>16, fixed.FileVersionMS&0xFFFF,
		fixed.FileVersionLS>>16, fixed.FileVersionLS&0xFFFF,
	)

	language := ""
	var (
		translation    *uint16
		translationLen uint32
	)
	if err := windows.VerQueryValue(unsafe.Pointer(&buf[0]), `\VarFileInfo\Translation`, unsafe.Pointer(&translation), &translationLen); err == nil && translationLen >= 4 {
		language = strconv.Itoa(int(*translation))
	}

	return version, language, nil
}
