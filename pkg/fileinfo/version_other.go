//go:build !windows
// +build !windows

package fileinfo

func DefaultVersionReader() VersionReader {
	return PEVersionReader{}
}
