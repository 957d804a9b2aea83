//go:build !windows
// +build !windows

package mergemod

func Default() Provider {
	return NewMsitools()
}
