package transfer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryCreate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, ok := TryCreate(filepath.Join(dir, "a.cab"), filepath.Join(dir, "a.cab"), false, TypeCabinet, "")
	require.False(t, ok)

	_, ok = TryCreate(filepath.Join(dir, "A.CAB"), filepath.Join(dir, "a.cab"), false, TypeCabinet, "")
	require.False(t, ok, "comparison is case-insensitive")

	ft, ok := TryCreate(filepath.Join(dir, "a.cab"), filepath.Join(dir, "out", "a.cab"), true, TypeCabinet, "p.wxs(1)")
	require.True(t, ok)
	require.True(t, ft.Move)
	require.False(t, ft.Built)
	require.Equal(t, TypeCabinet, ft.Type)
	require.True(t, filepath.IsAbs(ft.Destination))
}

func TestApply(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := t.TempDir()

	copied := filepath.Join(src, "copied.txt")
	moved := filepath.Join(src, "moved.txt")
	require.NoError(t, os.WriteFile(copied, []byte("copy me"), 0644))
	require.NoError(t, os.WriteFile(moved, []byte("move me"), 0644))

	transfers := []*FileTransfer{
		{Source: copied, Destination: filepath.Join(dst, "nested", "copied.txt"), Type: TypeFile},
		{Source: moved, Destination: filepath.Join(dst, "moved.txt"), Move: true, Type: TypeCabinet},
		{Source: copied, Destination: strings.ToUpper(copied[:1]) + copied[1:], Type: TypeFile},
	}

	require.NoError(t, Apply(context.Background(), transfers))

	contents, err := os.ReadFile(filepath.Join(dst, "nested", "copied.txt"))
	require.NoError(t, err)
	require.Equal(t, "copy me", string(contents))
	require.FileExists(t, copied)

	contents, err = os.ReadFile(filepath.Join(dst, "moved.txt"))
	require.NoError(t, err)
	require.Equal(t, "move me", string(contents))
	require.NoFileExists(t, moved)
}

func TestApplyMissingSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	err := Apply(context.Background(), []*FileTransfer{
		{Source: filepath.Join(dir, "missing"), Destination: filepath.Join(dir, "out")},
	})
	require.Error(t, err)
}
