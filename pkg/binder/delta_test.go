package binder

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kolide/binder/pkg/messaging"
	"github.com/kolide/binder/pkg/output"
	"github.com/kolide/binder/pkg/patchapi"
	"github.com/stretchr/testify/require"
)

// deltaPackage authors one modified file that asks for whole-file
// patching, with target and baseline ranges.
func deltaPackage(t *testing.T) (*testPackage, output.WixFileRow) {
	p := newTestPackage(t, output.Product, wordCountCompressed)
	p.addMedia(1, "product.cab")

	file, wixFile := p.addFile("a", 10, 1)
	file.Operation = output.OpModify
	wixFile.SetPatchAttributes(output.PatchIncludeWholeFile)
	wixFile.SetPreviousSource("/baseline/a")

	delta := p.addRow(output.TableWixDeltaPatchFile, "a", nil, nil, nil, "0x10;0x20", "sym1")
	delta.SetPrevious(4, "0x10; 0x20")
	delta.SetPrevious(1, "4;4")
	delta.SetPrevious(5, "old1;old2")

	p.addRow(output.TableWixPatchID, "{PRODUCT}", "client", 1, 7)

	// Not patched: unchanged and without the whole-file flag.
	p.addFile("b", 10, 1)
	other, otherWix := p.addFile("c", 10, 1)
	other.Operation = output.OpModify
	otherWix.SetPatchAttributes(output.PatchIgnore)

	return p, wixFile
}

func TestDeltaPatchCreated(t *testing.T) {
	t.Parallel()

	p, wixFile := deltaPackage(t)
	original := wixFile.Source()

	differ := &fakeDiffer{result: patchapi.Result{Created: true}}
	b, archiver := newTestBinder(t, p, nil, WithDiffer(differ))

	_, err := b.Bind(context.Background())
	require.NoError(t, err)

	require.Len(t, differ.requests, 1)
	req := differ.requests[0]
	require.Equal(t, original, req.Target)
	require.Equal(t, []string{"sym1"}, req.TargetSymbols)
	require.Equal(t, []string{"0x10", "0x20"}, req.TargetRetainOffsets)
	require.True(t, req.OptimizeForLargeFiles)
	require.Equal(t, 7, req.APISymbolFlags)

	require.Len(t, req.Previous, 1)
	require.Equal(t, patchapi.Previous{
		Path:          "/baseline/a",
		Symbols:       []string{"old1", "old2"},
		RetainLengths: []string{"4", "4"},
		RetainOffsets: []string{"0x10", "0x20"},
	}, req.Previous[0])

	deltaPath := filepath.Join(b.tempDir, "delta_a.dpf")
	require.Equal(t, deltaPath, req.DeltaPath)
	require.Equal(t, deltaPath, wixFile.Source())
	require.Equal(t, filepath.Join(b.tempDir, "delta_a.phd"), wixFile.DeltaPatchHeaderSource())
	require.FileExists(t, wixFile.DeltaPatchHeaderSource())

	// The cabinet carries the delta in place of the full file.
	built := archiver.built()
	require.Len(t, built, 1)
	require.Equal(t, deltaPath, built[0].Files[0].Path)
}

func TestDeltaPatchRetainRangeMismatch(t *testing.T) {
	t.Parallel()

	p, wixFile := deltaPackage(t)
	original := wixFile.Source()

	differ := &fakeDiffer{result: patchapi.Result{RetainRangeMismatch: true}}
	b, _ := newTestBinder(t, p, nil, WithDiffer(differ))

	_, err := b.Bind(context.Background())
	require.NoError(t, err)

	require.Len(t, b.Messenger().WithCode(messaging.RetainRangeMismatch), 1)
	require.Equal(t, original, wixFile.Source())
	require.Equal(t, "", wixFile.DeltaPatchHeaderSource())
}

func TestDeltaPatchCreatedWithRetainRangeMismatch(t *testing.T) {
	t.Parallel()

	p, wixFile := deltaPackage(t)

	differ := &fakeDiffer{result: patchapi.Result{Created: true, RetainRangeMismatch: true}}
	b, _ := newTestBinder(t, p, nil, WithDiffer(differ))

	_, err := b.Bind(context.Background())
	require.NoError(t, err)

	require.Len(t, b.Messenger().WithCode(messaging.RetainRangeMismatch), 1)
	require.Equal(t, filepath.Join(b.tempDir, "delta_a.dpf"), wixFile.Source())
	require.Equal(t, filepath.Join(b.tempDir, "delta_a.phd"), wixFile.DeltaPatchHeaderSource())
}

func TestDeltaPatchFailure(t *testing.T) {
	t.Parallel()

	p, wixFile := deltaPackage(t)
	original := wixFile.Source()

	differ := &fakeDiffer{err: errors.New("xdelta3 exited with status 1")}
	b, archiver := newTestBinder(t, p, nil, WithDiffer(differ))

	_, err := b.Bind(context.Background())
	code, ok := messaging.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, messaging.DeltaPatchFailed, code)

	require.Equal(t, original, wixFile.Source())
	require.Empty(t, archiver.built())
}

func TestSplitList(t *testing.T) {
	t.Parallel()

	require.Nil(t, splitList(""))
	require.Equal(t, []string{"a"}, splitList("a"))
	require.Equal(t, []string{"a", "b"}, splitList("a; ;b;"))
}
