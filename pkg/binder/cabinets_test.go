package binder

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/kolide/binder/pkg/cabcache"
	"github.com/kolide/binder/pkg/cabinet"
	"github.com/kolide/binder/pkg/messaging"
	"github.com/kolide/binder/pkg/namedlock"
	"github.com/kolide/binder/pkg/output"
	"github.com/kolide/binder/pkg/transfer"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCabinets(t *testing.T) {
	t.Parallel()

	p := newTestPackage(t, output.Product, wordCountCompressed)
	template := p.addTemplate(1)
	template.SetMaximumCabinetSizeForLargeFileSplitting(1)

	var wixFiles []output.WixFileRow
	for _, id := range []string{"a", "b", "c", "d"} {
		_, wixFile := p.addFile(id, megabyte, 1)
		wixFiles = append(wixFiles, wixFile)
	}

	b, archiver := newTestBinder(t, p, nil, WithThreads(4))
	archiver.splits = map[string][]string{
		"cab1.cab": {"a", "a"},
		"cab3.cab": {"c"},
	}

	res, err := b.Bind(context.Background())
	require.NoError(t, err)

	var (
		names   []string
		diskIDs []int
	)
	for _, m := range mediaRows(p.out) {
		names = append(names, m.Cabinet())
		diskIDs = append(diskIDs, m.DiskID())
	}
	require.Equal(t, []string{
		"cab1.cab", "cab10001.cab", "cab10002.cab", "cab2.cab", "cab3.cab", "cab30001.cab", "cab4.cab",
	}, names)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, diskIDs)

	// Files that triggered a split stay on the disk they started on.
	got := make(map[string]int)
	for _, wixFile := range wixFiles {
		got[wixFile.File()] = wixFile.DiskID()
	}
	require.Equal(t, map[string]int{"a": 1, "b": 4, "c": 5, "d": 7}, got)

	media := mediaRows(p.out)
	require.Equal(t, media[0].LastSequence(), media[1].LastSequence())
	require.Equal(t, media[0].LastSequence(), media[2].LastSequence())
	require.Equal(t, media[4].LastSequence(), media[5].LastSequence())

	var wixMediaDisks []int
	for _, row := range p.out.Rows(output.TableWixMedia) {
		wixMediaDisks = append(wixMediaDisks, output.WixMediaRow{Row: row}.DiskID())
	}
	require.ElementsMatch(t, []int{1, 4, 5, 7}, wixMediaDisks)

	require.Len(t, res.Transfers, 7)
	sources := make(map[string]*transfer.FileTransfer)
	for _, tr := range res.Transfers {
		sources[filepath.Base(tr.Source)] = tr
	}
	for _, name := range []string{"cab10001.cab", "cab10002.cab", "cab30001.cab"} {
		tr, ok := sources[name]
		require.True(t, ok, name)
		require.True(t, tr.Built, name)
		require.True(t, tr.Move, name)
		require.Equal(t, name, filepath.Base(tr.Destination))
		require.Equal(t, filepath.Dir(sources["cab1.cab"].Destination), filepath.Dir(tr.Destination))
	}

	require.Len(t, b.Messenger().WithCode(messaging.CabinetSplit), 3)
}

func TestSplitCabinetFailures(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		name      string
		transfers []string
		media     []string
		code      messaging.Code
	}{
		{
			name:  "no transfer for the first cabinet",
			media: []string{"cab1.cab"},
			code:  messaging.SplitCabinetCopyRegistrationFailed,
		},
		{
			name:      "new cabinet name already used",
			transfers: []string{"cab1.cab"},
			media:     []string{"cab1.cab", "cab10001.cab"},
			code:      messaging.SplitCabinetNameCollision,
		},
		{
			name:      "first cabinet has no media row",
			transfers: []string{"cab1.cab"},
			media:     []string{"other.cab"},
			code:      messaging.SplitCabinetInsertionFailed,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := newTestPackage(t, output.Product, wordCountCompressed)
			for i, name := range tt.media {
				p.addMedia(i+1, name)
			}

			b, _ := newTestBinder(t, p, nil)
			for _, name := range tt.transfers {
				tr, ok := transfer.TryCreate(filepath.Join(b.tempDir, name), filepath.Join(b.layoutDir, name), true, transfer.TypeCabinet, "")
				require.True(t, ok)
				b.transfers = append(b.transfers, tr)
			}

			err := b.splitCabinet("cab1", "cab10001.cab", "a")
			code, ok := messaging.CodeOf(err)
			require.True(t, ok)
			require.Equal(t, tt.code, code)
		})
	}
}

// Holds the process-wide split lock, so it must not run in parallel with
// the other split tests.
func TestSplitCabinetWaitsForLock(t *testing.T) {
	p := newTestPackage(t, output.Product, wordCountCompressed)
	p.addMedia(1, "cab1.cab")

	b, _ := newTestBinder(t, p, nil)
	tr, ok := transfer.TryCreate(filepath.Join(b.tempDir, "cab1.cab"), filepath.Join(b.layoutDir, "cab1.cab"), true, transfer.TypeCabinet, "")
	require.True(t, ok)
	b.transfers = append(b.transfers, tr)

	held := namedlock.New(splitLockName)
	require.True(t, held.TryLock())

	done := make(chan error, 1)
	go func() {
		done <- b.splitCabinet("cab1", "cab10001.cab", "a")
	}()

	require.Eventually(t, func() bool {
		return len(b.Messenger().WithCode(messaging.CabinetsSplitInParallel)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case <-done:
		t.Fatal("split finished while the lock was held")
	default:
	}

	require.NoError(t, held.Unlock())
	require.NoError(t, <-done)
	require.Len(t, mediaRows(p.out), 2)
}

// unlockFails releases the lock it wraps but reports a failure.
type unlockFails struct {
	locker
}

func (l unlockFails) Unlock() error {
	if err := l.locker.Unlock(); err != nil {
		return err
	}
	return errors.New("bad file descriptor")
}

func TestSplitCabinetReportsUnlockFailure(t *testing.T) {
	t.Parallel()

	p := newTestPackage(t, output.Product, wordCountCompressed)
	p.addMedia(1, "cab1.cab")

	b, _ := newTestBinder(t, p, nil)
	b.splitLock = unlockFails{namedlock.New("binder-test-" + t.Name())}

	tr, ok := transfer.TryCreate(filepath.Join(b.tempDir, "cab1.cab"), filepath.Join(b.layoutDir, "cab1.cab"), true, transfer.TypeCabinet, "")
	require.True(t, ok)
	b.transfers = append(b.transfers, tr)

	err := b.splitCabinet("cab1", "cab10001.cab", "a")
	require.Error(t, err)
	require.Contains(t, err.Error(), "releasing split lock")
	require.Contains(t, err.Error(), "bad file descriptor")
	require.Len(t, mediaRows(p.out), 2)
}

func TestReuseCachedCabinet(t *testing.T) {
	t.Parallel()

	p := newTestPackage(t, output.Product, wordCountCompressed)
	p.addMedia(1, "product.cab")
	p.addFile("a", 10, 1)

	cached := filepath.Join(t.TempDir(), "product.cab")
	require.NoError(t, os.WriteFile(cached, []byte("cabinet"), 0644))
	old := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(cached, old, old))

	reuse := cabinet.ResolverFunc(func(string, []cabinet.File) (*cabinet.ResolvedCabinet, error) {
		return &cabinet.ResolvedCabinet{Path: cached, BuildOption: cabinet.Copy}, nil
	})

	b, archiver := newTestBinder(t, p, nil, WithResolver(reuse))
	res, err := b.Bind(context.Background())
	require.NoError(t, err)

	require.Empty(t, archiver.built())

	info, err := os.Stat(cached)
	require.NoError(t, err)
	require.True(t, info.ModTime().After(old))

	require.Len(t, b.Messenger().WithCode(messaging.ReusingCabCache), 1)
	require.Empty(t, b.Messenger().WithCode(messaging.CannotUpdateCabCache))

	require.Len(t, res.Transfers, 1)
	require.Equal(t, cached, res.Transfers[0].Source)
	require.False(t, res.Transfers[0].Move)
	require.False(t, res.Transfers[0].Built)
}

func TestReuseCachedCabinetTouchFails(t *testing.T) {
	t.Parallel()

	p := newTestPackage(t, output.Product, wordCountCompressed)
	p.addMedia(1, "product.cab")
	p.addFile("a", 10, 1)

	missing := filepath.Join(t.TempDir(), "gone", "product.cab")
	reuse := cabinet.ResolverFunc(func(string, []cabinet.File) (*cabinet.ResolvedCabinet, error) {
		return &cabinet.ResolvedCabinet{Path: missing, BuildOption: cabinet.Copy}, nil
	})

	b, archiver := newTestBinder(t, p, nil, WithResolver(reuse))
	_, err := b.Bind(context.Background())
	require.NoError(t, err)

	require.Empty(t, archiver.built())
	require.Len(t, b.Messenger().WithCode(messaging.CannotUpdateCabCache), 1)
	require.Equal(t, 1, b.Messenger().WarningCount())
}

func TestCabinetCacheRoundTrip(t *testing.T) {
	t.Parallel()

	p := newTestPackage(t, output.Product, wordCountCompressed)
	p.addMedia(1, "product.cab")
	p.addFile("a", 10, 1)
	p.addFile("b", 20, 1)

	cache, err := cabcache.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	var (
		mu       sync.Mutex
		recorded []string
	)
	record := func(item cabinet.WorkItem) {
		assert.NoError(t, cache.Record(item))
		mu.Lock()
		recorded = append(recorded, item.Name())
		mu.Unlock()
	}

	first, archiver := newTestBinder(t, p, nil, WithResolver(cache), WithBuiltHook(record))
	res, err := first.Bind(context.Background())
	require.NoError(t, err)

	built := archiver.built()
	require.Len(t, built, 1)
	require.Equal(t, filepath.Join(cache.Dir(), "product.cab"), built[0].CabinetPath)
	require.Equal(t, []string{"product.cab"}, recorded)
	require.Len(t, res.Transfers, 1)
	require.False(t, res.Transfers[0].Move)
	require.True(t, res.Transfers[0].Built)

	second, archiver := newTestBinder(t, p, nil, WithResolver(cache), WithBuiltHook(record))
	res, err = second.Bind(context.Background())
	require.NoError(t, err)

	require.Empty(t, archiver.built())
	require.Len(t, second.Messenger().WithCode(messaging.ReusingCabCache), 1)
	require.Len(t, res.Transfers, 1)
	require.False(t, res.Transfers[0].Built)
}

// splitCachePackage authors two 1MB files under a 1MB template with large
// file splitting, reading sources from src.
func splitCachePackage(t *testing.T, src string) (*testPackage, map[string]output.WixFileRow) {
	p := newTestPackage(t, output.Product, wordCountCompressed)
	template := p.addTemplate(1)
	template.SetMaximumCabinetSizeForLargeFileSplitting(1)

	wixFiles := make(map[string]output.WixFileRow)
	for _, id := range []string{"a", "b"} {
		_, wixFile := p.addFileRows(id, filepath.Join(src, id), 1)
		wixFiles[id] = wixFile
	}
	return p, wixFiles
}

func TestCabinetCacheReusesSplitCabinet(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	for _, id := range []string{"a", "b"} {
		f, err := os.Create(filepath.Join(src, id))
		require.NoError(t, err)
		require.NoError(t, f.Truncate(megabyte))
		require.NoError(t, f.Close())
	}

	cache, err := cabcache.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	record := func(item cabinet.WorkItem) {
		assert.NoError(t, cache.Record(item))
	}

	layout := func(p *testPackage, res *Result) ([]string, []int, []string) {
		var (
			names   []string
			diskIDs []int
			sources []string
		)
		for _, m := range mediaRows(p.out) {
			names = append(names, m.Cabinet())
			diskIDs = append(diskIDs, m.DiskID())
		}
		for _, tr := range res.Transfers {
			sources = append(sources, filepath.Base(tr.Source))
		}
		return names, diskIDs, sources
	}

	p, _ := splitCachePackage(t, src)
	first, archiver := newTestBinder(t, p, nil, WithResolver(cache), WithBuiltHook(record))
	archiver.splits = map[string][]string{"cab1.cab": {"a", "a"}}

	res, err := first.Bind(context.Background())
	require.NoError(t, err)
	require.Len(t, archiver.built(), 2)

	names, diskIDs, sources := layout(p, res)
	require.Equal(t, []string{"cab1.cab", "cab10001.cab", "cab10002.cab", "cab2.cab"}, names)
	require.Equal(t, []int{1, 2, 3, 4}, diskIDs)
	require.ElementsMatch(t, names, sources)

	// The second bind builds nothing and lays out the same volumes.
	p, wixFiles := splitCachePackage(t, src)
	second, archiver := newTestBinder(t, p, nil, WithResolver(cache), WithBuiltHook(record))

	res, err = second.Bind(context.Background())
	require.NoError(t, err)
	require.Empty(t, archiver.built())
	require.Len(t, second.Messenger().WithCode(messaging.ReusingCabCache), 2)
	require.Len(t, second.Messenger().WithCode(messaging.CabinetSplit), 2)

	names, diskIDs, sources = layout(p, res)
	require.Equal(t, []string{"cab1.cab", "cab10001.cab", "cab10002.cab", "cab2.cab"}, names)
	require.Equal(t, []int{1, 2, 3, 4}, diskIDs)
	require.ElementsMatch(t, names, sources)

	require.Equal(t, 1, wixFiles["a"].DiskID())
	require.Equal(t, 4, wixFiles["b"].DiskID())

	for _, tr := range res.Transfers {
		require.Equal(t, cache.Dir(), filepath.Dir(tr.Source))
		require.False(t, tr.Built, tr.Source)
	}
}

func TestEmptyCabinetWarning(t *testing.T) {
	t.Parallel()

	p := newTestPackage(t, output.Product, wordCountCompressed)
	p.addMedia(1, "product.cab")
	p.addMedia(2, "empty.cab")
	p.addFile("a", 10, 1)

	b, archiver := newTestBinder(t, p, nil)
	_, err := b.Bind(context.Background())
	require.NoError(t, err)

	require.Len(t, b.Messenger().WithCode(messaging.EmptyCabinet), 1)
	require.Len(t, archiver.built(), 2)
}

func TestCabinetBuildFailure(t *testing.T) {
	t.Parallel()

	p := newTestPackage(t, output.Product, wordCountCompressed)
	for i := 1; i <= 3; i++ {
		p.addMedia(i, "cab"+strconv.Itoa(i)+".cab")
		p.addFile("f"+strconv.Itoa(i), 10, i)
	}

	// The fake archiver refuses to split when splitting is not enabled.
	b, archiver := newTestBinder(t, p, nil)
	archiver.splits = map[string][]string{"cab2.cab": {"f2"}}

	_, err := b.Bind(context.Background())
	code, ok := messaging.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, messaging.CabinetBuildFailed, code)

	failed := b.Messenger().WithCode(messaging.CabinetBuildFailed)
	require.Len(t, failed, 1)
	require.Contains(t, failed[0].Error(), "cab2.cab")
}

func TestResolveMedia(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "layout")
	b := New(output.New(output.Product), WithLayoutDir(root))

	abs := filepath.Join(t.TempDir(), "elsewhere")

	require.Equal(t, root, b.resolveMedia(""))
	require.Equal(t, abs, b.resolveMedia(abs))
	require.Equal(t, filepath.Join(root, "disk2"), b.resolveMedia("disk2"))
}
