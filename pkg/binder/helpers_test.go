package binder

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/kolide/binder/pkg/cabinet"
	"github.com/kolide/binder/pkg/fileinfo"
	"github.com/kolide/binder/pkg/mergemod"
	"github.com/kolide/binder/pkg/messaging"
	"github.com/kolide/binder/pkg/output"
	"github.com/kolide/binder/pkg/patchapi"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const (
	wordCountUncompressed = 0
	wordCountCompressed   = 2
)

// testPackage builds an output model with source files on disk.
type testPackage struct {
	t   *testing.T
	out *output.Output
	src string
}

func newTestPackage(t *testing.T, typ output.Type, wordCount int) *testPackage {
	t.Helper()

	p := &testPackage{t: t, out: output.New(typ), src: t.TempDir()}
	p.summary(output.SummaryWordCount, strconv.Itoa(wordCount))
	p.summary(output.SummaryInstallerVersion, "200")
	return p
}

func (p *testPackage) summary(pid int, value string) {
	row := p.out.CreateRow(output.TableSummaryInformation, "", false)
	row.Set(0, pid)
	row.Set(1, value)
}

// addFile writes a sparse source file of size bytes and authors its File
// and WixFile rows.
func (p *testPackage) addFile(id string, size int64, diskID int) (output.FileRow, output.WixFileRow) {
	p.t.Helper()

	path := filepath.Join(p.src, id)
	f, err := os.Create(path)
	require.NoError(p.t, err)
	require.NoError(p.t, f.Truncate(size))
	require.NoError(p.t, f.Close())

	return p.addFileRows(id, path, diskID)
}

// addFileRows authors a file without creating its source.
func (p *testPackage) addFileRows(id, source string, diskID int) (output.FileRow, output.WixFileRow) {
	src := messaging.SourceLine("product.wxs(" + id + ")")

	file := output.FileRow{Row: p.out.CreateRow(output.TableFile, src, false)}
	file.SetID(id)
	file.SetComponent("MainComponent")
	file.SetFileName(id)

	wixFile := output.WixFileRow{Row: p.out.CreateRow(output.TableWixFile, src, false)}
	wixFile.SetFile(id)
	wixFile.SetDirectory("INSTALLFOLDER")
	wixFile.SetDiskID(diskID)
	wixFile.SetSource(source)

	return file, wixFile
}

func (p *testPackage) addMedia(diskID int, cabinetName string) output.MediaRow {
	media := output.MediaRow{Row: p.out.CreateRow(output.TableMedia, messaging.SourceLine("product.wxs(media"+strconv.Itoa(diskID)+")"), false)}
	media.SetDiskID(diskID)
	media.SetCabinet(cabinetName)
	return media
}

func (p *testPackage) addTemplate(maxUncompressedMB int) output.MediaTemplateRow {
	template := output.MediaTemplateRow{Row: p.out.CreateRow(output.TableWixMediaTemplate, "product.wxs(2)", false)}
	template.SetMaximumUncompressedMediaSize(maxUncompressedMB)
	return template
}

func (p *testPackage) addRow(table string, values ...interface{}) *output.Row {
	row := p.out.CreateRow(table, "product.wxs(1)", false)
	for i, v := range values {
		row.Set(i, v)
	}
	return row
}

func mapEnv(env map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func unversionedFiles() fileinfo.VersionReader {
	return fileinfo.VersionReaderFunc(func(string) (string, string, error) {
		return "", "", nil
	})
}

func notAssemblies() fileinfo.AssemblyReader {
	return fileinfo.AssemblyReaderFunc(func(string) (*fileinfo.AssemblyIdentity, error) {
		return nil, fileinfo.ErrNotAssembly
	})
}

// newTestBinder wires a binder to fakes. Later options win.
func newTestBinder(t *testing.T, p *testPackage, env map[string]string, opts ...Option) (*Binder, *fakeArchiver) {
	t.Helper()

	archiver := &fakeArchiver{}
	base := []Option{
		WithTempDir(filepath.Join(t.TempDir(), "intermediate")),
		WithLayoutDir(filepath.Join(t.TempDir(), "layout")),
		WithEnvironment(mapEnv(env)),
		WithThreads(2),
		WithArchiver(archiver),
		WithVersionReader(unversionedFiles()),
		WithAssemblyReader(notAssemblies()),
		WithDiffer(&fakeDiffer{}),
		WithMergeModules(&fakeModules{}),
		WithFileHashes(false),
	}

	return New(p.out, append(base, opts...)...), archiver
}

// fakeArchiver records the cabinets it is asked to build. Cabinets named
// in splits roll over once per listed token, and each volume is written
// next to the cabinet.
type fakeArchiver struct {
	splits map[string][]string

	mu    sync.Mutex
	items []cabinet.WorkItem
}

func (a *fakeArchiver) Archive(ctx context.Context, item cabinet.WorkItem, maxVolumeSize int, split cabinet.SplitFunc) error {
	a.mu.Lock()
	a.items = append(a.items, item)
	a.mu.Unlock()

	first := strings.TrimSuffix(item.Name(), filepath.Ext(item.Name()))
	for i, token := range a.splits[item.Name()] {
		if split == nil {
			return errors.Errorf("cabinet %s cannot be split", item.Name())
		}
		volume := cabinet.VolumeName(item.Name(), i+1)
		if err := split(first, volume, token); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(filepath.Dir(item.CabinetPath), volume), []byte("volume"), 0644); err != nil {
			return err
		}
	}

	return os.WriteFile(item.CabinetPath, []byte("cabinet"), 0644)
}

// built returns the recorded work items by cabinet name.
func (a *fakeArchiver) built() []cabinet.WorkItem {
	a.mu.Lock()
	defer a.mu.Unlock()

	items := make([]cabinet.WorkItem, len(a.items))
	copy(items, a.items)
	sort.Slice(items, func(i, j int) bool { return items[i].Name() < items[j].Name() })
	return items
}

func tokens(item cabinet.WorkItem) []string {
	out := make([]string, 0, len(item.Files))
	for _, f := range item.Files {
		out = append(out, f.Token)
	}
	return out
}

type fakeDiffer struct {
	result patchapi.Result
	err    error

	mu       sync.Mutex
	requests []patchapi.Request
}

func (d *fakeDiffer) CreateDelta(ctx context.Context, req patchapi.Request) (patchapi.Result, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()

	if d.err != nil {
		return patchapi.Result{}, d.err
	}
	if d.result.Created {
		if err := os.WriteFile(req.DeltaPath, []byte("delta"), 0644); err != nil {
			return patchapi.Result{}, err
		}
	}
	return d.result, nil
}

func (d *fakeDiffer) ExtractDeltaHeader(ctx context.Context, deltaPath, headerPath string) error {
	return os.WriteFile(headerPath, []byte("header"), 0644)
}

// fakeModule is a merge module known to fakeModules by its path.
type fakeModule struct {
	files            []mergemod.ModuleFile
	installerVersion string
}

// fakeModules serves merge modules from memory. The payload cabinet it
// extracts names its module, so exploding it writes that module's files.
type fakeModules struct {
	modules map[string]*fakeModule
}

func (p *fakeModules) OpenDatabase(ctx context.Context, path string) (mergemod.Database, error) {
	m, ok := p.modules[path]
	if !ok {
		return nil, errors.Wrapf(os.ErrNotExist, "opening %s", path)
	}
	return &fakeDatabase{m: m}, nil
}

func (p *fakeModules) NewMerger(ctx context.Context) (mergemod.Merger, error) {
	return &fakeMerger{}, nil
}

func (p *fakeModules) ExplodeCabinet(ctx context.Context, cabPath, dir string) error {
	raw, err := os.ReadFile(cabPath)
	if err != nil {
		return err
	}
	m, ok := p.modules[string(raw)]
	if !ok {
		return errors.Errorf("unknown payload %s", raw)
	}
	for _, f := range m.files {
		if err := os.WriteFile(filepath.Join(dir, f.File), []byte(f.File), 0644); err != nil {
			return err
		}
	}
	return nil
}

type fakeDatabase struct {
	m *fakeModule
}

func (d *fakeDatabase) TableExists(name string) (bool, error)      { return true, nil }
func (d *fakeDatabase) ModuleFiles() ([]mergemod.ModuleFile, error) { return d.m.files, nil }
func (d *fakeDatabase) SummaryProperty(pid int) (string, error)     { return d.m.installerVersion, nil }
func (d *fakeDatabase) Close() error                                { return nil }

type fakeMerger struct {
	path string
}

func (m *fakeMerger) OpenModule(path string, language int16) error {
	m.path = path
	return nil
}

func (m *fakeMerger) ExtractCAB(path string) error {
	return os.WriteFile(path, []byte(m.path), 0644)
}

func (m *fakeMerger) CloseModule() error {
	return nil
}

func codes(m *messaging.Messenger) []messaging.Code {
	var out []messaging.Code
	for _, msg := range m.Messages() {
		out = append(out, msg.Code)
	}
	return out
}

func mediaRows(out *output.Output) []output.MediaRow {
	var rows []output.MediaRow
	for _, row := range out.Rows(output.TableMedia) {
		rows = append(rows, output.MediaRow{Row: row})
	}
	return rows
}
