package binder

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/binder/pkg/contexts/ctxlog"
	"github.com/kolide/binder/pkg/messaging"
	"github.com/kolide/binder/pkg/output"
	"github.com/kolide/binder/pkg/transfer"
	"go.opencensus.io/trace"
)

const sourceDirName = "SourceDir"

// layoutUncompressed registers a copy for every file that stays out of
// cabinets. Files land under their media's layout folder, at the source
// path of their directory. Compressed packages put them at the media root.
func (b *Binder) layoutUncompressed(ctx context.Context, files []*FileFacade) error {
	ctx, span := trace.StartSpan(ctx, "binder.LayoutUncompressed")
	defer span.End()

	if len(files) == 0 {
		return nil
	}

	// Splits renumber disks, so media are indexed only now.
	media := make(map[int]output.MediaRow)
	for _, row := range b.out.Rows(output.TableMedia) {
		m := output.MediaRow{Row: row}
		media[m.DiskID()] = m
	}
	layouts := make(map[int]string)
	for _, row := range b.out.Rows(output.TableWixMedia) {
		m := output.WixMediaRow{Row: row}
		layouts[m.DiskID()] = m.Layout()
	}

	components := make(map[string]string)
	for _, row := range b.out.Rows(output.TableComponent) {
		c := output.ComponentRow{Row: row}
		components[c.Component()] = c.Directory()
	}

	dirs := newDirectoryPaths(b.out)
	longNames := b.out.LongNames()
	compressed := b.out.Compressed()

	for _, f := range files {
		if _, ok := media[f.DiskID()]; !ok {
			b.messenger.Post(messaging.MissingMediaError(f.SourceLine(), f.DiskID()))
			continue
		}

		directory, ok := components[f.File.Component()]
		if !ok {
			return b.messenger.Fail(messaging.FileIdentifierNotFoundError(f.SourceLine(), f.ID()))
		}

		name := getName(f.File.FileName(), true, longNames)

		var relative string
		if compressed {
			relative = name
		} else {
			dirPath, err := dirs.path(directory, longNames)
			if err != nil {
				return b.messenger.Fail(messaging.ExpectedDirectoryError(err.Error()))
			}
			relative = filepath.Join(dirPath, name)
		}
		relative = strings.TrimPrefix(relative, sourceDirName+string(filepath.Separator))

		destination := filepath.Join(b.resolveMedia(layouts[f.DiskID()]), relative)
		if t, ok := transfer.TryCreate(f.Source(), destination, false, transfer.TypeFile, f.SourceLine()); ok {
			b.transfers = append(b.transfers, t)
		}
	}

	level.Debug(ctxlog.FromContext(ctx)).Log("msg", "laid out uncompressed files", "files", len(files))
	return nil
}

type directoryEntry struct {
	parent     string
	defaultDir string
}

// directoryPaths resolves Directory rows to source paths. The table is
// read on first use and every resolved path is remembered.
type directoryPaths struct {
	out     *output.Output
	entries map[string]directoryEntry
	paths   map[string]string
}

func newDirectoryPaths(out *output.Output) *directoryPaths {
	return &directoryPaths{out: out}
}

func (d *directoryPaths) load() {
	d.entries = make(map[string]directoryEntry)
	d.paths = make(map[string]string)
	for _, row := range d.out.Rows(output.TableDirectory) {
		dir := output.DirectoryRow{Row: row}
		d.entries[dir.Directory()] = directoryEntry{parent: dir.Parent(), defaultDir: dir.DefaultDir()}
	}
}

func (d *directoryPaths) path(id string, longNames bool) (string, error) {
	if d.entries == nil {
		d.load()
	}
	return d.resolve(id, longNames, make(map[string]bool))
}

func (d *directoryPaths) resolve(id string, longNames bool, visiting map[string]bool) (string, error) {
	if p, ok := d.paths[id]; ok {
		return p, nil
	}

	entry, ok := d.entries[id]
	if !ok || visiting[id] {
		return "", missingDirectoryError(id)
	}
	visiting[id] = true

	name := getName(entry.defaultDir, true, longNames)

	var p string
	if entry.parent == "" || entry.parent == id {
		p = name
	} else {
		parent, err := d.resolve(entry.parent, longNames, visiting)
		if err != nil {
			return "", err
		}
		p = filepath.Join(parent, name)
	}

	d.paths[id] = p
	return p, nil
}

// missingDirectoryError is the identifier of a directory that is not in
// the Directory table, or that is its own ancestor.
type missingDirectoryError string

func (e missingDirectoryError) Error() string {
	return string(e)
}

// getName picks one name out of a Directory or File name column, written
// as [target:]source with each side optionally short|long. A "." name has
// no path component.
func getName(value string, source, longName bool) string {
	target, src, hasSource := strings.Cut(value, ":")
	name := target
	if source && hasSource {
		name = src
	}

	short, long, hasLong := strings.Cut(name, "|")
	name = short
	if longName && hasLong {
		name = long
	}

	if name == "." {
		return ""
	}
	return name
}
