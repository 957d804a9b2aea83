package binder

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/binder/pkg/cabinet"
	"github.com/kolide/binder/pkg/contexts/ctxlog"
	"github.com/kolide/binder/pkg/messaging"
	"github.com/kolide/binder/pkg/output"
	"github.com/kolide/binder/pkg/transfer"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

// createCabinets decides, for every cabinet group, whether to build or to
// reuse, registers where the cabinet ends up, and builds the ones that
// need it on a bounded pool. Nothing is built once an error was posted.
func (b *Binder) createCabinets(ctx context.Context, a *mediaAssignment, env *environment) error {
	ctx, span := trace.StartSpan(ctx, "binder.CreateCabinets")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	if b.messenger.EncounteredError() {
		level.Debug(logger).Log("msg", "skipping cabinets after earlier errors")
		return nil
	}

	wixMedia := make(map[int]output.WixMediaRow)
	for _, row := range b.out.Rows(output.TableWixMedia) {
		m := output.WixMediaRow{Row: row}
		wixMedia[m.DiskID()] = m
	}

	opts := []cabinet.BuilderOpt{
		cabinet.WithThreads(env.threads),
		cabinet.WithLogger(logger),
		cabinet.WithBuiltHook(b.cabinetBuilt),
	}
	if env.maxCabinetSize > 0 {
		opts = append(opts, cabinet.WithSplitting(env.maxCabinetSize, b.splitCabinet))
	}
	builder := cabinet.NewBuilder(b.archiver, opts...)

	// Reused cabinets replay their splits, which renumber disks, so every
	// group's WixMedia row is found before any cabinet is resolved.
	groupMedia := make([]*output.WixMediaRow, len(a.groups))
	for i, g := range a.groups {
		if m, ok := wixMedia[g.media.DiskID()]; ok {
			m := m
			groupMedia[i] = &m
		}
	}

	for i, g := range a.groups {
		item, err := b.resolveCabinet(g, groupMedia[i], env)
		if err != nil {
			return err
		}
		if item != nil {
			builder.Enqueue(*item)
		}
	}

	if b.messenger.EncounteredError() || builder.Len() == 0 {
		return nil
	}

	b.messenger.Post(messaging.BuildingCabinetsVerbose(builder.Len(), builder.Threads()))
	span.AddAttributes(trace.Int64Attribute("cabinets", int64(builder.Len())))

	if err := builder.Run(ctx); err != nil {
		// Split failures were already reported by the callback.
		if _, ok := messaging.CodeOf(err); ok {
			return err
		}

		var buildErr *cabinet.BuildError
		if errors.As(err, &buildErr) {
			return b.messenger.Fail(messaging.CabinetBuildFailedError(buildErr.Cabinet, buildErr.Err.Error()))
		}
		return errors.Wrap(err, "building cabinets")
	}

	return nil
}

// resolveCabinet settles one group. It returns the work item to build, or
// nil when an existing cabinet is reused.
func (b *Binder) resolveCabinet(g *cabinetGroup, m *output.WixMediaRow, env *environment) (*cabinet.WorkItem, error) {
	media := g.media
	src := media.SourceLine

	compression := b.defaultCompression
	var layout string
	if m != nil {
		if s := m.CompressionLevel(); s != "" {
			lvl, err := cabinet.ParseCompressionLevel(s)
			if err != nil {
				return nil, b.messenger.Fail(messaging.InvalidCompressionLevelError(m.SourceLine, s))
			}
			compression = lvl
		}
		layout = m.Layout()
	}

	cabinetName := media.Cabinet()
	embedded := strings.HasPrefix(cabinetName, "#")
	cabinetName = strings.TrimPrefix(cabinetName, "#")

	files := cabinetFiles(g.files)

	resolved, err := cabinet.Resolve(b.resolvers, filepath.Join(b.tempDir, cabinetName), files)
	if err != nil {
		return nil, err
	}

	if len(g.files) == 0 {
		b.messenger.Post(messaging.EmptyCabinetWarning(src, cabinetName, b.out.Type == output.Patch))
	}

	var item *cabinet.WorkItem
	if resolved.BuildOption == cabinet.Copy {
		now := time.Now()
		if err := os.Chtimes(resolved.Path, now, now); err != nil {
			b.messenger.Post(messaging.CannotUpdateCabCacheWarning(src, resolved.Path, err.Error()))
		}
		b.messenger.Post(messaging.ReusingCabCacheVerbose(src, cabinetName, resolved.Path))
	} else {
		item = &cabinet.WorkItem{
			CabinetPath:      resolved.Path,
			Files:            files,
			MaxThreshold:     env.maxCabinetSize,
			CompressionLevel: compression,
		}
	}

	if embedded {
		stream := output.StreamRow{Row: b.out.CreateRow(output.TableStreams, src, false)}
		stream.SetName(cabinetName)
		stream.SetData(resolved.Path)
	} else {
		destination := filepath.Join(b.resolveMedia(layout), cabinetName)
		if t, ok := transfer.TryCreate(resolved.Path, destination, resolved.BuildOption == cabinet.BuildAndMove, transfer.TypeCabinet, src); ok {
			t.Built = resolved.BuildOption != cabinet.Copy
			b.transfers = append(b.transfers, t)
		}
	}

	// A reused cabinet still spans the volumes it was built with. They get
	// the media rows and copies a fresh build would have produced.
	first := strings.TrimSuffix(cabinetName, filepath.Ext(cabinetName))
	for _, v := range resolved.Volumes {
		if err := b.splitCabinet(first, v.Name, v.Token); err != nil {
			return nil, err
		}
	}

	return item, nil
}

func (b *Binder) cabinetBuilt(item cabinet.WorkItem) {
	for _, hook := range b.builtHooks {
		hook(item)
	}
}

// resolveMedia returns the folder a media's files are laid out to. A
// relative layout is taken from the layout folder.
func (b *Binder) resolveMedia(layout string) string {
	switch {
	case layout == "":
		return b.layoutDir
	case filepath.IsAbs(layout):
		return layout
	default:
		return filepath.Join(b.layoutDir, layout)
	}
}
