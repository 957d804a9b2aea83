package binder

import (
	"sort"
	"strconv"

	"github.com/kolide/binder/pkg/messaging"
	"github.com/kolide/binder/pkg/output"
)

// facadeIndex groups facades by a key. It is built on first use.
type facadeIndex struct {
	key     func(*FileFacade) string
	facades []*FileFacade
	index   map[string][]*FileFacade
}

func newFacadeIndex(facades []*FileFacade, key func(*FileFacade) string) *facadeIndex {
	return &facadeIndex{key: key, facades: facades}
}

func (x *facadeIndex) lookup(k string) []*FileFacade {
	if x.index == nil {
		x.index = make(map[string][]*FileFacade)
		for _, f := range x.facades {
			x.index[x.key(f)] = append(x.index[x.key(f)], f)
		}
	}
	return x.index[k]
}

// applySymbolPaths merges the WixDeltaPatchSymbolPaths rows onto the
// delta-patched facades. Rows apply from the narrowest scope (file) to
// the widest (product); each one appends to what earlier rows set.
func (b *Binder) applySymbolPaths() error {
	rows := b.out.Rows(output.TableWixDeltaPatchSymbolPaths)
	if len(rows) == 0 {
		return nil
	}

	scoped := make([]output.SymbolPathsRow, 0, len(rows))
	for _, row := range rows {
		scoped = append(scoped, output.SymbolPathsRow{Row: row})
	}
	sort.SliceStable(scoped, func(i, j int) bool {
		return scoped[i].Type() < scoped[j].Type()
	})

	byComponent := newFacadeIndex(b.facades, func(f *FileFacade) string { return f.File.Component() })
	byDirectory := newFacadeIndex(b.facades, func(f *FileFacade) string { return f.WixFile.Directory() })
	byMedia := newFacadeIndex(b.facades, func(f *FileFacade) string { return strconv.Itoa(f.DiskID()) })

	for _, row := range scoped {
		var targets []*FileFacade

		switch row.Type() {
		case output.SymbolPathFile:
			if f, ok := b.facadesByID[row.ID()]; ok {
				targets = []*FileFacade{f}
			}
		case output.SymbolPathComponent:
			targets = byComponent.lookup(row.ID())
		case output.SymbolPathDirectory:
			targets = byDirectory.lookup(row.ID())
		case output.SymbolPathMedia:
			targets = byMedia.lookup(row.ID())
		case output.SymbolPathProduct:
			targets = b.facades
		default:
			return b.messenger.Fail(messaging.InvalidSymbolPathTypeError(row.SourceLine, int(row.Type())))
		}

		for _, f := range targets {
			mergeSymbolPaths(f, row)
		}
	}

	return nil
}

func mergeSymbolPaths(f *FileFacade, row output.SymbolPathsRow) {
	if f.DeltaPatchFile == nil {
		return
	}
	delta := f.DeltaPatchFile

	if paths := row.SymbolPaths(); paths != "" {
		delta.SetSymbolPaths(joinList(delta.SymbolPaths(), paths))
	}
	if paths := row.PreviousSymbolPaths(); paths != "" {
		delta.SetPreviousSymbolPaths(joinList(delta.PreviousSymbolPaths(), paths))
	}
}

func joinList(existing, more string) string {
	if existing == "" {
		return more
	}
	return existing + ";" + more
}
