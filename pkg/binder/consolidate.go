package binder

import (
	"context"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/binder/pkg/contexts/ctxlog"
	"github.com/kolide/binder/pkg/messaging"
	"github.com/kolide/binder/pkg/output"
	"go.opencensus.io/trace"
)

// consolidate builds one facade per File row, joins the WixFile and
// WixDeltaPatchFile rows onto them, then applies the scoped symbol paths.
func (b *Binder) consolidate(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "binder.Consolidate")
	defer span.End()

	for _, row := range b.out.Rows(output.TableFile) {
		file := output.FileRow{Row: row}
		if _, exists := b.facadesByID[file.ID()]; exists {
			return b.messenger.Fail(messaging.DuplicateFileIdentifierError(row.SourceLine, file.ID()))
		}

		facade := &FileFacade{File: file}
		b.facades = append(b.facades, facade)
		b.facadesByID[file.ID()] = facade
	}

	for _, row := range b.out.Rows(output.TableWixFile) {
		wixFile := output.WixFileRow{Row: row}
		facade, ok := b.facadesByID[wixFile.File()]
		if !ok {
			return b.messenger.Fail(messaging.MissingFileRowError(row.SourceLine, output.TableFile, wixFile.File()))
		}
		if facade.WixFile.Row != nil {
			return b.messenger.Fail(messaging.DuplicateFileIdentifierError(row.SourceLine, wixFile.File()))
		}
		facade.WixFile = wixFile
	}

	for _, facade := range b.facades {
		if facade.WixFile.Row == nil {
			return b.messenger.Fail(messaging.MissingFileRowError(facade.SourceLine(), output.TableWixFile, facade.ID()))
		}
	}

	for _, row := range b.out.Rows(output.TableWixDeltaPatchFile) {
		delta := output.DeltaPatchFileRow{Row: row}
		facade, ok := b.facadesByID[delta.File()]
		if !ok {
			return b.messenger.Fail(messaging.MissingFileRowError(row.SourceLine, output.TableFile, delta.File()))
		}
		if facade.DeltaPatchFile != nil {
			return b.messenger.Fail(messaging.DuplicateFileIdentifierError(row.SourceLine, delta.File()))
		}
		facade.DeltaPatchFile = &delta
	}

	if err := b.applySymbolPaths(); err != nil {
		return err
	}

	level.Debug(ctxlog.FromContext(ctx)).Log(
		"msg", "consolidated file facades",
		"files", len(b.facades),
	)
	return nil
}
