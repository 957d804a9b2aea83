package binder

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/binder/pkg/contexts/ctxlog"
	"github.com/kolide/binder/pkg/messaging"
	"github.com/kolide/binder/pkg/output"
	"github.com/kolide/binder/pkg/patchapi"
	"go.opencensus.io/trace"
)

// createDeltaPatches replaces the source of every modified file that asks
// for whole-file patching with a delta against its previous version. The
// delta header is kept next to it for the patch sequencing tables.
func (b *Binder) createDeltaPatches(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "binder.CreateDeltaPatches")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	var (
		optimizeForLargeFiles bool
		apiSymbolFlags        int
	)
	if rows := b.out.Rows(output.TableWixPatchID); len(rows) > 0 {
		patchID := output.PatchIDRow{Row: rows[0]}
		optimizeForLargeFiles = patchID.OptimizePatchSizeForLargeFiles()
		apiSymbolFlags = patchID.APIPatchingSymbolFlags()
	}

	created := 0
	for _, f := range b.facades {
		if f.File.Operation != output.OpModify {
			continue
		}
		if f.WixFile.PatchAttributes()&output.PatchIncludeWholeFile == 0 {
			continue
		}

		req := deltaRequest(f, filepath.Join(b.tempDir, "delta_"+f.ID()+".dpf"))
		req.OptimizeForLargeFiles = optimizeForLargeFiles
		req.APISymbolFlags = apiSymbolFlags

		res, err := b.differ.CreateDelta(ctx, req)
		if err != nil {
			return b.messenger.Fail(messaging.DeltaPatchFailedError(f.SourceLine(), f.ID(), err.Error()))
		}

		// A mismatch is reported next to the delta, not instead of it.
		if res.RetainRangeMismatch {
			b.messenger.Post(messaging.RetainRangeMismatchWarning(f.SourceLine(), f.ID()))
		}
		if !res.Created {
			continue
		}

		headerPath := strings.TrimSuffix(req.DeltaPath, filepath.Ext(req.DeltaPath)) + ".phd"
		if err := b.differ.ExtractDeltaHeader(ctx, req.DeltaPath, headerPath); err != nil {
			return b.messenger.Fail(messaging.DeltaPatchFailedError(f.SourceLine(), f.ID(), err.Error()))
		}

		f.WixFile.SetSource(req.DeltaPath)
		f.WixFile.SetDeltaPatchHeaderSource(headerPath)
		created++
	}

	level.Debug(logger).Log("msg", "created delta patches", "deltas", created)
	return nil
}

// deltaRequest describes the delta of f against its single previous
// version.
func deltaRequest(f *FileFacade, deltaPath string) patchapi.Request {
	req := patchapi.Request{
		DeltaPath: deltaPath,
		Target:    f.Source(),
	}

	previous := patchapi.Previous{Path: f.WixFile.PreviousSource()}

	if d := f.DeltaPatchFile; d != nil {
		req.TargetSymbols = splitList(d.SymbolPaths())
		req.TargetRetainOffsets = splitList(d.RetainOffsets())

		previous.Symbols = splitList(d.PreviousSymbolPaths())
		previous.IgnoreLengths = splitList(d.PreviousIgnoreLengths())
		previous.IgnoreOffsets = splitList(d.PreviousIgnoreOffsets())
		previous.RetainLengths = splitList(d.PreviousRetainLengths())
		previous.RetainOffsets = splitList(d.PreviousRetainOffsets())
	}

	req.Previous = []patchapi.Previous{previous}
	return req
}

// splitList splits a ';' separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
