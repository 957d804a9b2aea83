package binder

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/binder/pkg/contexts/ctxlog"
	"github.com/kolide/binder/pkg/mergemod"
	"github.com/kolide/binder/pkg/messaging"
	"github.com/kolide/binder/pkg/output"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

// moduleStagingDir is where the payload of the merge row numbered n is
// exploded.
func (b *Binder) moduleStagingDir(n int) string {
	return filepath.Join(b.tempDir, "MergeId."+strconv.Itoa(n))
}

// extractMergeModules adds a facade for every file of every referenced
// merge module, then extracts the module payloads so those files exist.
func (b *Binder) extractMergeModules(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "binder.ExtractMergeModules")
	defer span.End()

	rows := b.out.Rows(output.TableWixMerge)
	if len(rows) == 0 {
		return nil
	}

	logger := ctxlog.FromContext(ctx)
	outputInstallerVersion := b.out.InstallerVersion()

	fileDef, err := output.Definition(output.TableFile)
	if err != nil {
		return err
	}
	wixFileDef, err := output.Definition(output.TableWixFile)
	if err != nil {
		return err
	}

	// Module file rows are not part of the File table. They come into the
	// final database by merging the module itself.
	detachedFiles := &output.Table{Definition: fileDef}
	detachedWixFiles := &output.Table{Definition: wixFileDef}

	for _, row := range rows {
		merge := output.MergeRow{Row: row}

		containsFiles, err := b.readMergeModule(ctx, merge, outputInstallerVersion, detachedFiles, detachedWixFiles)
		if err != nil {
			return err
		}

		if !containsFiles || b.suppressLayout {
			continue
		}

		if err := b.extractModulePayload(ctx, merge); err != nil {
			return err
		}

		level.Debug(logger).Log(
			"msg", "extracted merge module",
			"module", merge.ID(),
			"source", merge.SourceFile(),
		)
	}

	return nil
}

// readMergeModule synthesizes facades from the module's File and
// Component tables and checks its installer version.
func (b *Binder) readMergeModule(ctx context.Context, merge output.MergeRow, outputInstallerVersion int, files, wixFiles *output.Table) (bool, error) {
	src := merge.SourceLine

	db, err := b.modules.OpenDatabase(ctx, merge.SourceFile())
	switch {
	case errors.Is(err, os.ErrNotExist):
		return false, b.messenger.Fail(messaging.FileNotFoundError(src, merge.SourceFile()))
	case err != nil:
		return false, b.messenger.Fail(messaging.CannotOpenMergeModuleError(src, merge.ID(), merge.SourceFile()))
	}
	defer db.Close()

	containsFiles := false

	hasFile, err := db.TableExists(output.TableFile)
	if err != nil {
		return false, b.messenger.Fail(messaging.CannotOpenMergeModuleError(src, merge.ID(), merge.SourceFile()))
	}
	hasComponent, err := db.TableExists(output.TableComponent)
	if err != nil {
		return false, b.messenger.Fail(messaging.CannotOpenMergeModuleError(src, merge.ID(), merge.SourceFile()))
	}

	if hasFile && hasComponent {
		moduleFiles, err := db.ModuleFiles()
		if err != nil {
			return false, b.messenger.Fail(messaging.CannotOpenMergeModuleError(src, merge.ID(), merge.SourceFile()))
		}

		// Payload files are exploded by identifier, so identifiers that
		// differ only by case collide on most file systems.
		uniqueInModule := make(map[string]*FileFacade)

		for _, mf := range moduleFiles {
			containsFiles = true

			if colliding, ok := b.facadesByID[mf.File]; ok {
				b.messenger.Post(messaging.DuplicateModuleFileIdentifierError(src, merge.ID(), colliding.ID()))
				continue
			}
			if colliding, ok := uniqueInModule[strings.ToLower(mf.File)]; ok {
				b.messenger.Post(messaging.DuplicateModuleCaseInsensitiveFileIdentifierError(src, merge.ID(), mf.File, colliding.ID()))
				continue
			}

			facade := b.moduleFileFacade(merge, mf, files, wixFiles)
			b.facades = append(b.facades, facade)
			b.facadesByID[mf.File] = facade
			uniqueInModule[strings.ToLower(mf.File)] = facade
		}
	}

	versionString, err := db.SummaryProperty(output.SummaryInstallerVersion)
	if err != nil {
		return false, b.messenger.Fail(messaging.CannotOpenMergeModuleError(src, merge.ID(), merge.SourceFile()))
	}
	moduleInstallerVersion, err := strconv.Atoi(strings.TrimSpace(versionString))
	if err != nil {
		return false, b.messenger.Fail(messaging.MissingOrInvalidModuleInstallerVersionError(src, merge.ID(), merge.SourceFile(), versionString))
	}
	if moduleInstallerVersion > outputInstallerVersion {
		b.messenger.Post(messaging.InvalidHigherInstallerVersionInModuleWarning(src, merge.ID(), moduleInstallerVersion, outputInstallerVersion))
	}

	return containsFiles, nil
}

func (b *Binder) moduleFileFacade(merge output.MergeRow, mf mergemod.ModuleFile, files, wixFiles *output.Table) *FileFacade {
	file := output.FileRow{Row: files.CreateRow(merge.SourceLine, true)}
	file.SetID(mf.File)
	file.SetCompressed(merge.FileCompression())

	wixFile := output.WixFileRow{Row: wixFiles.CreateRow(merge.SourceLine, true)}
	wixFile.SetFile(mf.File)
	wixFile.SetDirectory(mf.Directory)
	wixFile.SetDiskID(merge.DiskID())
	wixFile.SetPatchGroup(-1)
	wixFile.SetSource(filepath.Join(b.moduleStagingDir(merge.Number), mf.File))

	return newFileFacade(file, wixFile, true)
}

// extractModulePayload opens the module, writes its payload cabinet to the
// temp folder and explodes it into the module's staging folder. The
// module is always closed on the way out.
func (b *Binder) extractModulePayload(ctx context.Context, merge output.MergeRow) (err error) {
	src := merge.SourceLine

	language, perr := strconv.ParseInt(strings.TrimSpace(merge.Language()), 10, 16)
	if perr != nil {
		return b.messenger.Fail(messaging.InvalidMergeLanguageError(src, merge.ID(), merge.Language()))
	}

	merger, err := b.modules.NewMerger(ctx)
	if err != nil {
		return b.messenger.Fail(messaging.UnableToOpenModuleError(src, merge.SourceFile(), err.Error()))
	}

	if err := merger.OpenModule(merge.SourceFile(), int16(language)); err != nil {
		return b.messenger.Fail(messaging.UnableToOpenModuleError(src, merge.SourceFile(), err.Error()))
	}
	defer func() {
		if cerr := merger.CloseModule(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "closing merge module %s", merge.ID())
		}
	}()

	safeID := strconv.Itoa(merge.Number)
	cabPath := filepath.Join(b.tempDir, safeID+".module.cab")
	if err := merger.ExtractCAB(cabPath); err != nil {
		return b.messenger.Fail(messaging.UnableToOpenModuleError(src, merge.SourceFile(), err.Error()))
	}

	stagingDir := b.moduleStagingDir(merge.Number)
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return errors.Wrap(err, "creating merge module staging dir")
	}

	err = b.modules.ExplodeCabinet(ctx, cabPath, stagingDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return b.messenger.Fail(messaging.CabFileDoesNotExistError(cabPath, merge.SourceFile(), stagingDir))
	case err != nil:
		return b.messenger.Fail(messaging.CabExtractionFailedError(cabPath, merge.SourceFile(), stagingDir, err.Error()))
	}

	return nil
}
