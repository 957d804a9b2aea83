package binder

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/binder/pkg/contexts/ctxlog"
	"github.com/kolide/binder/pkg/fileinfo"
	"github.com/kolide/binder/pkg/messaging"
	"github.com/kolide/binder/pkg/output"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

// updateFileFacades reads size, version, language, hash and assembly
// identity from the files on disk. Patches only probe the files they
// carry; merge module files are probed only once extracted.
func (b *Binder) updateFileFacades(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "binder.UpdateFileFacades")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	for _, f := range b.facades {
		if f.FromModule && b.suppressLayout {
			continue
		}
		if b.out.Type == output.Patch || b.out.Type == output.Transform {
			if op := f.File.Operation; op != output.OpAdd && op != output.OpModify {
				continue
			}
		}

		if err := b.updateFileFacade(f); err != nil {
			return err
		}
	}

	level.Debug(logger).Log("msg", "updated file facades", "files", len(b.facades))
	return nil
}

func (b *Binder) updateFileFacade(f *FileFacade) error {
	src := f.SourceLine()
	source := f.Source()

	if source == "" || strings.ContainsRune(source, 0) {
		b.messenger.Post(messaging.InvalidFileNameError(src, source))
		return nil
	}

	info, err := os.Stat(source)
	switch {
	case os.IsNotExist(err):
		b.messenger.Post(messaging.CannotFindFileError(src, f.ID(), f.File.FileName(), source))
		return nil
	case err != nil:
		b.messenger.Post(messaging.InvalidFileNameError(src, source))
		return nil
	case info.IsDir():
		b.messenger.Post(messaging.CannotFindFileError(src, f.ID(), f.File.FileName(), source))
		return nil
	}

	if info.Size() > math.MaxInt32 {
		return b.messenger.Fail(messaging.FileTooLargeError(src, source))
	}
	f.File.SetFileSize(int(info.Size()))

	version, language, err := b.versions.FileVersion(source)
	switch {
	case os.IsNotExist(errors.Cause(err)):
		return b.messenger.Fail(messaging.FileNotFoundError(src, source))
	case err != nil:
		return b.messenger.Fail(messaging.FileReadFailedError(src, source, err.Error()))
	}

	if version == "" {
		if err := b.updateUnversioned(f, source); err != nil {
			return err
		}
	} else {
		b.updateVersioned(f, version, language)
	}

	switch f.WixFile.AssemblyType() {
	case output.AssemblyDotNet:
		return b.updateDotNetAssembly(f, source, version)
	case output.AssemblyWin32:
		return b.updateWin32Assembly(f)
	}
	return nil
}

// updateUnversioned hashes an unversioned file. An authored version that
// names another file marks a companion file and is left alone; any other
// authored version suppresses the hash.
func (b *Binder) updateUnversioned(f *FileFacade, source string) error {
	if !b.fileHashes {
		return nil
	}

	src := f.SourceLine()

	if authored := f.File.Version(); authored != "" {
		if _, companion := b.facadesByID[authored]; !companion {
			b.messenger.Post(messaging.DefaultVersionUsedForUnversionedFileWarning(src, authored, f.ID()))
		}
		return nil
	}

	if language := f.File.Language(); language != "" {
		b.messenger.Post(messaging.DefaultLanguageUsedForUnversionedFileWarning(src, language, f.ID()))
	}

	hash, err := fileinfo.FileHash(source)
	if err != nil {
		return b.messenger.Fail(messaging.FileReadFailedError(src, source, err.Error()))
	}

	if f.Hash == nil {
		row := output.FileHashRow{Row: b.out.CreateRow(output.TableMsiFileHash, src, f.FromModule)}
		f.Hash = &row
	}
	f.Hash.SetFile(f.ID())
	f.Hash.SetOptions(0)
	f.Hash.SetHash(hash)
	return nil
}

func (b *Binder) updateVersioned(f *FileFacade, version, language string) {
	authored := f.File.Version()
	if authored == "" {
		f.File.SetVersion(version)
	} else if _, companion := b.facadesByID[authored]; !companion {
		f.File.SetVersion(version)
	}

	if authoredLanguage := f.File.Language(); authoredLanguage != "" && language == "" {
		b.messenger.Post(messaging.DefaultLanguageUsedForVersionedFileWarning(f.SourceLine(), authoredLanguage, f.ID()))
	} else {
		f.File.SetLanguage(language)
	}
}

// updateDotNetAssembly records the strong name of a managed assembly.
func (b *Binder) updateDotNetAssembly(f *FileFacade, source, fileVersion string) error {
	src := f.SourceLine()

	identity, err := b.assemblies.ReadAssembly(source)
	if err != nil {
		b.messenger.Post(messaging.InvalidAssemblyFileError(src, source, err.Error()))
		return nil
	}

	targetNetfx1 := strings.HasPrefix(strings.ToLower(identity.RuntimeVersion), "v1")

	culture := identity.Culture
	if culture == "" {
		culture = "neutral"
	}

	var publicKeyToken string
	switch {
	case strings.EqualFold(identity.PublicKeyToken, "neutral"):
		publicKeyToken = "null"
	case identity.PublicKeyToken != "":
		publicKeyToken = strings.ToUpper(identity.PublicKeyToken)
	case f.WixFile.AssemblyApplication() == "":
		abs, _ := filepath.Abs(source)
		return b.messenger.Fail(messaging.GacAssemblyNoStrongNameError(src, abs, f.File.Component()))
	}

	if identity.Name != "" {
		b.setMsiAssemblyName(f, "name", identity.Name)
	}

	if b.assemblyFileVer && !targetNetfx1 {
		b.setMsiAssemblyName(f, "fileVersion", fileVersion)
	}

	if identity.Version != "" {
		assemblyVersion := identity.Version
		if b.assemblyFileVer && !targetNetfx1 && len(fileVersion) > len(assemblyVersion) {
			assemblyVersion = padLastVersionPart(assemblyVersion, len(fileVersion)-len(assemblyVersion))
		}
		b.setMsiAssemblyName(f, "version", assemblyVersion)
	}

	b.setMsiAssemblyName(f, "culture", culture)

	if publicKeyToken != "" {
		b.setMsiAssemblyName(f, "publicKeyToken", publicKeyToken)
	}

	if arch := f.WixFile.ProcessorArchitecture(); arch != "" {
		b.setMsiAssemblyName(f, "processorArchitecture", arch)
	} else if identity.ProcessorArchitecture != "" {
		b.setMsiAssemblyName(f, "processorArchitecture", identity.ProcessorArchitecture)
	}

	return nil
}

// padLastVersionPart left-pads the last part of version with n zeros.
func padLastVersionPart(version string, n int) string {
	parts := strings.Split(version, ".")
	last := len(parts) - 1
	parts[last] = strings.Repeat("0", n) + parts[last]
	return strings.Join(parts, ".")
}

// updateWin32Assembly records the identity of a side-by-side assembly,
// read from the manifest file it points at.
func (b *Binder) updateWin32Assembly(f *FileFacade) error {
	src := f.SourceLine()

	manifest, ok := b.facadesByID[f.WixFile.AssemblyManifest()]
	if !ok {
		b.messenger.Post(messaging.MissingManifestForWin32AssemblyError(src, f.ID(), f.WixFile.AssemblyManifest()))
		return nil
	}

	identity, err := fileinfo.ReadManifest(manifest.Source())
	switch {
	case os.IsNotExist(err):
		b.messenger.Post(messaging.FileNotFoundError(src, manifest.Source()))
		return nil
	case err != nil:
		b.messenger.Post(messaging.InvalidXmlError(src, "manifest", err.Error()))
		return nil
	}

	for _, name := range []struct{ key, value string }{
		{"name", identity.Name},
		{"version", identity.Version},
		{"type", identity.Type},
		{"processorArchitecture", identity.ProcessorArchitecture},
		{"publicKeyToken", identity.PublicKeyToken},
	} {
		if name.value != "" {
			b.setMsiAssemblyName(f, name.key, name.value)
		}
	}

	return nil
}

// setMsiAssemblyName sets one assembly name of the file's component. An
// authored row for the same name is overwritten in place.
func (b *Binder) setMsiAssemblyName(f *FileFacade, name, value string) {
	src := f.SourceLine()
	component := f.File.Component()

	if value == "" {
		b.messenger.Post(messaging.NullMsiAssemblyNameValueWarning(src, component, name))
		return
	}

	if name == "name" && f.WixFile.AssemblyType() == output.AssemblyDotNet && f.WixFile.AssemblyApplication() == "" {
		fileName := strings.TrimSuffix(f.File.LongFileName(), filepath.Ext(f.File.LongFileName()))
		if !strings.EqualFold(fileName, value) {
			b.messenger.Post(messaging.GACAssemblyIdentityWarningMessage(src, fileName, value))
		}
	}

	for _, row := range b.out.Rows(output.TableMsiAssemblyName) {
		existing := output.AssemblyNameRow{Row: row}
		if existing.Component() == component && existing.Name() == name {
			existing.SetValue(value)
			return
		}
	}

	row := output.AssemblyNameRow{Row: b.out.CreateRow(output.TableMsiAssemblyName, src, f.FromModule)}
	row.SetComponent(component)
	row.SetName(name)
	row.SetValue(value)
	f.AssemblyNames = append(f.AssemblyNames, row)
}
