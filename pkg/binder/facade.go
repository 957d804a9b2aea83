package binder

import (
	"github.com/kolide/binder/pkg/cabinet"
	"github.com/kolide/binder/pkg/messaging"
	"github.com/kolide/binder/pkg/output"
)

// FileFacade joins the rows that describe one file. Every stage of the
// bind reads and writes files through it.
type FileFacade struct {
	File    output.FileRow
	WixFile output.WixFileRow

	// DeltaPatchFile is set only for files under delta patching.
	DeltaPatchFile *output.DeltaPatchFileRow

	// AssemblyNames are the MsiAssemblyName rows created for this file.
	AssemblyNames []output.AssemblyNameRow

	// Hash is the MsiFileHash row, set when an unversioned file was hashed.
	Hash *output.FileHashRow

	// FromModule marks files synthesized from a merge module.
	FromModule bool
}

func newFileFacade(file output.FileRow, wixFile output.WixFileRow, fromModule bool) *FileFacade {
	return &FileFacade{
		File:       file,
		WixFile:    wixFile,
		FromModule: fromModule,
	}
}

func (f *FileFacade) ID() string                       { return f.File.ID() }
func (f *FileFacade) SourceLine() messaging.SourceLine { return f.File.SourceLine }
func (f *FileFacade) DiskID() int                      { return f.WixFile.DiskID() }
func (f *FileFacade) Source() string                   { return f.WixFile.Source() }
func (f *FileFacade) FileSize() int                    { return f.File.FileSize() }

// uncompressed reports whether the file stays out of cabinets, given the
// package-wide default.
func (f *FileFacade) uncompressed(packageCompressed bool) bool {
	switch f.File.Compressed() {
	case output.No:
		return true
	case output.Yes:
		return false
	default:
		return !packageCompressed
	}
}

func cabinetFiles(facades []*FileFacade) []cabinet.File {
	files := make([]cabinet.File, 0, len(facades))
	for _, f := range facades {
		files = append(files, cabinet.File{Token: f.ID(), Path: f.Source()})
	}
	return files
}
