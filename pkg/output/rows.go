package output

import (
	"strings"

	"github.com/kolide/binder/pkg/messaging"
)

// YesNoType is a tri-state authoring flag.
type YesNoType int

const (
	NotSet YesNoType = iota
	No
	Yes
)

// AssemblyType classifies a file as a .NET assembly, a native side-by-side
// assembly, or neither.
type AssemblyType int

const (
	AssemblyNone AssemblyType = iota
	AssemblyDotNet
	AssemblyWin32
)

// SymbolPathType is the scope a WixDeltaPatchSymbolPaths row applies to.
// The numeric values are also the precedence order.
type SymbolPathType int

const (
	SymbolPathFile SymbolPathType = iota
	SymbolPathComponent
	SymbolPathDirectory
	SymbolPathMedia
	SymbolPathProduct
)

// PatchAttributes are the WixFile.PatchAttributes flags.
type PatchAttributes int

const (
	PatchIgnore             PatchAttributes = 1
	PatchIncludeWholeFile   PatchAttributes = 2
	PatchAllowIgnoreOnError PatchAttributes = 4
)

const (
	// MsiFileAttributes values on File.Attributes.
	FileAttributeNoncompressed = 0x2000
	FileAttributeCompressed    = 0x4000
)

// CreateRow appends a row to the named catalog table, creating the table
// when needed. Unknown table names are a programming error.
func (o *Output) CreateRow(table string, src messaging.SourceLine, fromModule bool) *Row {
	def, err := Definition(table)
	if err != nil {
		panic(err)
	}
	return o.EnsureTable(def).CreateRow(src, fromModule)
}

// Rows returns the rows of the named table, or nil.
func (o *Output) Rows(table string) []*Row {
	if t := o.Table(table); t != nil {
		return t.Rows
	}
	return nil
}

// FileRow is a view of a File table row.
type FileRow struct{ *Row }

const (
	fileID = iota
	fileComponent
	fileName
	fileSize
	fileVersion
	fileLanguage
	fileAttributes
	fileSequence
)

func (r FileRow) ID() string            { return r.String(fileID) }
func (r FileRow) Component() string     { return r.String(fileComponent) }
func (r FileRow) FileName() string      { return r.String(fileName) }
func (r FileRow) FileSize() int         { return r.IntOr(fileSize, 0) }
func (r FileRow) Version() string       { return r.String(fileVersion) }
func (r FileRow) Language() string      { return r.String(fileLanguage) }
func (r FileRow) Attributes() int       { return r.IntOr(fileAttributes, 0) }
func (r FileRow) Sequence() int         { return r.IntOr(fileSequence, 0) }
func (r FileRow) SetID(v string)        { r.Set(fileID, v) }
func (r FileRow) SetComponent(v string) { r.Set(fileComponent, v) }
func (r FileRow) SetFileName(v string)  { r.Set(fileName, v) }
func (r FileRow) SetFileSize(v int)     { r.Set(fileSize, v) }
func (r FileRow) SetVersion(v string)   { r.Set(fileVersion, v) }
func (r FileRow) SetLanguage(v string)  { r.Set(fileLanguage, v) }
func (r FileRow) SetAttributes(v int)   { r.Set(fileAttributes, v) }
func (r FileRow) SetSequence(v int)     { r.Set(fileSequence, v) }

// LongFileName returns the long half of a "short|long" file name.
func (r FileRow) LongFileName() string {
	name := r.FileName()
	if i := strings.IndexByte(name, '|'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Compressed derives the tri-state compression flag from the attributes.
func (r FileRow) Compressed() YesNoType {
	attrs := r.Attributes()
	switch {
	case attrs&FileAttributeCompressed != 0:
		return Yes
	case attrs&FileAttributeNoncompressed != 0:
		return No
	default:
		return NotSet
	}
}

func (r FileRow) SetCompressed(v YesNoType) {
	attrs := r.Attributes() &^ (FileAttributeCompressed | FileAttributeNoncompressed)
	switch v {
	case Yes:
		attrs |= FileAttributeCompressed
	case No:
		attrs |= FileAttributeNoncompressed
	}
	r.SetAttributes(attrs)
}

// WixFileRow is a view of a WixFile row, the physical half of a file.
type WixFileRow struct{ *Row }

const (
	wixFileFile = iota
	wixFileAssemblyAttributes
	wixFileAssemblyManifest
	wixFileAssemblyApplication
	wixFileDirectory
	wixFileDiskID
	wixFileSource
	wixFileProcessorArchitecture
	wixFilePatchGroup
	wixFileAttributes
	wixFilePatchAttributes
	wixFileDeltaPatchHeaderSource
)

func (r WixFileRow) File() string                  { return r.String(wixFileFile) }
func (r WixFileRow) AssemblyManifest() string      { return r.String(wixFileAssemblyManifest) }
func (r WixFileRow) AssemblyApplication() string   { return r.String(wixFileAssemblyApplication) }
func (r WixFileRow) Directory() string             { return r.String(wixFileDirectory) }
func (r WixFileRow) DiskID() int                   { return r.IntOr(wixFileDiskID, 0) }
func (r WixFileRow) Source() string                { return r.String(wixFileSource) }
func (r WixFileRow) PreviousSource() string        { return r.Previous(wixFileSource) }
func (r WixFileRow) ProcessorArchitecture() string { return r.String(wixFileProcessorArchitecture) }
func (r WixFileRow) PatchGroup() int               { return r.IntOr(wixFilePatchGroup, 0) }
func (r WixFileRow) Attributes() int               { return r.IntOr(wixFileAttributes, 0) }
func (r WixFileRow) DeltaPatchHeaderSource() string {
	return r.String(wixFileDeltaPatchHeaderSource)
}

func (r WixFileRow) PatchAttributes() PatchAttributes {
	return PatchAttributes(r.IntOr(wixFilePatchAttributes, 0))
}

func (r WixFileRow) AssemblyType() AssemblyType {
	n, ok := r.Int(wixFileAssemblyAttributes)
	switch {
	case !ok:
		return AssemblyNone
	case n == 0:
		return AssemblyDotNet
	case n == 1:
		return AssemblyWin32
	default:
		return AssemblyNone
	}
}

func (r WixFileRow) SetAssemblyType(v AssemblyType) {
	switch v {
	case AssemblyDotNet:
		r.Set(wixFileAssemblyAttributes, 0)
	case AssemblyWin32:
		r.Set(wixFileAssemblyAttributes, 1)
	default:
		r.Set(wixFileAssemblyAttributes, nil)
	}
}

func (r WixFileRow) SetFile(v string)                  { r.Set(wixFileFile, v) }
func (r WixFileRow) SetAssemblyManifest(v string)      { r.Set(wixFileAssemblyManifest, v) }
func (r WixFileRow) SetAssemblyApplication(v string)   { r.Set(wixFileAssemblyApplication, v) }
func (r WixFileRow) SetDirectory(v string)             { r.Set(wixFileDirectory, v) }
func (r WixFileRow) SetDiskID(v int)                   { r.Set(wixFileDiskID, v) }
func (r WixFileRow) SetSource(v string)                { r.Set(wixFileSource, v) }
func (r WixFileRow) SetPreviousSource(v string)        { r.SetPrevious(wixFileSource, v) }
func (r WixFileRow) SetProcessorArchitecture(v string) { r.Set(wixFileProcessorArchitecture, v) }
func (r WixFileRow) SetPatchGroup(v int)               { r.Set(wixFilePatchGroup, v) }
func (r WixFileRow) SetAttributes(v int)               { r.Set(wixFileAttributes, v) }
func (r WixFileRow) SetPatchAttributes(v PatchAttributes) {
	r.Set(wixFilePatchAttributes, int(v))
}
func (r WixFileRow) SetDeltaPatchHeaderSource(v string) {
	r.Set(wixFileDeltaPatchHeaderSource, v)
}

// DeltaPatchFileRow is a view of a WixDeltaPatchFile row. The previous
// lists live in the PreviousData of the same columns.
type DeltaPatchFileRow struct{ *Row }

const (
	deltaFile = iota
	deltaRetainLengths
	deltaIgnoreOffsets
	deltaIgnoreLengths
	deltaRetainOffsets
	deltaSymbolPaths
)

func (r DeltaPatchFileRow) File() string          { return r.String(deltaFile) }
func (r DeltaPatchFileRow) RetainLengths() string { return r.String(deltaRetainLengths) }
func (r DeltaPatchFileRow) IgnoreOffsets() string { return r.String(deltaIgnoreOffsets) }
func (r DeltaPatchFileRow) IgnoreLengths() string { return r.String(deltaIgnoreLengths) }
func (r DeltaPatchFileRow) RetainOffsets() string { return r.String(deltaRetainOffsets) }
func (r DeltaPatchFileRow) SymbolPaths() string   { return r.String(deltaSymbolPaths) }

func (r DeltaPatchFileRow) PreviousRetainLengths() string { return r.Previous(deltaRetainLengths) }
func (r DeltaPatchFileRow) PreviousIgnoreOffsets() string { return r.Previous(deltaIgnoreOffsets) }
func (r DeltaPatchFileRow) PreviousIgnoreLengths() string { return r.Previous(deltaIgnoreLengths) }
func (r DeltaPatchFileRow) PreviousRetainOffsets() string { return r.Previous(deltaRetainOffsets) }
func (r DeltaPatchFileRow) PreviousSymbolPaths() string   { return r.Previous(deltaSymbolPaths) }

func (r DeltaPatchFileRow) SetFile(v string)                { r.Set(deltaFile, v) }
func (r DeltaPatchFileRow) SetRetainOffsets(v string)       { r.Set(deltaRetainOffsets, v) }
func (r DeltaPatchFileRow) SetSymbolPaths(v string)         { r.Set(deltaSymbolPaths, v) }
func (r DeltaPatchFileRow) SetPreviousSymbolPaths(v string) { r.SetPrevious(deltaSymbolPaths, v) }

// SymbolPathsRow is a view of a WixDeltaPatchSymbolPaths row.
type SymbolPathsRow struct{ *Row }

func (r SymbolPathsRow) Type() SymbolPathType        { return SymbolPathType(r.IntOr(0, -1)) }
func (r SymbolPathsRow) ID() string                  { return r.String(1) }
func (r SymbolPathsRow) SymbolPaths() string         { return r.String(2) }
func (r SymbolPathsRow) PreviousSymbolPaths() string { return r.Previous(2) }

// MediaRow is a view of a Media row.
type MediaRow struct{ *Row }

const (
	mediaDiskID = iota
	mediaLastSequence
	mediaDiskPrompt
	mediaCabinet
	mediaVolumeLabel
	mediaSource
)

func (r MediaRow) DiskID() int             { return r.IntOr(mediaDiskID, 0) }
func (r MediaRow) LastSequence() int       { return r.IntOr(mediaLastSequence, 0) }
func (r MediaRow) DiskPrompt() string      { return r.String(mediaDiskPrompt) }
func (r MediaRow) Cabinet() string         { return r.String(mediaCabinet) }
func (r MediaRow) VolumeLabel() string     { return r.String(mediaVolumeLabel) }
func (r MediaRow) Source() string          { return r.String(mediaSource) }
func (r MediaRow) SetDiskID(v int)         { r.Set(mediaDiskID, v) }
func (r MediaRow) SetLastSequence(v int)   { r.Set(mediaLastSequence, v) }
func (r MediaRow) SetDiskPrompt(v string)  { r.Set(mediaDiskPrompt, v) }
func (r MediaRow) SetCabinet(v string)     { r.Set(mediaCabinet, v) }
func (r MediaRow) SetVolumeLabel(v string) { r.Set(mediaVolumeLabel, v) }

// WixMediaRow is a view of a WixMedia row, the authoring overlay of a
// Media row with the same disk id.
type WixMediaRow struct{ *Row }

func (r WixMediaRow) DiskID() int                  { return r.IntOr(0, 0) }
func (r WixMediaRow) CompressionLevel() string     { return r.String(1) }
func (r WixMediaRow) Layout() string               { return r.String(2) }
func (r WixMediaRow) SetDiskID(v int)              { r.Set(0, v) }
func (r WixMediaRow) SetCompressionLevel(v string) { r.Set(1, v) }
func (r WixMediaRow) SetLayout(v string)           { r.Set(2, v) }

// MediaTemplateRow is a view of the WixMediaTemplate row.
type MediaTemplateRow struct{ *Row }

func (r MediaTemplateRow) CabinetTemplate() string  { return r.String(0) }
func (r MediaTemplateRow) CompressionLevel() string { return r.String(1) }
func (r MediaTemplateRow) DiskPrompt() string       { return r.String(2) }
func (r MediaTemplateRow) VolumeLabel() string      { return r.String(3) }

// MaximumUncompressedMediaSize is in MB; false when not authored.
func (r MediaTemplateRow) MaximumUncompressedMediaSize() (int, bool) { return r.Int(4) }

// MaximumCabinetSizeForLargeFileSplitting is in MB; false when not authored.
func (r MediaTemplateRow) MaximumCabinetSizeForLargeFileSplitting() (int, bool) {
	return r.Int(5)
}

func (r MediaTemplateRow) SetMaximumUncompressedMediaSize(v int) { r.Set(4, v) }
func (r MediaTemplateRow) SetMaximumCabinetSizeForLargeFileSplitting(v int) {
	r.Set(5, v)
}

// ComponentRow is a view of a Component row.
type ComponentRow struct{ *Row }

func (r ComponentRow) Component() string { return r.String(0) }
func (r ComponentRow) Directory() string { return r.String(2) }

// DirectoryRow is a view of a Directory row.
type DirectoryRow struct{ *Row }

func (r DirectoryRow) Directory() string  { return r.String(0) }
func (r DirectoryRow) Parent() string     { return r.String(1) }
func (r DirectoryRow) DefaultDir() string { return r.String(2) }

// AssemblyNameRow is a view of a MsiAssemblyName row.
type AssemblyNameRow struct{ *Row }

func (r AssemblyNameRow) Component() string     { return r.String(0) }
func (r AssemblyNameRow) Name() string          { return r.String(1) }
func (r AssemblyNameRow) Value() string         { return r.String(2) }
func (r AssemblyNameRow) SetComponent(v string) { r.Set(0, v) }
func (r AssemblyNameRow) SetName(v string)      { r.Set(1, v) }
func (r AssemblyNameRow) SetValue(v string)     { r.Set(2, v) }

// FileHashRow is a view of a MsiFileHash row.
type FileHashRow struct{ *Row }

func (r FileHashRow) File() string     { return r.String(0) }
func (r FileHashRow) Options() int     { return r.IntOr(1, 0) }
func (r FileHashRow) SetFile(v string) { r.Set(0, v) }
func (r FileHashRow) SetOptions(v int) { r.Set(1, v) }

func (r FileHashRow) Hash() [4]int32 {
	var h [4]int32
	for i := range h {
		h[i] = int32(r.IntOr(2+i, 0))
	}
	return h
}

func (r FileHashRow) SetHash(h [4]int32) {
	for i, part := range h {
		r.Set(2+i, int(part))
	}
}

// MergeRow is a view of a WixMerge row.
type MergeRow struct{ *Row }

func (r MergeRow) ID() string                { return r.String(0) }
func (r MergeRow) Language() string          { return r.String(1) }
func (r MergeRow) Directory() string         { return r.String(2) }
func (r MergeRow) SourceFile() string        { return r.String(3) }
func (r MergeRow) DiskID() int               { return r.IntOr(4, 0) }
func (r MergeRow) ConfigurationData() string { return r.String(6) }
func (r MergeRow) Feature() string           { return r.String(7) }

func (r MergeRow) FileCompression() YesNoType {
	n, ok := r.Int(5)
	switch {
	case !ok:
		return NotSet
	case n == 0:
		return No
	default:
		return Yes
	}
}

// StreamRow is a view of a _Streams row.
type StreamRow struct{ *Row }

func (r StreamRow) Name() string     { return r.String(0) }
func (r StreamRow) Data() string     { return r.String(1) }
func (r StreamRow) SetName(v string) { r.Set(0, v) }
func (r StreamRow) SetData(v string) { r.Set(1, v) }

// PatchIDRow is a view of the WixPatchId row.
type PatchIDRow struct{ *Row }

func (r PatchIDRow) ProductCode() string   { return r.String(0) }
func (r PatchIDRow) ClientPatchID() string { return r.String(1) }
func (r PatchIDRow) OptimizePatchSizeForLargeFiles() bool {
	return r.IntOr(2, 0) != 0
}
func (r PatchIDRow) APIPatchingSymbolFlags() int { return r.IntOr(3, 0) }

// SummaryRow is a view of a _SummaryInformation row.
type SummaryRow struct{ *Row }

func (r SummaryRow) PropertyID() int { return r.IntOr(0, -1) }
func (r SummaryRow) Value() string   { return r.String(1) }

const (
	SummaryInstallerVersion = 14
	SummaryWordCount        = 15
)

// SummaryValue returns the value of summary property pid, and false if
// the output has none.
func (o *Output) SummaryValue(pid int) (string, bool) {
	for _, row := range o.Rows(TableSummaryInformation) {
		sr := SummaryRow{row}
		if sr.PropertyID() == pid {
			return sr.Value(), true
		}
	}
	return "", false
}

// wordCount returns summary property 15, or 0.
func (o *Output) wordCount() int {
	v, ok := o.SummaryValue(SummaryWordCount)
	if !ok {
		return 0
	}
	n, err := coerceNumber(v)
	if err != nil || n == nil {
		return 0
	}
	return n.(int)
}

// Compressed reports whether files default to compressed.
func (o *Output) Compressed() bool {
	return o.wordCount()&0x2 != 0
}

// LongNames reports whether the package uses long file names.
func (o *Output) LongNames() bool {
	return o.wordCount()&0x1 == 0
}

// InstallerVersion returns summary property 14, or 0 when absent.
func (o *Output) InstallerVersion() int {
	v, ok := o.SummaryValue(SummaryInstallerVersion)
	if !ok {
		return 0
	}
	n, err := coerceNumber(v)
	if err != nil || n == nil {
		return 0
	}
	return n.(int)
}
