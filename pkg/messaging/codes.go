package messaging

import "fmt"

// Code identifies a message kind. Errors live in 1-299, warnings in
// 300-499 and verbose messages from 500 up.
type Code int

const (
	// errors
	MissingMedia Code = iota + 1
	DuplicateCabinetName
	DuplicateCabinetName2
	ExpectedMediaCabinet
	MediaTableCollision
	IllegalEnvironmentVariable
	MaximumUncompressedMediaSizeTooLarge
	MaximumCabinetSizeForLargeFileSplittingTooLarge
	SplitCabinetCopyRegistrationFailed
	SplitCabinetNameCollision
	SplitCabinetInsertionFailed
	DuplicateDiskID
	DuplicateFileIdentifier
	MissingFileRow
	InvalidSymbolPathType
	CannotFindFile
	FileTooLarge
	FileNotFound
	InvalidFileName
	FileReadFailed
	GacAssemblyNoStrongName
	InvalidAssemblyFile
	MissingManifestForWin32Assembly
	InvalidXml
	DuplicateModuleFileIdentifier
	DuplicateModuleCaseInsensitiveFileIdentifier
	MissingOrInvalidModuleInstallerVersion
	InvalidMergeLanguage
	CannotOpenMergeModule
	UnableToOpenModule
	CabFileDoesNotExist
	CabExtractionFailed
	FileIdentifierNotFound
	ExpectedDirectory
	DeltaPatchFailed
	CabinetBuildFailed
	InvalidCompressionLevel
)

const (
	// warnings
	EmptyCabinet Code = iota + 300
	CannotUpdateCabCache
	RetainRangeMismatch
	DefaultVersionUsedForUnversionedFile
	DefaultLanguageUsedForUnversionedFile
	DefaultLanguageUsedForVersionedFile
	GACAssemblyIdentityWarning
	NullMsiAssemblyNameValue
	InvalidHigherInstallerVersionInModule
)

const (
	// verbose
	ReusingCabCache Code = iota + 500
	CabinetsSplitInParallel
	CabinetSplit
	BuildingCabinets
)

var codeNames = map[Code]string{
	MissingMedia:                         "MissingMedia",
	DuplicateCabinetName:                 "DuplicateCabinetName",
	DuplicateCabinetName2:                "DuplicateCabinetName2",
	ExpectedMediaCabinet:                 "ExpectedMediaCabinet",
	MediaTableCollision:                  "MediaTableCollision",
	IllegalEnvironmentVariable:           "IllegalEnvironmentVariable",
	MaximumUncompressedMediaSizeTooLarge: "MaximumUncompressedMediaSizeTooLarge",
	MaximumCabinetSizeForLargeFileSplittingTooLarge: "MaximumCabinetSizeForLargeFileSplittingTooLarge",
	SplitCabinetCopyRegistrationFailed:              "SplitCabinetCopyRegistrationFailed",
	SplitCabinetNameCollision:                       "SplitCabinetNameCollision",
	SplitCabinetInsertionFailed:                     "SplitCabinetInsertionFailed",
	DuplicateDiskID:                                 "DuplicateDiskID",
	DuplicateFileIdentifier:                         "DuplicateFileIdentifier",
	MissingFileRow:                                  "MissingFileRow",
	InvalidSymbolPathType:                           "InvalidSymbolPathType",
	CannotFindFile:                                  "CannotFindFile",
	FileTooLarge:                                    "FileTooLarge",
	FileNotFound:                                    "FileNotFound",
	InvalidFileName:                                 "InvalidFileName",
	FileReadFailed:                                  "FileReadFailed",
	GacAssemblyNoStrongName:                         "GacAssemblyNoStrongName",
	InvalidAssemblyFile:                             "InvalidAssemblyFile",
	MissingManifestForWin32Assembly:                 "MissingManifestForWin32Assembly",
	InvalidXml:                                      "InvalidXml",
	DuplicateModuleFileIdentifier:                   "DuplicateModuleFileIdentifier",
	DuplicateModuleCaseInsensitiveFileIdentifier:    "DuplicateModuleCaseInsensitiveFileIdentifier",
	MissingOrInvalidModuleInstallerVersion:          "MissingOrInvalidModuleInstallerVersion",
	InvalidMergeLanguage:                            "InvalidMergeLanguage",
	CannotOpenMergeModule:                           "CannotOpenMergeModule",
	UnableToOpenModule:                              "UnableToOpenModule",
	CabFileDoesNotExist:                             "CabFileDoesNotExist",
	CabExtractionFailed:                             "CabExtractionFailed",
	FileIdentifierNotFound:                          "FileIdentifierNotFound",
	ExpectedDirectory:                               "ExpectedDirectory",
	DeltaPatchFailed:                                "DeltaPatchFailed",
	CabinetBuildFailed:                              "CabinetBuildFailed",
	InvalidCompressionLevel:                         "InvalidCompressionLevel",

	EmptyCabinet:                          "EmptyCabinet",
	CannotUpdateCabCache:                  "CannotUpdateCabCache",
	RetainRangeMismatch:                   "RetainRangeMismatch",
	DefaultVersionUsedForUnversionedFile:  "DefaultVersionUsedForUnversionedFile",
	DefaultLanguageUsedForUnversionedFile: "DefaultLanguageUsedForUnversionedFile",
	DefaultLanguageUsedForVersionedFile:   "DefaultLanguageUsedForVersionedFile",
	GACAssemblyIdentityWarning:            "GACAssemblyIdentityWarning",
	NullMsiAssemblyNameValue:              "NullMsiAssemblyNameValue",
	InvalidHigherInstallerVersionInModule: "InvalidHigherInstallerVersionInModule",

	ReusingCabCache:         "ReusingCabCache",
	CabinetsSplitInParallel: "CabinetsSplitInParallel",
	CabinetSplit:            "CabinetSplit",
	BuildingCabinets:        "BuildingCabinets",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}
