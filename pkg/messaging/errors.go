package messaging

func errorf(code Code, src SourceLine, format string, args ...interface{}) *Message {
	return newMessage(LevelError, code, src, format, args...)
}

func MissingMediaError(src SourceLine, diskID int) *Message {
	return errorf(MissingMedia, src, "There is no media with DiskId %d. Every file must reference an authored media row.", diskID)
}

func DuplicateCabinetNameError(src SourceLine, cabinet string) *Message {
	return errorf(DuplicateCabinetName, src, "Duplicate cabinet name '%s' found.", cabinet)
}

func DuplicateCabinetName2Error(src SourceLine, cabinet string) *Message {
	return errorf(DuplicateCabinetName2, src, "Location of the original cabinet name '%s'.", cabinet)
}

func ExpectedMediaCabinetError(src SourceLine, fileID string, diskID int) *Message {
	return errorf(ExpectedMediaCabinet, src, "The file '%s' should be compressed but is not part of a compressed media. Files will be compressed if either the File/@Compressed or Package/@Compressed attributes are set to 'yes'. This can be fixed by setting Media/@Cabinet for DiskId %d.", fileID, diskID)
}

func MediaTableCollisionError(src SourceLine) *Message {
	return errorf(MediaTableCollision, src, "Only one of Media and MediaTemplate can be authored.")
}

func IllegalEnvironmentVariableError(name, value string) *Message {
	return errorf(IllegalEnvironmentVariable, "", "The '%s' environment variable is set to an invalid value of '%s'.", name, value)
}

func MaximumUncompressedMediaSizeTooLargeError(src SourceLine, size int64) *Message {
	return errorf(MaximumUncompressedMediaSizeTooLarge, src, "'%d' is too large. Reduce the size of maximum uncompressed media size.", size)
}

func MaximumCabinetSizeForLargeFileSplittingTooLargeError(src SourceLine, size int64, max int) *Message {
	return errorf(MaximumCabinetSizeForLargeFileSplittingTooLarge, src, "'%d' is too large. Reduce the size of maximum cabinet size for large file splitting. Maximum cabinet size for large file splitting cannot exceed '%d' MB.", size, max)
}

func SplitCabinetCopyRegistrationFailedError(newCabinet, firstCabinet string) *Message {
	return errorf(SplitCabinetCopyRegistrationFailed, "", "Failed to register the copy command for cabinet '%s' formed by splitting cabinet '%s'.", newCabinet, firstCabinet)
}

func SplitCabinetNameCollisionError(newCabinet, firstCabinet string) *Message {
	return errorf(SplitCabinetNameCollision, "", "The cabinet name '%s' collides with the new cabinet formed by splitting cabinet '%s', consider renaming cabinet '%s'.", newCabinet, firstCabinet, newCabinet)
}

func SplitCabinetInsertionFailedError(newCabinet, firstCabinet, lastCabinet string) *Message {
	return errorf(SplitCabinetInsertionFailed, "", "Could not find cabinet '%s' to insert the split cabinet '%s' after (split chain started by '%s').", lastCabinet, newCabinet, firstCabinet)
}

func DuplicateDiskIDError(src SourceLine, diskID int) *Message {
	return errorf(DuplicateDiskID, src, "The media table has more than one row with DiskId %d.", diskID)
}

func DuplicateFileIdentifierError(src SourceLine, fileID string) *Message {
	return errorf(DuplicateFileIdentifier, src, "The file identifier '%s' is defined more than once.", fileID)
}

func MissingFileRowError(src SourceLine, table, fileID string) *Message {
	return errorf(MissingFileRow, src, "The file '%s' has no matching row in the %s table.", fileID, table)
}

func InvalidSymbolPathTypeError(src SourceLine, typ int) *Message {
	return errorf(InvalidSymbolPathType, src, "Unknown symbol path scope %d.", typ)
}

func CannotFindFileError(src SourceLine, fileID, fileName, source string) *Message {
	return errorf(CannotFindFile, src, "The file with id '%s' and name '%s' could not be found with source path: '%s'.", fileID, fileName, source)
}

func FileTooLargeError(src SourceLine, path string) *Message {
	return errorf(FileTooLarge, src, "'%s' is too large, file size must be less than 2147483648.", path)
}

func FileNotFoundError(src SourceLine, path string) *Message {
	return errorf(FileNotFound, src, "The system cannot find the file '%s'.", path)
}

func InvalidFileNameError(src SourceLine, path string) *Message {
	return errorf(InvalidFileName, src, "Invalid file name '%s'.", path)
}

func FileReadFailedError(src SourceLine, path, detail string) *Message {
	return errorf(FileReadFailed, src, "Could not read '%s': %s", path, detail)
}

func GacAssemblyNoStrongNameError(src SourceLine, path, component string) *Message {
	return errorf(GacAssemblyNoStrongName, src, "Assembly %s in component %s has no strong name and has been marked to be placed in the GAC. All assemblies installed to the GAC must have a valid strong name.", path, component)
}

func InvalidAssemblyFileError(src SourceLine, path, detail string) *Message {
	return errorf(InvalidAssemblyFile, src, "The assembly file '%s' appears to be invalid. Please ensure this is a valid assembly file and that the user has the appropriate access rights to this file. More information: %s", path, detail)
}

func MissingManifestForWin32AssemblyError(src SourceLine, fileID, manifestID string) *Message {
	return errorf(MissingManifestForWin32Assembly, src, "File '%s' is marked as a Win32 assembly but it refers to assembly manifest '%s' that is not present in this product.", fileID, manifestID)
}

func InvalidXmlError(src SourceLine, fileType, detail string) *Message {
	return errorf(InvalidXml, src, "Not a valid %s file; detail: %s", fileType, detail)
}

func DuplicateModuleFileIdentifierError(src SourceLine, moduleID, fileID string) *Message {
	return errorf(DuplicateModuleFileIdentifier, src, "The merge module '%s' contains a file identifier, '%s', that is duplicated either in another merge module or in a File/@Id attribute. File identifiers must be unique. Please change one of the file identifiers to a different value.", moduleID, fileID)
}

func DuplicateModuleCaseInsensitiveFileIdentifierError(src SourceLine, moduleID, fileID1, fileID2 string) *Message {
	return errorf(DuplicateModuleCaseInsensitiveFileIdentifier, src, "The merge module '%s' contains 2 or more file identifiers that only differ by case: '%s' and '%s'. The WiX toolset extracts merge module files to the file system using these identifiers. Since most file systems are not case-sensitive a collision is likely.", moduleID, fileID1, fileID2)
}

func MissingOrInvalidModuleInstallerVersionError(src SourceLine, moduleID, modulePath, version string) *Message {
	return errorf(MissingOrInvalidModuleInstallerVersion, src, "The merge module '%s' from file '%s' is either missing or has an invalid installer version of '%s'. The value read from the installer version in module's summary information was not an integer.", moduleID, modulePath, version)
}

func InvalidMergeLanguageError(src SourceLine, moduleID, language string) *Message {
	return errorf(InvalidMergeLanguage, src, "The merge module '%s' does not contain a valid language '%s'. Language must be a numeric LCID.", moduleID, language)
}

func CannotOpenMergeModuleError(src SourceLine, moduleID, path string) *Message {
	return errorf(CannotOpenMergeModule, src, "Cannot open the merge module '%s' from file '%s'.", moduleID, path)
}

func UnableToOpenModuleError(src SourceLine, path, detail string) *Message {
	return errorf(UnableToOpenModule, src, "Unable to open merge module '%s'. Check to make sure the module language is correct. '%s'", path, detail)
}

func CabFileDoesNotExistError(cabPath, modulePath, destination string) *Message {
	return errorf(CabFileDoesNotExist, "", "Attempted to extract cabinet '%s' from merge module '%s' to directory '%s'. The cabinet file was not found. This usually means that you have a merge module without a cabinet inside it.", cabPath, modulePath, destination)
}

func CabExtractionFailedError(cabPath, modulePath, destination, detail string) *Message {
	return errorf(CabExtractionFailed, "", "Failed to extract cabinet '%s' from merge module '%s' to directory '%s': %s", cabPath, modulePath, destination, detail)
}

func FileIdentifierNotFoundError(src SourceLine, fileID string) *Message {
	return errorf(FileIdentifierNotFound, src, "The file row with identifier '%s' could not be found in the component and directory tables.", fileID)
}

func ExpectedDirectoryError(directory string) *Message {
	return errorf(ExpectedDirectory, "", "The directory '%s' could not be found.", directory)
}

func DeltaPatchFailedError(src SourceLine, fileID, detail string) *Message {
	return errorf(DeltaPatchFailed, src, "Failed to create a delta patch for file '%s': %s", fileID, detail)
}

func CabinetBuildFailedError(cabinet, detail string) *Message {
	return errorf(CabinetBuildFailed, "", "Failed to create cabinet '%s': %s", cabinet, detail)
}

func InvalidCompressionLevelError(src SourceLine, value string) *Message {
	return errorf(InvalidCompressionLevel, src, "The compression level '%s' is not valid. Valid values are none, low, medium, high and mszip.", value)
}
