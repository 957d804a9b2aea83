package messaging

func warningf(code Code, src SourceLine, format string, args ...interface{}) *Message {
	return newMessage(LevelWarning, code, src, format, args...)
}

func verbosef(code Code, src SourceLine, format string, args ...interface{}) *Message {
	return newMessage(LevelVerbose, code, src, format, args...)
}

func EmptyCabinetWarning(src SourceLine, cabinet string, isPatch bool) *Message {
	if isPatch {
		return warningf(EmptyCabinet, src, "The cabinet '%s' does not contain any files. If this patch contains no files, this warning can likely be safely ignored. Otherwise, try passing -p to torch.exe when first building the transforms, or add a ComponentRef to your PatchFamily authoring to pull changed files into the cabinet.", cabinet)
	}
	return warningf(EmptyCabinet, src, "The cabinet '%s' does not contain any files.", cabinet)
}

func CannotUpdateCabCacheWarning(src SourceLine, path, detail string) *Message {
	return warningf(CannotUpdateCabCache, src, "Cannot update modification time for cached cabinet '%s'. Ensure the file is not read-only and the user has access in order to cache cabinets. More information: %s", path, detail)
}

func RetainRangeMismatchWarning(src SourceLine, fileID string) *Message {
	return warningf(RetainRangeMismatch, src, "The retain range for file '%s' does not match the ranges of the previous versions of the file.", fileID)
}

func DefaultVersionUsedForUnversionedFileWarning(src SourceLine, version, fileID string) *Message {
	return warningf(DefaultVersionUsedForUnversionedFile, src, "The DefaultVersion '%s' was used for file '%s' which has no version. No entry for this file will be placed in the MsiFileHash table.", version, fileID)
}

func DefaultLanguageUsedForUnversionedFileWarning(src SourceLine, language, fileID string) *Message {
	return warningf(DefaultLanguageUsedForUnversionedFile, src, "The DefaultLanguage '%s' was used for file '%s' which has no version. Files without a version cannot have a language.", language, fileID)
}

func DefaultLanguageUsedForVersionedFileWarning(src SourceLine, language, fileID string) *Message {
	return warningf(DefaultLanguageUsedForVersionedFile, src, "The DefaultLanguage '%s' was used for file '%s' which has a version but no language. The file's own (empty) language is kept.", language, fileID)
}

func GACAssemblyIdentityWarningMessage(src SourceLine, fileName, assemblyName string) *Message {
	return warningf(GACAssemblyIdentityWarning, src, "The destination name of file '%s' does not match its assembly name '%s' in your authoring. This will cause an installation failure for this assembly, because it will be installed to the Global Assembly Cache.", fileName, assemblyName)
}

func NullMsiAssemblyNameValueWarning(src SourceLine, component, name string) *Message {
	return warningf(NullMsiAssemblyNameValue, src, "The assembly '%s' does not have a value for the '%s' assembly name. No MsiAssemblyName row is created for it.", component, name)
}

func InvalidHigherInstallerVersionInModuleWarning(src SourceLine, moduleID string, moduleVersion, outputVersion int) *Message {
	return warningf(InvalidHigherInstallerVersionInModule, src, "The merge module '%s' has an installer version of %d which is greater than the installer version of the target output %d. This module requires a newer Windows Installer than the output declares.", moduleID, moduleVersion, outputVersion)
}

func ReusingCabCacheVerbose(src SourceLine, cabinet, path string) *Message {
	return verbosef(ReusingCabCache, src, "Reusing cabinet '%s' from cabinet cache path: '%s'.", cabinet, path)
}

func CabinetsSplitInParallelVerbose() *Message {
	return verbosef(CabinetsSplitInParallel, "", "Multiple cabinets are being split at the same time; waiting for the other split to finish.")
}

func CabinetSplitVerbose(firstCabinet, newCabinet, fileID string, diskID int) *Message {
	return verbosef(CabinetSplit, "", "Cabinet '%s' was split because of file '%s'; continuation cabinet '%s' was inserted as DiskId %d.", firstCabinet, fileID, newCabinet, diskID)
}

func BuildingCabinetsVerbose(count, threads int) *Message {
	return verbosef(BuildingCabinets, "", "Building %d cabinet(s) on %d thread(s).", count, threads)
}
