// Package fileinfo probes files on disk for the metadata an installer
// database records about them: version and language, content hash, and
// assembly identity.
package fileinfo

// VersionReader reads the version resource of a file. Unversioned files
// return empty strings and no error.
type VersionReader interface {
	FileVersion(path string) (version, language string, err error)
}

// VersionReaderFunc adapts a function to VersionReader.
type VersionReaderFunc func(path string) (string, string, error)

func (f VersionReaderFunc) FileVersion(path string) (string, string, error) {
	return f(path)
}

// AssemblyIdentity is the strong name of a .NET assembly.
type AssemblyIdentity struct {
	Name                  string
	Culture               string
	Version               string
	PublicKeyToken        string
	ProcessorArchitecture string

	// RuntimeVersion is the metadata version string, e.g. "v4.0.30319".
	RuntimeVersion string
}

// AssemblyReader reads the identity of a .NET assembly.
type AssemblyReader interface {
	ReadAssembly(path string) (*AssemblyIdentity, error)
}

// AssemblyReaderFunc adapts a function to AssemblyReader.
type AssemblyReaderFunc func(path string) (*AssemblyIdentity, error)

func (f AssemblyReaderFunc) ReadAssembly(path string) (*AssemblyIdentity, error) {
	return f(path)
}
