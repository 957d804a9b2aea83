// Package cabinet builds the compressed containers that carry installer
// payload. It owns the work item model, the build-vs-reuse resolver
// chain, the worker pool and the bundled archiver.
package cabinet

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

// CompressionLevel is the authored compression setting of a cabinet.
type CompressionLevel int

const (
	LevelNone CompressionLevel = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelMszip
)

var levelNames = []string{"none", "low", "medium", "high", "mszip"}

func (l CompressionLevel) String() string {
	if int(l) < 0 || int(l) >= len(levelNames) {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseCompressionLevel accepts the authored names, case-insensitively.
func ParseCompressionLevel(s string) (CompressionLevel, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return CompressionLevel(i), nil
		}
	}
	return 0, errors.Errorf("unknown compression level %q", s)
}

// flateLevel maps the authored level onto the deflate encoder.
func (l CompressionLevel) flateLevel() int {
	switch l {
	case LevelNone:
		return flate.NoCompression
	case LevelLow:
		return flate.BestSpeed
	case LevelMedium:
		return 5
	case LevelHigh:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}

// File is one member of a cabinet: the file identifier the installer uses
// to find it, and where its bytes come from.
type File struct {
	Token string
	Path  string
}

// WorkItem is an immutable request to build one cabinet.
type WorkItem struct {
	CabinetPath string
	Files       []File

	// MaxThreshold caps the size of each physical volume in MB. Zero uses
	// the build-wide large-file splitting size.
	MaxThreshold int

	CompressionLevel CompressionLevel

	// Volumes is set by the Builder before the built hook runs: the
	// continuation volumes the cabinet spanned into, in order.
	Volumes []Volume
}

// Volume is a continuation volume of a spanned cabinet and the file being
// written when the cabinet rolled over to it.
type Volume struct {
	Name  string
	Token string
}

func (w WorkItem) Name() string {
	return filepath.Base(w.CabinetPath)
}

// BuildOption is the outcome of the build-vs-reuse decision.
type BuildOption int

const (
	// BuildAndCopy builds the cabinet and copies it to the layout,
	// keeping the built file where it is (typically a cache).
	BuildAndCopy BuildOption = iota

	// BuildAndMove builds the cabinet in a scratch location and moves it.
	BuildAndMove

	// Copy reuses an existing cabinet without building.
	Copy
)

func (b BuildOption) String() string {
	switch b {
	case BuildAndCopy:
		return "BuildAndCopy"
	case BuildAndMove:
		return "BuildAndMove"
	case Copy:
		return "Copy"
	default:
		return fmt.Sprintf("BuildOption(%d)", int(b))
	}
}

// ResolvedCabinet is where a cabinet will be built or found.
type ResolvedCabinet struct {
	Path        string
	BuildOption BuildOption

	// Volumes are the continuation volumes a reused cabinet spans into.
	// They sit next to Path.
	Volumes []Volume
}

// Resolver decides whether a cabinet must be built. A nil result with a nil
// error declines, and the next resolver is asked.
type Resolver interface {
	ResolveCabinet(cabinetPath string, files []File) (*ResolvedCabinet, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(cabinetPath string, files []File) (*ResolvedCabinet, error)

func (f ResolverFunc) ResolveCabinet(cabinetPath string, files []File) (*ResolvedCabinet, error) {
	return f(cabinetPath, files)
}

// Resolve asks each resolver in turn and returns the first answer. When
// every resolver declines, the cabinet is built in place and moved.
func Resolve(resolvers []Resolver, cabinetPath string, files []File) (*ResolvedCabinet, error) {
	for _, r := range resolvers {
		resolved, err := r.ResolveCabinet(cabinetPath, files)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving cabinet %s", filepath.Base(cabinetPath))
		}
		if resolved != nil {
			return resolved, nil
		}
	}

	return &ResolvedCabinet{Path: cabinetPath, BuildOption: BuildAndMove}, nil
}
