// Package transfer describes and performs the copy and move operations
// that put bound files at their final locations.
package transfer

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/binder/pkg/contexts/ctxlog"
	"github.com/kolide/binder/pkg/messaging"
	"github.com/kolide/kit/fsutil"
	"github.com/pkg/errors"
)

// Type labels what is being transferred, for diagnostics only.
type Type string

const (
	TypeCabinet Type = "Cabinet"
	TypeFile    Type = "File"
)

// FileTransfer is a single copy or move.
type FileTransfer struct {
	Source      string
	Destination string
	Move        bool

	// Built marks sources produced by this bind rather than authored.
	Built bool

	Type       Type
	SourceLine messaging.SourceLine
}

// TryCreate returns a transfer from source to destination, and false when
// both resolve to the same file. Comparison is case-insensitive since the
// targets are Windows file systems.
func TryCreate(source, destination string, move bool, typ Type, src messaging.SourceLine) (*FileTransfer, bool) {
	absSource, err := filepath.Abs(source)
	if err != nil {
		absSource = source
	}
	absDestination, err := filepath.Abs(destination)
	if err != nil {
		absDestination = destination
	}

	if strings.EqualFold(absSource, absDestination) {
		return nil, false
	}

	return &FileTransfer{
		Source:      absSource,
		Destination: absDestination,
		Move:        move,
		Type:        typ,
		SourceLine:  src,
	}, true
}

// Redundant reports whether the transfer would copy a file onto itself.
func (t *FileTransfer) Redundant() bool {
	return strings.EqualFold(filepath.Clean(t.Source), filepath.Clean(t.Destination))
}

// Apply performs the transfers in order. Destination directories are
// created as needed. A move falls back to copy and delete when a rename
// is not possible, as across volumes.
func Apply(ctx context.Context, transfers []*FileTransfer) error {
	logger := ctxlog.FromContext(ctx)

	for _, t := range transfers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if t.Redundant() {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(t.Destination), 0755); err != nil {
			return errors.Wrapf(err, "creating directory for %s", t.Destination)
		}

		level.Debug(logger).Log(
			"msg", "transferring file",
			"type", string(t.Type),
			"source", t.Source,
			"destination", t.Destination,
			"move", t.Move,
		)

		if t.Move {
			if err := os.Rename(t.Source, t.Destination); err == nil {
				continue
			}
		}

		if err := fsutil.CopyFile(t.Source, t.Destination); err != nil {
			return errors.Wrapf(err, "copying %s to %s", t.Source, t.Destination)
		}

		if t.Move {
			if err := os.Remove(t.Source); err != nil {
				return errors.Wrapf(err, "removing moved file %s", t.Source)
			}
		}
	}

	return nil
}
