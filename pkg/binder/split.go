package binder

import (
	"path/filepath"
	"strings"

	"github.com/kolide/binder/pkg/messaging"
	"github.com/kolide/binder/pkg/output"
	"github.com/kolide/binder/pkg/transfer"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// splitCabinet is called by the cabinet builder when a cabinet rolls over
// to a new volume, and once per volume of a reused cabinet. It registers
// the copy of the new volume, inserts a media row for it right after the
// last volume of the same chain, and shifts every later disk up by one. The file being written when the split
// happened stays on the disk it started on.
//
// Splits may be reported by several builder workers at once. Every
// mutation happens under the process-wide split lock.
func (b *Binder) splitCabinet(firstCabinetName, newCabinetName, fileToken string) (err error) {
	if !b.splitLock.TryLock() {
		b.messenger.Post(messaging.CabinetsSplitInParallelVerbose())
		if err := b.splitLock.Lock(); err != nil {
			return errors.Wrap(err, "acquiring split lock")
		}
	}
	defer func() {
		if unlockErr := b.splitLock.Unlock(); unlockErr != nil && err == nil {
			err = errors.Wrap(unlockErr, "releasing split lock")
		}
	}()

	var base *transfer.FileTransfer
	for _, t := range b.transfers {
		name := filepath.Base(t.Source)
		if strings.EqualFold(strings.TrimSuffix(name, filepath.Ext(name)), firstCabinetName) {
			base = t
			break
		}
	}
	if base == nil {
		return b.messenger.Fail(messaging.SplitCabinetCopyRegistrationFailedError(newCabinetName, firstCabinetName))
	}

	firstCabinet := filepath.Base(base.Source)

	newTransfer, ok := transfer.TryCreate(
		filepath.Join(filepath.Dir(base.Source), newCabinetName),
		filepath.Join(filepath.Dir(base.Destination), newCabinetName),
		base.Move,
		transfer.TypeCabinet,
		base.SourceLine,
	)
	if !ok {
		return b.messenger.Fail(messaging.SplitCabinetCopyRegistrationFailedError(newCabinetName, firstCabinet))
	}
	newTransfer.Built = base.Built
	b.transfers = append(b.transfers, newTransfer)

	lastCabinet, ok := b.lastSplitCabinet[firstCabinet]
	if !ok {
		lastCabinet = firstCabinet
	}

	mediaTable := b.out.Table(output.TableMedia)
	if mediaTable == nil {
		return b.messenger.Fail(messaging.SplitCabinetInsertionFailedError(newCabinetName, firstCabinet, lastCabinet))
	}

	var anchor *output.MediaRow
	for _, row := range mediaTable.Rows {
		media := output.MediaRow{Row: row}
		cab := strings.TrimPrefix(media.Cabinet(), "#")

		if strings.EqualFold(cab, newCabinetName) {
			return b.messenger.Fail(messaging.SplitCabinetNameCollisionError(newCabinetName, firstCabinet))
		}
		if anchor == nil && strings.EqualFold(cab, lastCabinet) {
			anchor = &media
		}
	}
	if anchor == nil {
		return b.messenger.Fail(messaging.SplitCabinetInsertionFailedError(newCabinetName, firstCabinet, lastCabinet))
	}

	newDiskID := anchor.DiskID() + 1

	for _, row := range mediaTable.Rows {
		media := output.MediaRow{Row: row}
		if media.DiskID() >= newDiskID {
			media.SetDiskID(media.DiskID() + 1)
		}
	}

	// WixMedia rows are keyed by DiskId and move with their media.
	for _, row := range b.out.Rows(output.TableWixMedia) {
		wixMedia := output.WixMediaRow{Row: row}
		if wixMedia.DiskID() >= newDiskID {
			wixMedia.SetDiskID(wixMedia.DiskID() + 1)
		}
	}

	for _, f := range b.facades {
		if f.ID() != fileToken && f.DiskID() >= newDiskID {
			f.WixFile.SetDiskID(f.DiskID() + 1)
		}
	}

	media := output.MediaRow{Row: b.out.CreateRow(output.TableMedia, anchor.SourceLine, false)}
	media.SetDiskID(newDiskID)
	media.SetCabinet(newCabinetName)
	media.SetLastSequence(anchor.LastSequence())

	slices.SortStableFunc(mediaTable.Rows, func(x, y *output.Row) bool {
		return output.MediaRow{Row: x}.DiskID() < output.MediaRow{Row: y}.DiskID()
	})

	b.lastSplitCabinet[firstCabinet] = newCabinetName

	seen := make(map[int]struct{}, len(mediaTable.Rows))
	for _, row := range mediaTable.Rows {
		diskID := output.MediaRow{Row: row}.DiskID()
		if _, dup := seen[diskID]; dup {
			return b.messenger.Fail(messaging.DuplicateDiskIDError(row.SourceLine, diskID))
		}
		seen[diskID] = struct{}{}
	}

	b.messenger.Post(messaging.CabinetSplitVerbose(firstCabinet, newCabinetName, fileToken, newDiskID))
	return nil
}
