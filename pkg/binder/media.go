package binder

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/binder/pkg/contexts/ctxlog"
	"github.com/kolide/binder/pkg/mergemod"
	"github.com/kolide/binder/pkg/messaging"
	"github.com/kolide/binder/pkg/output"
	"go.opencensus.io/trace"
)

const (
	// maxCabinetIndex is the last cabinet automatic assignment creates.
	// Every file past it lands in that cabinet regardless of size.
	maxCabinetIndex = 999

	defaultCabinetTemplate = "cab{0}.cab"
	megabyte               = 1024 * 1024
)

// cabinetGroup is the set of files going into one media row's cabinet.
type cabinetGroup struct {
	media output.MediaRow
	files []*FileFacade
}

// mediaAssignment is the outcome of media assignment.
type mediaAssignment struct {
	groups       []*cabinetGroup
	byDiskID     map[int]*cabinetGroup
	uncompressed []*FileFacade
}

func newMediaAssignment() *mediaAssignment {
	return &mediaAssignment{byDiskID: make(map[int]*cabinetGroup)}
}

func (a *mediaAssignment) addGroup(media output.MediaRow) *cabinetGroup {
	g := &cabinetGroup{media: media}
	a.groups = append(a.groups, g)
	a.byDiskID[media.DiskID()] = g
	return g
}

// assignMedia distributes the facades over media rows. Merge modules put
// every file in the module cabinet. Products with a media template are
// packed automatically; everything else follows the authored DiskId.
func (b *Binder) assignMedia(ctx context.Context, env *environment) (*mediaAssignment, error) {
	ctx, span := trace.StartSpan(ctx, "binder.AssignMedia")
	defer span.End()

	var (
		a   *mediaAssignment
		err error
	)

	templates := b.out.Rows(output.TableWixMediaTemplate)
	switch {
	case b.out.Type == output.Module:
		a, err = b.assignModuleMedia()
	case len(templates) > 0:
		if media := b.out.Rows(output.TableMedia); len(media) > 0 {
			return nil, b.messenger.Fail(messaging.MediaTableCollisionError(media[0].SourceLine))
		}
		a, err = b.assignAutomatic(output.MediaTemplateRow{Row: templates[0]}, env)
	default:
		a, err = b.assignManual()
	}
	if err != nil {
		return nil, err
	}

	level.Debug(ctxlog.FromContext(ctx)).Log(
		"msg", "assigned media",
		"cabinets", len(a.groups),
		"uncompressed", len(a.uncompressed),
	)
	return a, nil
}

// assignModuleMedia puts every file of a merge module into its single
// embedded cabinet. The media row is not part of the module database.
func (b *Binder) assignModuleMedia() (*mediaAssignment, error) {
	def, err := output.Definition(output.TableMedia)
	if err != nil {
		return nil, err
	}

	media := output.MediaRow{Row: (&output.Table{Definition: def}).CreateRow("", false)}
	media.SetDiskID(1)
	media.SetCabinet("#" + mergemod.ModuleCabinetStream)

	a := newMediaAssignment()
	g := a.addGroup(media)
	g.files = append(g.files, b.facades...)
	return a, nil
}

// assignManual registers every authored media row and files each facade
// under the media row of its DiskId.
func (b *Binder) assignManual() (*mediaAssignment, error) {
	a := newMediaAssignment()
	packageCompressed := b.out.Compressed()

	cabinets := make(map[string]output.MediaRow)

	for _, row := range b.out.Rows(output.TableMedia) {
		media := output.MediaRow{Row: row}

		if _, dup := a.byDiskID[media.DiskID()]; dup {
			return nil, b.messenger.Fail(messaging.DuplicateDiskIDError(row.SourceLine, media.DiskID()))
		}

		if cab := media.Cabinet(); cab != "" {
			key := strings.ToLower(cab)
			if original, dup := cabinets[key]; dup {
				b.messenger.Post(messaging.DuplicateCabinetNameError(row.SourceLine, cab))
				b.messenger.Post(messaging.DuplicateCabinetName2Error(original.SourceLine, original.Cabinet()))
			} else {
				cabinets[key] = media
			}
		}

		a.addGroup(media)
	}

	for _, f := range b.facades {
		g, ok := a.byDiskID[f.DiskID()]
		if !ok {
			b.messenger.Post(messaging.MissingMediaError(f.SourceLine(), f.DiskID()))
			continue
		}

		if f.uncompressed(packageCompressed) {
			a.uncompressed = append(a.uncompressed, f)
			continue
		}

		if g.media.Cabinet() == "" {
			b.messenger.Post(messaging.ExpectedMediaCabinetError(f.SourceLine(), f.ID(), f.DiskID()))
			continue
		}

		g.files = append(g.files, f)
	}

	// Media without a cabinet only hold uncompressed files.
	groups := a.groups[:0]
	for _, g := range a.groups {
		if g.media.Cabinet() != "" {
			groups = append(groups, g)
		}
	}
	a.groups = groups

	return a, nil
}

// assignAutomatic packs files into cabinets in file order. A file that
// takes the running size of the current cabinet past the limit starts a
// new cabinet, unless the last cabinet index has been reached.
func (b *Binder) assignAutomatic(template output.MediaTemplateRow, env *environment) (*mediaAssignment, error) {
	a := newMediaAssignment()
	packageCompressed := b.out.Compressed()

	maxSize := int64(env.maxUncompressedMediaSize) * megabyte

	var (
		current     *cabinetGroup
		currentSize int64
		cabIndex    int
	)

	for _, f := range b.facades {
		if f.uncompressed(packageCompressed) {
			a.uncompressed = append(a.uncompressed, f)
			continue
		}

		currentSize += int64(f.FileSize())

		switch {
		case current == nil:
			cabIndex++
			current = a.addGroup(b.addTemplateMedia(template, cabIndex))
		case currentSize > maxSize && cabIndex < maxCabinetIndex:
			currentSize = int64(f.FileSize())
			cabIndex++
			current = a.addGroup(b.addTemplateMedia(template, cabIndex))
		}

		current.files = append(current.files, f)
		f.WixFile.SetDiskID(cabIndex)
	}

	if current == nil && len(a.uncompressed) > 0 {
		media := output.MediaRow{Row: b.out.CreateRow(output.TableMedia, template.SourceLine, false)}
		media.SetDiskID(1)
		a.byDiskID[1] = &cabinetGroup{media: media}
	}

	return a, nil
}

// addTemplateMedia creates the Media and WixMedia rows of the cabinet
// numbered index.
func (b *Binder) addTemplateMedia(template output.MediaTemplateRow, index int) output.MediaRow {
	name := template.CabinetTemplate()
	if name == "" {
		name = defaultCabinetTemplate
	}

	media := output.MediaRow{Row: b.out.CreateRow(output.TableMedia, template.SourceLine, false)}
	media.SetDiskID(index)
	media.SetCabinet(strings.ReplaceAll(name, "{0}", strconv.Itoa(index)))
	media.SetDiskPrompt(template.DiskPrompt())
	media.SetVolumeLabel(template.VolumeLabel())

	wixMedia := output.WixMediaRow{Row: b.out.CreateRow(output.TableWixMedia, template.SourceLine, false)}
	wixMedia.SetDiskID(index)
	wixMedia.SetCompressionLevel(template.CompressionLevel())

	return media
}

// sequenceFiles numbers the files. Files are ordered by DiskId, with
// patch-group files after all others in ascending group order. Each media
// row's LastSequence becomes the highest sequence on it. Patches continue
// after the highest sequence their media already declare.
func (b *Binder) sequenceFiles(a *mediaAssignment) {
	ordered := make([]*FileFacade, len(b.facades))
	copy(ordered, b.facades)

	sort.SliceStable(ordered, func(i, j int) bool {
		gi, gj := patchGroupOrder(ordered[i]), patchGroupOrder(ordered[j])
		if gi != gj {
			return gi < gj
		}
		return ordered[i].DiskID() < ordered[j].DiskID()
	})

	sequence := 0
	if b.out.Type == output.Patch {
		for _, row := range b.out.Rows(output.TableMedia) {
			if last := (output.MediaRow{Row: row}).LastSequence(); last > sequence {
				sequence = last
			}
		}
	}

	lastSequence := make(map[int]int)
	for _, f := range ordered {
		sequence++
		f.File.SetSequence(sequence)
		lastSequence[f.DiskID()] = sequence
	}

	for diskID, g := range a.byDiskID {
		if last, ok := lastSequence[diskID]; ok {
			g.media.SetLastSequence(last)
		}
	}

	for _, g := range a.groups {
		sort.SliceStable(g.files, func(i, j int) bool {
			return g.files[i].File.Sequence() < g.files[j].File.Sequence()
		})
	}
}

// patchGroupOrder sorts files without a patch group first.
func patchGroupOrder(f *FileFacade) int {
	if g := f.WixFile.PatchGroup(); g > 0 {
		return g
	}
	return 0
}
