package cabinet

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

// The bundled container is a sequence of entries after a fixed magic:
//
//	magic "BNDCAB\x00\x01"
//	entry: 'F' | uint16 token length | token | uint64 size | deflate stream | uint32 crc32
//	end:   'E'
//
// When spanning is enabled the byte stream is cut into volumes of at most
// the configured size; concatenating the volumes in order restores it.
var magic = []byte("BNDCAB\x00\x01")

const (
	entryFile byte = 'F'
	entryEnd  byte = 'E'
	megabyte       = 1024 * 1024
)

// FileArchiver is the Archiver shipped with the binder.
type FileArchiver struct{}

func NewFileArchiver() *FileArchiver {
	return &FileArchiver{}
}

// VolumeName returns the file name of the idx'th continuation of the
// cabinet named name. idx starts at 1.
func VolumeName(name string, idx int) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s%04d%s", base, idx, ext)
}

func (a *FileArchiver) Archive(ctx context.Context, item WorkItem, maxVolumeSize int, split SplitFunc) error {
	if err := os.MkdirAll(filepath.Dir(item.CabinetPath), 0755); err != nil {
		return errors.Wrap(err, "creating cabinet directory")
	}

	sw := &spanWriter{
		path:  item.CabinetPath,
		split: split,
	}
	if maxVolumeSize > 0 && split != nil {
		sw.limit = int64(maxVolumeSize) * megabyte
	}
	if err := sw.open(item.CabinetPath); err != nil {
		return err
	}

	err := writeEntries(ctx, sw, item)
	if cerr := sw.close(); err == nil {
		err = cerr
	}
	return err
}

func writeEntries(ctx context.Context, sw *spanWriter, item WorkItem) error {
	if _, err := sw.Write(magic); err != nil {
		return err
	}

	for _, f := range item.Files {
		if err := ctx.Err(); err != nil {
			return err
		}

		sw.token = f.Token
		if err := writeEntry(sw, f, item.CompressionLevel); err != nil {
			return errors.Wrapf(err, "adding %s", f.Token)
		}
	}

	_, err := sw.Write([]byte{entryEnd})
	return err
}

func writeEntry(w io.Writer, f File, lvl CompressionLevel) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	header := make([]byte, 0, 1+2+len(f.Token)+8)
	header = append(header, entryFile)
	header = binary.LittleEndian.AppendUint16(header, uint16(len(f.Token)))
	header = append(header, f.Token...)
	header = binary.LittleEndian.AppendUint64(header, uint64(info.Size()))
	if _, err := w.Write(header); err != nil {
		return err
	}

	fw, err := flate.NewWriter(w, lvl.flateLevel())
	if err != nil {
		return err
	}

	crc := crc32.NewIEEE()
	if _, err := io.Copy(io.MultiWriter(fw, crc), src); err != nil {
		return err
	}
	if err := fw.Close(); err != nil {
		return err
	}

	return binary.Write(w, binary.LittleEndian, crc.Sum32())
}

// spanWriter writes to the current volume and rolls over to a new one
// when the limit is reached. Each rollover is reported with the token of
// the file being written at that moment.
type spanWriter struct {
	path  string
	limit int64
	split SplitFunc
	token string

	file    *os.File
	written int64
	volumes int
}

func (s *spanWriter) open(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	s.file = f
	s.written = 0
	return nil
}

func (s *spanWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if s.limit > 0 && s.written >= s.limit {
			if err := s.rollover(); err != nil {
				return total, err
			}
		}

		chunk := p
		if s.limit > 0 && int64(len(chunk)) > s.limit-s.written {
			chunk = chunk[:s.limit-s.written]
		}

		n, err := s.file.Write(chunk)
		total += n
		s.written += int64(n)
		if err != nil {
			return total, err
		}
		p = p[n:]
	}
	return total, nil
}

func (s *spanWriter) rollover() error {
	if err := s.file.Close(); err != nil {
		return err
	}

	s.volumes++
	name := VolumeName(filepath.Base(s.path), s.volumes)
	if err := s.open(filepath.Join(filepath.Dir(s.path), name)); err != nil {
		return err
	}

	first := strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))
	return s.split(first, name, s.token)
}

func (s *spanWriter) close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// IsCabinet reports whether path starts with the bundled container magic.
func IsCabinet(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, len(magic))
	if _, err := io.ReadFull(f, head); err != nil {
		return false, nil
	}
	return string(head) == string(magic), nil
}

// Entry is a file recovered from a cabinet.
type Entry struct {
	Token string
	Size  int64
}

// Extract unpacks the cabinet at path, and any continuation volumes next
// to it, into dir. Each entry is written to a file named by its token.
func Extract(path, dir string) ([]Entry, error) {
	volumes := []string{path}
	for i := 1; ; i++ {
		next := filepath.Join(filepath.Dir(path), VolumeName(filepath.Base(path), i))
		if _, err := os.Stat(next); err != nil {
			break
		}
		volumes = append(volumes, next)
	}

	readers := make([]io.Reader, 0, len(volumes))
	for _, v := range volumes {
		f, err := os.Open(v)
		if err != nil {
			return nil, errors.Wrapf(err, "opening volume %s", v)
		}
		defer f.Close()
		readers = append(readers, f)
	}

	return readEntries(bufio.NewReader(io.MultiReader(readers...)), dir)
}

func readEntries(r *bufio.Reader, dir string) ([]Entry, error) {
	head := make([]byte, len(magic))
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	if string(head) != string(magic) {
		return nil, errors.New("not a cabinet")
	}

	var entries []Entry
	for {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(err, "reading entry")
		}
		if tag == entryEnd {
			return entries, nil
		}
		if tag != entryFile {
			return nil, errors.Errorf("unexpected entry tag %q", tag)
		}

		entry, err := readEntry(r, dir)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
}

func readEntry(r *bufio.Reader, dir string) (Entry, error) {
	var tokenLen uint16
	if err := binary.Read(r, binary.LittleEndian, &tokenLen); err != nil {
		return Entry{}, errors.Wrap(err, "reading token length")
	}
	token := make([]byte, tokenLen)
	if _, err := io.ReadFull(r, token); err != nil {
		return Entry{}, errors.Wrap(err, "reading token")
	}
	var size uint64
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return Entry{}, errors.Wrap(err, "reading size")
	}

	name := string(token)
	if name != filepath.Base(name) || name == "." || name == ".." {
		return Entry{}, errors.Errorf("invalid entry name %q", name)
	}

	out, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return Entry{}, errors.Wrapf(err, "creating %s", name)
	}
	defer out.Close()

	fr := flate.NewReader(r)
	crc := crc32.NewIEEE()
	n, err := io.Copy(io.MultiWriter(out, crc), fr)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "inflating %s", name)
	}
	if uint64(n) != size {
		return Entry{}, errors.Errorf("%s: expected %d bytes, got %d", name, size, n)
	}

	var sum uint32
	if err := binary.Read(r, binary.LittleEndian, &sum); err != nil {
		return Entry{}, errors.Wrapf(err, "reading checksum of %s", name)
	}
	if sum != crc.Sum32() {
		return Entry{}, errors.Errorf("%s: checksum mismatch", name)
	}

	return Entry{Token: name, Size: n}, nil
}
