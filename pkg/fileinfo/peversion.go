package fileinfo

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"unicode/utf16"

	"github.com/pkg/errors"
)

const (
	resourceDirectory = 2
	rtVersion         = 16
	fixedFileInfoSig  = 0xFEEF04BD
)

// PEVersionReader reads version resources straight out of PE images.
type PEVersionReader struct{}

func (PEVersionReader) FileVersion(path string) (string, string, error) {
	f, err := pe.Open(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr != nil {
			return "", "", statErr
		}
		// Not a PE image, so not versioned.
		return "", "", nil
	}
	defer f.Close()

	data, err := versionResource(f)
	if err != nil || data == nil {
		return "", "", nil
	}

	return parseVersionInfo(data)
}

// rvaData returns the bytes of the image starting at rva.
func rvaData(f *pe.File, rva uint32) ([]byte, error) {
	for _, s := range f.Sections {
		size := s.VirtualSize
		if size == 0 {
			size = s.Size
		}
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+size {
			data, err := s.Data()
			if err != nil {
				return nil, err
			}
			off := rva - s.VirtualAddress
			if int(off) >= len(data) {
				return nil, errors.Errorf("rva %#x outside section data", rva)
			}
			return data[off:], nil
		}
	}
	return nil, errors.Errorf("rva %#x not in any section", rva)
}

func dataDirectory(f *pe.File, idx int) (pe.DataDirectory, bool) {
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if int(oh.NumberOfRvaAndSizes) > idx {
			return oh.DataDirectory[idx], true
		}
	case *pe.OptionalHeader64:
		if int(oh.NumberOfRvaAndSizes) > idx {
			return oh.DataDirectory[idx], true
		}
	}
	return pe.DataDirectory{}, false
}

// versionResource walks type, name and language levels of the resource
// tree and returns the first RT_VERSION entry, or nil.
func versionResource(f *pe.File) ([]byte, error) {
	dir, ok := dataDirectory(f, resourceDirectory)
	if !ok || dir.VirtualAddress == 0 {
		return nil, nil
	}

	root, err := rvaData(f, dir.VirtualAddress)
	if err != nil {
		return nil, err
	}

	off, ok := findResourceEntry(root, 0, rtVersion, true)
	if !ok {
		return nil, nil
	}
	// Name and language levels: take the first entry of each.
	for level := 0; level < 2; level++ {
		if off&0x80000000 == 0 {
			return nil, errors.New("malformed resource tree")
		}
		off, ok = findResourceEntry(root, off&0x7FFFFFFF, 0, false)
		if !ok {
			return nil, nil
		}
	}
	if off&0x80000000 != 0 || int(off)+16 > len(root) {
		return nil, errors.New("malformed resource data entry")
	}

	dataRVA := binary.LittleEndian.Uint32(root[off:])
	size := binary.LittleEndian.Uint32(root[off+4:])

	data, err := rvaData(f, dataRVA)
	if err != nil {
		return nil, err
	}
	if int(size) > len(data) {
		return nil, errors.New("version resource truncated")
	}
	return data[:size], nil
}

// findResourceEntry returns the offset field of the directory entry with
// the given id, or of the first entry when match is false.
func findResourceEntry(root []byte, dirOff uint32, id uint32, match bool) (uint32, bool) {
	if int(dirOff)+16 > len(root) {
		return 0, false
	}
	named := binary.LittleEndian.Uint16(root[dirOff+12:])
	ids := binary.LittleEndian.Uint16(root[dirOff+14:])

	for i := 0; i < int(named)+int(ids); i++ {
		e := int(dirOff) + 16 + i*8
		if e+8 > len(root) {
			return 0, false
		}
		name := binary.LittleEndian.Uint32(root[e:])
		if !match || name == id {
			return binary.LittleEndian.Uint32(root[e+4:]), true
		}
	}
	return 0, false
}

var translationKey = utf16Bytes("Translation")

// parseVersionInfo reads the fixed file version and the first translation
// language out of a VS_VERSIONINFO block.
func parseVersionInfo(data []byte) (string, string, error) {
	sigBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(sigBytes, fixedFileInfoSig)

	i := bytes.Index(data, sigBytes)
	if i < 0 || i+16 > len(data) {
		return "", "", nil
	}
	ms := binary.LittleEndian.Uint32(data[i+8:])
	ls := binary.LittleEndian.Uint32(data[i+12:])
	version := fmt.Sprintf("%d.%d.%d.%d", ms>>16, ms&0xFFFF, ls>>16, ls&0xFFFF)

	language := ""
	if j := bytes.Index(data, translationKey); j >= 0 {
		k := j + len(translationKey) + 2 // terminator
		k = (k + 3) &^ 3
		if k+2 <= len(data) {
			language = strconv.Itoa(int(binary.LittleEndian.Uint16(data[k:])))
		}
	}

	return version, language, nil
}

func utf16Bytes(s string) []byte {
	u := utf16.Encode([]rune(s))
	b := make([]byte, len(u)*2)
	for i, c := range u {
		binary.LittleEndian.PutUint16(b[i*2:], c)
	}
	return b
}
