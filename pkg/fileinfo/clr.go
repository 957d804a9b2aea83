package fileinfo

import (
	"bytes"
	"crypto/sha1"
	"debug/pe"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
)

const (
	clrHeaderDirectory = 14
	metadataSignature  = 0x424A5342

	comImageILOnly        = 0x1
	comImage32BitRequired = 0x2

	tableAssembly = 0x20
)

// ErrNotAssembly is returned for PE images without a CLR header.
var ErrNotAssembly = errors.New("not a .NET assembly")

// CLRAssemblyReader reads the Assembly metadata table of a managed image.
type CLRAssemblyReader struct{}

func DefaultAssemblyReader() AssemblyReader {
	return CLRAssemblyReader{}
}

func (CLRAssemblyReader) ReadAssembly(path string) (*AssemblyIdentity, error) {
	f, err := pe.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	dir, ok := dataDirectory(f, clrHeaderDirectory)
	if !ok || dir.VirtualAddress == 0 {
		return nil, ErrNotAssembly
	}

	header, err := rvaData(f, dir.VirtualAddress)
	if err != nil {
		return nil, errors.Wrap(err, "reading CLR header")
	}
	if len(header) < 20 {
		return nil, errors.New("CLR header truncated")
	}
	metadataRVA := binary.LittleEndian.Uint32(header[8:])
	flags := binary.LittleEndian.Uint32(header[16:])

	root, err := rvaData(f, metadataRVA)
	if err != nil {
		return nil, errors.Wrap(err, "reading metadata")
	}

	identity, err := readAssemblyIdentity(root)
	if err != nil {
		return nil, err
	}
	identity.ProcessorArchitecture = architecture(f.FileHeader.Machine, flags)
	return identity, nil
}

func architecture(machine uint16, corFlags uint32) string {
	switch machine {
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return "amd64"
	case pe.IMAGE_FILE_MACHINE_IA64:
		return "ia64"
	case pe.IMAGE_FILE_MACHINE_ARMNT, pe.IMAGE_FILE_MACHINE_ARM:
		return "arm"
	case pe.IMAGE_FILE_MACHINE_ARM64:
		return "arm64"
	case pe.IMAGE_FILE_MACHINE_I386:
		if corFlags&comImageILOnly != 0 && corFlags&comImage32BitRequired == 0 {
			return "msil"
		}
		return "x86"
	default:
		return ""
	}
}

type metadata struct {
	version string
	tables  []byte
	strings []byte
	blobs   []byte
}

func readAssemblyIdentity(root []byte) (*AssemblyIdentity, error) {
	md, err := parseMetadataRoot(root)
	if err != nil {
		return nil, err
	}
	return md.assembly()
}

func parseMetadataRoot(root []byte) (*metadata, error) {
	if len(root) < 16 || binary.LittleEndian.Uint32(root) != metadataSignature {
		return nil, errors.New("bad metadata signature")
	}
	versionLen := binary.LittleEndian.Uint32(root[12:])
	off := 16 + int(versionLen)
	if off+4 > len(root) {
		return nil, errors.New("metadata root truncated")
	}
	streams := int(binary.LittleEndian.Uint16(root[off+2:]))
	off += 4

	md := &metadata{version: string(bytes.TrimRight(root[16:16+versionLen], "\x00"))}
	for i := 0; i < streams; i++ {
		if off+8 > len(root) {
			return nil, errors.New("stream header truncated")
		}
		sOff := binary.LittleEndian.Uint32(root[off:])
		sSize := binary.LittleEndian.Uint32(root[off+4:])
		off += 8

		end := bytes.IndexByte(root[off:], 0)
		if end < 0 {
			return nil, errors.New("stream name unterminated")
		}
		name := string(root[off : off+end])
		off += (end + 4) &^ 3

		if int(sOff)+int(sSize) > len(root) {
			return nil, errors.Errorf("stream %s out of range", name)
		}
		data := root[sOff : sOff+sSize]

		switch name {
		case "#~", "#-":
			md.tables = data
		case "#Strings":
			md.strings = data
		case "#Blob":
			md.blobs = data
		}
	}

	if md.tables == nil {
		return nil, errors.New("no metadata tables stream")
	}
	return md, nil
}

// Coded index families: tag bit width and member tables.
var (
	typeDefOrRef        = codedIndex{2, []int{0x02, 0x01, 0x1B}}
	hasConstant         = codedIndex{2, []int{0x04, 0x08, 0x17}}
	hasCustomAttribute  = codedIndex{5, []int{0x06, 0x04, 0x01, 0x02, 0x08, 0x09, 0x0A, 0x00, 0x0E, 0x17, 0x14, 0x11, 0x1A, 0x1B, 0x20, 0x23, 0x26, 0x27, 0x28, 0x2A, 0x2C, 0x2B}}
	hasFieldMarshal     = codedIndex{1, []int{0x04, 0x08}}
	hasDeclSecurity     = codedIndex{2, []int{0x02, 0x06, 0x20}}
	memberRefParent     = codedIndex{3, []int{0x02, 0x01, 0x1A, 0x06, 0x1B}}
	hasSemantics        = codedIndex{1, []int{0x14, 0x17}}
	methodDefOrRef      = codedIndex{1, []int{0x06, 0x0A}}
	memberForwarded     = codedIndex{1, []int{0x04, 0x06}}
	resolutionScope     = codedIndex{2, []int{0x00, 0x1A, 0x23, 0x01}}
	customAttributeType = codedIndex{3, []int{0x06, 0x0A}}
)

type codedIndex struct {
	bits   uint
	tables []int
}

type tableLayout struct {
	rows       [64]uint32
	stringSize int
	guidSize   int
	blobSize   int
}

func (l *tableLayout) index(table int) int {
	if l.rows[table] < 1<<16 {
		return 2
	}
	return 4
}

func (l *tableLayout) coded(c codedIndex) int {
	var max uint32
	for _, t := range c.tables {
		if l.rows[t] > max {
			max = l.rows[t]
		}
	}
	if max < 1<<(16-c.bits) {
		return 2
	}
	return 4
}

// rowSize returns the width of a row of table t, for the tables that
// precede Assembly.
func (l *tableLayout) rowSize(t int) (int, error) {
	s, g, b := l.stringSize, l.guidSize, l.blobSize
	switch t {
	case 0x00: // Module
		return 2 + s + 3*g, nil
	case 0x01: // TypeRef
		return l.coded(resolutionScope) + 2*s, nil
	case 0x02: // TypeDef
		return 4 + 2*s + l.coded(typeDefOrRef) + l.index(0x04) + l.index(0x06), nil
	case 0x03: // FieldPtr
		return l.index(0x04), nil
	case 0x04: // Field
		return 2 + s + b, nil
	case 0x05: // MethodPtr
		return l.index(0x06), nil
	case 0x06: // MethodDef
		return 4 + 2 + 2 + s + b + l.index(0x08), nil
	case 0x07: // ParamPtr
		return l.index(0x08), nil
	case 0x08: // Param
		return 2 + 2 + s, nil
	case 0x09: // InterfaceImpl
		return l.index(0x02) + l.coded(typeDefOrRef), nil
	case 0x0A: // MemberRef
		return l.coded(memberRefParent) + s + b, nil
	case 0x0B: // Constant
		return 2 + l.coded(hasConstant) + b, nil
	case 0x0C: // CustomAttribute
		return l.coded(hasCustomAttribute) + l.coded(customAttributeType) + b, nil
	case 0x0D: // FieldMarshal
		return l.coded(hasFieldMarshal) + b, nil
	case 0x0E: // DeclSecurity
		return 2 + l.coded(hasDeclSecurity) + b, nil
	case 0x0F: // ClassLayout
		return 2 + 4 + l.index(0x02), nil
	case 0x10: // FieldLayout
		return 4 + l.index(0x04), nil
	case 0x11: // StandAloneSig
		return b, nil
	case 0x12: // EventMap
		return l.index(0x02) + l.index(0x14), nil
	case 0x13: // EventPtr
		return l.index(0x14), nil
	case 0x14: // Event
		return 2 + s + l.coded(typeDefOrRef), nil
	case 0x15: // PropertyMap
		return l.index(0x02) + l.index(0x17), nil
	case 0x16: // PropertyPtr
		return l.index(0x17), nil
	case 0x17: // Property
		return 2 + s + b, nil
	case 0x18: // MethodSemantics
		return 2 + l.index(0x06) + l.coded(hasSemantics), nil
	case 0x19: // MethodImpl
		return l.index(0x02) + 2*l.coded(methodDefOrRef), nil
	case 0x1A: // ModuleRef
		return s, nil
	case 0x1B: // TypeSpec
		return b, nil
	case 0x1C: // ImplMap
		return 2 + l.coded(memberForwarded) + s + l.index(0x1A), nil
	case 0x1D: // FieldRVA
		return 4 + l.index(0x04), nil
	case 0x1E: // EncLog
		return 8, nil
	case 0x1F: // EncMap
		return 4, nil
	default:
		return 0, errors.Errorf("no layout for table %#x", t)
	}
}

func (md *metadata) assembly() (*AssemblyIdentity, error) {
	t := md.tables
	if len(t) < 24 {
		return nil, errors.New("tables stream truncated")
	}

	heapSizes := t[6]
	valid := binary.LittleEndian.Uint64(t[8:])

	l := &tableLayout{stringSize: 2, guidSize: 2, blobSize: 2}
	if heapSizes&0x01 != 0 {
		l.stringSize = 4
	}
	if heapSizes&0x02 != 0 {
		l.guidSize = 4
	}
	if heapSizes&0x04 != 0 {
		l.blobSize = 4
	}

	off := 24
	for i := 0; i < 64; i++ {
		if valid&(1<<uint(i)) == 0 {
			continue
		}
		if off+4 > len(t) {
			return nil, errors.New("row counts truncated")
		}
		l.rows[i] = binary.LittleEndian.Uint32(t[off:])
		off += 4
	}
	if heapSizes&0x40 != 0 {
		off += 4
	}

	if l.rows[tableAssembly] == 0 {
		return nil, ErrNotAssembly
	}

	for i := 0; i < tableAssembly; i++ {
		if l.rows[i] == 0 {
			continue
		}
		size, err := l.rowSize(i)
		if err != nil {
			return nil, err
		}
		off += size * int(l.rows[i])
	}

	// HashAlgId, four version parts, Flags, PublicKey, Name, Culture.
	need := 4 + 8 + 4 + l.blobSize + 2*l.stringSize
	if off+need > len(t) {
		return nil, errors.New("assembly row truncated")
	}
	row := t[off:]

	major := binary.LittleEndian.Uint16(row[4:])
	minor := binary.LittleEndian.Uint16(row[6:])
	build := binary.LittleEndian.Uint16(row[8:])
	revision := binary.LittleEndian.Uint16(row[10:])
	pos := 16

	readIdx := func(size int) uint32 {
		var v uint32
		if size == 4 {
			v = binary.LittleEndian.Uint32(row[pos:])
		} else {
			v = uint32(binary.LittleEndian.Uint16(row[pos:]))
		}
		pos += size
		return v
	}
	publicKeyIdx := readIdx(l.blobSize)
	nameIdx := readIdx(l.stringSize)
	cultureIdx := readIdx(l.stringSize)

	publicKey, err := md.blob(publicKeyIdx)
	if err != nil {
		return nil, err
	}

	return &AssemblyIdentity{
		Name:           md.string(nameIdx),
		Culture:        md.string(cultureIdx),
		Version:        fmt.Sprintf("%d.%d.%d.%d", major, minor, build, revision),
		PublicKeyToken: PublicKeyToken(publicKey),
		RuntimeVersion: md.version,
	}, nil
}

func (md *metadata) string(idx uint32) string {
	if int(idx) >= len(md.strings) {
		return ""
	}
	s := md.strings[idx:]
	if end := bytes.IndexByte(s, 0); end >= 0 {
		s = s[:end]
	}
	return string(s)
}

func (md *metadata) blob(idx uint32) ([]byte, error) {
	if idx == 0 {
		return nil, nil
	}
	if int(idx) >= len(md.blobs) {
		return nil, errors.New("blob index out of range")
	}
	b := md.blobs[idx:]

	var length, header int
	switch {
	case b[0]&0x80 == 0:
		length, header = int(b[0]), 1
	case b[0]&0xC0 == 0x80 && len(b) >= 2:
		length, header = int(b[0]&0x3F)<<8|int(b[1]), 2
	case b[0]&0xE0 == 0xC0 && len(b) >= 4:
		length, header = int(b[0]&0x1F)<<24|int(b[1])<<16|int(b[2])<<8|int(b[3]), 4
	default:
		return nil, errors.New("bad blob length")
	}

	if header+length > len(b) {
		return nil, errors.New("blob truncated")
	}
	return b[header : header+length], nil
}

// PublicKeyToken is the last eight bytes of the key's SHA-1, reversed.
// An empty key has no token.
func PublicKeyToken(publicKey []byte) string {
	if len(publicKey) == 0 {
		return ""
	}
	sum := sha1.Sum(publicKey)
	token := make([]byte, 8)
	for i := 0; i < 8; i++ {
		token[i] = sum[len(sum)-1-i]
	}
	return hex.EncodeToString(token)
}
