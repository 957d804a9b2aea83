package fileinfo

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHash(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	var tests = []struct {
		content  string
		expected [4]int32
	}{
		{content: "", expected: [4]int32{-645128748, 78774415, -1744207639, 2118318316}},
		{content: "binder", expected: [4]int32{792912730, 2128822649, -836538901, -842513422}},
	}

	for i, tt := range tests {
		path := filepath.Join(dir, "f"+string(rune('a'+i)))
		require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

		hash, err := FileHash(path)
		require.NoError(t, err)
		require.Equal(t, tt.expected, hash, tt.content)
	}

	_, err := FileHash(filepath.Join(dir, "missing"))
	require.True(t, os.IsNotExist(err))
}

func TestParseVersionInfo(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.Write(make([]byte, 4))
	binary.Write(&buf, binary.LittleEndian, uint32(fixedFileInfoSig))
	binary.Write(&buf, binary.LittleEndian, uint32(0x00010000))
	binary.Write(&buf, binary.LittleEndian, uint32(1<<16|2))
	binary.Write(&buf, binary.LittleEndian, uint32(3<<16|4))
	buf.Write(translationKey)
	buf.Write([]byte{0, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(0x0409))
	binary.Write(&buf, binary.LittleEndian, uint16(0x04B0))

	version, language, err := parseVersionInfo(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, "1.2.3.4", version)
	require.Equal(t, "1033", language)

	version, language, err = parseVersionInfo([]byte("no version here"))
	require.NoError(t, err)
	require.Empty(t, version)
	require.Empty(t, language)
}

func TestPEVersionReader(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	text := filepath.Join(dir, "readme.txt")
	require.NoError(t, os.WriteFile(text, []byte("plain text"), 0644))

	version, language, err := PEVersionReader{}.FileVersion(text)
	require.NoError(t, err)
	require.Empty(t, version)
	require.Empty(t, language)

	_, _, err = PEVersionReader{}.FileVersion(filepath.Join(dir, "missing.dll"))
	require.True(t, os.IsNotExist(err))
}

func TestPublicKeyToken(t *testing.T) {
	t.Parallel()

	key, err := hex.DecodeString("00000000000000000400000000000000")
	require.NoError(t, err)

	require.Equal(t, "b77a5c561934e089", PublicKeyToken(key))
	require.Equal(t, "", PublicKeyToken(nil))
}

func TestBlobLength(t *testing.T) {
	t.Parallel()

	long := bytes.Repeat([]byte{7}, 0x90)

	md := &metadata{blobs: append(append([]byte{0, 3, 'a', 'b', 'c', 0x80, 0x90}, long...), 0xFF)}

	b, err := md.blob(1)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), b)

	b, err = md.blob(5)
	require.NoError(t, err)
	require.Equal(t, long, b)

	b, err = md.blob(0)
	require.NoError(t, err)
	require.Nil(t, b)

	_, err = md.blob(uint32(len(md.blobs) - 1))
	require.Error(t, err)
}

// buildMetadata assembles a metadata root holding only an Assembly table.
func buildMetadata(t *testing.T, publicKey []byte) []byte {
	strs := []byte("\x00Contoso.Widgets\x00en-US\x00")
	nameIdx, cultureIdx := uint16(1), uint16(17)

	blobs := append([]byte{0, byte(len(publicKey))}, publicKey...)
	keyIdx := uint16(1)
	if len(publicKey) == 0 {
		keyIdx = 0
	}

	var tables bytes.Buffer
	// Reserved, schema version, heap sizes, reserved, valid and sorted masks.
	tables.Write(make([]byte, 4))
	tables.Write([]byte{2, 0, 0, 1})
	binary.Write(&tables, binary.LittleEndian, uint64(1)<<tableAssembly)
	binary.Write(&tables, binary.LittleEndian, uint64(0))
	binary.Write(&tables, binary.LittleEndian, uint32(1))
	binary.Write(&tables, binary.LittleEndian, uint32(0x8004))
	for _, v := range []uint16{2, 5, 17, 3} {
		binary.Write(&tables, binary.LittleEndian, v)
	}
	binary.Write(&tables, binary.LittleEndian, uint32(0))
	for _, v := range []uint16{keyIdx, nameIdx, cultureIdx} {
		binary.Write(&tables, binary.LittleEndian, v)
	}

	streams := []struct {
		name string
		data []byte
	}{
		{"#~", tables.Bytes()},
		{"#Strings", strs},
		{"#Blob", blobs},
	}

	version := []byte("v4.0.30319\x00\x00")
	headerLen := 16 + len(version) + 4
	for _, s := range streams {
		headerLen += 8 + (len(s.name)+4)&^3
	}

	var root bytes.Buffer
	binary.Write(&root, binary.LittleEndian, uint32(metadataSignature))
	binary.Write(&root, binary.LittleEndian, uint16(1))
	binary.Write(&root, binary.LittleEndian, uint16(1))
	binary.Write(&root, binary.LittleEndian, uint32(0))
	binary.Write(&root, binary.LittleEndian, uint32(len(version)))
	root.Write(version)
	binary.Write(&root, binary.LittleEndian, uint16(0))
	binary.Write(&root, binary.LittleEndian, uint16(len(streams)))

	offset := headerLen
	for _, s := range streams {
		binary.Write(&root, binary.LittleEndian, uint32(offset))
		binary.Write(&root, binary.LittleEndian, uint32(len(s.data)))
		name := make([]byte, (len(s.name)+4)&^3)
		copy(name, s.name)
		root.Write(name)
		offset += len(s.data)
	}
	require.Equal(t, headerLen, root.Len())

	for _, s := range streams {
		root.Write(s.data)
	}
	return root.Bytes()
}

func TestReadAssemblyIdentity(t *testing.T) {
	t.Parallel()

	key, err := hex.DecodeString("00000000000000000400000000000000")
	require.NoError(t, err)

	identity, err := readAssemblyIdentity(buildMetadata(t, key))
	require.NoError(t, err)
	require.Equal(t, "Contoso.Widgets", identity.Name)
	require.Equal(t, "en-US", identity.Culture)
	require.Equal(t, "2.5.17.3", identity.Version)
	require.Equal(t, "b77a5c561934e089", identity.PublicKeyToken)
	require.Equal(t, "v4.0.30319", identity.RuntimeVersion)

	identity, err = readAssemblyIdentity(buildMetadata(t, nil))
	require.NoError(t, err)
	require.Empty(t, identity.PublicKeyToken)

	_, err = readAssemblyIdentity([]byte("not metadata at all"))
	require.Error(t, err)
}

func TestArchitecture(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		machine  uint16
		flags    uint32
		expected string
	}{
		{machine: 0x14c, flags: comImageILOnly, expected: "msil"},
		{machine: 0x14c, flags: comImageILOnly | comImage32BitRequired, expected: "x86"},
		{machine: 0x14c, flags: 0, expected: "x86"},
		{machine: 0x8664, flags: comImageILOnly, expected: "amd64"},
		{machine: 0x200, expected: "ia64"},
		{machine: 0xaa64, expected: "arm64"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, architecture(tt.machine, tt.flags))
	}
}

func TestReadManifest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	var tests = []struct {
		name     string
		content  string
		expected *ManifestIdentity
		invalid  bool
	}{
		{
			name: "plain",
			content: `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<assembly xmlns="urn:schemas-microsoft-com:asm.v1" manifestVersion="1.0">
  <assemblyIdentity type="win32" name="Contoso.Runtime" version="9.0.21022.8" processorArchitecture="x86" publicKeyToken="1fc8b3b9a1e18e3b"/>
  <file name="runtime.dll"/>
</assembly>`,
			expected: &ManifestIdentity{
				Type:                  "win32",
				Name:                  "Contoso.Runtime",
				Version:               "9.0.21022.8",
				ProcessorArchitecture: "x86",
				PublicKeyToken:        "1fc8b3b9a1e18e3b",
			},
		},
		{
			name: "prefixed",
			content: `<asmv1:assembly xmlns:asmv1="urn:schemas-microsoft-com:asm.v1" manifestVersion="1.0">
  <asmv1:assemblyIdentity name="Contoso.Shell" version="1.0.0.0" type="win32"/>
</asmv1:assembly>`,
			expected: &ManifestIdentity{Type: "win32", Name: "Contoso.Shell", Version: "1.0.0.0"},
		},
		{
			name:    "no identity",
			content: `<assembly manifestVersion="1.0"><file name="a.dll"/></assembly>`,
			invalid: true,
		},
		{
			name:    "wrong root",
			content: `<configuration><assemblyIdentity name="x"/></configuration>`,
			invalid: true,
		},
	}

	for i, tt := range tests {
		path := filepath.Join(dir, string(rune('a'+i))+".manifest")
		require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

		identity, err := ReadManifest(path)
		if tt.invalid {
			require.ErrorIs(t, err, ErrInvalidManifest, tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		require.Equal(t, tt.expected, identity, tt.name)
	}

	bad := filepath.Join(dir, "bad.manifest")
	require.NoError(t, os.WriteFile(bad, []byte("<assembly><unclosed></assembly>"), 0644))
	_, err := ReadManifest(bad)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidManifest)

	_, err = ReadManifest(filepath.Join(dir, "missing.manifest"))
	require.True(t, os.IsNotExist(err))
}
