package output

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const fixture = `
type: product
codepage: 1252
tables:
  - name: _SummaryInformation
    rows:
      - fields: {PropertyId: 14, Value: "200"}
      - fields: {PropertyId: 15, Value: "2"}
  - name: File
    rows:
      - source: product.wxs(10)
        fields: {File: app.exe, Component_: Main, FileName: "app.exe|Application.exe", FileSize: 1024, Attributes: 16384}
  - name: WixFile
    rows:
      - source: product.wxs(10)
        operation: modify
        fields: {File_: app.exe, DiskId: 1, Source: /src/app.exe, AssemblyAttributes: 0, PatchAttributes: 2}
        previous: {Source: /old/app.exe}
`

func TestReadYAML(t *testing.T) {
	t.Parallel()

	o, err := Read(strings.NewReader(fixture), FormatYAML)
	require.NoError(t, err)

	require.Equal(t, Product, o.Type)
	require.Equal(t, 1252, o.Codepage)
	require.Equal(t, 200, o.InstallerVersion())
	require.True(t, o.Compressed())
	require.True(t, o.LongNames())

	files := o.Rows(TableFile)
	require.Len(t, files, 1)
	file := FileRow{files[0]}
	require.Equal(t, "app.exe", file.ID())
	require.Equal(t, 1024, file.FileSize())
	require.Equal(t, "Application.exe", file.LongFileName())
	require.Equal(t, Yes, file.Compressed())
	require.Equal(t, "product.wxs(10)", string(file.SourceLine))

	wix := WixFileRow{o.Rows(TableWixFile)[0]}
	require.Equal(t, OpModify, wix.Operation)
	require.Equal(t, "/src/app.exe", wix.Source())
	require.Equal(t, "/old/app.exe", wix.PreviousSource())
	require.Equal(t, AssemblyDotNet, wix.AssemblyType())
	require.Equal(t, PatchIncludeWholeFile, wix.PatchAttributes()&PatchIncludeWholeFile)
	require.Greater(t, wix.Number, file.Number)
}

func TestReadRejectsUnknownColumn(t *testing.T) {
	t.Parallel()

	_, err := Read(strings.NewReader(`
type: product
tables:
  - name: Media
    rows:
      - fields: {DiskId: 1, Bogus: x}
`), FormatYAML)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Bogus")
}

func TestSaveAndLoad(t *testing.T) {
	t.Parallel()

	o := New(Module)
	media := MediaRow{o.CreateRow(TableMedia, "module.wxs(4)", false)}
	media.SetDiskID(3)
	media.SetCabinet("#MergeModule.CABinet")
	media.SetLastSequence(7)

	for _, name := range []string{"out.wixout", "out.yaml"} {
		path := filepath.Join(t.TempDir(), name)
		require.NoError(t, o.Save(path))

		loaded, err := Load(path)
		require.NoError(t, err, name)
		require.Equal(t, Module, loaded.Type)

		rows := loaded.Rows(TableMedia)
		require.Len(t, rows, 1, name)
		got := MediaRow{rows[0]}
		require.Equal(t, 3, got.DiskID(), name)
		require.Equal(t, 7, got.LastSequence(), name)
		require.Equal(t, "#MergeModule.CABinet", got.Cabinet(), name)
		require.Equal(t, "module.wxs(4)", string(got.SourceLine), name)
	}
}

func TestCoerceNumber(t *testing.T) {
	t.Parallel()

	col := &ColumnDefinition{Name: "n", Type: ColumnNumber}

	var tests = []struct {
		in      interface{}
		out     interface{}
		wantErr bool
	}{
		{in: 3, out: 3},
		{in: int64(5), out: 5},
		{in: uint8(7), out: 7},
		{in: float64(9), out: 9},
		{in: "11", out: 11},
		{in: "", out: nil},
		{in: nil, out: nil},
		{in: 1.5, wantErr: true},
		{in: "abc", wantErr: true},
		{in: int64(1) << 40, wantErr: true},
	}

	for _, tt := range tests {
		got, err := coerce(col, tt.in)
		if tt.wantErr {
			require.Error(t, err, "%v", tt.in)
			continue
		}
		require.NoError(t, err, "%v", tt.in)
		require.Equal(t, tt.out, got, "%v", tt.in)
	}
}

func TestFileRowCompressed(t *testing.T) {
	t.Parallel()

	o := New(Product)
	file := FileRow{o.CreateRow(TableFile, "", false)}
	require.Equal(t, NotSet, file.Compressed())

	file.SetCompressed(No)
	require.Equal(t, No, file.Compressed())
	require.Equal(t, FileAttributeNoncompressed, file.Attributes())

	file.SetCompressed(Yes)
	require.Equal(t, Yes, file.Compressed())
	require.Equal(t, FileAttributeCompressed, file.Attributes())
}

func TestTableOrderAndHasTable(t *testing.T) {
	t.Parallel()

	o := New(Product)
	require.False(t, o.HasTable(TableFile))

	o.EnsureTable(Definitions[TableFile])
	require.False(t, o.HasTable(TableFile), "empty tables do not count")

	o.CreateRow(TableMedia, "", false)
	o.CreateRow(TableFile, "", false)
	require.True(t, o.HasTable(TableFile))

	var names []string
	for _, table := range o.Tables() {
		names = append(names, table.Name())
	}
	require.Equal(t, []string{TableFile, TableMedia}, names)
}
