package binder

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/kolide/binder/pkg/mergemod"
	"github.com/kolide/binder/pkg/messaging"
	"github.com/kolide/binder/pkg/output"
	"github.com/stretchr/testify/require"
)

const modulePath = "/modules/widgets.msm"

func mergePackage(t *testing.T, language string) (*testPackage, *output.Row) {
	p := newTestPackage(t, output.Product, wordCountCompressed)
	p.addFile("a", 10, 1)
	merge := p.addRow(output.TableWixMerge, "Widgets", language, "INSTALLFOLDER", modulePath, 1, 1)
	return p, merge
}

func TestExtractMergeModules(t *testing.T) {
	t.Parallel()

	p, merge := mergePackage(t, "1033")

	modules := &fakeModules{modules: map[string]*fakeModule{
		modulePath: {
			files: []mergemod.ModuleFile{
				{File: "a", Directory: "ModuleDir"},
				{File: "widget.dll", Directory: "ModuleDir"},
				{File: "Widget.DLL", Directory: "ModuleDir"},
				{File: "readme.txt", Directory: "DocsDir"},
			},
			installerVersion: "300",
		},
	}}

	b, _ := newTestBinder(t, p, nil, WithMergeModules(modules))
	require.NoError(t, os.MkdirAll(b.tempDir, 0755))

	ctx := context.Background()
	require.NoError(t, b.consolidate(ctx))
	require.NoError(t, b.extractMergeModules(ctx))

	require.Len(t, b.Messenger().WithCode(messaging.DuplicateModuleFileIdentifier), 1)
	require.Len(t, b.Messenger().WithCode(messaging.DuplicateModuleCaseInsensitiveFileIdentifier), 1)
	require.Len(t, b.Messenger().WithCode(messaging.InvalidHigherInstallerVersionInModule), 1)

	require.Len(t, b.facades, 3)
	require.False(t, b.facadesByID["a"].FromModule)

	staging := filepath.Join(b.tempDir, "MergeId."+strconv.Itoa(merge.Number))
	for _, id := range []string{"widget.dll", "readme.txt"} {
		f, ok := b.facadesByID[id]
		require.True(t, ok, id)
		require.True(t, f.FromModule, id)
		require.Equal(t, 1, f.DiskID(), id)
		require.Equal(t, output.Yes, f.File.Compressed(), id)
		require.Equal(t, filepath.Join(staging, id), f.Source(), id)
		require.FileExists(t, f.Source())
	}
	require.Equal(t, "DocsDir", b.facadesByID["readme.txt"].WixFile.Directory())

	// Module rows stay out of the output's own tables.
	require.Len(t, p.out.Rows(output.TableFile), 1)
	require.Len(t, p.out.Rows(output.TableWixFile), 1)
}

func TestExtractMergeModulesSuppressLayout(t *testing.T) {
	t.Parallel()

	p, merge := mergePackage(t, "1033")
	modules := &fakeModules{modules: map[string]*fakeModule{
		modulePath: {
			files:            []mergemod.ModuleFile{{File: "widget.dll", Directory: "ModuleDir"}},
			installerVersion: "200",
		},
	}}

	b, _ := newTestBinder(t, p, nil, WithMergeModules(modules), WithSuppressLayout(true))
	require.NoError(t, os.MkdirAll(b.tempDir, 0755))

	ctx := context.Background()
	require.NoError(t, b.consolidate(ctx))
	require.NoError(t, b.extractMergeModules(ctx))

	require.Contains(t, b.facadesByID, "widget.dll")
	require.NoDirExists(t, b.moduleStagingDir(merge.Number))
	require.Empty(t, b.Messenger().Messages())
}

func TestExtractMergeModulesFailures(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		name     string
		language string
		module   *fakeModule
		code     messaging.Code
	}{
		{
			name:     "module not found",
			language: "1033",
			code:     messaging.FileNotFound,
		},
		{
			name:     "invalid installer version",
			language: "1033",
			module:   &fakeModule{files: []mergemod.ModuleFile{{File: "x", Directory: "D"}}, installerVersion: ""},
			code:     messaging.MissingOrInvalidModuleInstallerVersion,
		},
		{
			name:     "invalid language",
			language: "english",
			module:   &fakeModule{files: []mergemod.ModuleFile{{File: "x", Directory: "D"}}, installerVersion: "200"},
			code:     messaging.InvalidMergeLanguage,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, _ := mergePackage(t, tt.language)
			modules := &fakeModules{modules: map[string]*fakeModule{}}
			if tt.module != nil {
				modules.modules[modulePath] = tt.module
			}

			b, archiver := newTestBinder(t, p, nil, WithMergeModules(modules))
			_, err := b.Bind(context.Background())

			code, ok := messaging.CodeOf(err)
			require.True(t, ok)
			require.Equal(t, tt.code, code)
			require.Empty(t, archiver.built())
		})
	}
}

func TestMergeModuleFilesInCabinet(t *testing.T) {
	t.Parallel()

	p, _ := mergePackage(t, "0")
	p.addMedia(1, "product.cab")
	modules := &fakeModules{modules: map[string]*fakeModule{
		modulePath: {
			files:            []mergemod.ModuleFile{{File: "widget.dll", Directory: "ModuleDir"}},
			installerVersion: "200",
		},
	}}

	b, archiver := newTestBinder(t, p, nil, WithMergeModules(modules))
	res, err := b.Bind(context.Background())
	require.NoError(t, err)

	built := archiver.built()
	require.Len(t, built, 1)
	require.Equal(t, []string{"a", "widget.dll"}, tokens(built[0]))
	require.Len(t, res.FileFacades, 2)
	require.Equal(t, 2, b.facadesByID["widget.dll"].File.Sequence())
}
