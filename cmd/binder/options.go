package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kolide/binder/pkg/cabinet"
	"github.com/peterbourgon/ff/v3"
	"github.com/pkg/errors"
)

type bindOptions struct {
	input               string
	output              string
	layoutDir           string
	tempDir             string
	cabCacheDir         string
	compression         cabinet.CompressionLevel
	threads             int
	suppressLayout      bool
	fileHashes          bool
	assemblyFileVersion bool
	xdeltaPath          string
	msiinfoPath         string
	cabextractPath      string
	debug               bool
}

func parseBindOptions(args []string) (*bindOptions, error) {
	fs := flag.NewFlagSet("binder bind", flag.ContinueOnError)

	var (
		flInput               = fs.String("input", "", "compiled output to bind (.json or .yaml)")
		flOutput              = fs.String("output", "", "where to save the bound output (defaults to -input)")
		flLayoutDir           = fs.String("layout", "", "directory receiving cabinets and uncompressed files")
		flTempDir             = fs.String("intermediate", "", "directory for intermediate files")
		flCabCache            = fs.String("cab-cache", "", "cabinet cache directory; unset disables reuse")
		flCompression         = fs.String("compression", cabinet.LevelMszip.String(), "default cabinet compression level (none, low, medium, high, mszip)")
		flThreads             = fs.Int("threads", 0, "cabinet builder threads (0 uses NUMBER_OF_PROCESSORS or the CPU count)")
		flSuppressLayout      = fs.Bool("suppress-layout", false, "compute the layout without writing any file")
		flFileHashes          = fs.Bool("hashes", true, "record hashes of unversioned files")
		flAssemblyFileVersion = fs.Bool("assembly-file-version", false, "record fileVersion in assembly names")
		flXdelta              = fs.String("xdelta", "xdelta3", "xdelta3 executable used for delta patches")
		flMsiinfo             = fs.String("msiinfo", "msiinfo", "msiinfo executable used to read merge modules")
		flCabextract          = fs.String("cabextract", "cabextract", "cabextract executable used to explode merge module cabinets")
		flDebug               = fs.Bool("debug", false, "enable debug logging")
		_                     = fs.String("config", "", "config file (optional)")
	)

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: binder bind [flags]\n\n")
		fs.PrintDefaults()
	}

	ffOpts := []ff.Option{
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("BINDER"),
	}

	if err := ff.Parse(fs, args, ffOpts...); err != nil {
		return nil, errors.Wrap(err, "parsing flags")
	}

	if *flInput == "" {
		return nil, errors.New("-input is required")
	}

	compression, err := cabinet.ParseCompressionLevel(*flCompression)
	if err != nil {
		return nil, err
	}

	if *flThreads < 0 {
		return nil, errors.Errorf("-threads must not be negative, got %d", *flThreads)
	}

	opts := &bindOptions{
		input:               *flInput,
		output:              *flOutput,
		layoutDir:           *flLayoutDir,
		tempDir:             *flTempDir,
		cabCacheDir:         *flCabCache,
		compression:         compression,
		threads:             *flThreads,
		suppressLayout:      *flSuppressLayout,
		fileHashes:          *flFileHashes,
		assemblyFileVersion: *flAssemblyFileVersion,
		xdeltaPath:          *flXdelta,
		msiinfoPath:         *flMsiinfo,
		cabextractPath:      *flCabextract,
		debug:               *flDebug,
	}

	if opts.output == "" {
		opts.output = opts.input
	}
	if opts.layoutDir == "" {
		opts.layoutDir = filepath.Dir(opts.output)
	}
	if opts.tempDir == "" {
		opts.tempDir = filepath.Join(os.TempDir(), "binder")
	}

	return opts, nil
}
