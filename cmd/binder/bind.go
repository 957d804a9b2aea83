package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/kolide/binder/pkg/binder"
	"github.com/kolide/binder/pkg/cabcache"
	"github.com/kolide/binder/pkg/cabinet"
	"github.com/kolide/binder/pkg/contexts/ctxlog"
	"github.com/kolide/binder/pkg/mergemod"
	"github.com/kolide/binder/pkg/output"
	"github.com/kolide/binder/pkg/patchapi"
	"github.com/kolide/binder/pkg/transfer"
	"github.com/kolide/kit/logutil"
	"github.com/oklog/run"
	"github.com/pkg/errors"
)

func runBind(args []string) error {
	opts, err := parseBindOptions(args)
	if err != nil {
		return err
	}

	logger := logutil.NewCLILogger(opts.debug)
	ctx, cancel := context.WithCancel(ctxlog.NewContext(context.Background(), logger))
	defer cancel()

	var g run.Group

	g.Add(func() error {
		return bindOutput(ctx, logger, opts)
	}, func(error) {
		cancel()
	})

	sigChannel := make(chan os.Signal, 1)
	stop := make(chan struct{})
	g.Add(func() error {
		signal.Notify(sigChannel, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChannel)
		select {
		case sig := <-sigChannel:
			level.Info(logger).Log("msg", "beginning shutdown via signal", "signal_received", sig)
			return errors.Errorf("interrupted by %s", sig)
		case <-stop:
			return nil
		}
	}, func(error) {
		close(stop)
	})

	return g.Run()
}

func bindOutput(ctx context.Context, logger log.Logger, opts *bindOptions) error {
	out, err := output.Load(opts.input)
	if err != nil {
		return errors.Wrapf(err, "loading %s", opts.input)
	}

	binderOpts := []binder.Option{
		binder.WithLogger(logger),
		binder.WithTempDir(opts.tempDir),
		binder.WithLayoutDir(opts.layoutDir),
		binder.WithDefaultCompressionLevel(opts.compression),
		binder.WithThreads(opts.threads),
		binder.WithSuppressLayout(opts.suppressLayout),
		binder.WithFileHashes(opts.fileHashes),
		binder.WithAssemblyFileVersion(opts.assemblyFileVersion),
		binder.WithDiffer(patchapi.NewXdelta(patchapi.WithBinary(opts.xdeltaPath))),
		binder.WithMergeModules(mergeModules(opts)),
	}

	if opts.cabCacheDir != "" {
		cache, err := cabcache.Open(opts.cabCacheDir, cabcache.WithLogger(logger))
		if err != nil {
			return err
		}
		defer cache.Close()

		binderOpts = append(binderOpts,
			binder.WithResolver(cache),
			binder.WithBuiltHook(func(item cabinet.WorkItem) {
				if err := cache.Record(item); err != nil {
					level.Info(logger).Log("msg", "could not record cabinet in cache", "cabinet", item.Name(), "err", err)
				}
			}),
		)
	}

	b := binder.New(out, binderOpts...)

	res, err := b.Bind(ctx)
	if err != nil {
		return err
	}

	if !opts.suppressLayout {
		if err := transfer.Apply(ctx, res.Transfers); err != nil {
			return errors.Wrap(err, "laying out files")
		}
	}

	if err := out.Save(opts.output); err != nil {
		return errors.Wrapf(err, "saving %s", opts.output)
	}

	level.Info(logger).Log(
		"msg", "bound output",
		"build_id", res.BuildID,
		"output", opts.output,
		"layout", opts.layoutDir,
		"transfers", len(res.Transfers),
		"warnings", b.Messenger().WarningCount(),
	)
	return nil
}

// mergeModules picks the merge module provider. Windows uses the installer
// automation objects; elsewhere the msitools commands stand in.
func mergeModules(opts *bindOptions) mergemod.Provider {
	if runtime.GOOS == "windows" {
		return mergemod.Default()
	}
	return mergemod.NewMsitools(
		mergemod.WithMsiinfo(opts.msiinfoPath),
		mergemod.WithCabextract(opts.cabextractPath),
	)
}
