// Package binder lays out a compiled installer model on disk. It joins
// the file rows into facades, extracts merge module payloads, assigns
// files to media, builds cabinets (splitting them when a single file is
// too large), generates delta patches, and computes the copies needed for
// uncompressed files.
//
// A Binder binds a single output. The model is mutated in place; what is
// left for the caller is the list of file transfers to perform.
package binder

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	"github.com/kolide/binder/pkg/cabinet"
	"github.com/kolide/binder/pkg/contexts/ctxlog"
	"github.com/kolide/binder/pkg/fileinfo"
	"github.com/kolide/binder/pkg/mergemod"
	"github.com/kolide/binder/pkg/messaging"
	"github.com/kolide/binder/pkg/namedlock"
	"github.com/kolide/binder/pkg/output"
	"github.com/kolide/binder/pkg/patchapi"
	"github.com/kolide/binder/pkg/transfer"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

// splitLockName names the lock serializing cabinet splits. It is shared
// by every binder in the process and by other processes on the host.
const splitLockName = "WixCabinetSplitBinderCallback"

// Result is what a bind leaves for the caller.
type Result struct {
	BuildID     string
	FileFacades []*FileFacade
	Transfers   []*transfer.FileTransfer
}

// Binder holds the configuration and the per-bind state. Create one with
// New for every output.
type Binder struct {
	out       *output.Output
	messenger *messaging.Messenger
	logger    log.Logger

	tempDir            string
	layoutDir          string
	defaultCompression cabinet.CompressionLevel
	threads            int
	suppressLayout     bool
	fileHashes         bool
	assemblyFileVer    bool
	lookupEnv          func(string) (string, bool)

	archiver   cabinet.Archiver
	resolvers  []cabinet.Resolver
	builtHooks []func(cabinet.WorkItem)
	differ     patchapi.Differ
	modules    mergemod.Provider
	versions   fileinfo.VersionReader
	assemblies fileinfo.AssemblyReader
	splitLock  locker

	buildID     string
	facades     []*FileFacade
	facadesByID map[string]*FileFacade
	transfers   []*transfer.FileTransfer

	// lastSplitCabinet maps the first cabinet of a split chain to the
	// cabinet most recently appended to it. Guarded by splitLock.
	lastSplitCabinet map[string]string
}

// locker serializes splits. *namedlock.Lock is the one used outside tests.
type locker interface {
	TryLock() bool
	Lock() error
	Unlock() error
}

type Option func(*Binder)

func WithLogger(logger log.Logger) Option {
	return func(b *Binder) {
		b.logger = logger
	}
}

// WithMessenger posts diagnostics to m instead of a messenger of the
// binder's own.
func WithMessenger(m *messaging.Messenger) Option {
	return func(b *Binder) {
		b.messenger = m
	}
}

// WithTempDir sets the intermediate folder. Cabinets, deltas and merge
// module payloads are staged there.
func WithTempDir(dir string) Option {
	return func(b *Binder) {
		b.tempDir = dir
	}
}

// WithLayoutDir sets the folder the package is laid out to.
func WithLayoutDir(dir string) Option {
	return func(b *Binder) {
		b.layoutDir = dir
	}
}

// WithDefaultCompressionLevel applies to media without a WixMedia level.
func WithDefaultCompressionLevel(lvl cabinet.CompressionLevel) Option {
	return func(b *Binder) {
		b.defaultCompression = lvl
	}
}

// WithThreads sets the number of cabinets built at once. When unset the
// count comes from NUMBER_OF_PROCESSORS, then from the runtime.
func WithThreads(n int) Option {
	return func(b *Binder) {
		b.threads = n
	}
}

// WithSuppressLayout skips extracting merge module payloads.
func WithSuppressLayout(suppress bool) Option {
	return func(b *Binder) {
		b.suppressLayout = suppress
	}
}

// WithFileHashes controls whether unversioned files get an MsiFileHash row.
func WithFileHashes(enabled bool) Option {
	return func(b *Binder) {
		b.fileHashes = enabled
	}
}

// WithAssemblyFileVersion adds a fileVersion assembly name for .NET
// assemblies and pads the version name to match it.
func WithAssemblyFileVersion(enabled bool) Option {
	return func(b *Binder) {
		b.assemblyFileVer = enabled
	}
}

// WithEnvironment replaces the environment lookup.
func WithEnvironment(lookup func(string) (string, bool)) Option {
	return func(b *Binder) {
		b.lookupEnv = lookup
	}
}

func WithArchiver(a cabinet.Archiver) Option {
	return func(b *Binder) {
		b.archiver = a
	}
}

// WithResolver registers a build-vs-reuse resolver. Resolvers are asked in
// registration order.
func WithResolver(r cabinet.Resolver) Option {
	return func(b *Binder) {
		b.resolvers = append(b.resolvers, r)
	}
}

// WithBuiltHook is called after each cabinet is built.
func WithBuiltHook(fn func(cabinet.WorkItem)) Option {
	return func(b *Binder) {
		b.builtHooks = append(b.builtHooks, fn)
	}
}

func WithDiffer(d patchapi.Differ) Option {
	return func(b *Binder) {
		b.differ = d
	}
}

func WithMergeModules(p mergemod.Provider) Option {
	return func(b *Binder) {
		b.modules = p
	}
}

func WithVersionReader(r fileinfo.VersionReader) Option {
	return func(b *Binder) {
		b.versions = r
	}
}

func WithAssemblyReader(r fileinfo.AssemblyReader) Option {
	return func(b *Binder) {
		b.assemblies = r
	}
}

func New(out *output.Output, opts ...Option) *Binder {
	b := &Binder{
		out:                out,
		logger:             log.NewNopLogger(),
		defaultCompression: cabinet.LevelMszip,
		fileHashes:         true,
		lookupEnv:          os.LookupEnv,
		archiver:           cabinet.NewFileArchiver(),
		differ:             patchapi.NewXdelta(),
		modules:            mergemod.Default(),
		versions:           fileinfo.DefaultVersionReader(),
		assemblies:         fileinfo.DefaultAssemblyReader(),
		splitLock:          namedlock.New(splitLockName),
		facadesByID:        make(map[string]*FileFacade),
		lastSplitCabinet:   make(map[string]string),
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.messenger == nil {
		b.messenger = messaging.New(b.logger)
	}
	if b.tempDir == "" {
		b.tempDir = filepath.Join(os.TempDir(), "binder")
	}
	if b.layoutDir == "" {
		b.layoutDir = "."
	}

	return b
}

// Messenger returns the diagnostics sink of the bind.
func (b *Binder) Messenger() *messaging.Messenger {
	return b.messenger
}

// Bind runs every stage. Fatal conditions stop the bind and come back as
// the error, usually a *messaging.Message. Recoverable errors are posted
// and the bind carries on as far as it can, then reports them as a whole.
func (b *Binder) Bind(ctx context.Context) (*Result, error) {
	b.buildID = uuid.New().String()
	ctx = ctxlog.WithBuildID(ctxlog.NewContext(ctx, b.logger), b.buildID)

	ctx, span := trace.StartSpan(ctx, "binder.Bind")
	defer span.End()
	span.AddAttributes(
		trace.StringAttribute("build_id", b.buildID),
		trace.StringAttribute("output_type", b.out.Type.String()),
	)

	logger := ctxlog.FromContext(ctx)
	level.Debug(logger).Log(
		"msg", "starting bind",
		"output_type", b.out.Type.String(),
		"temp_dir", b.tempDir,
		"layout_dir", b.layoutDir,
	)

	if err := os.MkdirAll(b.tempDir, 0755); err != nil {
		return nil, errors.Wrap(err, "creating temp dir")
	}

	env, err := b.readEnvironment()
	if err != nil {
		return nil, err
	}

	if err := b.consolidate(ctx); err != nil {
		return nil, err
	}

	if err := b.extractMergeModules(ctx); err != nil {
		return nil, err
	}

	if err := b.updateFileFacades(ctx); err != nil {
		return nil, err
	}

	assignment, err := b.assignMedia(ctx, env)
	if err != nil {
		return nil, err
	}

	b.sequenceFiles(assignment)

	if err := b.createDeltaPatches(ctx); err != nil {
		return nil, err
	}

	if err := b.createCabinets(ctx, assignment, env); err != nil {
		return nil, err
	}

	if err := b.layoutUncompressed(ctx, assignment.uncompressed); err != nil {
		return nil, err
	}

	res := &Result{
		BuildID:     b.buildID,
		FileFacades: b.facades,
		Transfers:   b.transfers,
	}

	if b.messenger.EncounteredError() {
		return res, errors.Errorf("bind failed with %d error(s)", b.messenger.ErrorCount())
	}

	level.Info(logger).Log(
		"msg", "bind complete",
		"files", len(b.facades),
		"transfers", len(b.transfers),
		"warnings", b.messenger.WarningCount(),
	)
	return res, nil
}

// threadCount returns the configured worker count, falling back to the
// environment and then to the runtime.
func (b *Binder) threadCount() (int, error) {
	if b.threads != 0 {
		if b.threads < 0 {
			return 0, errors.Errorf("thread count must be positive, got %d", b.threads)
		}
		return b.threads, nil
	}

	n, ok, err := b.envInt32(envNumberOfProcessors)
	if err != nil || (ok && n <= 0) {
		v, _ := b.lookupEnv(envNumberOfProcessors)
		return 0, b.messenger.Fail(messaging.IllegalEnvironmentVariableError(envNumberOfProcessors, v))
	}
	if ok {
		return int(n), nil
	}
	return runtime.NumCPU(), nil
}
