package cabinet

import (
	"context"
	"fmt"
	"runtime"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"golang.org/x/sync/errgroup"
)

// SplitFunc is told that the cabinet whose name without extension is
// firstCabinetName continued into newCabinetName while fileToken was being
// written. It is called from worker goroutines.
type SplitFunc func(firstCabinetName, newCabinetName, fileToken string) error

// Archiver writes one cabinet. maxVolumeSize is in MB; zero disables
// volume spanning and split is never called.
type Archiver interface {
	Archive(ctx context.Context, item WorkItem, maxVolumeSize int, split SplitFunc) error
}

// BuildError is returned by Run when a cabinet could not be built.
type BuildError struct {
	Cabinet string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("building cabinet %s: %v", e.Cabinet, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Builder runs queued work items on a bounded pool.
type Builder struct {
	archiver      Archiver
	threads       int
	maxVolumeSize int
	split         SplitFunc
	built         func(WorkItem)
	logger        log.Logger

	items []WorkItem
}

type BuilderOpt func(*Builder)

// WithThreads bounds the number of cabinets built at once.
func WithThreads(n int) BuilderOpt {
	return func(b *Builder) {
		b.threads = n
	}
}

// WithSplitting enables volume spanning at size MB, reporting each new
// volume through split.
func WithSplitting(size int, split SplitFunc) BuilderOpt {
	return func(b *Builder) {
		b.maxVolumeSize = size
		b.split = split
	}
}

// WithBuiltHook is called after each cabinet is written successfully.
func WithBuiltHook(fn func(WorkItem)) BuilderOpt {
	return func(b *Builder) {
		b.built = fn
	}
}

func WithLogger(logger log.Logger) BuilderOpt {
	return func(b *Builder) {
		b.logger = logger
	}
}

func NewBuilder(archiver Archiver, opts ...BuilderOpt) *Builder {
	b := &Builder{
		archiver: archiver,
		threads:  runtime.NumCPU(),
		logger:   log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.threads < 1 {
		b.threads = 1
	}
	return b
}

// Enqueue adds a work item. It must not be called once Run has started.
func (b *Builder) Enqueue(item WorkItem) {
	b.items = append(b.items, item)
}

func (b *Builder) Len() int {
	return len(b.items)
}

func (b *Builder) Threads() int {
	return b.threads
}

// Run builds every queued cabinet. The first failure cancels the cabinets
// that have not started yet and is returned.
func (b *Builder) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.threads)

	for _, item := range b.items {
		item := item
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			level.Debug(b.logger).Log(
				"msg", "building cabinet",
				"cabinet", item.CabinetPath,
				"files", len(item.Files),
				"compression", item.CompressionLevel.String(),
			)

			maxVolumeSize := b.maxVolumeSize
			if item.MaxThreshold > 0 {
				maxVolumeSize = item.MaxThreshold
			}

			// An archiver reports the volumes of one cabinet in order, from
			// the goroutine building it.
			var (
				split   SplitFunc
				volumes []Volume
			)
			if b.split == nil {
				maxVolumeSize = 0
			} else {
				split = func(firstCabinetName, newCabinetName, fileToken string) error {
					if err := b.split(firstCabinetName, newCabinetName, fileToken); err != nil {
						return err
					}
					volumes = append(volumes, Volume{Name: newCabinetName, Token: fileToken})
					return nil
				}
			}

			if err := b.archiver.Archive(ctx, item, maxVolumeSize, split); err != nil {
				return &BuildError{Cabinet: item.Name(), Err: err}
			}
			item.Volumes = volumes

			if b.built != nil {
				b.built(item)
			}
			return nil
		})
	}

	return g.Wait()
}
