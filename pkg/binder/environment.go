package binder

import (
	"math"
	"strconv"

	"github.com/kolide/binder/pkg/messaging"
	"github.com/kolide/binder/pkg/output"
	"github.com/pkg/errors"
)

const (
	envNumberOfProcessors  = "NUMBER_OF_PROCESSORS"
	envMaxUncompressedSize = "WIX_MUMS"
	envMaxCabinetSize      = "WIX_MCSLFS"

	defaultMaxUncompressedMediaSize = 200 // MB

	// maxCabinetSizeForLargeFileSplitting is the largest volume the
	// archiver can span at, in MB.
	maxCabinetSizeForLargeFileSplitting = 2048
)

// environment is the configuration resolved once, before any work starts.
type environment struct {
	threads int

	// Set only when a media template is authored.
	maxUncompressedMediaSize int // MB
	maxCabinetSize           int // MB, zero disables splitting
}

func (b *Binder) readEnvironment() (*environment, error) {
	threads, err := b.threadCount()
	if err != nil {
		return nil, err
	}
	env := &environment{threads: threads}

	rows := b.out.Rows(output.TableWixMediaTemplate)
	if len(rows) == 0 {
		return env, nil
	}
	template := output.MediaTemplateRow{Row: rows[0]}

	env.maxUncompressedMediaSize = defaultMaxUncompressedMediaSize
	if size, ok := template.MaximumUncompressedMediaSize(); ok {
		env.maxUncompressedMediaSize = size
	}

	n, ok, err := b.envInt32(envMaxUncompressedSize)
	switch {
	case isSyntaxError(err):
		v, _ := b.lookupEnv(envMaxUncompressedSize)
		return nil, b.messenger.Fail(messaging.IllegalEnvironmentVariableError(envMaxUncompressedSize, v))
	case err != nil:
		return nil, b.messenger.Fail(messaging.MaximumUncompressedMediaSizeTooLargeError(template.SourceLine, rangeValue(b.lookupEnv, envMaxUncompressedSize)))
	case ok && n < 0:
		return nil, b.messenger.Fail(messaging.MaximumUncompressedMediaSizeTooLargeError(template.SourceLine, n))
	case ok:
		env.maxUncompressedMediaSize = int(n)
	}

	if size, ok := template.MaximumCabinetSizeForLargeFileSplitting(); ok {
		env.maxCabinetSize = size
	}

	n, ok, err = b.envInt32(envMaxCabinetSize)
	switch {
	case isSyntaxError(err):
		v, _ := b.lookupEnv(envMaxCabinetSize)
		return nil, b.messenger.Fail(messaging.IllegalEnvironmentVariableError(envMaxCabinetSize, v))
	case err != nil:
		return nil, b.messenger.Fail(messaging.MaximumCabinetSizeForLargeFileSplittingTooLargeError(template.SourceLine, rangeValue(b.lookupEnv, envMaxCabinetSize), maxCabinetSizeForLargeFileSplitting))
	case ok:
		env.maxCabinetSize = int(n)
	}

	if env.maxCabinetSize > maxCabinetSizeForLargeFileSplitting {
		return nil, b.messenger.Fail(messaging.MaximumCabinetSizeForLargeFileSplittingTooLargeError(template.SourceLine, int64(env.maxCabinetSize), maxCabinetSizeForLargeFileSplitting))
	}
	if env.maxCabinetSize < 0 {
		env.maxCabinetSize = 0
	}

	return env, nil
}

// envInt32 parses the named variable as a 32-bit integer. ok is false when
// the variable is unset or empty.
func (b *Binder) envInt32(name string) (int64, bool, error) {
	v, ok := b.lookupEnv(name)
	if !ok || v == "" {
		return 0, false, nil
	}

	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, true, errors.Wrapf(err, "parsing %s", name)
	}
	return n, true, nil
}

func isSyntaxError(err error) bool {
	var numErr *strconv.NumError
	return errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrSyntax)
}

// rangeValue returns the out-of-range value of the named variable for the
// error message, saturated to 64 bits.
func rangeValue(lookup func(string) (string, bool), name string) int64 {
	v, _ := lookup(name)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		if len(v) > 0 && v[0] == '-' {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return n
}
