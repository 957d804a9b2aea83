package patchapi

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/binder/pkg/contexts/ctxlog"
	"github.com/pkg/errors"
)

// Xdelta is a Differ backed by the xdelta3 command. It diffs against the
// first baseline only; symbol and ignore ranges have no xdelta3 equivalent
// and are not passed on.
type Xdelta struct {
	binary string

	execCC func(context.Context, string, ...string) *exec.Cmd // Allows test overrides
}

type Opt func(*Xdelta)

// WithBinary sets the xdelta3 executable. The default is found on PATH.
func WithBinary(path string) Opt {
	return func(x *Xdelta) {
		x.binary = path
	}
}

func NewXdelta(opts ...Opt) *Xdelta {
	x := &Xdelta{
		binary: "xdelta3",
		execCC: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *Xdelta) CreateDelta(ctx context.Context, req Request) (Result, error) {
	if len(req.Previous) == 0 {
		return Result{}, errors.New("no previous version to diff against")
	}

	if !RetainRangesMatch(req) {
		return Result{RetainRangeMismatch: true}, nil
	}

	if err := os.MkdirAll(filepath.Dir(req.DeltaPath), 0755); err != nil {
		return Result{}, errors.Wrap(err, "creating delta directory")
	}

	args := []string{"-e", "-f"}
	if req.OptimizeForLargeFiles {
		args = append(args, "-B", "67108864")
	}
	args = append(args, "-s", req.Previous[0].Path, req.Target, req.DeltaPath)

	if _, err := x.execOut(ctx, args...); err != nil {
		return Result{}, err
	}

	return Result{Created: true}, nil
}

func (x *Xdelta) ExtractDeltaHeader(ctx context.Context, deltaPath, headerPath string) error {
	header, err := x.execOut(ctx, "printhdr", deltaPath)
	if err != nil {
		return err
	}

	if err := os.WriteFile(headerPath, []byte(header+"\n"), 0644); err != nil {
		return errors.Wrapf(err, "writing delta header %s", headerPath)
	}
	return nil
}

func (x *Xdelta) execOut(ctx context.Context, args ...string) (string, error) {
	logger := ctxlog.FromContext(ctx)

	cmd := x.execCC(ctx, x.binary, args...)

	level.Debug(logger).Log(
		"msg", "execing",
		"cmd", strings.Join(cmd.Args, " "),
	)

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.Stdout, cmd.Stderr = stdout, stderr
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "run command %s %v\nstdout=%s\nstderr=%s", x.binary, args, stdout, stderr)
	}
	return strings.TrimSpace(stdout.String()), nil
}
