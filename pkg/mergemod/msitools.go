package mergemod

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/binder/pkg/contexts/ctxlog"
	"github.com/pkg/errors"
)

// Msitools reads modules with msitools' msiinfo and explodes cabinets
// with cabextract. It works anywhere those tools are installed.
type Msitools struct {
	msiinfo    string
	cabextract string
	bundled    *BundledExtractor

	execCC func(context.Context, string, ...string) *exec.Cmd // Allows test overrides
}

type Opt func(*Msitools)

func WithMsiinfo(path string) Opt {
	return func(m *Msitools) {
		m.msiinfo = path
	}
}

func WithCabextract(path string) Opt {
	return func(m *Msitools) {
		m.cabextract = path
	}
}

func NewMsitools(opts ...Opt) *Msitools {
	m := &Msitools{
		msiinfo:    "msiinfo",
		cabextract: "cabextract",
		bundled:    &BundledExtractor{},
		execCC:     exec.CommandContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Msitools) OpenDatabase(ctx context.Context, path string) (Database, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "opening module %s", path)
	}

	out, err := m.execOut(ctx, m.msiinfo, "tables", path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading tables of %s", path)
	}

	tables := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			tables[name] = true
		}
	}

	return &msitoolsDatabase{ctx: ctx, m: m, path: path, tables: tables}, nil
}

func (m *Msitools) NewMerger(ctx context.Context) (Merger, error) {
	return &msitoolsMerger{ctx: ctx, m: m}, nil
}

func (m *Msitools) ExplodeCabinet(ctx context.Context, cabPath, dir string) error {
	if _, err := os.Stat(cabPath); err != nil {
		return errors.Wrapf(err, "opening cabinet %s", cabPath)
	}

	if ok, err := m.bundled.Handles(cabPath); err == nil && ok {
		return m.bundled.Explode(cabPath, dir)
	}

	if _, err := m.execOut(ctx, m.cabextract, "-q", "-d", dir, cabPath); err != nil {
		return errors.Wrapf(err, "exploding %s", cabPath)
	}
	return nil
}

func (m *Msitools) execOut(ctx context.Context, argv0 string, args ...string) (string, error) {
	stdout, err := m.execRaw(ctx, argv0, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(stdout)), nil
}

func (m *Msitools) execRaw(ctx context.Context, argv0 string, args ...string) ([]byte, error) {
	logger := ctxlog.FromContext(ctx)

	cmd := m.execCC(ctx, argv0, args...)

	level.Debug(logger).Log(
		"msg", "execing",
		"cmd", strings.Join(cmd.Args, " "),
	)

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.Stdout, cmd.Stderr = stdout, stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "run command %s %v\nstdout=%s\nstderr=%s", argv0, args, stdout, stderr)
	}
	return stdout.Bytes(), nil
}

type msitoolsDatabase struct {
	ctx    context.Context
	m      *Msitools
	path   string
	tables map[string]bool
}

func (d *msitoolsDatabase) TableExists(name string) (bool, error) {
	return d.tables[name], nil
}

func (d *msitoolsDatabase) export(name string) (*table, error) {
	out, err := d.m.execRaw(d.ctx, d.m.msiinfo, "export", d.path, name)
	if err != nil {
		return nil, errors.Wrapf(err, "exporting %s", name)
	}
	return parseIDT(string(out)), nil
}

func (d *msitoolsDatabase) ModuleFiles() ([]ModuleFile, error) {
	files, err := d.export("File")
	if err != nil {
		return nil, err
	}
	components, err := d.export("Component")
	if err != nil {
		return nil, err
	}
	return joinFiles(files, components), nil
}

// msiinfo labels summary properties by name rather than id.
var summaryLabels = map[int]string{
	2:  "Title",
	3:  "Subject",
	4:  "Author",
	5:  "Keywords",
	6:  "Comments",
	7:  "Template",
	8:  "Last author",
	9:  "Revision number (UUID)",
	14: "Version",
	15: "Source",
	16: "Restrict",
	18: "Application",
	19: "Security",
}

func (d *msitoolsDatabase) SummaryProperty(pid int) (string, error) {
	label, ok := summaryLabels[pid]
	if !ok {
		return "", errors.Errorf("unsupported summary property %d", pid)
	}

	out, err := d.m.execOut(d.ctx, d.m.msiinfo, "suminfo", d.path)
	if err != nil {
		return "", errors.Wrap(err, "reading summary information")
	}

	for _, line := range strings.Split(out, "\n") {
		k, v, found := strings.Cut(line, ":")
		if !found || strings.TrimSpace(k) != label {
			continue
		}
		v = strings.TrimSpace(v)
		// Numeric properties are printed as "200 (c8)".
		if i := strings.Index(v, " ("); i > 0 && pid >= 14 {
			v = v[:i]
		}
		return v, nil
	}
	return "", nil
}

func (d *msitoolsDatabase) Close() error {
	return nil
}

type msitoolsMerger struct {
	ctx  context.Context
	m    *Msitools
	path string
}

func (mm *msitoolsMerger) OpenModule(path string, _ int16) error {
	if _, err := os.Stat(path); err != nil {
		return errors.Wrapf(err, "opening module %s", path)
	}
	mm.path = path
	return nil
}

func (mm *msitoolsMerger) ExtractCAB(path string) error {
	if mm.path == "" {
		return errors.New("no module is open")
	}

	streams, err := mm.m.execOut(mm.ctx, mm.m.msiinfo, "streams", mm.path)
	if err != nil {
		return errors.Wrap(err, "listing module streams")
	}

	found := false
	for _, line := range strings.Split(streams, "\n") {
		if strings.TrimSpace(line) == ModuleCabinetStream {
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	data, err := mm.m.execRaw(mm.ctx, mm.m.msiinfo, "extract", mm.path, ModuleCabinetStream)
	if err != nil {
		return errors.Wrap(err, "extracting module cabinet")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0644), "writing %s", path)
}

func (mm *msitoolsMerger) CloseModule() error {
	mm.path = ""
	return nil
}
