//go:build windows
// +build windows

package mergemod

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"github.com/kolide/binder/pkg/contexts/ctxlog"
	"github.com/pkg/errors"
)

const msiOpenDatabaseModeReadOnly = 0

// COM uses the Windows Installer automation interface for databases and
// the mergemod.dll Merge2 object for payload extraction. Cabinets are
// exploded with expand.exe.
type COM struct {
	expander *Msitools
}

func NewCOM() *COM {
	return &COM{expander: NewMsitools(WithCabextract("expand.exe"))}
}

func Default() Provider {
	return NewCOM()
}

// comThread pins the calling goroutine to its OS thread and initializes
// COM on it. release undoes both.
func comThread(logger log.Logger) (release func(), err error) {
	runtime.LockOSThread()

	if err := ole.CoInitialize(0); err != nil {
		code := err.(*ole.OleError).Code()
		if code != 0x00000001 {
			runtime.UnlockOSThread()
			return nil, errors.Wrap(err, "CoInitialize returned error")
		}
		level.Debug(logger).Log("msg", "The COM library is already initialized on this thread")
	}

	return func() {
		ole.CoUninitialize()
		runtime.UnlockOSThread()
	}, nil
}

func createDispatch(progID string) (*ole.IDispatch, error) {
	unknown, err := oleutil.CreateObject(progID)
	if err != nil {
		return nil, errors.Wrapf(err, "ole createObject %s", progID)
	}
	defer unknown.Release()

	disp, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, errors.Wrap(err, "query interface create")
	}
	return disp, nil
}

func (c *COM) OpenDatabase(ctx context.Context, path string) (Database, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "opening module %s", path)
	}

	release, err := comThread(log.With(ctxlog.FromContext(ctx), "caller", "mergemod.OpenDatabase"))
	if err != nil {
		return nil, err
	}

	installer, err := createDispatch("WindowsInstaller.Installer")
	if err != nil {
		release()
		return nil, err
	}

	dbRaw, err := oleutil.CallMethod(installer, "OpenDatabase", path, msiOpenDatabaseModeReadOnly)
	if err != nil {
		installer.Release()
		release()
		return nil, errors.Wrapf(err, "opening database %s", path)
	}

	return &comDatabase{
		installer: installer,
		db:        dbRaw.ToIDispatch(),
		release:   release,
	}, nil
}

type comDatabase struct {
	installer *ole.IDispatch
	db        *ole.IDispatch
	release   func()
}

func (d *comDatabase) TableExists(name string) (bool, error) {
	v, err := oleutil.CallMethod(d.db, "TablePersistent", name)
	if err != nil {
		return false, errors.Wrapf(err, "checking table %s", name)
	}
	// MSICONDITION_TRUE
	return v.Val == 1, nil
}

func (d *comDatabase) ModuleFiles() ([]ModuleFile, error) {
	viewRaw, err := oleutil.CallMethod(d.db, "OpenView", "SELECT `File`, `Directory_` FROM `File`, `Component` WHERE `Component_`=`Component` ORDER BY `File`")
	if err != nil {
		return nil, errors.Wrap(err, "opening file view")
	}
	view := viewRaw.ToIDispatch()
	defer view.Release()

	if _, err := oleutil.CallMethod(view, "Execute"); err != nil {
		return nil, errors.Wrap(err, "executing file view")
	}
	defer oleutil.CallMethod(view, "Close")

	var files []ModuleFile
	for {
		recRaw, err := oleutil.CallMethod(view, "Fetch")
		if err != nil {
			return nil, errors.Wrap(err, "fetching file row")
		}
		rec := recRaw.ToIDispatch()
		if rec == nil {
			break
		}

		file, err := oleutil.GetProperty(rec, "StringData", 1)
		if err != nil {
			rec.Release()
			return nil, errors.Wrap(err, "reading File")
		}
		dir, err := oleutil.GetProperty(rec, "StringData", 2)
		if err != nil {
			rec.Release()
			return nil, errors.Wrap(err, "reading Directory_")
		}
		files = append(files, ModuleFile{File: file.ToString(), Directory: dir.ToString()})
		rec.Release()
	}

	return files, nil
}

func (d *comDatabase) SummaryProperty(pid int) (string, error) {
	siRaw, err := oleutil.GetProperty(d.db, "SummaryInformation", 0)
	if err != nil {
		return "", errors.Wrap(err, "opening summary information")
	}
	si := siRaw.ToIDispatch()
	defer si.Release()

	v, err := oleutil.GetProperty(si, "Property", pid)
	if err != nil {
		return "", errors.Wrapf(err, "reading summary property %d", pid)
	}
	if v.Value() == nil {
		return "", nil
	}
	return fmt.Sprintf("%v", v.Value()), nil
}

func (d *comDatabase) Close() error {
	d.db.Release()
	d.installer.Release()
	d.release()
	return nil
}

func (c *COM) NewMerger(ctx context.Context) (Merger, error) {
	release, err := comThread(log.With(ctxlog.FromContext(ctx), "caller", "mergemod.NewMerger"))
	if err != nil {
		return nil, err
	}

	merge, err := createDispatch("Msm.Merge2.1")
	if err != nil {
		release()
		return nil, err
	}

	return &comMerger{merge: merge, release: release}, nil
}

type comMerger struct {
	merge   *ole.IDispatch
	release func()
}

func (m *comMerger) OpenModule(path string, language int16) error {
	_, err := oleutil.CallMethod(m.merge, "OpenModule", path, language)
	return errors.Wrapf(err, "opening module %s", path)
}

func (m *comMerger) ExtractCAB(path string) error {
	_, err := oleutil.CallMethod(m.merge, "ExtractCAB", path)
	return errors.Wrap(err, "extracting module cabinet")
}

func (m *comMerger) CloseModule() error {
	_, err := oleutil.CallMethod(m.merge, "CloseModule")
	m.merge.Release()
	m.release()
	return errors.Wrap(err, "closing module")
}

func (c *COM) ExplodeCabinet(ctx context.Context, cabPath, dir string) error {
	if _, err := os.Stat(cabPath); err != nil {
		return errors.Wrapf(err, "opening cabinet %s", cabPath)
	}

	if ok, err := c.expander.bundled.Handles(cabPath); err == nil && ok {
		return c.expander.bundled.Explode(cabPath, dir)
	}

	if _, err := c.expander.execOut(ctx, "expand.exe", cabPath, "-F:*", dir); err != nil {
		return errors.Wrapf(err, "exploding %s", cabPath)
	}
	return nil
}
