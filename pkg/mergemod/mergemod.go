// Package mergemod reads merge modules: their embedded installer database
// and the payload cabinet that carries their files.
package mergemod

import (
	"context"
	"strings"
)

// ModuleCabinetStream is the stream holding a module's payload.
const ModuleCabinetStream = "MergeModule.CABinet"

// ModuleFile is one row of the module's File table joined to its
// Component table.
type ModuleFile struct {
	File      string
	Directory string
}

// Database is a merge module's installer database, opened read-only.
type Database interface {
	TableExists(name string) (bool, error)

	// ModuleFiles joins File to Component, in File table order.
	ModuleFiles() ([]ModuleFile, error)

	// SummaryProperty returns the summary information value of pid, or ""
	// when it is unset.
	SummaryProperty(pid int) (string, error)

	Close() error
}

// Merger opens a module for merging. Only one module is open at a time.
type Merger interface {
	OpenModule(path string, language int16) error

	// ExtractCAB writes the payload cabinet of the open module to path. A
	// module without a payload leaves path absent.
	ExtractCAB(path string) error

	CloseModule() error
}

// Provider supplies everything merge-module extraction needs. Opening a
// database that does not exist returns an error satisfying
// errors.Is(err, os.ErrNotExist); so does exploding a missing cabinet.
type Provider interface {
	OpenDatabase(ctx context.Context, path string) (Database, error)
	NewMerger(ctx context.Context) (Merger, error)
	ExplodeCabinet(ctx context.Context, cabPath, dir string) error
}

// table is a parsed IDT export.
type table struct {
	columns []string
	rows    [][]string
}

func (t *table) column(name string) int {
	for i, c := range t.columns {
		if c == name {
			return i
		}
	}
	return -1
}

func (t *table) value(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

// parseIDT parses the archive format the installer tools export tables
// in: column names, column types, table name and keys, then one
// tab-separated line per row.
func parseIDT(s string) *table {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")

	t := &table{}
	if len(lines) == 0 || lines[0] == "" {
		return t
	}
	t.columns = strings.Split(lines[0], "\t")

	for _, line := range lines[min(3, len(lines)):] {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		for i, f := range fields {
			// Embedded newlines and tabs are escaped in the archive format.
			f = strings.ReplaceAll(f, "\x19", "\n")
			fields[i] = strings.ReplaceAll(f, "\x1b", "\t")
		}
		t.rows = append(t.rows, fields)
	}
	return t
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// joinFiles resolves each file's directory through its component.
func joinFiles(files, components *table) []ModuleFile {
	fileCol := files.column("File")
	fileComponentCol := files.column("Component_")
	componentCol := components.column("Component")
	directoryCol := components.column("Directory_")

	directories := make(map[string]string, len(components.rows))
	for _, row := range components.rows {
		directories[components.value(row, componentCol)] = components.value(row, directoryCol)
	}

	var out []ModuleFile
	for _, row := range files.rows {
		dir, ok := directories[files.value(row, fileComponentCol)]
		if !ok {
			continue
		}
		out = append(out, ModuleFile{
			File:      files.value(row, fileCol),
			Directory: dir,
		})
	}
	return out
}
