// Package output is the in-memory relational model handed to the binder:
// named tables of rows, each row an ordered list of typed fields. The
// binder reads and mutates it through the typed row views in rows.go.
package output

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kolide/binder/pkg/messaging"
	"github.com/pkg/errors"
)

// Type is the kind of installer database being bound.
type Type int

const (
	Product Type = iota
	Module
	Patch
	PatchCreation
	Transform
)

var typeNames = []string{"product", "module", "patch", "patchcreation", "transform"}

func (t Type) String() string {
	if int(t) < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("type(%d)", int(t))
	}
	return typeNames[t]
}

// ParseType is the inverse of Type.String. Matching is case-insensitive.
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if strings.EqualFold(s, name) {
			return Type(i), nil
		}
	}
	return 0, errors.Errorf("unknown output type %q", s)
}

// RowOperation records how a row participates in a transform or patch.
type RowOperation int

const (
	OpNone RowOperation = iota
	OpAdd
	OpDelete
	OpModify
)

var operationNames = []string{"none", "add", "delete", "modify"}

func (o RowOperation) String() string {
	if int(o) < 0 || int(o) >= len(operationNames) {
		return fmt.Sprintf("operation(%d)", int(o))
	}
	return operationNames[o]
}

func parseOperation(s string) (RowOperation, error) {
	if s == "" {
		return OpNone, nil
	}
	for i, name := range operationNames {
		if strings.EqualFold(s, name) {
			return RowOperation(i), nil
		}
	}
	return 0, errors.Errorf("unknown row operation %q", s)
}

// Field is a single cell. PreviousData holds the value of the cell in
// the baseline when the row comes from a patch or transform.
type Field struct {
	Column       *ColumnDefinition
	Data         interface{}
	PreviousData interface{}
}

// Row is one record in a table.
type Row struct {
	Table      *Table
	Fields     []*Field
	SourceLine messaging.SourceLine
	Operation  RowOperation

	// FromModule marks rows synthesized from a merge module. Those rows are
	// created by merging the module itself and must not be imported again.
	FromModule bool

	// Number is unique across the whole output.
	Number int
}

func (r *Row) field(i int) *Field {
	if i < 0 || i >= len(r.Fields) {
		panic(fmt.Sprintf("column %d out of range for table %s", i, r.Table.Name()))
	}
	return r.Fields[i]
}

// IsNull reports whether column i holds no value.
func (r *Row) IsNull(i int) bool {
	return r.field(i).Data == nil
}

// String returns column i as a string. Null reads as "".
func (r *Row) String(i int) string {
	return stringValue(r.field(i).Data)
}

// Int returns column i as an integer, and false when it is null.
func (r *Row) Int(i int) (int, bool) {
	n, ok := r.field(i).Data.(int)
	return n, ok
}

// IntOr returns column i, or def when it is null.
func (r *Row) IntOr(i, def int) int {
	if n, ok := r.Int(i); ok {
		return n
	}
	return def
}

// Previous returns the baseline value of column i as a string.
func (r *Row) Previous(i int) string {
	return stringValue(r.field(i).PreviousData)
}

// HasPrevious reports whether column i carries a baseline value.
func (r *Row) HasPrevious(i int) bool {
	return r.field(i).PreviousData != nil
}

// Set stores v in column i, converting it to the column's type. An empty
// string or nil clears the field.
func (r *Row) Set(i int, v interface{}) {
	f := r.field(i)
	data, err := coerce(f.Column, v)
	if err != nil {
		panic(errors.Wrapf(err, "setting %s.%s", r.Table.Name(), f.Column.Name))
	}
	f.Data = data
}

// SetPrevious stores the baseline value of column i.
func (r *Row) SetPrevious(i int, v interface{}) {
	f := r.field(i)
	data, err := coerce(f.Column, v)
	if err != nil {
		panic(errors.Wrapf(err, "setting previous %s.%s", r.Table.Name(), f.Column.Name))
	}
	f.PreviousData = data
}

// Table holds the rows of one table definition, in insertion order.
type Table struct {
	Definition *TableDefinition
	Rows       []*Row

	output *Output
}

func (t *Table) Name() string {
	return t.Definition.Name
}

// CreateRow appends an empty row to the table.
func (t *Table) CreateRow(src messaging.SourceLine, fromModule bool) *Row {
	row := &Row{
		Table:      t,
		Fields:     make([]*Field, len(t.Definition.Columns)),
		SourceLine: src,
		FromModule: fromModule,
	}
	for i, col := range t.Definition.Columns {
		row.Fields[i] = &Field{Column: col}
	}
	if t.output != nil {
		t.output.rowNumber++
		row.Number = t.output.rowNumber
	}
	t.Rows = append(t.Rows, row)
	return row
}

// Clear drops every row.
func (t *Table) Clear() {
	t.Rows = nil
}

// Output is the whole model: a set of tables plus output-level facts.
type Output struct {
	Type     Type
	Codepage int

	tables    map[string]*Table
	order     []string
	rowNumber int
}

func New(typ Type) *Output {
	return &Output{
		Type:   typ,
		tables: make(map[string]*Table),
	}
}

// Table returns the named table, or nil when it does not exist.
func (o *Output) Table(name string) *Table {
	return o.tables[name]
}

// HasTable reports whether the table exists and has at least one row.
func (o *Output) HasTable(name string) bool {
	t := o.tables[name]
	return t != nil && len(t.Rows) > 0
}

// EnsureTable returns the table for def, creating it if needed.
func (o *Output) EnsureTable(def *TableDefinition) *Table {
	if t, ok := o.tables[def.Name]; ok {
		return t
	}
	t := &Table{Definition: def, output: o}
	o.tables[def.Name] = t
	o.order = append(o.order, def.Name)
	return t
}

// Tables returns every table in creation order.
func (o *Output) Tables() []*Table {
	tables := make([]*Table, 0, len(o.order))
	for _, name := range o.order {
		tables = append(tables, o.tables[name])
	}
	return tables
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
