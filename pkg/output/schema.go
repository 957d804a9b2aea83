package output

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ColumnType is the storage type of a column.
type ColumnType int

const (
	ColumnString ColumnType = iota
	ColumnNumber
	// ColumnPath holds a file system path. It is stored like a string.
	ColumnPath
)

type ColumnDefinition struct {
	Name       string
	Type       ColumnType
	PrimaryKey bool
}

type TableDefinition struct {
	Name    string
	Columns []*ColumnDefinition
}

// Column returns the index of the named column, or -1.
func (d *TableDefinition) Column(name string) int {
	for i, c := range d.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func str(name string) *ColumnDefinition  { return &ColumnDefinition{Name: name, Type: ColumnString} }
func num(name string) *ColumnDefinition  { return &ColumnDefinition{Name: name, Type: ColumnNumber} }
func path(name string) *ColumnDefinition { return &ColumnDefinition{Name: name, Type: ColumnPath} }

func key(c *ColumnDefinition) *ColumnDefinition {
	c.PrimaryKey = true
	return c
}

const (
	TableFile                     = "File"
	TableWixFile                  = "WixFile"
	TableWixDeltaPatchFile        = "WixDeltaPatchFile"
	TableWixDeltaPatchSymbolPaths = "WixDeltaPatchSymbolPaths"
	TableMedia                    = "Media"
	TableWixMedia                 = "WixMedia"
	TableWixMediaTemplate         = "WixMediaTemplate"
	TableComponent                = "Component"
	TableDirectory                = "Directory"
	TableMsiAssemblyName          = "MsiAssemblyName"
	TableMsiFileHash              = "MsiFileHash"
	TableWixMerge                 = "WixMerge"
	TableStreams                  = "_Streams"
	TableWixPatchID               = "WixPatchId"
	TableSummaryInformation       = "_SummaryInformation"
)

// Definitions is the catalog of tables the binder understands.
var Definitions = map[string]*TableDefinition{
	TableFile: {Name: TableFile, Columns: []*ColumnDefinition{
		key(str("File")), str("Component_"), str("FileName"), num("FileSize"),
		str("Version"), str("Language"), num("Attributes"), num("Sequence"),
	}},
	TableWixFile: {Name: TableWixFile, Columns: []*ColumnDefinition{
		key(str("File_")), num("AssemblyAttributes"), str("File_AssemblyManifest"),
		str("File_AssemblyApplication"), str("Directory_"), num("DiskId"), path("Source"),
		str("ProcessorArchitecture"), num("PatchGroup"), num("Attributes"),
		num("PatchAttributes"), path("DeltaPatchHeaderSource"),
	}},
	TableWixDeltaPatchFile: {Name: TableWixDeltaPatchFile, Columns: []*ColumnDefinition{
		key(str("File_")), str("RetainLengths"), str("IgnoreOffsets"), str("IgnoreLengths"),
		str("RetainOffsets"), str("SymbolPaths"),
	}},
	TableWixDeltaPatchSymbolPaths: {Name: TableWixDeltaPatchSymbolPaths, Columns: []*ColumnDefinition{
		key(num("Type")), key(str("Id")), str("SymbolPaths"),
	}},
	TableMedia: {Name: TableMedia, Columns: []*ColumnDefinition{
		key(num("DiskId")), num("LastSequence"), str("DiskPrompt"), str("Cabinet"),
		str("VolumeLabel"), str("Source"),
	}},
	TableWixMedia: {Name: TableWixMedia, Columns: []*ColumnDefinition{
		key(num("DiskId_")), str("CompressionLevel"), path("Layout"),
	}},
	TableWixMediaTemplate: {Name: TableWixMediaTemplate, Columns: []*ColumnDefinition{
		str("CabinetTemplate"), str("CompressionLevel"), str("DiskPrompt"), str("VolumeLabel"),
		num("MaximumUncompressedMediaSize"), num("MaximumCabinetSizeForLargeFileSplitting"),
	}},
	TableComponent: {Name: TableComponent, Columns: []*ColumnDefinition{
		key(str("Component")), str("ComponentId"), str("Directory_"), num("Attributes"),
		str("Condition"), str("KeyPath"),
	}},
	TableDirectory: {Name: TableDirectory, Columns: []*ColumnDefinition{
		key(str("Directory")), str("Directory_Parent"), str("DefaultDir"),
	}},
	TableMsiAssemblyName: {Name: TableMsiAssemblyName, Columns: []*ColumnDefinition{
		key(str("Component_")), key(str("Name")), str("Value"),
	}},
	TableMsiFileHash: {Name: TableMsiFileHash, Columns: []*ColumnDefinition{
		key(str("File_")), num("Options"), num("HashPart1"), num("HashPart2"),
		num("HashPart3"), num("HashPart4"),
	}},
	TableWixMerge: {Name: TableWixMerge, Columns: []*ColumnDefinition{
		key(str("Id")), str("Language"), str("Directory_"), path("SourceFile"),
		num("DiskId"), num("FileCompression"), str("ConfigurationData"), str("Feature_"),
	}},
	TableStreams: {Name: TableStreams, Columns: []*ColumnDefinition{
		key(str("Name")), path("Data"),
	}},
	TableWixPatchID: {Name: TableWixPatchID, Columns: []*ColumnDefinition{
		key(str("ProductCode")), str("ClientPatchId"), num("OptimizePatchSizeForLargeFiles"),
		num("ApiPatchingSymbolFlags"),
	}},
	TableSummaryInformation: {Name: TableSummaryInformation, Columns: []*ColumnDefinition{
		key(num("PropertyId")), str("Value"),
	}},
}

// Definition returns the catalog entry for name.
func Definition(name string) (*TableDefinition, error) {
	def, ok := Definitions[name]
	if !ok {
		return nil, errors.Errorf("unknown table %q", name)
	}
	return def, nil
}

// coerce converts v into the representation used for col: string for
// string and path columns, int for number columns, nil for null.
func coerce(col *ColumnDefinition, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch col.Type {
	case ColumnNumber:
		return coerceNumber(v)
	default:
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprintf("%v", v)
		}
		if s == "" {
			return nil, nil
		}
		return s, nil
	}
}

func coerceNumber(v interface{}) (interface{}, error) {
	var n int64
	switch val := v.(type) {
	case int:
		return val, nil
	case int8:
		n = int64(val)
	case int16:
		n = int64(val)
	case int32:
		n = int64(val)
	case int64:
		n = val
	case uint8:
		n = int64(val)
	case uint16:
		n = int64(val)
	case uint32:
		n = int64(val)
	case uint64:
		if val > math.MaxInt64 {
			return nil, errors.Errorf("%d overflows a number column", val)
		}
		n = int64(val)
	case float32:
		n = int64(val)
	case float64:
		if val != math.Trunc(val) {
			return nil, errors.Errorf("%v is not an integer", val)
		}
		n = int64(val)
	case json.Number:
		parsed, err := val.Int64()
		if err != nil {
			return nil, errors.Wrap(err, "parsing number")
		}
		n = parsed
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, nil
		}
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %q as a number", val)
		}
		n = parsed
	default:
		return nil, errors.Errorf("cannot store %T in a number column", v)
	}

	if n > math.MaxInt32 || n < math.MinInt32 {
		return nil, errors.Errorf("%d does not fit a number column", n)
	}
	return int(n), nil
}
