package output

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/kolide/binder/pkg/messaging"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// document is the serialized shape of an Output. Rows carry their cells
// keyed by column name so hand-written fixtures stay readable.
type document struct {
	Type     string          `json:"type" msgpack:"type"`
	Codepage int             `json:"codepage,omitempty" msgpack:"codepage,omitempty"`
	Tables   []tableDocument `json:"tables" msgpack:"tables"`
}

type tableDocument struct {
	Name string        `json:"name" msgpack:"name"`
	Rows []rowDocument `json:"rows" msgpack:"rows"`
}

type rowDocument struct {
	Source     string                 `json:"source,omitempty" msgpack:"source,omitempty"`
	Operation  string                 `json:"operation,omitempty" msgpack:"operation,omitempty"`
	FromModule bool                   `json:"fromModule,omitempty" msgpack:"fromModule,omitempty"`
	Fields     map[string]interface{} `json:"fields" msgpack:"fields"`
	Previous   map[string]interface{} `json:"previous,omitempty" msgpack:"previous,omitempty"`
}

// Format selects the encoding used by Load and Save.
type Format int

const (
	FormatYAML Format = iota
	FormatMsgpack
)

// FormatFor picks a format from a file extension. ".yaml", ".yml" and
// ".json" are YAML, anything else is msgpack.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return FormatYAML
	default:
		return FormatMsgpack
	}
}

// Load reads an Output from path.
func Load(path string) (*Output, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening output %s", path)
	}
	defer f.Close()

	o, err := Read(f, FormatFor(path))
	if err != nil {
		return nil, errors.Wrapf(err, "reading output %s", path)
	}
	return o, nil
}

// Save writes o to path, replacing any existing file.
func (o *Output) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating output %s", path)
	}

	if err := o.Write(f, FormatFor(path)); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing output %s", path)
	}
	return errors.Wrapf(f.Close(), "closing output %s", path)
}

func Read(r io.Reader, format Format) (*Output, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading")
	}

	var doc document
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(raw, &doc)
	default:
		err = msgpack.Unmarshal(raw, &doc)
	}
	if err != nil {
		return nil, errors.Wrap(err, "decoding")
	}

	return fromDocument(doc)
}

func (o *Output) Write(w io.Writer, format Format) error {
	doc := o.toDocument()

	var (
		raw []byte
		err error
	)
	switch format {
	case FormatYAML:
		raw, err = yaml.Marshal(doc)
	default:
		raw, err = msgpack.Marshal(doc)
	}
	if err != nil {
		return errors.Wrap(err, "encoding")
	}

	_, err = w.Write(raw)
	return err
}

func fromDocument(doc document) (*Output, error) {
	typ, err := ParseType(doc.Type)
	if err != nil {
		return nil, err
	}

	o := New(typ)
	o.Codepage = doc.Codepage

	for _, td := range doc.Tables {
		def, err := Definition(td.Name)
		if err != nil {
			return nil, err
		}
		table := o.EnsureTable(def)

		for i, rd := range td.Rows {
			op, err := parseOperation(rd.Operation)
			if err != nil {
				return nil, errors.Wrapf(err, "%s row %d", td.Name, i)
			}

			row := table.CreateRow(messaging.SourceLine(rd.Source), rd.FromModule)
			row.Operation = op

			if err := fillFields(row, rd.Fields, false); err != nil {
				return nil, errors.Wrapf(err, "%s row %d", td.Name, i)
			}
			if err := fillFields(row, rd.Previous, true); err != nil {
				return nil, errors.Wrapf(err, "%s row %d previous", td.Name, i)
			}
		}
	}

	return o, nil
}

func fillFields(row *Row, values map[string]interface{}, previous bool) error {
	for name, v := range values {
		i := row.Table.Definition.Column(name)
		if i < 0 {
			return errors.Errorf("unknown column %q", name)
		}

		data, err := coerce(row.Fields[i].Column, v)
		if err != nil {
			return errors.Wrapf(err, "column %s", name)
		}

		if previous {
			row.Fields[i].PreviousData = data
		} else {
			row.Fields[i].Data = data
		}
	}
	return nil
}

func (o *Output) toDocument() document {
	doc := document{
		Type:     o.Type.String(),
		Codepage: o.Codepage,
	}

	for _, table := range o.Tables() {
		td := tableDocument{Name: table.Name()}
		for _, row := range table.Rows {
			rd := rowDocument{
				Source:     string(row.SourceLine),
				FromModule: row.FromModule,
				Fields:     make(map[string]interface{}),
			}
			if row.Operation != OpNone {
				rd.Operation = row.Operation.String()
			}

			for _, f := range row.Fields {
				if f.Data != nil {
					rd.Fields[f.Column.Name] = f.Data
				}
				if f.PreviousData != nil {
					if rd.Previous == nil {
						rd.Previous = make(map[string]interface{})
					}
					rd.Previous[f.Column.Name] = f.PreviousData
				}
			}
			td.Rows = append(td.Rows, rd)
		}
		doc.Tables = append(doc.Tables, td)
	}

	return doc
}
