package bqloader

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// FieldType is the column type of a load job schema field.
type FieldType string

const (
	FieldTypeString    FieldType = "STRING"
	FieldTypeInteger   FieldType = "INTEGER"
	FieldTypeFloat     FieldType = "FLOAT"
	FieldTypeBoolean   FieldType = "BOOLEAN"
	FieldTypeTimestamp FieldType = "TIMESTAMP"
	FieldTypeDate      FieldType = "DATE"
)

var fieldTypes = []FieldType{
	FieldTypeString,
	FieldTypeInteger,
	FieldTypeFloat,
	FieldTypeBoolean,
	FieldTypeTimestamp,
	FieldTypeDate,
}

// Field is one column of a destination table.
type Field struct {
	Name string    `yaml:"name" json:"name"`
	Type FieldType `yaml:"type" json:"type"`
}

// Schema is an ordered list of fields.
type Schema []Field

// NGramSchema is the two-column layout of every n-gram count file.
func NGramSchema() Schema {
	return Schema{
		{Name: "WORD", Type: FieldTypeString},
		{Name: "COUNT", Type: FieldTypeInteger},
	}
}

// Validate returns an *InvalidSchemaError if the schema is empty, has a nameless field,
// an unknown type, or repeats a field name. Names are compared case-insensitively.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return &InvalidSchemaError{Reason: "schema has no fields"}
	}
	seen := make(map[string]struct{}, len(s))
	for _, f := range s {
		if f.Name == "" {
			return &InvalidSchemaError{Reason: "field name is empty"}
		}
		if !slices.Contains(fieldTypes, f.Type.normalize()) {
			return &InvalidSchemaError{Field: f.Name, Reason: fmt.Sprintf("unknown type %q", f.Type)}
		}
		name := strings.ToLower(f.Name)
		if _, ok := seen[name]; ok {
			return &InvalidSchemaError{Field: f.Name, Reason: "duplicate field name"}
		}
		seen[name] = struct{}{}
	}
	return nil
}

func (t FieldType) normalize() FieldType {
	return FieldType(strings.ToUpper(string(t)))
}

// WriteDisposition controls what a load job does when the destination table already holds data.
type WriteDisposition string

const (
	WriteAppend    WriteDisposition = "APPEND"
	WriteOverwrite WriteDisposition = "OVERWRITE"
	WriteEmptyOnly WriteDisposition = "EMPTY_ONLY"
)

// ParseWriteDisposition parses a case-insensitive disposition name.
func ParseWriteDisposition(s string) (WriteDisposition, error) {
	switch d := WriteDisposition(strings.ToUpper(strings.TrimSpace(s))); d {
	case WriteAppend, WriteOverwrite, WriteEmptyOnly:
		return d, nil
	default:
		return "", fmt.Errorf("unknown write disposition %q", s)
	}
}

func (d *WriteDisposition) UnmarshalText(text []byte) error {
	parsed, err := ParseWriteDisposition(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DefaultMaxBadRecords tolerates every malformed row of a source file.
const DefaultMaxBadRecords int64 = 99999999

// LoadOptions tunes how source files are parsed and written.
type LoadOptions struct {
	Delimiter           string           `yaml:"delimiter" json:"delimiter"`
	MaxBadRecords       int64            `yaml:"max_bad_records" json:"max_bad_records"`
	AllowJaggedRows     bool             `yaml:"allow_jagged_rows" json:"allow_jagged_rows"`
	IgnoreUnknownValues bool             `yaml:"ignore_unknown_values" json:"ignore_unknown_values"`
	SkipLeadingRows     int64            `yaml:"skip_leading_rows" json:"skip_leading_rows"`
	WriteDisposition    WriteDisposition `yaml:"write_disposition" json:"write_disposition"`
}

// DefaultLoadOptions returns comma-delimited, append-only options that tolerate malformed rows.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		Delimiter:        ",",
		MaxBadRecords:    DefaultMaxBadRecords,
		WriteDisposition: WriteAppend,
	}
}

// withDefaults fills an empty delimiter and write disposition.
func (o LoadOptions) withDefaults() LoadOptions {
	d := DefaultLoadOptions()
	if o.Delimiter == "" {
		o.Delimiter = d.Delimiter
	}
	if o.WriteDisposition == "" {
		o.WriteDisposition = d.WriteDisposition
	}
	return o
}

// LoadJobSpec describes a single bulk load. It is a value: BuildLoadSpec copies every slice it is given.
type LoadJobSpec struct {
	SourceURIs          []string         `json:"source_uris"`
	Destination         TableRef         `json:"destination"`
	Schema              Schema           `json:"schema"`
	FieldDelimiter      string           `json:"field_delimiter"`
	MaxBadRecords       int64            `json:"max_bad_records"`
	AllowJaggedRows     bool             `json:"allow_jagged_rows"`
	IgnoreUnknownValues bool             `json:"ignore_unknown_values"`
	SkipLeadingRows     int64            `json:"skip_leading_rows"`
	WriteDisposition    WriteDisposition `json:"write_disposition"`
}

// BuildLoadSpec validates its inputs and assembles a LoadJobSpec. It submits nothing.
func BuildLoadSpec(sourceURIs []string, dest TableRef, schema Schema, opts LoadOptions) (LoadJobSpec, error) {
	if err := schema.Validate(); err != nil {
		return LoadJobSpec{}, err
	}
	if len(sourceURIs) == 0 {
		return LoadJobSpec{}, fmt.Errorf("%w: no source uris for %s", ErrInvalidLoadSpec, dest)
	}
	for _, uri := range sourceURIs {
		if uri == "" {
			return LoadJobSpec{}, fmt.Errorf("%w: empty source uri for %s", ErrInvalidLoadSpec, dest)
		}
	}
	if dest.Project == "" || dest.Dataset == "" || dest.Table == "" {
		return LoadJobSpec{}, fmt.Errorf("%w: incomplete destination %q", ErrInvalidLoadSpec, dest)
	}

	opts = opts.withDefaults()
	if utf8.RuneCountInString(opts.Delimiter) != 1 {
		return LoadJobSpec{}, fmt.Errorf("%w: delimiter %q must be a single character", ErrInvalidLoadSpec, opts.Delimiter)
	}
	if opts.MaxBadRecords < 0 {
		return LoadJobSpec{}, fmt.Errorf("%w: max bad records %d is negative", ErrInvalidLoadSpec, opts.MaxBadRecords)
	}
	if opts.SkipLeadingRows < 0 {
		return LoadJobSpec{}, fmt.Errorf("%w: skip leading rows %d is negative", ErrInvalidLoadSpec, opts.SkipLeadingRows)
	}
	if _, err := ParseWriteDisposition(string(opts.WriteDisposition)); err != nil {
		return LoadJobSpec{}, fmt.Errorf("%w: %v", ErrInvalidLoadSpec, err)
	}

	fields := make(Schema, len(schema))
	for i, f := range schema {
		fields[i] = Field{Name: f.Name, Type: f.Type.normalize()}
	}

	return LoadJobSpec{
		SourceURIs:          slices.Clone(sourceURIs),
		Destination:         dest,
		Schema:              fields,
		FieldDelimiter:      opts.Delimiter,
		MaxBadRecords:       opts.MaxBadRecords,
		AllowJaggedRows:     opts.AllowJaggedRows,
		IgnoreUnknownValues: opts.IgnoreUnknownValues,
		SkipLeadingRows:     opts.SkipLeadingRows,
		WriteDisposition:    opts.WriteDisposition.normalize(),
	}, nil
}

func (d WriteDisposition) normalize() WriteDisposition {
	return WriteDisposition(strings.ToUpper(strings.TrimSpace(string(d))))
}
