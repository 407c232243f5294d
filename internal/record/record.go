// Package record turns parser rows into example payloads with raw label
// values, according to a column configuration fixed at job start.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/labelflow/internal/label"
	"github.com/JonMunkholm/labelflow/internal/parser"
)

// LabelColumn maps a source column to a label kind.
type LabelColumn struct {
	Name string     `json:"name" yaml:"name"`
	Kind label.Kind `json:"kind" yaml:"kind"`
}

// Columns describes where the payload and the labels of a row live.
type Columns struct {
	DataColumn   string        `json:"data_column" yaml:"data_column"`
	LabelColumns []LabelColumn `json:"label_columns" yaml:"label_columns"`

	// FileBased examples take their payload from the uploaded file rather
	// than from a column.
	FileBased bool `json:"file_based,omitempty" yaml:"file_based,omitempty"`
}

// Validate checks the configuration once, before any row is read.
func (c Columns) Validate() error {
	var errs []error
	if !c.FileBased && strings.TrimSpace(c.DataColumn) == "" {
		errs = append(errs, errors.New("data column is required"))
	}
	seen := map[string]bool{c.DataColumn: !c.FileBased}
	for i, lc := range c.LabelColumns {
		if strings.TrimSpace(lc.Name) == "" {
			errs = append(errs, fmt.Errorf("label column %d has no name", i+1))
			continue
		}
		if _, err := label.ParseKind(string(lc.Kind)); err != nil {
			errs = append(errs, fmt.Errorf("label column %q: %w", lc.Name, err))
		}
		if seen[lc.Name] {
			errs = append(errs, fmt.Errorf("column %q is used twice", lc.Name))
		}
		seen[lc.Name] = true
	}
	return errors.Join(errs...)
}

// RawLabel is one unparsed label value from one column.
type RawLabel struct {
	Column string
	Kind   label.Kind
	Value  any
}

// Record is a row ready to become an example.
type Record struct {
	Filename string
	Line     int

	// Payload is the example text, or the stored file name for file-based
	// examples.
	Payload string
	Meta    map[string]any
	Labels  []RawLabel
}

// Error is a record-level failure. It is collected, never fatal.
type Error struct {
	Filename string
	Line     int
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Filename, e.Line, e.Message)
}

// Builder applies a validated column configuration to rows.
type Builder struct {
	cols    Columns
	claimed map[string]bool
}

// NewBuilder validates cols and returns a builder for them.
func NewBuilder(cols Columns) (*Builder, error) {
	if err := cols.Validate(); err != nil {
		return nil, err
	}
	claimed := make(map[string]bool, len(cols.LabelColumns)+1)
	if !cols.FileBased {
		claimed[cols.DataColumn] = true
	}
	for _, lc := range cols.LabelColumns {
		claimed[lc.Name] = true
	}
	return &Builder{cols: cols, claimed: claimed}, nil
}

// Columns returns the configuration the builder was created with.
func (b *Builder) Columns() Columns { return b.cols }

// Build converts one row. fileRef is the stored upload name, used as the
// payload of file-based examples.
func (b *Builder) Build(row parser.Row, fileRef string) (Record, error) {
	rec := Record{Filename: row.Filename, Line: row.Line}

	if b.cols.FileBased {
		rec.Payload = fileRef
	} else {
		text, ok := payloadText(row.Data[b.cols.DataColumn])
		if !ok || strings.TrimSpace(text) == "" {
			return Record{}, &Error{
				Filename: row.Filename,
				Line:     row.Line,
				Message:  fmt.Sprintf("column %q is missing or empty", b.cols.DataColumn),
			}
		}
		rec.Payload = text
	}

	for _, lc := range b.cols.LabelColumns {
		for _, v := range expand(row.Data[lc.Name]) {
			if !label.WellFormed(lc.Kind, v) {
				continue
			}
			rec.Labels = append(rec.Labels, RawLabel{Column: lc.Name, Kind: lc.Kind, Value: v})
		}
	}

	for k, v := range row.Data {
		if b.claimed[k] || v == nil {
			continue
		}
		if rec.Meta == nil {
			rec.Meta = make(map[string]any)
		}
		rec.Meta[k] = v
	}
	return rec, nil
}

// expand turns a column value into zero or more raw label values. Blank
// strings contribute nothing.
func expand(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return []any{t}
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && strings.TrimSpace(s) == "" {
				continue
			}
			if e != nil {
				out = append(out, e)
			}
		}
		return out
	default:
		return []any{t}
	}
}

func payloadText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
