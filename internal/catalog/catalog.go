// Package catalog records, per project type, which dataset formats can be
// imported and exported and how their columns map to labels.
//
// Definitions register themselves from init functions in this package, the
// same way every project type is available as soon as the package is
// imported.
package catalog

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/JonMunkholm/labelflow/internal/label"
	"github.com/JonMunkholm/labelflow/internal/parser"
	"github.com/JonMunkholm/labelflow/internal/project"
	"github.com/JonMunkholm/labelflow/internal/record"
)

// ImportFormat is one accepted upload format for a project type.
type ImportFormat struct {
	Format     parser.Format  `json:"format"`
	Columns    record.Columns `json:"columns"`
	Extensions []string       `json:"extensions"`
}

// AcceptsExtension reports whether a file name has one of the format's
// extensions. Formats without extensions accept anything.
func (f ImportFormat) AcceptsExtension(name string) bool {
	if len(f.Extensions) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range f.Extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Writer names an export container format.
type Writer string

const (
	WriterCSV      Writer = "csv"
	WriterJSON     Writer = "json"
	WriterJSONL    Writer = "jsonl"
	WriterFastText Writer = "fasttext"
)

// Formatter names how a column renders the labels of one kind.
type Formatter string

const (
	// FormatJoin joins label texts with commas into one string.
	FormatJoin Formatter = "join"
	// FormatList renders label texts as a list of strings.
	FormatList Formatter = "list"
	// FormatSpanTuples renders spans as [start, end, label] lists.
	FormatSpanTuples Formatter = "span_tuples"
	// FormatEntities renders spans as objects with id, label and offsets.
	FormatEntities Formatter = "entities"
	// FormatRelations renders relations as objects with from_id, to_id and type.
	FormatRelations Formatter = "relations"
	// FormatShapes renders bounding boxes and segmentations as objects.
	FormatShapes Formatter = "shapes"
)

// Column is one label column of an export.
type Column struct {
	Name      string     `json:"name"`
	Kind      label.Kind `json:"kind"`
	Formatter Formatter  `json:"formatter"`
}

// ExportFormat is one downloadable format for a project type.
type ExportFormat struct {
	Key        string   `json:"key"`
	Writer     Writer   `json:"writer"`
	DataColumn string   `json:"data_column"`
	Columns    []Column `json:"columns"`
}

// Extension returns the file extension of exported files.
func (f ExportFormat) Extension() string {
	if f.Writer == WriterFastText {
		return "txt"
	}
	return string(f.Writer)
}

// Definition lists the formats of one project type.
type Definition struct {
	Type    project.Type   `json:"project_type"`
	Imports []ImportFormat `json:"imports"`
	Exports []ExportFormat `json:"exports"`
}

var (
	registry   = make(map[project.Type]Definition)
	registryMu sync.RWMutex
)

// Register adds a definition. Panics if the project type is already
// registered.
func Register(def Definition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Type]; exists {
		panic(fmt.Sprintf("project type already registered: %s", def.Type))
	}
	for _, imp := range def.Imports {
		if err := imp.Columns.Validate(); err != nil {
			panic(fmt.Sprintf("%s %s import: %v", def.Type, imp.Format, err))
		}
	}
	registry[def.Type] = def
}

// Get returns the definition of a project type.
func Get(t project.Type) (Definition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	def, ok := registry[t]
	return def, ok
}

// All returns every definition ordered by project type.
func All() []Definition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]Definition, 0, len(registry))
	for _, def := range registry {
		out = append(out, def)
	}
	slices.SortFunc(out, func(a, b Definition) int { return strings.Compare(string(a.Type), string(b.Type)) })
	return out
}

// ConfigError reports an unsupported (project type, format) combination.
type ConfigError struct {
	Type   project.Type
	Format string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("format %q is not supported for %s projects", e.Format, e.Type)
}

// ImportFor returns the import format of a project type.
func ImportFor(t project.Type, format parser.Format) (ImportFormat, error) {
	def, ok := Get(t)
	if !ok {
		return ImportFormat{}, fmt.Errorf("unknown project type: %q", t)
	}
	for _, imp := range def.Imports {
		if imp.Format == format {
			return imp, nil
		}
	}
	return ImportFormat{}, &ConfigError{Type: t, Format: string(format)}
}

// ExportFor returns the export format of a project type by key.
func ExportFor(t project.Type, key string) (ExportFormat, error) {
	def, ok := Get(t)
	if !ok {
		return ExportFormat{}, fmt.Errorf("unknown project type: %q", t)
	}
	for _, exp := range def.Exports {
		if exp.Key == key {
			return exp, nil
		}
	}
	return ExportFormat{}, &ConfigError{Type: t, Format: key}
}
