// Package export rebuilds datasets from stored examples and labels and
// writes them in the formats of the catalog.
//
// Non-collaborative projects produce one dataset per member holding only
// that member's labels, bundled into a zip archive with one file per user.
// Collaborative projects produce one merged dataset written to a single
// file.
package export

import (
	"archive/zip"
	"cmp"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/JonMunkholm/labelflow/internal/catalog"
	"github.com/JonMunkholm/labelflow/internal/label"
	"github.com/JonMunkholm/labelflow/internal/project"
	"github.com/JonMunkholm/labelflow/internal/store"
)

// Record is one example as seen by one user, or by everyone when merged.
type Record struct {
	ExampleID int64
	Data      string
	Meta      map[string]any
	Labels    []label.Label
	Comments  []string
}

// Dataset is the records of one output file.
type Dataset struct {
	Username string // empty for a merged dataset
	Records  []Record
}

// Row is a record rendered for one export format. Values holds one entry
// per format column.
type Row struct {
	ID       int64
	Data     string
	Values   []any
	Meta     map[string]any
	Comments []string
}

// RowError reports a record that could not be rendered.
type RowError struct {
	ExampleID int64  `json:"example_id"`
	Username  string `json:"username,omitempty"`
	Message   string `json:"message"`
}

func (e *RowError) Error() string {
	if e.Username != "" {
		return fmt.Sprintf("example %d (%s): %s", e.ExampleID, e.Username, e.Message)
	}
	return fmt.Sprintf("example %d: %s", e.ExampleID, e.Message)
}

// Options controls an export run.
type Options struct {
	ConfirmedOnly bool
	OutputDir     string
	// Name is the output file name without extension. Defaults to
	// project_<id>_<timestamp>.
	Name string
}

// Result describes a finished export.
type Result struct {
	Path   string      `json:"path"`
	Rows   int         `json:"rows"`
	Errors []*RowError `json:"errors,omitempty"`
}

// Collect loads the datasets of a project. With confirmedOnly set, a
// per-user dataset keeps the examples that user confirmed and a merged
// dataset keeps the examples anyone confirmed.
func Collect(ctx context.Context, st store.Store, p project.Project, confirmedOnly bool) ([]Dataset, error) {
	examples, err := st.Examples(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load examples: %w", err)
	}
	labels, err := st.Labels(ctx, store.LabelFilter{ProjectID: p.ID})
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}

	ids := make([]int64, len(examples))
	for i, ex := range examples {
		ids[i] = ex.ID
	}
	comments, err := st.Comments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load comments: %w", err)
	}

	labelsByExample := make(map[int64][]label.Label)
	for _, l := range labels {
		id := l.Common().ExampleID
		labelsByExample[id] = append(labelsByExample[id], l)
	}
	commentsByExample := make(map[int64][]store.Comment)
	for _, c := range comments {
		commentsByExample[c.ExampleID] = append(commentsByExample[c.ExampleID], c)
	}

	if p.Policy.CollaborativeAnnotation {
		ds := Dataset{}
		for _, ex := range examples {
			if confirmedOnly && len(ex.ConfirmedBy) == 0 {
				continue
			}
			ds.Records = append(ds.Records, newRecord(p, ex, labelsByExample[ex.ID], commentsByExample[ex.ID]))
		}
		return []Dataset{ds}, nil
	}

	members, err := st.Members(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	slices.SortFunc(members, func(a, b project.Member) int { return strings.Compare(a.Username, b.Username) })

	out := make([]Dataset, 0, len(members))
	for _, m := range members {
		ds := Dataset{Username: m.Username}
		for _, ex := range examples {
			if confirmedOnly && !ex.IsConfirmedBy(m.UserID) {
				continue
			}
			ds.Records = append(ds.Records, newRecord(p, ex,
				ownedBy(labelsByExample[ex.ID], m.UserID),
				writtenBy(commentsByExample[ex.ID], m.UserID)))
		}
		out = append(out, ds)
	}
	return out, nil
}

func newRecord(p project.Project, ex store.Example, labels []label.Label, comments []store.Comment) Record {
	data := ex.Text
	if p.Type.FileBased() {
		data = cmp.Or(ex.UploadName, ex.Filename, ex.Text)
	}
	rec := Record{ExampleID: ex.ID, Data: data, Meta: ex.Meta, Labels: labels}
	for _, c := range comments {
		rec.Comments = append(rec.Comments, c.Text)
	}
	return rec
}

func ownedBy(labels []label.Label, userID int64) []label.Label {
	var out []label.Label
	for _, l := range labels {
		if l.Common().UserID == userID {
			out = append(out, l)
		}
	}
	return out
}

func writtenBy(comments []store.Comment, userID int64) []store.Comment {
	var out []store.Comment
	for _, c := range comments {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

// Format renders records for f. A record that cannot be rendered is
// reported and skipped. With merge set, label values are de-duplicated
// and sorted.
func Format(ds Dataset, f catalog.ExportFormat, merge bool) ([]Row, []*RowError) {
	rows := make([]Row, 0, len(ds.Records))
	var errs []*RowError
	for _, rec := range ds.Records {
		row, err := FormatRecord(rec, f, merge)
		if err != nil {
			errs = append(errs, &RowError{ExampleID: rec.ExampleID, Username: ds.Username, Message: err.Error()})
			continue
		}
		rows = append(rows, row)
	}
	return rows, errs
}

// FormatRecord renders one record.
func FormatRecord(rec Record, f catalog.ExportFormat, merge bool) (Row, error) {
	row := Row{ID: rec.ExampleID, Data: rec.Data, Meta: rec.Meta, Comments: rec.Comments}
	for _, c := range f.Columns {
		v, err := formatColumn(c, rec.Labels, merge)
		if err != nil {
			return Row{}, fmt.Errorf("column %q: %w", c.Name, err)
		}
		row.Values = append(row.Values, v)
	}
	return row, nil
}

// Run exports a project to opts.OutputDir.
func Run(ctx context.Context, st store.Store, p project.Project, f catalog.ExportFormat, opts Options) (Result, error) {
	datasets, err := Collect(ctx, st, p, opts.ConfirmedOnly)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("project_%d_%s", p.ID, time.Now().Format("20060102_150405"))
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return Result{}, &WriteError{Path: opts.OutputDir, Err: err}
	}

	var (
		path = filepath.Join(opts.OutputDir, name+".zip")
		res  Result
	)
	if p.Policy.CollaborativeAnnotation {
		path = filepath.Join(opts.OutputDir, name+"."+f.Extension())
		res, err = writeFile(path, datasets[0], f)
	} else {
		res, err = writeArchive(path, datasets, f)
	}
	if err != nil {
		return Result{}, &WriteError{Path: path, Err: err}
	}
	return res, nil
}

// WriteError reports an export artifact that could not be written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write export %s: %v", filepath.Base(e.Path), e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func writeFile(path string, ds Dataset, f catalog.ExportFormat) (Result, error) {
	rows, errs := Format(ds, f, true)

	file, err := os.Create(path)
	if err != nil {
		return Result{}, fmt.Errorf("create export file: %w", err)
	}
	if err := WriteRows(file, f, rows); err != nil {
		file.Close()
		os.Remove(path)
		return Result{}, fmt.Errorf("write export: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return Result{}, fmt.Errorf("close export file: %w", err)
	}
	return Result{Path: path, Rows: len(rows), Errors: errs}, nil
}

func writeArchive(path string, datasets []Dataset, f catalog.ExportFormat) (res Result, err error) {
	file, err := os.Create(path)
	if err != nil {
		return Result{}, fmt.Errorf("create export archive: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close export archive: %w", cerr)
		}
		if err != nil {
			os.Remove(path)
			res = Result{}
		}
	}()

	zw := zip.NewWriter(file)
	res.Path = path
	for _, ds := range datasets {
		rows, errs := Format(ds, f, false)
		res.Errors = append(res.Errors, errs...)

		w, err := zw.Create(ds.Username + "." + f.Extension())
		if err != nil {
			return res, fmt.Errorf("add %s to archive: %w", ds.Username, err)
		}
		if err := WriteRows(w, f, rows); err != nil {
			return res, fmt.Errorf("write %s: %w", ds.Username, err)
		}
		res.Rows += len(rows)
	}
	if err := zw.Close(); err != nil {
		return res, fmt.Errorf("finish export archive: %w", err)
	}
	return res, nil
}
