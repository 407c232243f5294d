// Package importer turns uploaded dataset files into stored examples and
// labels.
//
// A job reads every upload with the parser of its format, builds one record
// per row, and persists records in batches. Each batch goes through the same
// steps: parse labels, clean them against the project policy, ensure their
// label types, insert examples, insert labels, and finally resolve and
// insert relations against the spans that were just stored.
//
// Problems with individual files, rows or labels are collected as
// [RecordError] values in the [Result]. Only configuration problems and
// storage failures end a job early.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/JonMunkholm/labelflow/internal/catalog"
	"github.com/JonMunkholm/labelflow/internal/consistency"
	"github.com/JonMunkholm/labelflow/internal/label"
	"github.com/JonMunkholm/labelflow/internal/labeltype"
	"github.com/JonMunkholm/labelflow/internal/logging"
	"github.com/JonMunkholm/labelflow/internal/parser"
	"github.com/JonMunkholm/labelflow/internal/project"
	"github.com/JonMunkholm/labelflow/internal/record"
	"github.com/JonMunkholm/labelflow/internal/store"
)

// Defaults used when an Importer is created without options.
const (
	DefaultBatchSize   = 1000
	DefaultMaxFileSize = 100 * 1024 * 1024
)

// ContextCheckInterval is how many rows are read between cancellation checks.
var ContextCheckInterval = 100

// Upload is one uploaded file on local disk.
type Upload struct {
	FullPath      string `json:"full_path" yaml:"full_path"`
	GeneratedName string `json:"generated_name" yaml:"generated_name"`
	OriginalName  string `json:"original_name" yaml:"original_name"`
}

// name is what errors call the file.
func (u Upload) name() string {
	if u.OriginalName != "" {
		return u.OriginalName
	}
	if u.GeneratedName != "" {
		return u.GeneratedName
	}
	return filepath.Base(u.FullPath)
}

// storedName is the reference file-based examples keep to their file.
func (u Upload) storedName() string {
	if u.GeneratedName != "" {
		return u.GeneratedName
	}
	return filepath.Base(u.FullPath)
}

// Job describes one import.
type Job struct {
	Project  project.Project
	UserID   int64
	Format   parser.Format
	Uploads  []Upload
	Encoding string
	// Delimiter overrides the column separator of delimited formats.
	Delimiter rune
	// Columns overrides the default column layout of the format.
	Columns *record.Columns
}

// RecordError is a failure tied to one file, and to one line of it when
// Line is not zero.
type RecordError struct {
	Filename string `json:"filename"`
	Line     int    `json:"line"`
	Message  string `json:"message"`
}

func (e RecordError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("%s: %s", e.Filename, e.Message)
	}
	return fmt.Sprintf("%s:%d: %s", e.Filename, e.Line, e.Message)
}

// Result summarizes a finished import.
type Result struct {
	Examples int           `json:"examples"`
	Labels   int           `json:"labels"`
	Errors   []RecordError `json:"errors"`
}

// Stage names the step a running import is in.
type Stage string

const (
	StageReading    Stage = "reading"
	StageCleaning   Stage = "cleaning"
	StagePersisting Stage = "persisting"
)

// Progress is reported while a job runs.
type Progress struct {
	Stage      Stage
	Filename   string
	Rows       int
	Examples   int
	Labels     int
	Errors     int
	BytesRead  int64
	BytesTotal int64
}

// Importer runs import jobs against a store.
type Importer struct {
	store       store.Store
	batchSize   int
	maxFileSize int64
}

// Option configures an Importer.
type Option func(*Importer)

// WithBatchSize sets how many records are persisted together.
func WithBatchSize(n int) Option {
	return func(im *Importer) {
		if n > 0 {
			im.batchSize = n
		}
	}
}

// WithMaxFileSize sets the largest accepted upload in bytes.
func WithMaxFileSize(n int64) Option {
	return func(im *Importer) {
		if n > 0 {
			im.maxFileSize = n
		}
	}
}

// New returns an importer writing to st.
func New(st store.Store, opts ...Option) *Importer {
	im := &Importer{
		store:       st,
		batchSize:   DefaultBatchSize,
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// columns returns the column layout a job uses.
func (j Job) columns(imp catalog.ImportFormat) record.Columns {
	if j.Columns == nil {
		return imp.Columns
	}
	cols := *j.Columns
	cols.FileBased = j.Project.Type.FileBased()
	return cols
}

// run is the state of one job.
type run struct {
	im       *Importer
	job      Job
	format   catalog.ImportFormat
	builder  *record.Builder
	registry *labeltype.Registry
	cleaner  *consistency.Cleaner
	report   func(Progress)
	logger   *slog.Logger

	progress Progress
	result   Result
	pending  []pendingRecord
}

type pendingRecord struct {
	record.Record
	upload Upload
}

// Run imports every upload of job. Progress, if not nil, is called from the
// calling goroutine as the job advances.
//
// The returned error is set when the job could not run at all or storage
// failed; the result then holds what was persisted before the failure.
func (im *Importer) Run(ctx context.Context, job Job, progress func(Progress)) (Result, error) {
	format, err := catalog.ImportFor(job.Project.Type, job.Format)
	if err != nil {
		return Result{}, err
	}
	builder, err := record.NewBuilder(job.columns(format))
	if err != nil {
		return Result{}, fmt.Errorf("column configuration: %w", err)
	}
	if _, err := parser.LookupEncoding(job.Encoding); err != nil {
		return Result{}, err
	}
	if progress == nil {
		progress = func(Progress) {}
	}

	r := &run{
		im:       im,
		job:      job,
		format:   format,
		builder:  builder,
		registry: labeltype.NewRegistry(im.store, job.Project.ID),
		cleaner:  consistency.NewCleaner(job.Project.Policy),
		report:   progress,
		logger:   logging.FromContext(ctx).With("user_id", job.UserID),
	}
	r.result.Errors = []RecordError{}

	for _, u := range job.Uploads {
		if err := r.readUpload(ctx, u); err != nil {
			return r.result, err
		}
	}
	if err := r.flush(ctx); err != nil {
		return r.result, err
	}

	r.logger.Info("import finished",
		"examples", r.result.Examples,
		"labels", r.result.Labels,
		"errors", len(r.result.Errors),
	)
	return r.result, nil
}

func (r *run) fail(e RecordError) {
	r.result.Errors = append(r.result.Errors, e)
	r.progress.Errors = len(r.result.Errors)
}

func (r *run) notify(stage Stage) {
	r.progress.Stage = stage
	r.progress.Examples = r.result.Examples
	r.progress.Labels = r.result.Labels
	r.report(r.progress)
}

// readUpload parses one file into pending records, flushing full batches.
// Only context and storage errors are returned.
func (r *run) readUpload(ctx context.Context, u Upload) error {
	name := u.name()
	r.progress.Filename = name

	if !r.format.AcceptsExtension(name) {
		r.fail(RecordError{Filename: name, Message: fmt.Sprintf("unsupported file type for %s import", r.job.Format)})
		return nil
	}

	f, err := os.Open(u.FullPath)
	if err != nil {
		r.fail(RecordError{Filename: name, Message: fmt.Sprintf("open file: %v", err)})
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		r.fail(RecordError{Filename: name, Message: fmt.Sprintf("stat file: %v", err)})
		return nil
	}
	if info.Size() > r.im.maxFileSize {
		r.fail(RecordError{Filename: name, Message: fmt.Sprintf("file size %d exceeds the limit of %d bytes", info.Size(), r.im.maxFileSize)})
		return nil
	}

	counter := parser.NewCountingReader(f, info.Size())
	decoded, err := parser.Decode(counter, r.job.Encoding)
	if err != nil {
		return err
	}
	reader, err := parser.Open(r.job.Format, decoded, name, parser.Options{Delimiter: r.job.Delimiter})
	if err != nil {
		r.fail(fileError(name, err))
		return nil
	}

	r.progress.BytesTotal = info.Size()
	r.notify(StageReading)

	for rows := 0; ; rows++ {
		if rows%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.progress.BytesRead = counter.BytesRead
			r.notify(StageReading)
		}

		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var rowErr *parser.RowError
		if errors.As(err, &rowErr) {
			r.fail(RecordError{Filename: rowErr.Filename, Line: rowErr.Line, Message: rowErr.Message})
			continue
		}
		if err != nil {
			r.fail(fileError(name, err))
			break
		}
		r.progress.Rows++

		rec, err := r.builder.Build(row, u.storedName())
		if err != nil {
			var recErr *record.Error
			if errors.As(err, &recErr) {
				r.fail(RecordError{Filename: recErr.Filename, Line: recErr.Line, Message: recErr.Message})
				continue
			}
			return err
		}
		r.pending = append(r.pending, pendingRecord{Record: rec, upload: u})

		if len(r.pending) >= r.im.batchSize {
			if err := r.flush(ctx); err != nil {
				return err
			}
		}
	}

	r.progress.BytesRead = counter.BytesRead
	r.notify(StageReading)
	return nil
}

// fileError reports a structural failure that ends one file.
func fileError(name string, err error) RecordError {
	var parseErr *parser.ParseError
	if errors.As(err, &parseErr) {
		return RecordError{Filename: parseErr.Filename, Message: parseErr.Message}
	}
	return RecordError{Filename: name, Message: err.Error()}
}

// flush persists the pending batch.
func (r *run) flush(ctx context.Context) error {
	if len(r.pending) == 0 {
		return nil
	}
	batch := r.pending
	r.pending = nil

	examples := make([]*store.Example, len(batch))
	var candidates []label.Label

	for i, rec := range batch {
		ex := &store.Example{
			UUID:       uuid.New(),
			ProjectID:  r.job.Project.ID,
			Text:       rec.Payload,
			Filename:   rec.upload.storedName(),
			UploadName: rec.upload.OriginalName,
			Meta:       rec.Meta,
		}
		examples[i] = ex
		origin := label.Origin{Filename: rec.Filename, Line: rec.Line}

		for _, raw := range rec.Labels {
			l, err := label.Parse(raw.Kind, ex.UUID, raw.Value)
			if err != nil {
				r.fail(RecordError{Filename: rec.Filename, Line: rec.Line, Message: fmt.Sprintf("column %q: %v", raw.Column, err)})
				continue
			}
			l.Common().Origin = origin
			candidates = append(candidates, l)
		}
	}

	r.notify(StageCleaning)
	cleaned := r.cleaner.Clean(candidates)
	if err := r.registry.EnsureFor(ctx, cleaned); err != nil {
		return fmt.Errorf("ensure label types: %w", err)
	}

	r.notify(StagePersisting)
	ids, err := r.im.store.InsertExamples(ctx, examples)
	if err != nil {
		return fmt.Errorf("insert examples: %w", err)
	}
	r.result.Examples += len(examples)

	var plain, relations []label.Label
	for _, l := range cleaned {
		if l.Kind() == label.KindRelation {
			relations = append(relations, l)
			continue
		}
		if err := label.Materialize(l, r.job.UserID, ids[l.Common().ExampleUUID], r.registry, nil); err != nil {
			r.failLabel(l, err)
			continue
		}
		plain = append(plain, l)
	}
	if err := r.insert(ctx, plain); err != nil {
		return err
	}
	if len(relations) == 0 {
		r.notify(StagePersisting)
		return nil
	}

	index, err := r.spanIndex(ctx, plain)
	if err != nil {
		return err
	}
	var resolved []label.Label
	for _, l := range relations {
		if err := label.Materialize(l, r.job.UserID, ids[l.Common().ExampleUUID], r.registry, index); err != nil {
			r.failLabel(l, err)
			continue
		}
		resolved = append(resolved, l)
	}
	if err := r.insert(ctx, resolved); err != nil {
		return err
	}
	r.notify(StagePersisting)
	return nil
}

func (r *run) insert(ctx context.Context, labels []label.Label) error {
	if len(labels) == 0 {
		return nil
	}
	res, err := r.im.store.InsertLabels(ctx, labels)
	if err != nil {
		return fmt.Errorf("insert labels: %w", err)
	}
	r.result.Labels += res.Inserted
	for _, c := range res.Conflicts {
		r.failLabel(c.Label, c.Err)
	}
	return nil
}

func (r *run) failLabel(l label.Label, err error) {
	o := l.Common().Origin
	msg := err.Error()
	if errors.Is(err, store.ErrConflict) {
		msg = fmt.Sprintf("%s label %s", l.Kind(), err)
	}
	r.fail(RecordError{Filename: o.Filename, Line: o.Line, Message: msg})
}

// spanIndex maps the batch-relative ids of the stored spans of a batch to
// their persisted ids. Spans are read back by UUID so that only spans that
// actually reached storage can be pointed at.
func (r *run) spanIndex(ctx context.Context, stored []label.Label) (SpanIndex, error) {
	batchIDs := make(map[uuid.UUID]int)
	var uuids []uuid.UUID
	for _, l := range stored {
		s, ok := l.(*label.Span)
		if !ok || !s.HasBatchID || s.ID == 0 {
			continue
		}
		batchIDs[s.UUID] = s.BatchID
		uuids = append(uuids, s.UUID)
	}
	index := make(SpanIndex, len(uuids))
	if len(uuids) == 0 {
		return index, nil
	}

	persisted, err := r.im.store.LabelsByUUID(ctx, uuids)
	if err != nil {
		return nil, fmt.Errorf("load spans: %w", err)
	}
	for _, l := range persisted {
		b := l.Common()
		index.Add(batchIDs[b.UUID], b.ExampleUUID, b.ID)
	}
	return index, nil
}

// SpanIndex resolves (batch-relative span id, example UUID) pairs to
// persisted span ids.
type SpanIndex map[spanKey]int64

type spanKey struct {
	batchID int
	example uuid.UUID
}

// Add records a persisted span.
func (ix SpanIndex) Add(batchID int, example uuid.UUID, spanID int64) {
	ix[spanKey{batchID, example}] = spanID
}

// ResolveSpan implements label.SpanResolver.
func (ix SpanIndex) ResolveSpan(batchID int, example uuid.UUID) (int64, bool) {
	id, ok := ix[spanKey{batchID, example}]
	return id, ok
}
