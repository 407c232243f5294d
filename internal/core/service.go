package core

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/JonMunkholm/labelflow/internal/catalog"
	"github.com/JonMunkholm/labelflow/internal/export"
	"github.com/JonMunkholm/labelflow/internal/importer"
	"github.com/JonMunkholm/labelflow/internal/logging"
	"github.com/JonMunkholm/labelflow/internal/parser"
	"github.com/JonMunkholm/labelflow/internal/project"
	"github.com/JonMunkholm/labelflow/internal/store"
)

// ErrJobNotFound is returned for an unknown or expired job id.
var ErrJobNotFound = errors.New("job not found")

// DefaultJobTimeout bounds a single import or export job.
const DefaultJobTimeout = 30 * time.Minute

// DefaultResultTTL is how long finished jobs stay queryable.
const DefaultResultTTL = time.Hour

// Options configures a Service. Zero values select defaults.
type Options struct {
	ExportDir         string
	MaxConcurrentJobs int
	MaxWait           time.Duration
	JobTimeout        time.Duration
	BatchSize         int
	MaxFileSize       int64
	DefaultEncoding   string
	ResultTTL         time.Duration
	Logger            *slog.Logger
}

// Service runs import and export jobs in the background and checks runtime
// annotations against the project's rules.
type Service struct {
	store   store.Store
	opts    Options
	limiter *JobLimiter
	logger  *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*activeJob

	// finished holds the final state of completed jobs until ResultTTL.
	finished *cache.Cache
}

type activeJob struct {
	ID     string
	Kind   JobKind
	Cancel context.CancelFunc
	Done   chan struct{}

	mu        sync.Mutex
	progress  Progress
	result    *JobResult
	listeners []chan Progress
}

// finishedJob is what the result cache keeps of a job.
type finishedJob struct {
	progress Progress
	result   *JobResult
}

// NewService creates a Service backed by st.
func NewService(st store.Store, opts Options) *Service {
	opts.JobTimeout = cmp.Or(opts.JobTimeout, DefaultJobTimeout)
	opts.ResultTTL = cmp.Or(opts.ResultTTL, DefaultResultTTL)
	opts.ExportDir = cmp.Or(opts.ExportDir, "exports")
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:    st,
		opts:     opts,
		limiter:  NewJobLimiter(opts.MaxConcurrentJobs, opts.MaxWait),
		logger:   logger,
		jobs:     make(map[string]*activeJob),
		finished: cache.New(opts.ResultTTL, opts.ResultTTL/2),
	}
}

// Store returns the store the service writes to.
func (s *Service) Store() store.Store {
	return s.store
}

// ExportDir returns the directory export artifacts are written to.
func (s *Service) ExportDir() string {
	return s.opts.ExportDir
}

// LimiterStatus reports job slot usage.
func (s *Service) LimiterStatus() JobLimiterStatus {
	return s.limiter.Status()
}

// StartImport validates req and starts an import job. It returns the job id
// immediately; use SubscribeProgress or JobResult to follow the job.
//
// Unknown projects, unsupported formats and unknown encodings fail here
// rather than in the job. Returns ErrTooManyJobs if no job slot frees up
// within the wait period.
func (s *Service) StartImport(ctx context.Context, req ImportRequest) (string, error) {
	p, err := s.store.Project(ctx, req.ProjectID)
	if err != nil {
		return "", fmt.Errorf("load project %d: %w", req.ProjectID, err)
	}
	format, err := parser.ParseFormat(req.Format)
	if err != nil {
		return "", &catalog.ConfigError{Type: p.Type, Format: req.Format}
	}
	if _, err := catalog.ImportFor(p.Type, format); err != nil {
		return "", err
	}
	if len(req.Uploads) == 0 {
		return "", errors.New("no uploads in import request")
	}
	encoding := cmp.Or(req.Encoding, s.opts.DefaultEncoding)
	if _, err := parser.LookupEncoding(encoding); err != nil {
		return "", err
	}
	delim, err := ParseDelimiter(req.Delimiter)
	if err != nil {
		return "", err
	}

	job := importer.Job{
		Project:   p,
		UserID:    req.UserID,
		Format:    format,
		Uploads:   req.Uploads,
		Encoding:  encoding,
		Delimiter: delim,
		Columns:   req.Columns,
	}
	return s.launch(ctx, JobImport, p, string(format), func(ctx context.Context, j *activeJob) (*JobResult, error) {
		im := importer.New(s.store,
			importer.WithBatchSize(s.opts.BatchSize),
			importer.WithMaxFileSize(s.opts.MaxFileSize),
		)
		res, err := im.Run(ctx, job, func(pr importer.Progress) {
			j.update(func(p *Progress) {
				p.Phase = Phase(pr.Stage)
				p.Filename = pr.Filename
				p.Rows = pr.Rows
				p.Examples = pr.Examples
				p.Labels = pr.Labels
				p.Errors = pr.Errors
				p.BytesRead = pr.BytesRead
				p.BytesTotal = pr.BytesTotal
			})
		})
		j.update(func(p *Progress) {
			p.Examples = res.Examples
			p.Labels = res.Labels
			p.Errors = len(res.Errors)
		})
		return &JobResult{Import: &res}, err
	})
}

// StartExport validates req and starts an export job.
func (s *Service) StartExport(ctx context.Context, req ExportRequest) (string, error) {
	p, err := s.store.Project(ctx, req.ProjectID)
	if err != nil {
		return "", fmt.Errorf("load project %d: %w", req.ProjectID, err)
	}
	f, err := catalog.ExportFor(p.Type, req.Format)
	if err != nil {
		return "", err
	}

	opts := export.Options{ConfirmedOnly: req.ConfirmedOnly, OutputDir: s.opts.ExportDir}
	return s.launch(ctx, JobExport, p, f.Key, func(ctx context.Context, j *activeJob) (*JobResult, error) {
		j.update(func(p *Progress) { p.Phase = PhaseExporting })
		// The job id keeps concurrent exports of one project apart.
		opts.Name = fmt.Sprintf("project_%d_%s_%s", p.ID, time.Now().Format("20060102_150405"), j.ID[:8])
		res, err := export.Run(ctx, s.store, p, f, opts)
		if err != nil {
			return nil, err
		}
		logger := logging.FromContext(ctx)
		for _, rowErr := range res.Errors {
			logger.Warn("export row skipped", "example_id", rowErr.ExampleID, "user", rowErr.Username, "error", rowErr.Message)
		}
		j.update(func(p *Progress) {
			p.Rows = res.Rows
			p.Errors = len(res.Errors)
		})
		return &JobResult{Export: &res}, nil
	})
}

// jobFunc is the body of a job. Its context carries the job logger.
type jobFunc func(ctx context.Context, j *activeJob) (*JobResult, error)

// launch acquires a job slot and runs work in the background.
func (s *Service) launch(ctx context.Context, kind JobKind, p project.Project, format string, work jobFunc) (string, error) {
	release, err := s.limiter.Acquire(ctx, kind)
	if err != nil {
		return "", err
	}

	jobID := uuid.New().String()
	jobCtx, cancel := context.WithTimeout(context.Background(), s.opts.JobTimeout)

	job := &activeJob{
		ID:     jobID,
		Kind:   kind,
		Cancel: cancel,
		Done:   make(chan struct{}),
		progress: Progress{
			JobID:     jobID,
			Kind:      kind,
			ProjectID: p.ID,
			Phase:     PhaseStarting,
		},
	}

	s.mu.Lock()
	s.jobs[jobID] = job
	s.mu.Unlock()

	logger := logging.ForJob(s.logger, jobID, string(kind), p.ID, format)
	logger.Info("job started")
	jobCtx = logging.NewContext(jobCtx, logger)

	// Process in background with panic recovery to ensure limiter release
	go func() {
		defer release()
		defer cancel()

		start := time.Now()
		var (
			res *JobResult
			err error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("panic in job", "panic", r)
					err = fmt.Errorf("internal error: %v", r)
				}
			}()
			res, err = work(jobCtx, job)
		}()

		if res == nil {
			res = &JobResult{}
		}
		res.JobID, res.Kind, res.ProjectID = jobID, kind, p.ID
		res.Duration = time.Since(start)
		s.finish(jobCtx, job, res, err, logger)
	}()

	return jobID, nil
}

// finish records the outcome of a job and releases its subscribers.
func (s *Service) finish(ctx context.Context, job *activeJob, res *JobResult, err error, logger *slog.Logger) {
	phase := PhaseComplete
	var uerr *UserError
	if err != nil {
		phase = PhaseFailed
		if errors.Is(ctx.Err(), context.Canceled) {
			phase = PhaseCancelled
		}
		// Clients see the user message; the technical error stays in the log.
		uerr = NewUserError(err)
		res.Error = FormatUserError(uerr)
		res.Code = uerr.User.Code
		logger.Error("job "+string(phase), "error", uerr.Technical, "code", res.Code, "duration_ms", res.Duration.Milliseconds())
	} else {
		logger.Info("job completed", "duration_ms", res.Duration.Milliseconds())
	}

	job.mu.Lock()
	job.progress.Phase = phase
	if uerr != nil {
		job.progress.Error = res.Error
	}
	job.result = res
	final := job.progress
	job.mu.Unlock()

	job.notifyProgress()
	job.closeListeners()

	s.finished.Set(job.ID, finishedJob{progress: final, result: res}, cache.DefaultExpiration)
	close(job.Done)

	s.mu.Lock()
	delete(s.jobs, job.ID)
	s.mu.Unlock()
}

// update applies fn to the job's progress and notifies listeners.
func (job *activeJob) update(fn func(*Progress)) {
	job.mu.Lock()
	fn(&job.progress)
	job.mu.Unlock()
	job.notifyProgress()
}

// notifyProgress sends the current progress to all listeners.
func (job *activeJob) notifyProgress() {
	job.mu.Lock()
	defer job.mu.Unlock()

	for _, ch := range job.listeners {
		select {
		case ch <- job.progress:
		default:
			// Listener is slow, skip this update
		}
	}
}

// closeListeners closes all listener channels.
func (job *activeJob) closeListeners() {
	job.mu.Lock()
	defer job.mu.Unlock()

	for _, ch := range job.listeners {
		close(ch)
	}
	job.listeners = nil
}

func (s *Service) lookup(jobID string) (*activeJob, *finishedJob, error) {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if ok {
		return job, nil, nil
	}
	if v, ok := s.finished.Get(jobID); ok {
		fj := v.(finishedJob)
		return nil, &fj, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
}

// SubscribeProgress returns a channel that receives progress updates,
// starting with the current state. The channel is closed when the job ends.
func (s *Service) SubscribeProgress(jobID string) (<-chan Progress, error) {
	job, fin, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}

	ch := make(chan Progress, 10)
	if fin != nil {
		ch <- fin.progress
		close(ch)
		return ch, nil
	}

	job.mu.Lock()
	ch <- job.progress
	if job.result != nil {
		close(ch)
	} else {
		job.listeners = append(job.listeners, ch)
	}
	job.mu.Unlock()

	return ch, nil
}

// CancelJob cancels a running job. Cancelling a finished job is a no-op.
func (s *Service) CancelJob(jobID string) error {
	job, _, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	if job != nil {
		job.Cancel()
	}
	return nil
}

// JobResult returns the result of a job, waiting for it to finish or for
// ctx to end.
func (s *Service) JobResult(ctx context.Context, jobID string) (*JobResult, error) {
	job, fin, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}
	if fin != nil {
		return fin.result, nil
	}

	select {
	case <-job.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.result, nil
}

// Progress returns the current progress of a job without blocking.
func (s *Service) Progress(jobID string) (Progress, error) {
	job, fin, err := s.lookup(jobID)
	if err != nil {
		return Progress{}, err
	}
	if fin != nil {
		return fin.progress, nil
	}
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.progress, nil
}

// ActiveJobs returns the progress of every running job.
func (s *Service) ActiveJobs() []Progress {
	s.mu.RLock()
	jobs := make([]*activeJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.RUnlock()

	out := make([]Progress, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		out = append(out, j.progress)
		j.mu.Unlock()
	}
	return out
}

// Shutdown waits for running jobs to finish. When ctx ends first the
// remaining jobs are cancelled and ctx's error is returned.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.limiter.WaitForDrain(ctx)
	if err != nil {
		s.mu.RLock()
		for _, j := range s.jobs {
			j.Cancel()
		}
		s.mu.RUnlock()
	}
	return err
}

// ParseDelimiter reads a delimiter option: empty for the format default,
// "tab" or `\t` for a tab, otherwise a single character.
func ParseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return 0, nil
	case "tab", `\t`, "\t":
		return '\t', nil
	}
	r := []rune(s)
	if len(r) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	return r[0], nil
}
