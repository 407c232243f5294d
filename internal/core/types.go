package core

import (
	"time"

	"github.com/JonMunkholm/labelflow/internal/export"
	"github.com/JonMunkholm/labelflow/internal/importer"
	"github.com/JonMunkholm/labelflow/internal/record"
)

// JobKind tells imports and exports apart.
type JobKind string

const (
	JobImport JobKind = "import"
	JobExport JobKind = "export"
)

// Phase indicates the current stage of a job.
type Phase string

const (
	PhaseStarting   Phase = "starting"
	PhaseReading    Phase = "reading"
	PhaseCleaning   Phase = "cleaning"
	PhasePersisting Phase = "persisting"
	PhaseExporting  Phase = "exporting"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// Terminal reports whether no further progress follows.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed || p == PhaseCancelled
}

// Progress represents the current state of a job.
type Progress struct {
	JobID     string  `json:"job_id"`
	Kind      JobKind `json:"kind"`
	ProjectID int64   `json:"project_id"`
	Phase     Phase   `json:"phase"`
	Filename  string  `json:"filename,omitempty"`
	Rows      int     `json:"rows"`
	Examples  int     `json:"examples"`
	Labels    int     `json:"labels"`
	Errors    int     `json:"errors"`
	Error     string  `json:"error,omitempty"` // set when Phase is PhaseFailed

	BytesRead  int64 `json:"bytes_read"`
	BytesTotal int64 `json:"bytes_total"`
}

// Percent returns byte-based progress of the current file (0-100).
func (p Progress) Percent() int {
	if p.Phase == PhaseComplete {
		return 100
	}
	if p.BytesTotal > 0 {
		return int((p.BytesRead * 100) / p.BytesTotal)
	}
	return 0
}

// JobResult is the final state of a job. Exactly one of Import and Export is
// set for a job that ran; both are nil when it failed before starting.
type JobResult struct {
	JobID     string           `json:"job_id"`
	Kind      JobKind          `json:"kind"`
	ProjectID int64            `json:"project_id"`
	Import    *importer.Result `json:"import,omitempty"`
	Export    *export.Result   `json:"export,omitempty"`
	Duration  time.Duration    `json:"duration"`

	// Error and Code describe a failed or cancelled job.
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// ImportRequest asks for an import job.
type ImportRequest struct {
	ProjectID int64             `json:"project_id"`
	UserID    int64             `json:"user_id"`
	Format    string            `json:"format"`
	Uploads   []importer.Upload `json:"uploads"`
	Encoding  string            `json:"encoding,omitempty"`
	Delimiter string            `json:"delimiter,omitempty"`
	Columns   *record.Columns   `json:"columns,omitempty"`
}

// ExportRequest asks for an export job.
type ExportRequest struct {
	ProjectID     int64  `json:"project_id"`
	Format        string `json:"format"`
	ConfirmedOnly bool   `json:"confirmed_only"`
}
