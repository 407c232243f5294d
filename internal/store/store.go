// Package store defines the persistence contract for projects, examples
// and labels. Implementations live in the memstore and postgres
// subpackages and enforce the same uniqueness rules:
//
//   - category: one per (example, user, type)
//   - span: one per (example, user, type, start, end)
//   - text: one per (example, user, text)
//   - relation: one per (from, to, type, user)
//   - label type: one per (project, kind, text)
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/labelflow/internal/label"
	"github.com/JonMunkholm/labelflow/internal/labeltype"
	"github.com/JonMunkholm/labelflow/internal/project"
)

var (
	// ErrNotFound is returned when a looked up row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned for a label that violates a unique constraint.
	ErrConflict = errors.New("label already exists")
)

// Example is one annotatable unit.
type Example struct {
	ID         int64
	UUID       uuid.UUID
	ProjectID  int64
	Text       string // payload text, or the stored file name for file-based projects
	Filename   string // stored upload name
	UploadName string // name the file was uploaded as
	Meta       map[string]any
	CreatedAt  time.Time

	// ConfirmedBy lists the users that marked the example as done.
	ConfirmedBy []int64
}

// IsConfirmedBy reports whether userID confirmed the example.
func (e Example) IsConfirmedBy(userID int64) bool {
	for _, id := range e.ConfirmedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Comment is a free-form note on an example.
type Comment struct {
	ID        int64
	ExampleID int64
	UserID    int64
	Text      string
	CreatedAt time.Time
}

// LabelFilter narrows a label lookup. Empty slices do not filter.
type LabelFilter struct {
	ProjectID  int64
	ExampleIDs []int64
	TypeIDs    []int64
	UserIDs    []int64
	Kinds      []label.Kind
}

// Conflict pairs a rejected label with the reason.
type Conflict struct {
	Label label.Label
	Err   error
}

// InsertResult reports a bulk label insert. Inserted labels have their ID
// set; conflicting ones are listed and did not abort the rest.
type InsertResult struct {
	Inserted  int
	Conflicts []Conflict
}

// Store is the full persistence contract.
type Store interface {
	labeltype.Store

	Project(ctx context.Context, projectID int64) (project.Project, error)
	Members(ctx context.Context, projectID int64) ([]project.Member, error)

	// InsertExamples stores examples and sets their ID. UUIDs must be set
	// by the caller and are echoed back through the returned map.
	InsertExamples(ctx context.Context, examples []*Example) (map[uuid.UUID]int64, error)
	ExamplesByUUID(ctx context.Context, projectID int64, uuids []uuid.UUID) ([]Example, error)
	Examples(ctx context.Context, projectID int64) ([]Example, error)
	ConfirmExample(ctx context.Context, exampleID, userID int64) error

	// InsertLabels stores materialized labels. Unique violations are
	// reported per label with ErrConflict.
	InsertLabels(ctx context.Context, labels []label.Label) (InsertResult, error)

	// LabelsByUUID returns persisted labels by their UUID.
	LabelsByUUID(ctx context.Context, uuids []uuid.UUID) ([]label.Label, error)

	// Labels returns labels matching filter with type texts and example
	// UUIDs filled in, in label.Kinds order and by id within a kind.
	Labels(ctx context.Context, filter LabelFilter) ([]label.Label, error)

	Comments(ctx context.Context, exampleIDs []int64) ([]Comment, error)
	AddComment(ctx context.Context, c Comment) (int64, error)
}
