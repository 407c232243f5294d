package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/JonMunkholm/labelflow/internal/consistency"
	"github.com/JonMunkholm/labelflow/internal/label"
	"github.com/JonMunkholm/labelflow/internal/labeltype"
	"github.com/JonMunkholm/labelflow/internal/store"
)

// AnnotateRequest adds one label to one example. Value takes the same
// shapes the import formats accept for Kind. A relation's from_id and
// to_id name stored span ids.
type AnnotateRequest struct {
	ProjectID   int64      `json:"project_id"`
	UserID      int64      `json:"user_id"`
	ExampleUUID uuid.UUID  `json:"example_uuid"`
	Kind        label.Kind `json:"kind"`
	Value       any        `json:"value"`
}

// Annotate checks a new label against the labels already on its example
// and stores it. It returns consistency.ErrRejected when the project's
// rules forbid the label and store.ErrConflict when a concurrent writer got
// there first.
func (s *Service) Annotate(ctx context.Context, req AnnotateRequest) (label.Label, error) {
	p, err := s.store.Project(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project %d: %w", req.ProjectID, err)
	}
	examples, err := s.store.ExamplesByUUID(ctx, p.ID, []uuid.UUID{req.ExampleUUID})
	if err != nil {
		return nil, fmt.Errorf("load example: %w", err)
	}
	if len(examples) == 0 {
		return nil, fmt.Errorf("example %s: %w", req.ExampleUUID, store.ErrNotFound)
	}
	ex := examples[0]

	l, err := label.Parse(req.Kind, ex.UUID, req.Value)
	if err != nil {
		return nil, err
	}
	b := l.Common()
	b.UserID = req.UserID
	b.ExampleID = ex.ID

	existing, err := s.store.Labels(ctx, store.LabelFilter{
		ProjectID:  p.ID,
		ExampleIDs: []int64{ex.ID},
		Kinds:      []label.Kind{req.Kind, label.KindSpan},
	})
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	if !consistency.CanAnnotate(p.Policy, l, existing) {
		return nil, fmt.Errorf("%s label: %w", req.Kind, consistency.ErrRejected)
	}

	registry := labeltype.NewRegistry(s.store, p.ID)
	if err := registry.EnsureFor(ctx, []label.Label{l}); err != nil {
		return nil, fmt.Errorf("ensure label types: %w", err)
	}

	spans := storedSpans{}
	for _, sp := range label.OfKind[*label.Span](existing) {
		if p.Policy.CollaborativeAnnotation || sp.UserID == req.UserID {
			spans[sp.ID] = true
		}
	}
	if err := label.Materialize(l, req.UserID, ex.ID, registry, spans); err != nil {
		return nil, err
	}

	res, err := s.store.InsertLabels(ctx, []label.Label{l})
	if err != nil {
		return nil, fmt.Errorf("insert label: %w", err)
	}
	if len(res.Conflicts) > 0 {
		return nil, fmt.Errorf("%s label: %w", req.Kind, res.Conflicts[0].Err)
	}

	s.logger.Debug("label added",
		"project_id", p.ID,
		"example_id", ex.ID,
		"user_id", req.UserID,
		"kind", req.Kind,
	)
	return l, nil
}

// storedSpans resolves relation endpoints that name persisted spans of the
// example being annotated.
type storedSpans map[int64]bool

func (s storedSpans) ResolveSpan(id int, _ uuid.UUID) (int64, bool) {
	if !s[int64(id)] {
		return 0, false
	}
	return int64(id), true
}
