// Package memstore is an in-memory store.Store. It enforces the same unique
// constraints as the Postgres schema and is used by tests and by the CLI's
// dry-run mode.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/labelflow/internal/label"
	"github.com/JonMunkholm/labelflow/internal/labeltype"
	"github.com/JonMunkholm/labelflow/internal/project"
	"github.com/JonMunkholm/labelflow/internal/store"
)

// Store keeps everything in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	nextID   int64
	projects map[int64]project.Project
	members  map[int64][]project.Member
	types    map[int64]labeltype.LabelType
	examples map[int64]*store.Example
	labels   map[int64]label.Label
	comments []store.Comment

	// unique keys of stored labels and types
	taken map[string]int64
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		projects: make(map[int64]project.Project),
		members:  make(map[int64][]project.Member),
		types:    make(map[int64]labeltype.LabelType),
		examples: make(map[int64]*store.Example),
		labels:   make(map[int64]label.Label),
		taken:    make(map[string]int64),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// AddProject registers a project. A zero ID is assigned.
func (s *Store) AddProject(p project.Project) project.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.projects[p.ID] = p
	return p
}

// AddMember adds a user to a project.
func (s *Store) AddMember(projectID int64, m project.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[projectID] = append(s.members[projectID], m)
}

func (s *Store) Project(_ context.Context, projectID int64) (project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return project.Project{}, fmt.Errorf("project %d: %w", projectID, store.ErrNotFound)
	}
	return p, nil
}

func (s *Store) Members(_ context.Context, projectID int64) ([]project.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.members[projectID]), nil
}

// ----------------------------------------------------------------------------
// Label types
// ----------------------------------------------------------------------------

func (s *Store) LabelTypes(_ context.Context, projectID int64, kind label.TypeKind) ([]labeltype.LabelType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []labeltype.LabelType
	for _, id := range slices.Sorted(maps.Keys(s.types)) {
		t := s.types[id]
		if t.ProjectID == projectID && t.Kind == kind {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) InsertLabelTypes(_ context.Context, projectID int64, types []labeltype.LabelType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range types {
		key := fmt.Sprintf("type/%d/%s/%s", projectID, t.Kind, t.Text)
		if _, ok := s.taken[key]; ok {
			continue
		}
		t.ID = s.id()
		t.ProjectID = projectID
		s.types[t.ID] = t
		s.taken[key] = t.ID
	}
	return nil
}

// ----------------------------------------------------------------------------
// Examples
// ----------------------------------------------------------------------------

func (s *Store) InsertExamples(_ context.Context, examples []*store.Example) (map[uuid.UUID]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range examples {
		if e.UUID == uuid.Nil {
			return nil, fmt.Errorf("example without uuid")
		}
		if _, ok := s.taken["example/"+e.UUID.String()]; ok {
			return nil, fmt.Errorf("example %s already exists", e.UUID)
		}
	}

	ids := make(map[uuid.UUID]int64, len(examples))
	for _, e := range examples {
		e.ID = s.id()
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		cp := *e
		cp.Meta = maps.Clone(e.Meta)
		cp.ConfirmedBy = slices.Clone(e.ConfirmedBy)
		s.examples[e.ID] = &cp
		s.taken["example/"+e.UUID.String()] = e.ID
		ids[e.UUID] = e.ID
	}
	return ids, nil
}

func (s *Store) ExamplesByUUID(_ context.Context, projectID int64, uuids []uuid.UUID) ([]store.Example, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Example
	for _, u := range uuids {
		id, ok := s.taken["example/"+u.String()]
		if !ok {
			continue
		}
		if e := s.examples[id]; e.ProjectID == projectID {
			out = append(out, copyExample(e))
		}
	}
	return out, nil
}

func (s *Store) Examples(_ context.Context, projectID int64) ([]store.Example, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Example
	for _, id := range slices.Sorted(maps.Keys(s.examples)) {
		if e := s.examples[id]; e.ProjectID == projectID {
			out = append(out, copyExample(e))
		}
	}
	return out, nil
}

func (s *Store) ConfirmExample(_ context.Context, exampleID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.examples[exampleID]
	if !ok {
		return fmt.Errorf("example %d: %w", exampleID, store.ErrNotFound)
	}
	if !e.IsConfirmedBy(userID) {
		e.ConfirmedBy = append(e.ConfirmedBy, userID)
	}
	return nil
}

// DeleteExample removes an example together with its labels and comments.
func (s *Store) DeleteExample(exampleID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.examples[exampleID]
	if !ok {
		return
	}
	delete(s.examples, exampleID)
	delete(s.taken, "example/"+e.UUID.String())
	for id, l := range s.labels {
		if l.Common().ExampleID == exampleID {
			delete(s.labels, id)
			delete(s.taken, uniqueKey(l))
		}
	}
	s.comments = slices.DeleteFunc(s.comments, func(c store.Comment) bool { return c.ExampleID == exampleID })
}

func copyExample(e *store.Example) store.Example {
	cp := *e
	cp.Meta = maps.Clone(e.Meta)
	cp.ConfirmedBy = slices.Clone(e.ConfirmedBy)
	return cp
}

// ----------------------------------------------------------------------------
// Labels
// ----------------------------------------------------------------------------

func (s *Store) InsertLabels(_ context.Context, labels []label.Label) (store.InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res store.InsertResult
	for _, l := range labels {
		b := l.Common()
		if _, ok := s.examples[b.ExampleID]; !ok {
			res.Conflicts = append(res.Conflicts, store.Conflict{Label: l, Err: fmt.Errorf("example %d: %w", b.ExampleID, store.ErrNotFound)})
			continue
		}
		if r, ok := l.(*label.Relation); ok {
			if err := s.checkEndpoints(r); err != nil {
				res.Conflicts = append(res.Conflicts, store.Conflict{Label: l, Err: err})
				continue
			}
		}
		key := uniqueKey(l)
		if key != "" {
			if _, ok := s.taken[key]; ok {
				res.Conflicts = append(res.Conflicts, store.Conflict{Label: l, Err: store.ErrConflict})
				continue
			}
		}

		b.ID = s.id()
		if b.UUID == uuid.Nil {
			b.UUID = uuid.New()
		}
		s.labels[b.ID] = cloneLabel(l)
		if key != "" {
			s.taken[key] = b.ID
		}
		res.Inserted++
	}
	return res, nil
}

func (s *Store) checkEndpoints(r *label.Relation) error {
	for _, id := range []int64{r.FromSpanID, r.ToSpanID} {
		sp, ok := s.labels[id].(*label.Span)
		if !ok {
			return fmt.Errorf("span %d: %w", id, store.ErrNotFound)
		}
		if sp.ExampleID != r.ExampleID {
			return fmt.Errorf("span %d belongs to another example", id)
		}
	}
	return nil
}

func (s *Store) LabelsByUUID(_ context.Context, uuids []uuid.UUID) ([]label.Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(uuids))
	for _, u := range uuids {
		want[u] = true
	}
	var out []label.Label
	for _, id := range slices.Sorted(maps.Keys(s.labels)) {
		if l := s.labels[id]; want[l.Common().UUID] {
			out = append(out, s.hydrate(l))
		}
	}
	sortByKind(out)
	return out, nil
}

func (s *Store) Labels(_ context.Context, f store.LabelFilter) ([]label.Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []label.Label
	for _, id := range slices.Sorted(maps.Keys(s.labels)) {
		l := s.labels[id]
		b := l.Common()
		if f.ProjectID != 0 {
			if e := s.examples[b.ExampleID]; e == nil || e.ProjectID != f.ProjectID {
				continue
			}
		}
		if !matches(f.ExampleIDs, b.ExampleID) || !matches(f.TypeIDs, b.TypeID) ||
			!matches(f.UserIDs, b.UserID) || !matches(f.Kinds, l.Kind()) {
			continue
		}
		out = append(out, s.hydrate(l))
	}
	sortByKind(out)
	return out, nil
}

// sortByKind orders labels as the Postgres store returns them: kind by kind,
// by id within a kind.
func sortByKind(ls []label.Label) {
	slices.SortStableFunc(ls, func(a, b label.Label) int {
		return slices.Index(label.Kinds, a.Kind()) - slices.Index(label.Kinds, b.Kind())
	})
}

func matches[T comparable](set []T, v T) bool {
	return len(set) == 0 || slices.Contains(set, v)
}

// hydrate returns a copy with the example UUID and type text filled in.
func (s *Store) hydrate(l label.Label) label.Label {
	cp := cloneLabel(l)
	b := cp.Common()
	if e := s.examples[b.ExampleID]; e != nil {
		b.ExampleUUID = e.UUID
	}
	if t, ok := s.types[b.TypeID]; ok {
		label.SetTypeText(cp, t.Text)
	}
	return cp
}

// uniqueKey returns the constraint key of a label, or "" for kinds without
// a unique constraint.
func uniqueKey(l label.Label) string {
	b := l.Common()
	switch v := l.(type) {
	case *label.Category:
		return fmt.Sprintf("category/%d/%d/%d", b.ExampleID, b.UserID, b.TypeID)
	case *label.Span:
		return fmt.Sprintf("span/%d/%d/%d/%d/%d", b.ExampleID, b.UserID, b.TypeID, v.StartOffset, v.EndOffset)
	case *label.Text:
		return fmt.Sprintf("text/%d/%d/%s", b.ExampleID, b.UserID, v.Text)
	case *label.Relation:
		return fmt.Sprintf("relation/%d/%d/%d/%d", v.FromSpanID, v.ToSpanID, b.TypeID, b.UserID)
	case *label.BoundingBox, *label.Segmentation:
		return ""
	default:
		panic(fmt.Sprintf("memstore: unhandled label %T", l))
	}
}

func cloneLabel(l label.Label) label.Label {
	switch v := l.(type) {
	case *label.Category:
		cp := *v
		return &cp
	case *label.Span:
		cp := *v
		return &cp
	case *label.Text:
		cp := *v
		return &cp
	case *label.Relation:
		cp := *v
		return &cp
	case *label.BoundingBox:
		cp := *v
		return &cp
	case *label.Segmentation:
		cp := *v
		cp.Points = slices.Clone(v.Points)
		return &cp
	default:
		panic(fmt.Sprintf("memstore: unhandled label %T", l))
	}
}

// ----------------------------------------------------------------------------
// Comments
// ----------------------------------------------------------------------------

func (s *Store) Comments(_ context.Context, exampleIDs []int64) ([]store.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Comment
	for _, c := range s.comments {
		if matches(exampleIDs, c.ExampleID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) AddComment(_ context.Context, c store.Comment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.examples[c.ExampleID]; !ok {
		return 0, fmt.Errorf("example %d: %w", c.ExampleID, store.ErrNotFound)
	}
	c.ID = s.id()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.comments = append(s.comments, c)
	return c.ID, nil
}
