// Package labeltype keeps the per-project label type vocabulary. Types are
// created on first use during an import and looked up by (kind, text).
package labeltype

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"

	"github.com/JonMunkholm/labelflow/internal/label"
)

// LabelType is a named type within a project.
type LabelType struct {
	ID              int64          `json:"id"`
	ProjectID       int64          `json:"project_id"`
	Kind            label.TypeKind `json:"kind"`
	Text            string         `json:"text"`
	BackgroundColor string         `json:"background_color"`
	TextColor       string         `json:"text_color"`
}

// Store is the persistence the registry needs.
type Store interface {
	// LabelTypes returns the project's types of one kind.
	LabelTypes(ctx context.Context, projectID int64, kind label.TypeKind) ([]LabelType, error)

	// InsertLabelTypes creates the given types. Types whose (kind, text)
	// already exists are skipped without error.
	InsertLabelTypes(ctx context.Context, projectID int64, types []LabelType) error
}

// Registry resolves type names to ids for one project, creating missing
// types. A registry belongs to a single job and is not safe for concurrent
// use.
type Registry struct {
	store     Store
	projectID int64
	ids       map[label.TypeRequest]int64
}

// NewRegistry returns an empty registry for projectID.
func NewRegistry(store Store, projectID int64) *Registry {
	return &Registry{
		store:     store,
		projectID: projectID,
		ids:       make(map[label.TypeRequest]int64),
	}
}

// Ensure makes sure every text exists as a type of kind and returns their
// ids. Calling it again with the same texts does not create anything.
func (r *Registry) Ensure(ctx context.Context, kind label.TypeKind, texts []string) (map[string]int64, error) {
	out := make(map[string]int64, len(texts))

	var missing []string
	pending := make(map[string]bool)
	for _, t := range texts {
		if id, ok := r.ids[label.TypeRequest{Kind: kind, Text: t}]; ok {
			out[t] = id
		} else if !pending[t] {
			pending[t] = true
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	if err := r.load(ctx, kind); err != nil {
		return nil, err
	}

	var create []LabelType
	for _, t := range missing {
		if _, ok := r.ids[label.TypeRequest{Kind: kind, Text: t}]; !ok {
			bg := Color(kind, t)
			create = append(create, LabelType{
				ProjectID:       r.projectID,
				Kind:            kind,
				Text:            t,
				BackgroundColor: bg,
				TextColor:       TextColorFor(bg),
			})
		}
	}
	if len(create) > 0 {
		if err := r.store.InsertLabelTypes(ctx, r.projectID, create); err != nil {
			return nil, fmt.Errorf("create %s types: %w", kind, err)
		}
		// reload picks up ids for types a concurrent job created first
		if err := r.load(ctx, kind); err != nil {
			return nil, err
		}
	}

	for _, t := range missing {
		id, ok := r.ids[label.TypeRequest{Kind: kind, Text: t}]
		if !ok {
			return nil, fmt.Errorf("%s type %q was not created", kind, t)
		}
		out[t] = id
	}
	return out, nil
}

// EnsureFor ensures the types every label in labels refers to.
func (r *Registry) EnsureFor(ctx context.Context, labels []label.Label) error {
	wanted := make(map[label.TypeKind][]string)
	var kinds []label.TypeKind
	for _, l := range labels {
		req, ok := l.RequiredType()
		if !ok {
			continue
		}
		if _, seen := wanted[req.Kind]; !seen {
			kinds = append(kinds, req.Kind)
		}
		wanted[req.Kind] = append(wanted[req.Kind], req.Text)
	}
	for _, k := range kinds {
		if _, err := r.Ensure(ctx, k, wanted[k]); err != nil {
			return err
		}
	}
	return nil
}

// TypeID returns the id of a type the registry has seen.
func (r *Registry) TypeID(kind label.TypeKind, text string) (int64, bool) {
	id, ok := r.ids[label.TypeRequest{Kind: kind, Text: text}]
	return id, ok
}

func (r *Registry) load(ctx context.Context, kind label.TypeKind) error {
	types, err := r.store.LabelTypes(ctx, r.projectID, kind)
	if err != nil {
		return fmt.Errorf("load %s types: %w", kind, err)
	}
	for _, t := range types {
		r.ids[label.TypeRequest{Kind: kind, Text: t.Text}] = t.ID
	}
	return nil
}

var palette = []string{
	"#209cee", "#23d160", "#ff3860", "#ffdd57", "#7957d5",
	"#00d1b2", "#ff8c1a", "#3273dc", "#b86bff", "#4a4a4a",
	"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4",
	"#46f0f0", "#f032e6", "#bcf60c", "#fabebe", "#008080",
}

// Color picks a palette colour for a type. The same (kind, text) always
// gets the same colour.
func Color(kind label.TypeKind, text string) string {
	h := fnv.New32a()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return palette[h.Sum32()%uint32(len(palette))]
}

// TextColorFor returns black or white, whichever reads better on bg
// ("#rrggbb").
func TextColorFor(bg string) string {
	if len(bg) != 7 || bg[0] != '#' {
		return "#ffffff"
	}
	channel := func(s string) float64 {
		v, err := strconv.ParseUint(s, 16, 8)
		if err != nil {
			return 0
		}
		return float64(v)
	}
	r, g, b := channel(bg[1:3]), channel(bg[3:5]), channel(bg[5:7])
	if 0.299*r+0.587*g+0.114*b > 150 {
		return "#000000"
	}
	return "#ffffff"
}
