package labeltype

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/labelflow/internal/label"
)

type fakeStore struct {
	types   []LabelType
	inserts int
	fail    error
}

func (f *fakeStore) LabelTypes(_ context.Context, projectID int64, kind label.TypeKind) ([]LabelType, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	var out []LabelType
	for _, t := range f.types {
		if t.ProjectID == projectID && t.Kind == kind {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertLabelTypes(_ context.Context, projectID int64, types []LabelType) error {
	f.inserts++
	for _, t := range types {
		dup := false
		for _, e := range f.types {
			if e.ProjectID == projectID && e.Kind == t.Kind && e.Text == t.Text {
				dup = true
			}
		}
		if !dup {
			t.ID = int64(len(f.types) + 1)
			f.types = append(f.types, t)
		}
	}
	return nil
}

func TestEnsure_CreatesOnceAndIsIdempotent(t *testing.T) {
	store := &fakeStore{types: []LabelType{{ID: 1, ProjectID: 9, Kind: label.TypeSpan, Text: "PER"}}}
	reg := NewRegistry(store, 9)
	ctx := context.Background()

	ids, err := reg.Ensure(ctx, label.TypeSpan, []string{"PER", "ORG", "ORG"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ids["PER"])
	assert.Equal(t, int64(2), ids["ORG"])
	assert.Equal(t, 1, store.inserts)
	require.Len(t, store.types, 2)
	assert.NotEmpty(t, store.types[1].BackgroundColor)

	again, err := reg.Ensure(ctx, label.TypeSpan, []string{"ORG", "PER"})
	require.NoError(t, err)
	assert.Equal(t, ids, again)
	assert.Equal(t, 1, store.inserts, "no new types, no insert")

	id, ok := reg.TypeID(label.TypeSpan, "ORG")
	assert.True(t, ok)
	assert.Equal(t, int64(2), id)
	_, ok = reg.TypeID(label.TypeCategory, "ORG")
	assert.False(t, ok, "type kinds are separate namespaces")
}

func TestEnsure_ProjectsAreIsolated(t *testing.T) {
	store := &fakeStore{types: []LabelType{{ID: 1, ProjectID: 1, Kind: label.TypeCategory, Text: "spam"}}}
	ids, err := NewRegistry(store, 2).Ensure(context.Background(), label.TypeCategory, []string{"spam"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), ids["spam"])
}

func TestEnsureFor(t *testing.T) {
	store := &fakeStore{}
	reg := NewRegistry(store, 1)
	labels := []label.Label{
		&label.Category{Label: "pos"},
		&label.Span{StartOffset: 0, EndOffset: 1, Label: "PER"},
		&label.Text{Text: "no type needed"},
		&label.Relation{Type: "knows"},
		&label.BoundingBox{Label: "pos"},
	}
	require.NoError(t, reg.EnsureFor(context.Background(), labels))
	assert.Len(t, store.types, 3)

	_, ok := reg.TypeID(label.TypeRelation, "knows")
	assert.True(t, ok)
}

func TestEnsure_StoreError(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := NewRegistry(&fakeStore{fail: boom}, 1).Ensure(context.Background(), label.TypeSpan, []string{"X"})
	assert.ErrorIs(t, err, boom)
}

func TestColor(t *testing.T) {
	assert.Equal(t, Color(label.TypeSpan, "PER"), Color(label.TypeSpan, "PER"))
	assert.Contains(t, palette, Color(label.TypeCategory, "anything"))

	assert.Equal(t, "#000000", TextColorFor("#ffdd57"))
	assert.Equal(t, "#ffffff", TextColorFor("#4a4a4a"))
	assert.Equal(t, "#ffffff", TextColorFor("bogus"))
}
