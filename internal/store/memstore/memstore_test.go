package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/labelflow/internal/label"
	"github.com/JonMunkholm/labelflow/internal/labeltype"
	"github.com/JonMunkholm/labelflow/internal/project"
	"github.com/JonMunkholm/labelflow/internal/store"
)

func seed(t *testing.T) (*Store, project.Project, *store.Example) {
	t.Helper()
	s := New()
	p := s.AddProject(project.Project{Name: "ner", Type: project.SequenceLabeling})
	ex := &store.Example{UUID: uuid.New(), ProjectID: p.ID, Text: "Peter works at Acme"}
	_, err := s.InsertExamples(context.Background(), []*store.Example{ex})
	require.NoError(t, err)
	return s, p, ex
}

func TestInsertExamples_EchoesUUIDs(t *testing.T) {
	s, p, ex := seed(t)
	ctx := context.Background()

	got, err := s.ExamplesByUUID(ctx, p.ID, []uuid.UUID{ex.UUID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ex.ID, got[0].ID)

	_, err = s.InsertExamples(ctx, []*store.Example{{UUID: ex.UUID, ProjectID: p.ID}})
	assert.Error(t, err, "duplicate uuid")
}

func TestInsertLabels_UniqueConstraints(t *testing.T) {
	s, p, ex := seed(t)
	ctx := context.Background()

	require.NoError(t, s.InsertLabelTypes(ctx, p.ID, []labeltype.LabelType{{Kind: label.TypeSpan, Text: "PER"}}))
	types, err := s.LabelTypes(ctx, p.ID, label.TypeSpan)
	require.NoError(t, err)
	require.Len(t, types, 1)

	newSpan := func(start, end int) *label.Span {
		sp := &label.Span{StartOffset: start, EndOffset: end, Label: "PER"}
		sp.ExampleID, sp.UserID, sp.TypeID = ex.ID, 1, types[0].ID
		return sp
	}
	newText := func(v string, user int64) *label.Text {
		tx := &label.Text{Text: v}
		tx.ExampleID, tx.UserID = ex.ID, user
		return tx
	}

	res, err := s.InsertLabels(ctx, []label.Label{
		newSpan(0, 5),
		newSpan(0, 5),
		newSpan(0, 4),
		newText("hi", 1),
		newText("hi", 1),
		newText("hi", 2),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Inserted)
	require.Len(t, res.Conflicts, 2)
	for _, c := range res.Conflicts {
		assert.True(t, errors.Is(c.Err, store.ErrConflict))
	}

	labels, err := s.Labels(ctx, store.LabelFilter{ProjectID: p.ID, Kinds: []label.Kind{label.KindSpan}})
	require.NoError(t, err)
	require.Len(t, labels, 2)
	assert.Equal(t, "PER", labels[0].(*label.Span).Label)
	assert.Equal(t, ex.UUID, labels[0].Common().ExampleUUID)
}

func TestInsertLabels_RelationEndpoints(t *testing.T) {
	s, p, ex := seed(t)
	ctx := context.Background()
	other := &store.Example{UUID: uuid.New(), ProjectID: p.ID, Text: "x"}
	_, err := s.InsertExamples(ctx, []*store.Example{other})
	require.NoError(t, err)

	sp1 := &label.Span{StartOffset: 0, EndOffset: 5}
	sp1.ExampleID = ex.ID
	sp2 := &label.Span{StartOffset: 0, EndOffset: 1}
	sp2.ExampleID = other.ID
	_, err = s.InsertLabels(ctx, []label.Label{sp1, sp2})
	require.NoError(t, err)

	rel := &label.Relation{FromSpanID: sp1.ID, ToSpanID: sp2.ID}
	rel.ExampleID = ex.ID
	res, err := s.InsertLabels(ctx, []label.Label{rel})
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
	require.Len(t, res.Conflicts, 1)
}

func TestDeleteExampleCascades(t *testing.T) {
	s, p, ex := seed(t)
	ctx := context.Background()

	c := &label.Category{}
	c.ExampleID, c.UUID = ex.ID, uuid.New()
	_, err := s.InsertLabels(ctx, []label.Label{c})
	require.NoError(t, err)
	_, err = s.AddComment(ctx, store.Comment{ExampleID: ex.ID, UserID: 1, Text: "check"})
	require.NoError(t, err)

	s.DeleteExample(ex.ID)

	labels, err := s.Labels(ctx, store.LabelFilter{ProjectID: p.ID})
	require.NoError(t, err)
	assert.Empty(t, labels)
	comments, err := s.Comments(ctx, []int64{ex.ID})
	require.NoError(t, err)
	assert.Empty(t, comments)

	byUUID, err := s.LabelsByUUID(ctx, []uuid.UUID{c.UUID})
	require.NoError(t, err)
	assert.Empty(t, byUUID)
}

func TestConfirmExample(t *testing.T) {
	s, p, ex := seed(t)
	ctx := context.Background()
	require.NoError(t, s.ConfirmExample(ctx, ex.ID, 3))
	require.NoError(t, s.ConfirmExample(ctx, ex.ID, 3))

	examples, err := s.Examples(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, examples, 1)
	assert.Equal(t, []int64{3}, examples[0].ConfirmedBy)

	assert.ErrorIs(t, s.ConfirmExample(ctx, 999, 1), store.ErrNotFound)
}
