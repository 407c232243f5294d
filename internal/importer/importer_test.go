package importer

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/labelflow/internal/catalog"
	"github.com/JonMunkholm/labelflow/internal/export"
	"github.com/JonMunkholm/labelflow/internal/label"
	"github.com/JonMunkholm/labelflow/internal/parser"
	"github.com/JonMunkholm/labelflow/internal/project"
	"github.com/JonMunkholm/labelflow/internal/store"
	"github.com/JonMunkholm/labelflow/internal/store/memstore"
)

const userID = 7

func writeUpload(t *testing.T, name, content string) Upload {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stored_"+name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return Upload{FullPath: path, GeneratedName: "stored_" + name, OriginalName: name}
}

func setup(t *testing.T, typ project.Type, policy project.Policy) (*memstore.Store, project.Project) {
	t.Helper()
	st := memstore.New()
	p := st.AddProject(project.Project{Name: "test", Type: typ, Policy: policy})
	st.AddMember(p.ID, project.Member{UserID: userID, Username: "ann"})
	return st, p
}

func runImport(t *testing.T, im *Importer, job Job) Result {
	t.Helper()
	res, err := im.Run(context.Background(), job, nil)
	require.NoError(t, err)
	return res
}

func labelsOf(t *testing.T, st store.Store, p project.Project) []label.Label {
	t.Helper()
	ls, err := st.Labels(context.Background(), store.LabelFilter{ProjectID: p.ID})
	require.NoError(t, err)
	return ls
}

func examplesOf(t *testing.T, st store.Store, p project.Project) []store.Example {
	t.Helper()
	exs, err := st.Examples(context.Background(), p.ID)
	require.NoError(t, err)
	return exs
}

// ============================================================================
// Formats
// ============================================================================

func TestImportCoNLL(t *testing.T) {
	st, p := setup(t, project.SequenceLabeling, project.Policy{})
	conll := "EU\tB-ORG\nrejects\tO\nGerman\tB-MISC\ncall\tO\nto\tO\nboycott\tO\nBritish\tB-MISC\nlamb\tO\n.\tO\n\nPeter\tB-PER\nBlackburn\tI-PER\n"

	res := runImport(t, New(st), Job{
		Project: p, UserID: userID, Format: parser.FormatCoNLL,
		Uploads: []Upload{writeUpload(t, "train.conll", conll)},
	})
	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, res.Examples)
	assert.Equal(t, 4, res.Labels)

	exs := examplesOf(t, st, p)
	require.Len(t, exs, 2)
	assert.Equal(t, "EU rejects German call to boycott British lamb .", exs[0].Text)
	assert.Equal(t, "Peter Blackburn", exs[1].Text)

	var second []*label.Span
	for _, s := range label.OfKind[*label.Span](labelsOf(t, st, p)) {
		assert.Equal(t, int64(userID), s.UserID)
		if s.ExampleID == exs[1].ID {
			second = append(second, s)
		}
	}
	require.Len(t, second, 1)
	assert.Equal(t, 0, second[0].StartOffset)
	assert.Equal(t, 15, second[0].EndOffset)
	assert.Equal(t, "PER", second[0].Label)
}

func TestImportEmptyCategoryColumn(t *testing.T) {
	st, p := setup(t, project.DocumentClassification, project.Policy{})
	res := runImport(t, New(st), Job{
		Project: p, UserID: userID, Format: parser.FormatCSV,
		Uploads: []Upload{writeUpload(t, "data.csv", "text,label\nhello world,\n")},
	})
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.Examples)
	assert.Zero(t, res.Labels)
}

func TestImportRejectsZeroLengthSpan(t *testing.T) {
	st, p := setup(t, project.SequenceLabeling, project.Policy{})
	content := `{"text": "abc", "label": [[1, 1, "X"]]}` + "\n" + `{"text": "def", "label": [[0, 2, "X"]]}` + "\n"
	res := runImport(t, New(st), Job{
		Project: p, UserID: userID, Format: parser.FormatJSONL,
		Uploads: []Upload{writeUpload(t, "data.jsonl", content)},
	})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "data.jsonl", res.Errors[0].Filename)
	assert.Equal(t, 1, res.Errors[0].Line)
	assert.Contains(t, res.Errors[0].Message, "start_offset")
	assert.Equal(t, 2, res.Examples)
	assert.Equal(t, 1, res.Labels)
}

func TestImportCategoryExclusivity(t *testing.T) {
	content := `{"text": "t", "label": ["b", "a"]}` + "\n"
	tests := []struct {
		name   string
		policy project.Policy
		want   []string
	}{
		{"single class keeps first", project.Policy{SingleClassClassification: true}, []string{"b"}},
		{"multi class keeps both", project.Policy{}, []string{"b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, p := setup(t, project.DocumentClassification, tt.policy)
			res := runImport(t, New(st), Job{
				Project: p, UserID: userID, Format: parser.FormatJSONL,
				Uploads: []Upload{writeUpload(t, "cats.jsonl", content)},
			})
			assert.Empty(t, res.Errors)

			var got []string
			for _, c := range label.OfKind[*label.Category](labelsOf(t, st, p)) {
				got = append(got, c.Label)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImportDropsRepeatedTextInBatch(t *testing.T) {
	st, p := setup(t, project.Seq2seq, project.Policy{})
	res := runImport(t, New(st), Job{
		Project: p, UserID: userID, Format: parser.FormatJSONL,
		Uploads: []Upload{writeUpload(t, "mt.jsonl", `{"text": "hello", "label": ["bonjour", "salut", "bonjour"]}`+"\n")},
	})
	assert.Empty(t, res.Errors)
	assert.Equal(t, 2, res.Labels)

	var got []string
	for _, tx := range label.OfKind[*label.Text](labelsOf(t, st, p)) {
		got = append(got, tx.Text)
	}
	assert.Equal(t, []string{"bonjour", "salut"}, got)
}

func TestImportFastTextAndMeta(t *testing.T) {
	st, p := setup(t, project.DocumentClassification, project.Policy{})
	res := runImport(t, New(st), Job{
		Project: p, UserID: userID, Format: parser.FormatCSV,
		Uploads: []Upload{writeUpload(t, "data.csv", "text,label,source\ngreat,pos,web\n")},
	})
	require.Empty(t, res.Errors)
	exs := examplesOf(t, st, p)
	require.Len(t, exs, 1)
	assert.Equal(t, map[string]any{"source": "web"}, exs[0].Meta)
	assert.Equal(t, "data.csv", exs[0].UploadName)

	res = runImport(t, New(st), Job{
		Project: p, UserID: userID, Format: parser.FormatFastText,
		Uploads: []Upload{writeUpload(t, "ft.txt", "__label__pos __label__fun a good read\n")},
	})
	require.Empty(t, res.Errors)
	assert.Equal(t, 2, res.Labels)
}

// ============================================================================
// Relations
// ============================================================================

func TestImportRelations(t *testing.T) {
	st, p := setup(t, project.SequenceLabeling, project.Policy{})
	content := strings.Join([]string{
		`{"text": "Alice works at Acme", "entities": [{"id": 10, "start_offset": 0, "end_offset": 5, "label": "PER"}, {"id": 11, "start_offset": 15, "end_offset": 19, "label": "ORG"}], "relations": [{"from_id": 10, "to_id": 11, "type": "works_at"}]}`,
		`{"text": "Bob", "entities": [{"id": 10, "start_offset": 0, "end_offset": 3, "label": "PER"}], "relations": [{"from_id": 10, "to_id": 11, "type": "works_at"}]}`,
	}, "\n")

	// A batch of one record per flush still resolves relations within the record.
	res := runImport(t, New(st, WithBatchSize(1)), Job{
		Project: p, UserID: userID, Format: parser.FormatJSONL,
		Uploads: []Upload{writeUpload(t, "rel.jsonl", content)},
	})

	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Line)
	assert.Contains(t, res.Errors[0].Message, "to_id 11")

	ls := labelsOf(t, st, p)
	spans := label.OfKind[*label.Span](ls)
	rels := label.OfKind[*label.Relation](ls)
	require.Len(t, spans, 3)
	require.Len(t, rels, 1)
	assert.Equal(t, spans[0].ID, rels[0].FromSpanID)
	assert.Equal(t, spans[1].ID, rels[0].ToSpanID)
	assert.Equal(t, "works_at", rels[0].Type)
}

func TestImportRelationToDroppedSpan(t *testing.T) {
	st, p := setup(t, project.SequenceLabeling, project.Policy{})
	// span 2 overlaps span 1 and is dropped by cleaning, so the relation cannot resolve
	content := `{"text": "abcdef", "entities": [{"id": 1, "start_offset": 0, "end_offset": 4, "label": "A"}, {"id": 2, "start_offset": 2, "end_offset": 6, "label": "B"}], "relations": [{"from_id": 1, "to_id": 2, "type": "r"}]}`
	res := runImport(t, New(st), Job{
		Project: p, UserID: userID, Format: parser.FormatJSONL,
		Uploads: []Upload{writeUpload(t, "rel.jsonl", content)},
	})
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Message, "unresolved relation")
	assert.Equal(t, 1, res.Labels)
}

// ============================================================================
// Errors
// ============================================================================

func TestImportUnsupportedFormat(t *testing.T) {
	st, p := setup(t, project.SequenceLabeling, project.Policy{})
	_, err := New(st).Run(context.Background(), Job{Project: p, Format: parser.FormatFastText}, nil)
	var cerr *catalog.ConfigError
	assert.True(t, errors.As(err, &cerr))
}

func TestImportUnknownEncoding(t *testing.T) {
	st, p := setup(t, project.SequenceLabeling, project.Policy{})
	_, err := New(st).Run(context.Background(), Job{Project: p, Format: parser.FormatJSONL, Encoding: "klingon"}, nil)
	assert.Error(t, err)
}

func TestImportFileChecks(t *testing.T) {
	st, p := setup(t, project.DocumentClassification, project.Policy{})
	big := writeUpload(t, "big.csv", "text\n"+strings.Repeat("x", 2048)+"\n")
	wrongExt := writeUpload(t, "data.xlsx", "text\nhello\n")
	missing := Upload{FullPath: filepath.Join(t.TempDir(), "nope.csv"), OriginalName: "nope.csv"}

	res := runImport(t, New(st, WithMaxFileSize(1024)), Job{
		Project: p, UserID: userID, Format: parser.FormatCSV,
		Uploads: []Upload{big, wrongExt, missing},
	})
	require.Len(t, res.Errors, 3)
	assert.Contains(t, res.Errors[0].Message, "exceeds")
	assert.Contains(t, res.Errors[1].Message, "unsupported file type")
	assert.Contains(t, res.Errors[2].Message, "open file")
	assert.Zero(t, res.Examples)
}

func TestImportStructuralFailureStopsOneFile(t *testing.T) {
	st, p := setup(t, project.DocumentClassification, project.Policy{})
	res := runImport(t, New(st), Job{
		Project: p, UserID: userID, Format: parser.FormatJSON,
		Uploads: []Upload{
			writeUpload(t, "bad.json", `[{"text": "a"`),
			writeUpload(t, "good.json", `[{"text": "b", "label": "x"}]`),
		},
	})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "bad.json", res.Errors[0].Filename)
	assert.Zero(t, res.Errors[0].Line)
	assert.Equal(t, 1, res.Examples)
}

func TestImportFileBased(t *testing.T) {
	st, p := setup(t, project.ImageClassification, project.Policy{})
	res := runImport(t, New(st), Job{
		Project: p, UserID: userID, Format: parser.FormatPlain,
		Uploads: []Upload{writeUpload(t, "cat.png", "\x89PNG")},
	})
	require.Empty(t, res.Errors)
	exs := examplesOf(t, st, p)
	require.Len(t, exs, 1)
	assert.Equal(t, "stored_cat.png", exs[0].Text)
	assert.Equal(t, "cat.png", exs[0].UploadName)
}

// conflictStore rejects every label it is asked to insert after the first.
type conflictStore struct {
	*memstore.Store
}

func (s conflictStore) InsertLabels(ctx context.Context, labels []label.Label) (store.InsertResult, error) {
	if len(labels) == 0 {
		return store.InsertResult{}, nil
	}
	res, err := s.Store.InsertLabels(ctx, labels[:1])
	for _, l := range labels[1:] {
		res.Conflicts = append(res.Conflicts, store.Conflict{Label: l, Err: store.ErrConflict})
	}
	return res, err
}

func TestImportConflictsBecomeRecordErrors(t *testing.T) {
	mem, p := setup(t, project.DocumentClassification, project.Policy{})
	res := runImport(t, New(conflictStore{mem}), Job{
		Project: p, UserID: userID, Format: parser.FormatCSV,
		Uploads: []Upload{writeUpload(t, "data.csv", "text,label\none,a\ntwo,b\n")},
	})
	assert.Equal(t, 1, res.Labels)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.Errors[0].Line)
	assert.Equal(t, "category label already exists", res.Errors[0].Message)
}

func TestImportCancelled(t *testing.T) {
	st, p := setup(t, project.DocumentClassification, project.Policy{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(st).Run(ctx, Job{
		Project: p, UserID: userID, Format: parser.FormatCSV,
		Uploads: []Upload{writeUpload(t, "data.csv", "text\na\n")},
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImportReportsProgress(t *testing.T) {
	st, p := setup(t, project.DocumentClassification, project.Policy{})
	var stages []Stage
	_, err := New(st).Run(context.Background(), Job{
		Project: p, UserID: userID, Format: parser.FormatCSV,
		Uploads: []Upload{writeUpload(t, "data.csv", "text,label\na,x\n")},
	}, func(pr Progress) { stages = append(stages, pr.Stage) })
	require.NoError(t, err)
	assert.Contains(t, stages, StageReading)
	assert.Contains(t, stages, StageCleaning)
	assert.Equal(t, StagePersisting, stages[len(stages)-1])
}

// ============================================================================
// Round trip
// ============================================================================

type triple struct {
	text, user string
	value      string
}

func snapshot(t *testing.T, st store.Store, p project.Project) []triple {
	t.Helper()
	texts := make(map[int64]string)
	for _, ex := range examplesOf(t, st, p) {
		texts[ex.ID] = ex.Text
	}
	spans := make(map[int64]*label.Span)
	var out []triple
	for _, l := range labelsOf(t, st, p) {
		b := l.Common()
		var v string
		switch x := l.(type) {
		case *label.Span:
			spans[x.ID] = x
			v = fmt.Sprintf("span %d %d %s", x.StartOffset, x.EndOffset, x.Label)
		case *label.Relation:
			from, to := spans[x.FromSpanID], spans[x.ToSpanID]
			v = fmt.Sprintf("rel %d-%d %s", from.StartOffset, to.StartOffset, x.Type)
		}
		out = append(out, triple{text: texts[b.ExampleID], user: fmt.Sprint(b.UserID), value: v})
	}
	slices.SortFunc(out, func(a, b triple) int { return strings.Compare(a.text+a.value, b.text+b.value) })
	return out
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, p := setup(t, project.SequenceLabeling, project.Policy{})
	content := strings.Join([]string{
		`{"text": "Alice works at Acme", "entities": [{"id": 1, "start_offset": 0, "end_offset": 5, "label": "PER"}, {"id": 2, "start_offset": 15, "end_offset": 19, "label": "ORG"}], "relations": [{"from_id": 1, "to_id": 2, "type": "works_at"}]}`,
		`{"text": "Nothing here"}`,
		`{"text": "Bob and Carol", "entities": [{"id": 1, "start_offset": 0, "end_offset": 3, "label": "PER"}, {"id": 2, "start_offset": 8, "end_offset": 13, "label": "PER"}]}`,
	}, "\n")
	res := runImport(t, New(src), Job{
		Project: p, UserID: userID, Format: parser.FormatJSONL,
		Uploads: []Upload{writeUpload(t, "in.jsonl", content)},
	})
	require.Empty(t, res.Errors)

	f, err := catalog.ExportFor(project.SequenceLabeling, "jsonl_relation")
	require.NoError(t, err)
	out, err := export.Run(ctx, src, p, f, export.Options{OutputDir: t.TempDir(), Name: "rt"})
	require.NoError(t, err)
	require.Empty(t, out.Errors)

	zr, err := zip.OpenReader(out.Path)
	require.NoError(t, err)
	defer zr.Close()
	require.Len(t, zr.File, 1)
	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	exported, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)

	dst, p2 := setup(t, project.SequenceLabeling, project.Policy{})
	res = runImport(t, New(dst), Job{
		Project: p2, UserID: userID, Format: parser.FormatJSONL,
		Uploads: []Upload{writeUpload(t, "ann.jsonl", string(exported))},
	})
	require.Empty(t, res.Errors)
	assert.Equal(t, 3, res.Examples)

	assert.Equal(t, snapshot(t, src, p), snapshot(t, dst, p2))
}
