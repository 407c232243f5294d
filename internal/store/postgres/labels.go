package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/labelflow/internal/label"
	"github.com/JonMunkholm/labelflow/internal/store"
)

// labelTables maps kinds to tables and their kind-specific columns.
var labelTables = map[label.Kind]struct {
	table   string
	typed   bool
	columns string
}{
	label.KindCategory:     {"categories", true, ""},
	label.KindSpan:         {"spans", true, ", l.start_offset, l.end_offset"},
	label.KindText:         {"texts", false, ", l.text"},
	label.KindRelation:     {"relations", true, ", l.from_id, l.to_id"},
	label.KindBoundingBox:  {"bounding_boxes", true, ", l.x, l.y, l.width, l.height"},
	label.KindSegmentation: {"segmentations", true, ", l.points"},
}

// InsertLabels queues one INSERT per label in a single batch. Unique
// violations are absorbed by ON CONFLICT DO NOTHING, so a statement that
// returns no row marks a conflicting label without aborting the batch.
// Relations are only inserted when both endpoints are spans on the
// relation's own example.
func (s *Store) InsertLabels(ctx context.Context, labels []label.Label) (store.InsertResult, error) {
	var res store.InsertResult
	if len(labels) == 0 {
		return res, nil
	}

	batch := &pgx.Batch{}
	for _, l := range labels {
		b := l.Common()
		if b.UUID == uuid.Nil {
			b.UUID = uuid.New()
		}
		query, args := insertStatement(l)
		batch.Queue(query, args...)
	}

	br := s.db.SendBatch(ctx, batch)
	defer br.Close()

	for _, l := range labels {
		var id int64
		err := br.QueryRow().Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			res.Conflicts = append(res.Conflicts, store.Conflict{Label: l, Err: store.ErrConflict})
			continue
		}
		if err != nil {
			return res, fmt.Errorf("insert %s label: %w", l.Kind(), err)
		}
		l.Common().ID = id
		res.Inserted++
	}
	return res, nil
}

func insertStatement(l label.Label) (string, []any) {
	b := l.Common()
	common := []any{toPgUUID(b.UUID), b.ExampleID, b.UserID}

	switch v := l.(type) {
	case *label.Category:
		return `INSERT INTO categories (uuid, example_id, user_id, type_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING RETURNING id`,
			append(common, b.TypeID)
	case *label.Span:
		return `INSERT INTO spans (uuid, example_id, user_id, type_id, start_offset, end_offset)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT DO NOTHING RETURNING id`,
			append(common, b.TypeID, v.StartOffset, v.EndOffset)
	case *label.Text:
		return `INSERT INTO texts (uuid, example_id, user_id, text)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING RETURNING id`,
			append(common, v.Text)
	case *label.Relation:
		return `INSERT INTO relations (uuid, example_id, user_id, type_id, from_id, to_id)
			SELECT $1::uuid, $2::bigint, $3::bigint, $4::bigint, $5::bigint, $6::bigint
			WHERE EXISTS (SELECT 1 FROM spans WHERE id = $5::bigint AND example_id = $2::bigint)
			  AND EXISTS (SELECT 1 FROM spans WHERE id = $6::bigint AND example_id = $2::bigint)
			ON CONFLICT DO NOTHING RETURNING id`,
			append(common, b.TypeID, v.FromSpanID, v.ToSpanID)
	case *label.BoundingBox:
		return `INSERT INTO bounding_boxes (uuid, example_id, user_id, type_id, x, y, width, height)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			append(common, b.TypeID, v.X, v.Y, v.Width, v.Height)
	case *label.Segmentation:
		return `INSERT INTO segmentations (uuid, example_id, user_id, type_id, points)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			append(common, b.TypeID, v.Points)
	default:
		panic(fmt.Sprintf("postgres: unhandled label %T", l))
	}
}

// LabelsByUUID returns persisted labels of every kind by UUID.
func (s *Store) LabelsByUUID(ctx context.Context, uuids []uuid.UUID) ([]label.Label, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	var out []label.Label
	for _, kind := range label.Kinds {
		wb := NewWhereBuilder()
		AddIn(wb, "l.uuid", toPgUUIDs(uuids))
		ls, err := s.selectLabels(ctx, kind, wb)
		if err != nil {
			return nil, err
		}
		out = append(out, ls...)
	}
	return out, nil
}

// Labels returns labels matching f, kind by kind in label.Kinds order and by
// id within a kind.
func (s *Store) Labels(ctx context.Context, f store.LabelFilter) ([]label.Label, error) {
	kinds := f.Kinds
	if len(kinds) == 0 {
		kinds = label.Kinds
	}

	var out []label.Label
	for _, kind := range label.Kinds {
		if !contains(kinds, kind) {
			continue
		}
		if len(f.TypeIDs) > 0 && !labelTables[kind].typed {
			continue
		}
		wb := NewWhereBuilder()
		wb.Add("e.project_id", f.ProjectID)
		AddIn(wb, "l.example_id", f.ExampleIDs)
		AddIn(wb, "l.user_id", f.UserIDs)
		if labelTables[kind].typed {
			AddIn(wb, "l.type_id", f.TypeIDs)
		}
		ls, err := s.selectLabels(ctx, kind, wb)
		if err != nil {
			return nil, err
		}
		out = append(out, ls...)
	}
	return out, nil
}

func contains[T comparable](set []T, v T) bool {
	for _, x := range set {
		if x == v {
			return true
		}
	}
	return false
}

func (s *Store) selectLabels(ctx context.Context, kind label.Kind, wb *WhereBuilder) ([]label.Label, error) {
	t, ok := labelTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown label kind: %q", kind)
	}
	typeCols := "NULL::bigint, ''"
	typeJoin := ""
	if t.typed {
		typeCols = "l.type_id, lt.text"
		typeJoin = " JOIN label_types lt ON lt.id = l.type_id"
	}
	where, args := wb.Build()
	query := `SELECT l.id, l.uuid, l.example_id, e.uuid, l.user_id, ` + typeCols + t.columns +
		` FROM ` + t.table + ` l JOIN examples e ON e.id = l.example_id` + typeJoin +
		where + ` ORDER BY l.id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.table, err)
	}
	labels, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (label.Label, error) {
		return scanLabel(row, kind)
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", t.table, err)
	}
	return labels, nil
}

func scanLabel(row pgx.CollectableRow, kind label.Kind) (label.Label, error) {
	var (
		base     label.Base
		id, exID pgtype.UUID
		typeID   pgtype.Int8
		typeText string
		l        label.Label
		extra    []any
	)
	switch kind {
	case label.KindCategory:
		c := &label.Category{}
		l = c
	case label.KindSpan:
		sp := &label.Span{}
		l, extra = sp, []any{&sp.StartOffset, &sp.EndOffset}
	case label.KindText:
		tx := &label.Text{}
		l, extra = tx, []any{&tx.Text}
	case label.KindRelation:
		r := &label.Relation{}
		l, extra = r, []any{&r.FromSpanID, &r.ToSpanID}
	case label.KindBoundingBox:
		bb := &label.BoundingBox{}
		l, extra = bb, []any{&bb.X, &bb.Y, &bb.Width, &bb.Height}
	case label.KindSegmentation:
		sg := &label.Segmentation{}
		l, extra = sg, []any{&sg.Points}
	default:
		return nil, fmt.Errorf("unknown label kind: %q", kind)
	}

	dest := append([]any{&base.ID, &id, &base.ExampleID, &exID, &base.UserID, &typeID, &typeText}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	base.UUID = uuid.UUID(id.Bytes)
	base.ExampleUUID = uuid.UUID(exID.Bytes)
	if typeID.Valid {
		base.TypeID = typeID.Int64
	}

	*l.Common() = base
	label.SetTypeText(l, typeText)
	return l, nil
}
