// Package postgres implements store.Store on PostgreSQL with pgx.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/labelflow/internal/label"
	"github.com/JonMunkholm/labelflow/internal/labeltype"
	"github.com/JonMunkholm/labelflow/internal/project"
	"github.com/JonMunkholm/labelflow/internal/store"
)

//go:embed schema.sql
var schema string

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	SendBatch(context.Context, *pgx.Batch) pgx.BatchResults
	CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error)
}

// Store is a store.Store backed by a connection pool.
type Store struct {
	db DBTX
}

var _ store.Store = (*Store)(nil)

// New wraps a pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

// Migrate creates missing tables and indexes.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// foreign_key_violation
const fkViolation = "23503"

func isFKViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == fkViolation
}

func toPgUUID(u uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: u, Valid: true}
}

func toPgUUIDs(us []uuid.UUID) []pgtype.UUID {
	out := make([]pgtype.UUID, len(us))
	for i, u := range us {
		out[i] = toPgUUID(u)
	}
	return out
}

// ----------------------------------------------------------------------------
// Projects
// ----------------------------------------------------------------------------

func (s *Store) Project(ctx context.Context, projectID int64) (project.Project, error) {
	var (
		p   project.Project
		typ string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, name, project_type, collaborative_annotation, single_class_classification, allow_overlapping
		FROM projects WHERE id = $1`, projectID).
		Scan(&p.ID, &p.Name, &typ, &p.Policy.CollaborativeAnnotation, &p.Policy.SingleClassClassification, &p.Policy.AllowOverlapping)
	if errors.Is(err, pgx.ErrNoRows) {
		return project.Project{}, fmt.Errorf("project %d: %w", projectID, store.ErrNotFound)
	}
	if err != nil {
		return project.Project{}, fmt.Errorf("get project %d: %w", projectID, err)
	}
	if p.Type, err = project.ParseType(typ); err != nil {
		return project.Project{}, fmt.Errorf("project %d: %w", projectID, err)
	}
	return p, nil
}

func (s *Store) Members(ctx context.Context, projectID int64) ([]project.Member, error) {
	rows, err := s.db.Query(ctx, `
		SELECT m.user_id, u.username
		FROM members m JOIN users u ON u.id = m.user_id
		WHERE m.project_id = $1
		ORDER BY u.username`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	members, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (project.Member, error) {
		var m project.Member
		err := row.Scan(&m.UserID, &m.Username)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan members: %w", err)
	}
	return members, nil
}

// ----------------------------------------------------------------------------
// Label types
// ----------------------------------------------------------------------------

func (s *Store) LabelTypes(ctx context.Context, projectID int64, kind label.TypeKind) ([]labeltype.LabelType, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, project_id, kind, text, background_color, text_color
		FROM label_types WHERE project_id = $1 AND kind = $2
		ORDER BY id`, projectID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list label types: %w", err)
	}
	types, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (labeltype.LabelType, error) {
		var (
			t labeltype.LabelType
			k string
		)
		err := row.Scan(&t.ID, &t.ProjectID, &k, &t.Text, &t.BackgroundColor, &t.TextColor)
		t.Kind = label.TypeKind(k)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan label types: %w", err)
	}
	return types, nil
}

func (s *Store) InsertLabelTypes(ctx context.Context, projectID int64, types []labeltype.LabelType) error {
	if len(types) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range types {
		batch.Queue(`
			INSERT INTO label_types (project_id, kind, text, background_color, text_color)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (project_id, kind, text) DO NOTHING`,
			projectID, string(t.Kind), t.Text, t.BackgroundColor, t.TextColor)
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert label types: %w", err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Examples
// ----------------------------------------------------------------------------

var exampleColumns = []string{"uuid", "project_id", "text", "filename", "upload_name", "meta", "created_at"}

func (s *Store) InsertExamples(ctx context.Context, examples []*store.Example) (map[uuid.UUID]int64, error) {
	if len(examples) == 0 {
		return map[uuid.UUID]int64{}, nil
	}

	now := time.Now()
	uuids := make([]uuid.UUID, len(examples))
	rows := make([][]any, len(examples))
	for i, e := range examples {
		meta, err := json.Marshal(e.Meta)
		if err != nil {
			return nil, fmt.Errorf("encode meta for example %s: %w", e.UUID, err)
		}
		if e.Meta == nil {
			meta = []byte("{}")
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		uuids[i] = e.UUID
		rows[i] = []any{toPgUUID(e.UUID), e.ProjectID, e.Text, e.Filename, e.UploadName, meta, e.CreatedAt}
	}

	if _, err := s.db.CopyFrom(ctx, pgx.Identifier{"examples"}, exampleColumns, pgx.CopyFromRows(rows)); err != nil {
		return nil, fmt.Errorf("copy examples: %w", err)
	}

	ids, err := s.exampleIDs(ctx, uuids)
	if err != nil {
		return nil, err
	}
	for _, e := range examples {
		id, ok := ids[e.UUID]
		if !ok {
			return nil, fmt.Errorf("example %s missing after insert", e.UUID)
		}
		e.ID = id
	}
	return ids, nil
}

func (s *Store) exampleIDs(ctx context.Context, uuids []uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT uuid, id FROM examples WHERE uuid = ANY($1)`, toPgUUIDs(uuids))
	if err != nil {
		return nil, fmt.Errorf("look up example ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[uuid.UUID]int64, len(uuids))
	for rows.Next() {
		var (
			u  pgtype.UUID
			id int64
		)
		if err := rows.Scan(&u, &id); err != nil {
			return nil, fmt.Errorf("scan example id: %w", err)
		}
		ids[uuid.UUID(u.Bytes)] = id
	}
	return ids, rows.Err()
}

const exampleSelect = `
	SELECT e.id, e.uuid, e.project_id, e.text, e.filename, e.upload_name, e.meta, e.created_at,
		COALESCE(array_agg(s.confirmed_by ORDER BY s.confirmed_by) FILTER (WHERE s.confirmed_by IS NOT NULL), '{}')
	FROM examples e
	LEFT JOIN example_states s ON s.example_id = e.id`

func (s *Store) ExamplesByUUID(ctx context.Context, projectID int64, uuids []uuid.UUID) ([]store.Example, error) {
	return s.queryExamples(ctx, exampleSelect+`
		WHERE e.project_id = $1 AND e.uuid = ANY($2)
		GROUP BY e.id ORDER BY e.id`, projectID, toPgUUIDs(uuids))
}

func (s *Store) Examples(ctx context.Context, projectID int64) ([]store.Example, error) {
	return s.queryExamples(ctx, exampleSelect+`
		WHERE e.project_id = $1
		GROUP BY e.id ORDER BY e.id`, projectID)
}

func (s *Store) queryExamples(ctx context.Context, query string, args ...any) ([]store.Example, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query examples: %w", err)
	}
	examples, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Example, error) {
		var (
			e    store.Example
			u    pgtype.UUID
			meta []byte
		)
		if err := row.Scan(&e.ID, &u, &e.ProjectID, &e.Text, &e.Filename, &e.UploadName, &meta, &e.CreatedAt, &e.ConfirmedBy); err != nil {
			return e, err
		}
		e.UUID = uuid.UUID(u.Bytes)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return e, fmt.Errorf("decode meta of example %d: %w", e.ID, err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan examples: %w", err)
	}
	return examples, nil
}

func (s *Store) ConfirmExample(ctx context.Context, exampleID, userID int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO example_states (example_id, confirmed_by) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, exampleID, userID)
	if isFKViolation(err) {
		return fmt.Errorf("example %d: %w", exampleID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("confirm example %d: %w", exampleID, err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Comments
// ----------------------------------------------------------------------------

func (s *Store) Comments(ctx context.Context, exampleIDs []int64) ([]store.Comment, error) {
	wb := NewWhereBuilder()
	AddIn(wb, "example_id", exampleIDs)
	where, args := wb.Build()

	rows, err := s.db.Query(ctx, `SELECT id, example_id, user_id, text, created_at FROM comments`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	comments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Comment, error) {
		var c store.Comment
		err := row.Scan(&c.ID, &c.ExampleID, &c.UserID, &c.Text, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan comments: %w", err)
	}
	return comments, nil
}

func (s *Store) AddComment(ctx context.Context, c store.Comment) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO comments (example_id, user_id, text) VALUES ($1, $2, $3)
		RETURNING id`, c.ExampleID, c.UserID, c.Text).Scan(&id)
	if isFKViolation(err) {
		return 0, fmt.Errorf("example %d: %w", c.ExampleID, store.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("add comment: %w", err)
	}
	return id, nil
}
