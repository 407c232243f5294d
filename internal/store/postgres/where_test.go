package postgres

import (
	"strings"
	"testing"

	"github.com/JonMunkholm/labelflow/internal/label"
)

// ============================================================================
// WhereBuilder Tests
// ============================================================================

func TestNewWhereBuilder(t *testing.T) {
	wb := NewWhereBuilder()

	if wb.argIndex != 1 {
		t.Errorf("expected argIndex to be 1, got %d", wb.argIndex)
	}
	if len(wb.conditions) != 0 || len(wb.args) != 0 {
		t.Errorf("expected empty builder, got %d conditions and %d args", len(wb.conditions), len(wb.args))
	}
}

func TestWhereBuilder_Build_Empty(t *testing.T) {
	where, args := NewWhereBuilder().Build()

	if where != "" {
		t.Errorf("expected empty clause, got %q", where)
	}
	if args != nil {
		t.Errorf("expected nil args, got %v", args)
	}
}

func TestWhereBuilder_Add(t *testing.T) {
	wb := NewWhereBuilder()
	wb.Add("e.project_id", int64(4))
	wb.Add("kind", "span")

	where, args := wb.Build()

	if want := " WHERE e.project_id = $1 AND kind = $2"; where != want {
		t.Errorf("expected %q, got %q", want, where)
	}
	if len(args) != 2 || args[0] != int64(4) || args[1] != "span" {
		t.Errorf("unexpected args %v", args)
	}
}

func TestWhereBuilder_Add_ZeroValuesSkipped(t *testing.T) {
	wb := NewWhereBuilder()
	wb.Add("a", "")
	wb.Add("b", int64(0))
	wb.Add("c", nil)
	wb.Add("d", "x")

	where, args := wb.Build()

	if want := " WHERE d = $1"; where != want {
		t.Errorf("expected %q, got %q", want, where)
	}
	if len(args) != 1 {
		t.Fatalf("expected 1 arg, got %d", len(args))
	}
}

func TestWhereBuilder_AddIn(t *testing.T) {
	wb := NewWhereBuilder()
	AddIn(wb, "l.example_id", []int64{1, 2, 3})
	AddIn(wb, "l.user_id", []int64{})
	AddIn(wb, "l.type_id", []int64{9})

	where, args := wb.Build()

	if want := " WHERE l.example_id = ANY($1) AND l.type_id = ANY($2)"; where != want {
		t.Errorf("expected %q, got %q", want, where)
	}
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(args))
	}
	if ids, ok := args[0].([]int64); !ok || len(ids) != 3 {
		t.Errorf("expected first arg to be the id list, got %v", args[0])
	}
}

func TestWhereBuilder_NextArgIndex(t *testing.T) {
	wb := NewWhereBuilder()
	if wb.NextArgIndex() != 1 {
		t.Errorf("expected 1, got %d", wb.NextArgIndex())
	}

	wb.Add("a", "x")
	AddIn(wb, "b", []string{"y"})
	wb.AddRaw("c IS NOT NULL")

	if wb.NextArgIndex() != 3 {
		t.Errorf("expected 3, got %d", wb.NextArgIndex())
	}
	where, _ := wb.Build()
	if want := " WHERE a = $1 AND b = ANY($2) AND c IS NOT NULL"; where != want {
		t.Errorf("expected %q, got %q", want, where)
	}
}

func TestInsertStatementArgs(t *testing.T) {
	tests := []struct {
		name  string
		label label.Label
		args  int
	}{
		{"category", &label.Category{Label: "pos"}, 4},
		{"span", &label.Span{StartOffset: 0, EndOffset: 3, Label: "PER"}, 6},
		{"text", &label.Text{Text: "hi"}, 4},
		{"relation", &label.Relation{FromSpanID: 1, ToSpanID: 2}, 6},
		{"bbox", &label.BoundingBox{Width: 1, Height: 1}, 8},
		{"segmentation", &label.Segmentation{Points: []float64{0, 0, 1, 0, 1, 1}}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := insertStatement(tt.label)
			if len(args) != tt.args {
				t.Errorf("expected %d args, got %d", tt.args, len(args))
			}
			if !strings.Contains(query, "RETURNING id") {
				t.Errorf("insert must return the new id: %s", query)
			}
		})
	}
}
