package postgres

import (
	"fmt"
	"strings"
)

// WhereBuilder assembles a parameterized WHERE clause.
type WhereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
}

// NewWhereBuilder returns an empty builder whose first placeholder is $1.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{argIndex: 1}
}

// Add appends "column = $n". Zero values (nil, "", 0) are skipped.
func (w *WhereBuilder) Add(column string, value any) {
	switch v := value.(type) {
	case nil:
		return
	case string:
		if v == "" {
			return
		}
	case int64:
		if v == 0 {
			return
		}
	}
	w.conditions = append(w.conditions, fmt.Sprintf("%s = $%d", column, w.argIndex))
	w.args = append(w.args, value)
	w.argIndex++
}

// AddIn appends "column = ANY($n)". An empty list is skipped.
func AddIn[T any](w *WhereBuilder, column string, values []T) {
	if len(values) == 0 {
		return
	}
	w.conditions = append(w.conditions, fmt.Sprintf("%s = ANY($%d)", column, w.argIndex))
	w.args = append(w.args, values)
	w.argIndex++
}

// AddRaw appends a condition that takes no arguments.
func (w *WhereBuilder) AddRaw(condition string) {
	w.conditions = append(w.conditions, condition)
}

// Build returns the clause (with a leading " WHERE ") and its arguments,
// or "" and nil when nothing was added.
func (w *WhereBuilder) Build() (string, []any) {
	if len(w.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(w.conditions, " AND "), w.args
}

// NextArgIndex returns the number of the next placeholder.
func (w *WhereBuilder) NextArgIndex() int {
	return w.argIndex
}
