package label

// parse.go turns raw imported values into labels.
//
// Raw values come from the format parsers and are loosely typed: strings
// from CSV cells, json.Number/float64/string/[]any/map[string]any from JSON
// sources. Parse validates shape and range; a value that has the right
// shape but invalid content (for example start >= end) is a ValidationError
// the caller decides what to do with.

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ValidationError reports a raw label value that failed shape or range rules.
type ValidationError struct {
	Kind    Kind
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s label %s: %s", e.Kind, describe(e.Value), e.Message)
}

func invalid(kind Kind, value any, format string, args ...any) error {
	return ValidationError{Kind: kind, Value: value, Message: fmt.Sprintf(format, args...)}
}

// Parse builds a label of the given kind for the example identified by
// exampleUUID. The label gets a fresh UUID.
func Parse(kind Kind, exampleUUID uuid.UUID, raw any) (Label, error) {
	var (
		l   Label
		err error
	)
	switch kind {
	case KindCategory:
		l, err = ParseCategory(raw)
	case KindSpan:
		l, err = ParseSpan(raw)
	case KindText:
		l, err = ParseText(raw)
	case KindRelation:
		l, err = ParseRelation(raw)
	case KindBoundingBox:
		l, err = ParseBoundingBox(raw)
	case KindSegmentation:
		l, err = ParseSegmentation(raw)
	default:
		return nil, fmt.Errorf("unknown label kind: %q", kind)
	}
	if err != nil {
		return nil, err
	}
	b := l.Common()
	b.UUID = uuid.New()
	b.ExampleUUID = exampleUUID
	return l, nil
}

// ParseCategory accepts a non-empty scalar.
func ParseCategory(raw any) (*Category, error) {
	s, ok := scalarText(raw)
	if !ok {
		return nil, invalid(KindCategory, raw, "expected a string")
	}
	if s == "" {
		return nil, invalid(KindCategory, raw, "label is empty")
	}
	return &Category{Label: s}, nil
}

// ParseText accepts a non-empty scalar.
func ParseText(raw any) (*Text, error) {
	s, ok := scalarText(raw)
	if !ok {
		return nil, invalid(KindText, raw, "expected a string")
	}
	if s == "" {
		return nil, invalid(KindText, raw, "text is empty")
	}
	return &Text{Text: s}, nil
}

// ParseSpan accepts either [start, end, label] or a mapping with
// start_offset, end_offset and label (plus an optional batch id under "id").
func ParseSpan(raw any) (*Span, error) {
	var (
		start, end any
		lbl        any
		id         any
	)
	switch v := raw.(type) {
	case []any:
		if len(v) != 3 {
			return nil, invalid(KindSpan, raw, "expected [start_offset, end_offset, label]")
		}
		start, end, lbl = v[0], v[1], v[2]
	case map[string]any:
		start, end, lbl, id = v["start_offset"], v["end_offset"], v["label"], v["id"]
	default:
		return nil, invalid(KindSpan, raw, "expected a list or an object")
	}

	s, ok := toInt(start)
	if !ok {
		return nil, invalid(KindSpan, raw, "start_offset is not an integer")
	}
	e, ok := toInt(end)
	if !ok {
		return nil, invalid(KindSpan, raw, "end_offset is not an integer")
	}
	if s < 0 || e < 0 {
		return nil, invalid(KindSpan, raw, "offsets must be non-negative")
	}
	if s >= e {
		return nil, invalid(KindSpan, raw, "start_offset %d must be less than end_offset %d", s, e)
	}
	text, ok := scalarText(lbl)
	if !ok || text == "" {
		return nil, invalid(KindSpan, raw, "label is empty")
	}

	span := &Span{StartOffset: s, EndOffset: e, Label: text}
	if id != nil {
		n, ok := toInt(id)
		if !ok {
			return nil, invalid(KindSpan, raw, "id is not an integer")
		}
		span.BatchID, span.HasBatchID = n, true
	}
	return span, nil
}

// ParseRelation accepts a mapping with from_id, to_id and type.
func ParseRelation(raw any) (*Relation, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, invalid(KindRelation, raw, "expected an object")
	}
	from, ok := toInt(m["from_id"])
	if !ok {
		return nil, invalid(KindRelation, raw, "from_id is not an integer")
	}
	to, ok := toInt(m["to_id"])
	if !ok {
		return nil, invalid(KindRelation, raw, "to_id is not an integer")
	}
	typ, ok := scalarText(m["type"])
	if !ok || typ == "" {
		return nil, invalid(KindRelation, raw, "type is empty")
	}
	return &Relation{FromID: from, ToID: to, Type: typ}, nil
}

// ParseBoundingBox accepts a mapping with x, y, width, height and label.
func ParseBoundingBox(raw any) (*BoundingBox, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, invalid(KindBoundingBox, raw, "expected an object")
	}
	var geom [4]float64
	for i, key := range []string{"x", "y", "width", "height"} {
		f, ok := toFloat(m[key])
		if !ok {
			return nil, invalid(KindBoundingBox, raw, "%s is not a number", key)
		}
		if f < 0 {
			return nil, invalid(KindBoundingBox, raw, "%s must be non-negative", key)
		}
		geom[i] = f
	}
	if geom[2] == 0 || geom[3] == 0 {
		return nil, invalid(KindBoundingBox, raw, "width and height must be positive")
	}
	text, ok := scalarText(m["label"])
	if !ok || text == "" {
		return nil, invalid(KindBoundingBox, raw, "label is empty")
	}
	return &BoundingBox{X: geom[0], Y: geom[1], Width: geom[2], Height: geom[3], Label: text}, nil
}

// ParseSegmentation accepts a mapping with points (flat x,y list) and label.
func ParseSegmentation(raw any) (*Segmentation, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, invalid(KindSegmentation, raw, "expected an object")
	}
	list, ok := m["points"].([]any)
	if !ok {
		return nil, invalid(KindSegmentation, raw, "points is not a list")
	}
	if len(list) < 6 || len(list)%2 != 0 {
		return nil, invalid(KindSegmentation, raw, "points must hold at least three x,y pairs")
	}
	points := make([]float64, len(list))
	for i, p := range list {
		f, ok := toFloat(p)
		if !ok {
			return nil, invalid(KindSegmentation, raw, "point %d is not a number", i)
		}
		points[i] = f
	}
	text, ok := scalarText(m["label"])
	if !ok || text == "" {
		return nil, invalid(KindSegmentation, raw, "label is empty")
	}
	return &Segmentation{Points: points, Label: text}, nil
}

// WellFormed reports whether raw has the structure a kind expects, without
// checking ranges. Record building uses it to drop malformed list elements
// silently while still surfacing range errors from Parse.
func WellFormed(kind Kind, raw any) bool {
	switch kind {
	case KindCategory, KindText:
		_, ok := scalarText(raw)
		return ok
	case KindSpan:
		switch v := raw.(type) {
		case []any:
			return len(v) == 3
		case map[string]any:
			return hasKeys(v, "start_offset", "end_offset", "label")
		}
		return false
	case KindRelation:
		m, ok := raw.(map[string]any)
		return ok && hasKeys(m, "from_id", "to_id", "type")
	case KindBoundingBox:
		m, ok := raw.(map[string]any)
		return ok && hasKeys(m, "x", "y", "width", "height", "label")
	case KindSegmentation:
		m, ok := raw.(map[string]any)
		return ok && hasKeys(m, "points", "label")
	default:
		return false
	}
}

func hasKeys(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if v, ok := m[k]; !ok || v == nil {
			return false
		}
	}
	return true
}

// scalarText coerces strings, numbers and booleans to trimmed text.
func scalarText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int(t), true
	case json.Number:
		n, err := strconv.Atoi(t.String())
		return n, err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func describe(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	if len(b) > 80 {
		return string(b[:77]) + "..."
	}
	return string(b)
}
