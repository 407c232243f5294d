package export

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/JonMunkholm/labelflow/internal/catalog"
	"github.com/JonMunkholm/labelflow/internal/label"
	"github.com/JonMunkholm/labelflow/internal/parser"
)

// JoinText renders label texts as one comma separated string.
func JoinText(texts []string) string {
	return strings.Join(texts, ",")
}

// ListText renders label texts as a list.
func ListText(texts []string) []string {
	if texts == nil {
		return []string{}
	}
	return texts
}

// SpanTuple is the [start, end, label] form of a span.
type SpanTuple [3]any

// SpanTuples renders spans as tuples.
func SpanTuples(spans []*label.Span) []SpanTuple {
	out := make([]SpanTuple, len(spans))
	for i, s := range spans {
		out[i] = SpanTuple{s.StartOffset, s.EndOffset, s.Label}
	}
	return out
}

// Entity is the object form of a span.
type Entity struct {
	ID          int64  `json:"id"`
	Label       string `json:"label"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}

// RelationDict is the object form of a relation. FromID and ToID are entity ids.
type RelationDict struct {
	ID     int64  `json:"id"`
	FromID int64  `json:"from_id"`
	ToID   int64  `json:"to_id"`
	Type   string `json:"type"`
}

// EntityDicts renders spans as entities and relations between them. A
// relation pointing at a span that is not in spans is an error.
func EntityDicts(spans []*label.Span, relations []*label.Relation) ([]Entity, []RelationDict, error) {
	entities := make([]Entity, len(spans))
	known := make(map[int64]bool, len(spans))
	for i, s := range spans {
		entities[i] = Entity{ID: s.ID, Label: s.Label, StartOffset: s.StartOffset, EndOffset: s.EndOffset}
		known[s.ID] = true
	}
	rels := make([]RelationDict, 0, len(relations))
	for _, r := range relations {
		for _, end := range []int64{r.FromSpanID, r.ToSpanID} {
			if !known[end] {
				return nil, nil, fmt.Errorf("relation %d references span %d which is not part of this record", r.ID, end)
			}
		}
		rels = append(rels, RelationDict{ID: r.ID, FromID: r.FromSpanID, ToID: r.ToSpanID, Type: r.Type})
	}
	return entities, rels, nil
}

// Shape is the object form of a bounding box or segmentation.
type Shape struct {
	Label  string    `json:"label"`
	X      *float64  `json:"x,omitempty"`
	Y      *float64  `json:"y,omitempty"`
	Width  *float64  `json:"width,omitempty"`
	Height *float64  `json:"height,omitempty"`
	Points []float64 `json:"points,omitempty"`
}

// Shapes renders bounding boxes and segmentations.
func Shapes(labels []label.Label) ([]Shape, error) {
	out := make([]Shape, 0, len(labels))
	for _, l := range labels {
		switch v := l.(type) {
		case *label.BoundingBox:
			x, y, w, h := v.X, v.Y, v.Width, v.Height
			out = append(out, Shape{Label: v.Label, X: &x, Y: &y, Width: &w, Height: &h})
		case *label.Segmentation:
			out = append(out, Shape{Label: v.Label, Points: slices.Clone(v.Points)})
		default:
			return nil, fmt.Errorf("%s label cannot be rendered as a shape", l.Kind())
		}
	}
	return out, nil
}

// FastTextLine renders "__label__a __label__b text" followed by one
// " __comment__c" per comment.
func FastTextLine(labels []string, text string, comments []string) string {
	var b strings.Builder
	for _, l := range labels {
		b.WriteString(parser.DefaultLabelPrefix)
		b.WriteString(strings.Join(strings.Fields(l), "_"))
		b.WriteByte(' ')
	}
	b.WriteString(oneLine(text))
	for _, c := range comments {
		b.WriteString(" __comment__")
		b.WriteString(oneLine(c))
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// formatColumn renders the labels of one record for one export column.
// With merge set, values from several users are de-duplicated and sorted.
func formatColumn(c catalog.Column, labels []label.Label, merge bool) (any, error) {
	of := filterKind(labels, c.Kind)

	switch c.Formatter {
	case catalog.FormatJoin, catalog.FormatList:
		texts := make([]string, 0, len(of))
		for _, l := range of {
			texts = append(texts, labelText(l))
		}
		if merge {
			slices.Sort(texts)
			texts = slices.Compact(texts)
		}
		if c.Formatter == catalog.FormatJoin {
			return JoinText(texts), nil
		}
		return ListText(texts), nil

	case catalog.FormatSpanTuples:
		spans := label.OfKind[*label.Span](of)
		if merge {
			spans = mergeSpans(spans, nil)
		}
		return SpanTuples(spans), nil

	case catalog.FormatEntities:
		return formatEntities(labels, merge)

	case catalog.FormatRelations:
		_, rels, err := entitiesAndRelations(labels, merge)
		return rels, err

	case catalog.FormatShapes:
		if merge {
			of = mergeShapes(of)
		}
		return Shapes(of)

	default:
		return nil, fmt.Errorf("unknown formatter %q", c.Formatter)
	}
}

func formatEntities(labels []label.Label, merge bool) ([]Entity, error) {
	entities, _, err := entitiesAndRelations(labels, merge)
	return entities, err
}

func entitiesAndRelations(labels []label.Label, merge bool) ([]Entity, []RelationDict, error) {
	spans := label.OfKind[*label.Span](labels)
	relations := label.OfKind[*label.Relation](labels)
	if !merge {
		return EntityDicts(spans, relations)
	}

	remap := make(map[int64]int64)
	spans = mergeSpans(spans, remap)
	remapped := make([]*label.Relation, len(relations))
	for i, r := range relations {
		cp := *r
		if id, ok := remap[cp.FromSpanID]; ok {
			cp.FromSpanID = id
		}
		if id, ok := remap[cp.ToSpanID]; ok {
			cp.ToSpanID = id
		}
		remapped[i] = &cp
	}
	entities, rels, err := EntityDicts(spans, remapped)
	if err != nil {
		return nil, nil, err
	}
	slices.SortFunc(rels, func(a, b RelationDict) int {
		return cmp.Or(cmp.Compare(a.FromID, b.FromID), cmp.Compare(a.ToID, b.ToID), strings.Compare(a.Type, b.Type))
	})
	rels = slices.CompactFunc(rels, func(a, b RelationDict) bool {
		return a.FromID == b.FromID && a.ToID == b.ToID && a.Type == b.Type
	})
	return entities, rels, nil
}

// mergeSpans sorts spans by (start, end, label) and drops duplicates. When
// remap is not nil it records the id each dropped duplicate collapsed into.
func mergeSpans(spans []*label.Span, remap map[int64]int64) []*label.Span {
	sorted := slices.Clone(spans)
	slices.SortStableFunc(sorted, compareSpans)
	out := sorted[:0:0]
	for _, s := range sorted {
		if n := len(out); n > 0 && compareSpans(out[n-1], s) == 0 {
			if remap != nil {
				remap[s.ID] = out[n-1].ID
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

func compareSpans(a, b *label.Span) int {
	return cmp.Or(
		cmp.Compare(a.StartOffset, b.StartOffset),
		cmp.Compare(a.EndOffset, b.EndOffset),
		strings.Compare(a.Label, b.Label),
	)
}

// mergeShapes orders shapes by label then geometry and drops duplicates.
func mergeShapes(labels []label.Label) []label.Label {
	key := func(l label.Label) string {
		switch v := l.(type) {
		case *label.BoundingBox:
			return fmt.Sprintf("%s\x00%g,%g,%g,%g", v.Label, v.X, v.Y, v.Width, v.Height)
		case *label.Segmentation:
			return fmt.Sprintf("%s\x00%v", v.Label, v.Points)
		default:
			return ""
		}
	}
	sorted := slices.Clone(labels)
	slices.SortStableFunc(sorted, func(a, b label.Label) int { return strings.Compare(key(a), key(b)) })
	return slices.CompactFunc(sorted, func(a, b label.Label) bool { return key(a) == key(b) })
}

func filterKind(labels []label.Label, kind label.Kind) []label.Label {
	var out []label.Label
	for _, l := range labels {
		if l.Kind() == kind {
			out = append(out, l)
		}
	}
	return out
}

func labelText(l label.Label) string {
	if t, ok := l.(*label.Text); ok {
		return t.Text
	}
	return label.TypeText(l)
}
