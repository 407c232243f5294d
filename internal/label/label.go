// Package label defines the annotation variants a project can hold and the
// contract each of them follows: parse a raw imported value, expose an
// ordering key, name the label type it needs, and bind to persisted ids.
//
// The variants form a closed set. Every dispatch over them is a type switch
// over the six concrete types; [Label] cannot be implemented outside this
// package.
package label

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind names a label variant.
type Kind string

const (
	KindCategory     Kind = "category"
	KindSpan         Kind = "span"
	KindText         Kind = "text"
	KindRelation     Kind = "relation"
	KindBoundingBox  Kind = "bbox"
	KindSegmentation Kind = "segmentation"
)

// Kinds lists every label kind in canonical order.
var Kinds = []Kind{KindCategory, KindSpan, KindText, KindRelation, KindBoundingBox, KindSegmentation}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown label kind: %q", s)
}

// TypeKind is the namespace a label type lives in. Type texts are unique
// per (project, type kind).
type TypeKind string

const (
	TypeCategory TypeKind = "category"
	TypeSpan     TypeKind = "span"
	TypeRelation TypeKind = "relation"
)

// TypeRequest asks the type registry for the id of a named type.
type TypeRequest struct {
	Kind TypeKind
	Text string
}

// Origin points at the source row a label was imported from.
type Origin struct {
	Filename string
	Line     int
}

// Base carries the fields every variant shares.
type Base struct {
	ID          int64
	UUID        uuid.UUID
	ExampleID   int64
	ExampleUUID uuid.UUID
	UserID      int64
	TypeID      int64
	Origin      Origin
}

// Common returns the shared fields.
func (b *Base) Common() *Base { return b }

func (b *Base) sealed() {}

// Label is one annotation on one example by one user.
type Label interface {
	Kind() Kind
	Key() Key
	RequiredType() (TypeRequest, bool)
	Common() *Base
	sealed()
}

// Key orders labels of the same kind. Offset is compared first, Text second.
type Key struct {
	Offset int
	Text   string
}

// Less reports whether k sorts before o.
func (k Key) Less(o Key) bool {
	if k.Offset != o.Offset {
		return k.Offset < o.Offset
	}
	return k.Text < o.Text
}

// Category assigns a class to the whole example.
type Category struct {
	Base
	Label string
}

func (c *Category) Kind() Kind { return KindCategory }
func (c *Category) Key() Key   { return Key{Text: c.Label} }

func (c *Category) RequiredType() (TypeRequest, bool) {
	return TypeRequest{Kind: TypeCategory, Text: c.Label}, true
}

// Span marks the half-open character range [StartOffset, EndOffset).
type Span struct {
	Base
	StartOffset int
	EndOffset   int
	Label       string

	// BatchID is the id the source file gave this span so that relations in
	// the same file can point at it. Only meaningful when HasBatchID is set.
	BatchID    int
	HasBatchID bool
}

func (s *Span) Kind() Kind { return KindSpan }
func (s *Span) Key() Key   { return Key{Offset: s.StartOffset, Text: s.Label} }

func (s *Span) RequiredType() (TypeRequest, bool) {
	return TypeRequest{Kind: TypeSpan, Text: s.Label}, true
}

// Text is a free-form answer such as a translation or caption.
type Text struct {
	Base
	Text string
}

func (t *Text) Kind() Kind                        { return KindText }
func (t *Text) Key() Key                          { return Key{Text: t.Text} }
func (t *Text) RequiredType() (TypeRequest, bool) { return TypeRequest{}, false }

// Relation links two spans of the same example.
//
// FromID and ToID are the ids used by the source file. They are resolved to
// FromSpanID and ToSpanID once the spans of the batch are persisted.
type Relation struct {
	Base
	FromID     int
	ToID       int
	Type       string
	FromSpanID int64
	ToSpanID   int64
}

func (r *Relation) Kind() Kind { return KindRelation }
func (r *Relation) Key() Key   { return Key{Offset: r.FromID, Text: r.Type} }

func (r *Relation) RequiredType() (TypeRequest, bool) {
	return TypeRequest{Kind: TypeRelation, Text: r.Type}, true
}

// BoundingBox marks a rectangle on an image example.
type BoundingBox struct {
	Base
	X      float64
	Y      float64
	Width  float64
	Height float64
	Label  string
}

func (b *BoundingBox) Kind() Kind { return KindBoundingBox }
func (b *BoundingBox) Key() Key   { return Key{Text: b.Label} }

func (b *BoundingBox) RequiredType() (TypeRequest, bool) {
	return TypeRequest{Kind: TypeCategory, Text: b.Label}, true
}

// Segmentation marks a polygon on an image example. Points holds
// alternating x and y coordinates.
type Segmentation struct {
	Base
	Points []float64
	Label  string
}

func (s *Segmentation) Kind() Kind { return KindSegmentation }
func (s *Segmentation) Key() Key   { return Key{Text: s.Label} }

func (s *Segmentation) RequiredType() (TypeRequest, bool) {
	return TypeRequest{Kind: TypeCategory, Text: s.Label}, true
}

// TypeText returns the type name a label refers to, or "" for kinds
// without a type.
func TypeText(l Label) string {
	switch v := l.(type) {
	case *Category:
		return v.Label
	case *Span:
		return v.Label
	case *Text:
		return ""
	case *Relation:
		return v.Type
	case *BoundingBox:
		return v.Label
	case *Segmentation:
		return v.Label
	default:
		panic(fmt.Sprintf("label: unhandled variant %T", l))
	}
}

// SetTypeText sets the type name on a label loaded from storage.
func SetTypeText(l Label, text string) {
	switch v := l.(type) {
	case *Category:
		v.Label = text
	case *Span:
		v.Label = text
	case *Text:
	case *Relation:
		v.Type = text
	case *BoundingBox:
		v.Label = text
	case *Segmentation:
		v.Label = text
	default:
		panic(fmt.Sprintf("label: unhandled variant %T", l))
	}
}

// OfKind filters labels down to one variant, preserving order.
func OfKind[T Label](labels []Label) []T {
	var out []T
	for _, l := range labels {
		if v, ok := l.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
