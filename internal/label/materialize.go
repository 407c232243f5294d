package label

import (
	"fmt"

	"github.com/google/uuid"
)

// TypeLookup resolves type names to persisted type ids.
type TypeLookup interface {
	TypeID(kind TypeKind, text string) (int64, bool)
}

// SpanResolver maps a span's batch-relative id on an example to the
// persisted span id.
type SpanResolver interface {
	ResolveSpan(batchID int, exampleUUID uuid.UUID) (int64, bool)
}

// UnresolvedError reports a label whose references could not be bound.
type UnresolvedError struct {
	Kind    Kind
	Message string
}

func (e UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved %s label: %s", e.Kind, e.Message)
}

// Materialize binds a parsed label to its owner, its persisted example and
// its persisted type. Relations additionally resolve their endpoints through
// spans, which may be nil for every other kind.
func Materialize(l Label, userID, exampleID int64, types TypeLookup, spans SpanResolver) error {
	b := l.Common()
	b.UserID = userID
	b.ExampleID = exampleID

	if req, ok := l.RequiredType(); ok {
		id, found := types.TypeID(req.Kind, req.Text)
		if !found {
			return UnresolvedError{Kind: l.Kind(), Message: fmt.Sprintf("no %s type named %q", req.Kind, req.Text)}
		}
		b.TypeID = id
	}

	switch v := l.(type) {
	case *Category, *Span, *Text, *BoundingBox, *Segmentation:
		return nil
	case *Relation:
		if spans == nil {
			return UnresolvedError{Kind: KindRelation, Message: "no span index available"}
		}
		from, ok := spans.ResolveSpan(v.FromID, b.ExampleUUID)
		if !ok {
			return UnresolvedError{Kind: KindRelation, Message: fmt.Sprintf("from_id %d does not match a span on this example", v.FromID)}
		}
		to, ok := spans.ResolveSpan(v.ToID, b.ExampleUUID)
		if !ok {
			return UnresolvedError{Kind: KindRelation, Message: fmt.Sprintf("to_id %d does not match a span on this example", v.ToID)}
		}
		v.FromSpanID, v.ToSpanID = from, to
		return nil
	default:
		return fmt.Errorf("label: unhandled variant %T", l)
	}
}
