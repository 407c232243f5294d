// Package consistency enforces the per-project annotation rules: category
// exclusivity, span overlap and text uniqueness.
//
// The same rules run in two places. [Cleaner] filters a batch of imported
// labels before they are persisted and never fails. [CanAnnotate] decides
// whether a single new label may be added next to existing ones. For one
// candidate against a fixed set of existing labels both give the same answer.
package consistency

import (
	"cmp"
	"errors"
	"slices"
	"sort"

	"github.com/google/uuid"

	"github.com/JonMunkholm/labelflow/internal/label"
	"github.com/JonMunkholm/labelflow/internal/project"
)

// ErrRejected is returned by callers of CanAnnotate when a label would break
// the project's annotation rules.
var ErrRejected = errors.New("label conflicts with existing labels")

// Overlapping reports whether span a overlaps span b:
//
//	b.s <= a.s < b.e, or b.s < a.e <= b.e, or a strictly contains b.
//
// For non-empty spans the relation is symmetric.
func Overlapping(a, b *label.Span) bool {
	switch {
	case b.StartOffset <= a.StartOffset && a.StartOffset < b.EndOffset:
		return true
	case b.StartOffset < a.EndOffset && a.EndOffset <= b.EndOffset:
		return true
	case a.StartOffset < b.StartOffset && b.EndOffset < a.EndOffset:
		return true
	}
	return false
}

// CanAnnotate reports whether candidate may be added to its example given
// the labels already stored there. Existing labels outside the candidate's
// scope are ignored: other examples always, and other users' labels unless
// the project is collaborative.
func CanAnnotate(policy project.Policy, candidate label.Label, existing []label.Label) bool {
	scoped := make([]label.Label, 0, len(existing))
	for _, e := range existing {
		if e.Kind() == candidate.Kind() && inScope(policy, candidate, e) {
			scoped = append(scoped, e)
		}
	}

	switch c := candidate.(type) {
	case *label.Category:
		if policy.SingleClassClassification {
			return len(scoped) == 0
		}
		for _, e := range scoped {
			if sameCategory(c, e.(*label.Category)) {
				return false
			}
		}
		return true
	case *label.Span:
		if policy.AllowOverlapping {
			return true
		}
		for _, e := range scoped {
			if Overlapping(c, e.(*label.Span)) {
				return false
			}
		}
		return true
	case *label.Text:
		for _, e := range scoped {
			if e.(*label.Text).Text == c.Text {
				return false
			}
		}
		return true
	case *label.Relation, *label.BoundingBox, *label.Segmentation:
		return true
	default:
		return false
	}
}

func inScope(policy project.Policy, candidate, other label.Label) bool {
	a, b := candidate.Common(), other.Common()
	if !sameExample(a, b) {
		return false
	}
	return policy.CollaborativeAnnotation || a.UserID == b.UserID
}

func sameExample(a, b *label.Base) bool {
	if a.ExampleID != 0 && b.ExampleID != 0 {
		return a.ExampleID == b.ExampleID
	}
	return a.ExampleUUID == b.ExampleUUID
}

// Categories are the same when they name the same type.
func sameCategory(a, b *label.Category) bool {
	if a.TypeID != 0 && b.TypeID != 0 {
		return a.TypeID == b.TypeID
	}
	return a.Label == b.Label
}

// scope groups labels the rules compare against each other. User is zero
// for collaborative projects.
type scope struct {
	example uuid.UUID
	user    int64
}

// Cleaner filters labels of a batch according to a project policy.
type Cleaner struct {
	policy project.Policy
}

// NewCleaner returns a cleaner for policy.
func NewCleaner(policy project.Policy) *Cleaner {
	return &Cleaner{policy: policy}
}

// Clean removes labels that break the policy. See [Cleaner.CleanAgainst].
func (c *Cleaner) Clean(candidates []label.Label) []label.Label {
	return c.CleanAgainst(nil, candidates)
}

// CleanAgainst removes candidates that break the policy, either among
// themselves or against existing, which is never modified. Labels are
// grouped per example by ExampleUUID.
//
// The result is ordered by kind (as in label.Kinds). Within a kind the input
// order is kept, except that the kept spans of each example are sorted by
// start offset when overlaps are forbidden.
func (c *Cleaner) CleanAgainst(existing, candidates []label.Label) []label.Label {
	byKind := make(map[label.Kind][]label.Label, len(label.Kinds))
	for _, l := range candidates {
		byKind[l.Kind()] = append(byKind[l.Kind()], l)
	}
	fixed := make(map[label.Kind]map[scope][]label.Label)
	for _, l := range existing {
		if fixed[l.Kind()] == nil {
			fixed[l.Kind()] = make(map[scope][]label.Label)
		}
		k := c.scopeOf(l)
		fixed[l.Kind()][k] = append(fixed[l.Kind()][k], l)
	}

	out := make([]label.Label, 0, len(candidates))
	for _, kind := range label.Kinds {
		group := byKind[kind]
		if len(group) == 0 {
			continue
		}
		switch kind {
		case label.KindCategory:
			out = append(out, c.cleanCategories(fixed[kind], group)...)
		case label.KindSpan:
			out = append(out, c.cleanSpans(fixed[kind], group)...)
		case label.KindText:
			out = append(out, c.cleanTexts(fixed[kind], group)...)
		default:
			out = append(out, group...)
		}
	}
	return out
}

func (c *Cleaner) scopeOf(l label.Label) scope {
	b := l.Common()
	s := scope{example: b.ExampleUUID}
	if !c.policy.CollaborativeAnnotation {
		s.user = b.UserID
	}
	return s
}

func (c *Cleaner) cleanCategories(fixed map[scope][]label.Label, group []label.Label) []label.Label {
	taken := make(map[scope][]*label.Category)
	for k, ls := range fixed {
		taken[k] = label.OfKind[*label.Category](ls)
	}

	out := make([]label.Label, 0, len(group))
	for _, l := range group {
		cat := l.(*label.Category)
		k := c.scopeOf(l)
		if c.policy.SingleClassClassification {
			if len(taken[k]) > 0 {
				continue
			}
		} else if slices.ContainsFunc(taken[k], func(o *label.Category) bool { return sameCategory(cat, o) }) {
			continue
		}
		taken[k] = append(taken[k], cat)
		out = append(out, l)
	}
	return out
}

func (c *Cleaner) cleanTexts(fixed map[scope][]label.Label, group []label.Label) []label.Label {
	seen := make(map[scope]map[string]bool)
	mark := func(k scope, text string) {
		if seen[k] == nil {
			seen[k] = make(map[string]bool)
		}
		seen[k][text] = true
	}
	for k, ls := range fixed {
		for _, t := range label.OfKind[*label.Text](ls) {
			mark(k, t.Text)
		}
	}

	out := make([]label.Label, 0, len(group))
	for _, l := range group {
		t := l.(*label.Text)
		k := c.scopeOf(l)
		if seen[k][t.Text] {
			continue
		}
		mark(k, t.Text)
		out = append(out, l)
	}
	return out
}

// cleanSpans runs the greedy interval partition per scope: spans are stably
// sorted by start offset and a span is kept iff it starts at or after the
// end of the last kept one and overlaps no existing span. Runs in
// O(n log n + n log m) for n candidates and m existing spans.
func (c *Cleaner) cleanSpans(fixed map[scope][]label.Label, group []label.Label) []label.Label {
	if c.policy.AllowOverlapping {
		return group
	}

	var order []scope
	groups := make(map[scope][]*label.Span)
	for _, l := range group {
		k := c.scopeOf(l)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], l.(*label.Span))
	}

	out := make([]label.Label, 0, len(group))
	for _, k := range order {
		spans := groups[k]
		// Span keys order by start offset only; equal starts keep input order.
		slices.SortStableFunc(spans, func(a, b *label.Span) int {
			return cmp.Compare(a.Key().Offset, b.Key().Offset)
		})
		blocked := newIntervalSet(label.OfKind[*label.Span](fixed[k]))

		lastEnd := -1
		for _, s := range spans {
			if s.StartOffset < lastEnd || blocked.overlaps(s) {
				continue
			}
			lastEnd = s.EndOffset
			out = append(out, s)
		}
	}
	return out
}

// intervalSet answers "does this span overlap any of a fixed set" in
// O(log n) using spans sorted by start and a running maximum of their ends.
type intervalSet struct {
	starts []int
	maxEnd []int
}

func newIntervalSet(spans []*label.Span) intervalSet {
	sorted := slices.Clone(spans)
	slices.SortFunc(sorted, func(a, b *label.Span) int {
		return cmp.Compare(a.StartOffset, b.StartOffset)
	})
	set := intervalSet{
		starts: make([]int, len(sorted)),
		maxEnd: make([]int, len(sorted)),
	}
	for i, s := range sorted {
		set.starts[i] = s.StartOffset
		set.maxEnd[i] = s.EndOffset
		if i > 0 && set.maxEnd[i-1] > s.EndOffset {
			set.maxEnd[i] = set.maxEnd[i-1]
		}
	}
	return set
}

func (s intervalSet) overlaps(span *label.Span) bool {
	// spans starting before span ends are the only candidates
	n := sort.SearchInts(s.starts, span.EndOffset)
	return n > 0 && s.maxEnd[n-1] > span.StartOffset
}
