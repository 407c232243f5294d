// Package project holds the read-only project records the import and export
// pipelines are parameterized by: the project type and its annotation policy.
package project

import "fmt"

// Type identifies what kind of annotation a project collects.
type Type string

const (
	DocumentClassification        Type = "DocumentClassification"
	SequenceLabeling              Type = "SequenceLabeling"
	Seq2seq                       Type = "Seq2seq"
	IntentDetectionAndSlotFilling Type = "IntentDetectionAndSlotFilling"
	ImageClassification           Type = "ImageClassification"
	BoundingBox                   Type = "BoundingBox"
	Segmentation                  Type = "Segmentation"
	ImageCaptioning               Type = "ImageCaptioning"
	Speech2text                   Type = "Speech2text"
)

var allTypes = []Type{
	DocumentClassification,
	SequenceLabeling,
	Seq2seq,
	IntentDetectionAndSlotFilling,
	ImageClassification,
	BoundingBox,
	Segmentation,
	ImageCaptioning,
	Speech2text,
}

// ParseType validates a project type name.
func ParseType(s string) (Type, error) {
	for _, t := range allTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown project type: %q", s)
}

// FileBased reports whether examples of this project type reference an
// uploaded file (image, audio) rather than carrying their own text.
func (t Type) FileBased() bool {
	switch t {
	case ImageClassification, BoundingBox, Segmentation, ImageCaptioning, Speech2text:
		return true
	default:
		return false
	}
}

// Policy is the set of project switches that decide how labels conflict.
type Policy struct {
	// CollaborativeAnnotation makes every member's labels visible to (and
	// conflicting with) every other member. Otherwise each user only sees
	// their own labels.
	CollaborativeAnnotation bool `json:"collaborative_annotation" yaml:"collaborative_annotation"`

	// SingleClassClassification makes categories mutually exclusive per example.
	SingleClassClassification bool `json:"single_class_classification" yaml:"single_class_classification"`

	// AllowOverlapping lets spans on one example share character ranges.
	AllowOverlapping bool `json:"allow_overlapping" yaml:"allow_overlapping"`
}

// Project is the subset of a project record this module reads.
type Project struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Type   Type   `json:"project_type"`
	Policy Policy `json:"policy"`
}

// Member is a user who belongs to a project.
type Member struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}
