package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/JonMunkholm/labelflow/internal/catalog"
	"github.com/JonMunkholm/labelflow/internal/consistency"
	"github.com/JonMunkholm/labelflow/internal/export"
	"github.com/JonMunkholm/labelflow/internal/label"
	"github.com/JonMunkholm/labelflow/internal/parser"
	"github.com/JonMunkholm/labelflow/internal/project"
	"github.com/JonMunkholm/labelflow/internal/store"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"wrapped conflict", fmt.Errorf("insert: %w", store.ErrConflict), "LBL001"},
		{"unresolved relation", label.UnresolvedError{Kind: label.KindRelation, Message: "from_id 3"}, "LBL002"},
		{"rejected annotation", fmt.Errorf("annotate: %w", consistency.ErrRejected), "LBL003"},
		{"invalid label", label.ValidationError{Kind: label.KindSpan, Message: "start_offset"}, "VAL001"},
		{"config error", &catalog.ConfigError{Type: project.Seq2seq, Format: "conll"}, "JOB005"},
		{"parse error", &parser.ParseError{Filename: "a.json", Message: "unexpected EOF"}, "IMP004"},
		{"cancelled", fmt.Errorf("import: %w", context.Canceled), "JOB001"},
		{"deadline", context.DeadlineExceeded, "JOB002"},
		{"busy", ErrTooManyJobs, "JOB003"},
		{"unknown job", ErrJobNotFound, "JOB004"},
		{"missing project", fmt.Errorf("load project: %w", store.ErrNotFound), "JOB006"},
		{"file too large", errors.New("file size 2048 exceeds the limit of 1024 bytes"), "IMP002"},
		{"unsupported file type", errors.New("unsupported file type for csv import"), "IMP001"},
		{"unsupported encoding", errors.New(`unsupported encoding: "klingon"`), "IMP003"},
		{"export write", &export.WriteError{Path: "exports/p.zip", Err: errors.New("disk full")}, "EXP001"},
		{"wrapped export write", fmt.Errorf("job: %w", &export.WriteError{Path: "exports", Err: errors.New("permission denied")}), "EXP001"},
		{"mentions export but is not a write", errors.New("export format list unavailable"), "ERR000"},
		{"user error keeps its message", &UserError{Technical: errors.New("boom"), User: msgBusy}, "JOB003"},
		{"bad delimiter", errors.New("delimiter must be a single character, got \";;\""), "VAL003"},
		{"connection refused", errors.New("dial tcp: connection refused"), "DB001"},
		{"case insensitive", errors.New("DEADLOCK detected"), "DB003"},
		{"unknown error returns default", errors.New("some random internal error"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError(%v).Code = %q, want %q", tt.err, got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(store.ErrConflict)
	if !strings.Contains(got, "(Code: LBL001)") {
		t.Errorf("FormatUserError = %q, want code LBL001", got)
	}
	if !strings.HasPrefix(got, "This label already exists") {
		t.Errorf("FormatUserError = %q, want message first", got)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("nil should not be user facing")
	}
	if !IsUserFacing(ErrTooManyJobs) {
		t.Error("ErrTooManyJobs should be user facing")
	}
	if IsUserFacing(errors.New("boom")) {
		t.Error("unknown error should not be user facing")
	}
}

func TestNewUserError(t *testing.T) {
	if NewUserError(nil) != nil {
		t.Error("NewUserError(nil) should be nil")
	}

	cause := fmt.Errorf("annotate: %w", store.ErrConflict)
	ue := NewUserError(cause)
	if ue.User.Code != "LBL001" {
		t.Errorf("Code = %q, want LBL001", ue.User.Code)
	}
	if !errors.Is(ue, store.ErrConflict) {
		t.Error("UserError should unwrap to the technical error")
	}
	if ue.Error() != ue.User.Message {
		t.Errorf("Error() = %q, want user message", ue.Error())
	}
}
