package core

// error_messages.go maps technical errors to user-facing messages with a
// support code. Codes are grouped by category:
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Unsupported file type: the file extension does not match the format
//	IMP002 - File too large: the upload exceeds the size limit
//	IMP003 - Unsupported encoding: the declared encoding is unknown
//	IMP004 - Unreadable file: the file is not structurally valid for the format
//	IMP005 - No files: the job lists no uploads
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid label: a label value has the wrong shape
//	VAL002 - Invalid columns: the column configuration is unusable
//	VAL003 - Invalid delimiter: the delimiter is not a single character
//
// # Label Errors (LBL001-LBL099)
//
//	LBL001 - Duplicate label: the label already exists
//	LBL002 - Unresolved label: a relation endpoint or type could not be found
//	LBL003 - Annotation rejected: the label conflicts with existing labels
//
// # Export Errors (EXP001-EXP099)
//
//	EXP001 - Export write failed: the export file could not be written
//
// # Job Errors (JOB001-JOB099)
//
//	JOB001 - Cancelled
//	JOB002 - Timed out
//	JOB003 - System busy: too many jobs are running
//	JOB004 - Job not found: the job id is unknown or expired
//	JOB005 - Unsupported format for the project type
//	JOB006 - Project or example not found
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Connection refused
//	DB002 - Connection reset
//	DB003 - Deadlock
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Support staff should check the logs for the
// technical error.
//
// Typed errors are matched with errors.Is/As first. Remaining errors are
// matched case-insensitively by substring; the first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/labelflow/internal/catalog"
	"github.com/JonMunkholm/labelflow/internal/consistency"
	"github.com/JonMunkholm/labelflow/internal/export"
	"github.com/JonMunkholm/labelflow/internal/label"
	"github.com/JonMunkholm/labelflow/internal/parser"
	"github.com/JonMunkholm/labelflow/internal/store"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgUnreadableFile = UserMessage{
		Message: "The file could not be read in the selected format",
		Action:  "Check that the file matches the chosen import format",
		Code:    "IMP004",
	}
	msgInvalidLabel = UserMessage{
		Message: "A label value has the wrong shape",
		Action:  "Check the label columns against the format documentation",
		Code:    "VAL001",
	}
	msgDuplicateLabel = UserMessage{
		Message: "This label already exists",
		Action:  "No action needed; the existing label was kept",
		Code:    "LBL001",
	}
	msgUnresolvedLabel = UserMessage{
		Message: "A label refers to something that does not exist",
		Action:  "Make sure relations point at spans of the same example",
		Code:    "LBL002",
	}
	msgAnnotationRejected = UserMessage{
		Message: "The label conflicts with labels already on this example",
		Action:  "Remove the conflicting label first",
		Code:    "LBL003",
	}
	msgExportWrite = UserMessage{
		Message: "The export file could not be written",
		Action:  "Check free disk space and try again",
		Code:    "EXP001",
	}
	msgCancelled = UserMessage{
		Message: "The job was cancelled",
		Action:  "Start a new job when ready",
		Code:    "JOB001",
	}
	msgTimedOut = UserMessage{
		Message: "The job timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "JOB002",
	}
	msgBusy = UserMessage{
		Message: "System is busy processing other jobs",
		Action:  "Please wait a moment and try again",
		Code:    "JOB003",
	}
	msgJobNotFound = UserMessage{
		Message: "Job not found",
		Action:  "The job may have expired. Please start a new one",
		Code:    "JOB004",
	}
	msgUnsupportedFormat = UserMessage{
		Message: "This format is not available for the project type",
		Action:  "Choose one of the formats listed for the project",
		Code:    "JOB005",
	}
	msgNotFound = UserMessage{
		Message: "Project or example not found",
		Action:  "Verify the id is correct",
		Code:    "JOB006",
	}
)

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user
// messages. More specific patterns come before general ones.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Import Errors
	// =========================================================================
	{
		pattern: "unsupported file type",
		msg: UserMessage{
			Message: "The file type does not match the import format",
			Action:  "Upload a file with an extension the format accepts",
			Code:    "IMP001",
		},
	},
	{
		pattern: "exceeds the limit",
		msg: UserMessage{
			Message: "File exceeds the maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "IMP002",
		},
	},
	{
		pattern: "unsupported encoding",
		msg: UserMessage{
			Message: "The file encoding is not supported",
			Action:  "Pick a listed encoding or save the file as UTF-8",
			Code:    "IMP003",
		},
	},
	{
		pattern: "no uploads",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select at least one file to import",
			Code:    "IMP005",
		},
	},

	// =========================================================================
	// Validation Errors
	// =========================================================================
	{
		pattern: "column configuration",
		msg: UserMessage{
			Message: "The column configuration is not usable",
			Action:  "Name one data column and distinct label columns",
			Code:    "VAL002",
		},
	},
	{
		pattern: "delimiter must be",
		msg: UserMessage{
			Message: "The column delimiter is not valid",
			Action:  "Use a single character, or \"tab\"",
			Code:    "VAL003",
		},
	},

	// =========================================================================
	// Database Errors
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB002",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB003",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
//	msg := MapError(store.ErrConflict)
//	// msg.Code == "LBL001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.User
	}
	if msg, ok := mapTyped(err); ok {
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

func mapTyped(err error) (UserMessage, bool) {
	var (
		cfgErr        *catalog.ConfigError
		parseErr      *parser.ParseError
		validationErr label.ValidationError
		unresolvedErr label.UnresolvedError
		writeErr      *export.WriteError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return msgCancelled, true
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimedOut, true
	case errors.Is(err, ErrTooManyJobs):
		return msgBusy, true
	case errors.Is(err, ErrJobNotFound):
		return msgJobNotFound, true
	case errors.Is(err, consistency.ErrRejected):
		return msgAnnotationRejected, true
	case errors.Is(err, store.ErrConflict):
		return msgDuplicateLabel, true
	case errors.Is(err, store.ErrNotFound):
		return msgNotFound, true
	case errors.As(err, &cfgErr):
		return msgUnsupportedFormat, true
	case errors.As(err, &parseErr):
		return msgUnreadableFile, true
	case errors.As(err, &validationErr):
		return msgInvalidLabel, true
	case errors.As(err, &unresolvedErr):
		return msgUnresolvedLabel, true
	case errors.As(err, &writeErr):
		return msgExportWrite, true
	}
	return UserMessage{}, false
}

// FormatUserError creates a formatted error string for display:
// "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message. The technical
// error is kept for logging.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
