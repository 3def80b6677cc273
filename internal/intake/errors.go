package intake

// # Error Codes Reference
//
// User-facing messages carry a code that support staff can look up.
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: a file exceeds the configured size limit
//	          Action: Choose a smaller file
//	FILE002 - Type not accepted: the file type is not allowed here
//	          Action: Choose a file of an accepted type
//	FILE003 - Only one file: single-file mode received several files
//	          Action: Add one file at a time
//	FILE004 - Too many files: the accepted-count limit was reached
//	          Action: Remove a file before adding more
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - Upload failed: the upload function reported a failure
//	         Action: Remove the file or add it again to retry
//	UPL002 - System busy: too many uploads in progress
//	         Action: Please wait a moment and try again
//	UPL003 - Session expired: intake session not found
//	         Action: Start a new session
//	UPL004 - Entry not found: the file is no longer in the list
//	         Action: Refresh the file list
//	UPL005 - Intake disabled: the intake area is disabled
//	         Action: Enable the intake area before adding files
//	UPL006 - Change not allowed: the file's current state forbids the update
//	         Action: Refresh the file list
//	UPL007 - Invalid request: a reference or field failed validation
//	         Action: Check the value and try again
//
// # Default Error (ERR000)
//
// Fallback when nothing more specific matches.

import (
	"errors"
	"fmt"
)

var (
	ErrUploadFailed      = errors.New("upload failed")
	ErrNotFound          = errors.New("entry not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDisabled          = errors.New("intake disabled")
	ErrRejected          = errors.New("candidate rejected")
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidInput      = errors.New("invalid input")
)

// UploadError is a per-file upload failure. It matches ErrUploadFailed and
// unwraps to the cause returned by the upload function.
type UploadError struct {
	FileName string
	Err      error
}

func (e *UploadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.FileName, ErrUploadFailed)
	}
	return fmt.Sprintf("%s: %v", e.FileName, e.Err)
}

func (e *UploadError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUploadFailed}
	}
	return []error{ErrUploadFailed, e.Err}
}

// RejectionError carries a rejection through an error return.
type RejectionError struct {
	Rejection Rejection
}

func (e *RejectionError) Error() string {
	return e.Rejection.Message
}

func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

// UserMessage is user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again",
	Code:    "ERR000",
}

var reasonMessages = map[RejectReason]UserMessage{
	ReasonTooLarge: {
		Message: "File exceeds the maximum size",
		Action:  "Choose a smaller file",
		Code:    "FILE001",
	},
	ReasonTypeNotAccepted: {
		Message: "File type is not accepted",
		Action:  "Choose a file of an accepted type",
		Code:    "FILE002",
	},
	ReasonOnlyOneAllowed: {
		Message: "Only one file can be added",
		Action:  "Add one file at a time",
		Code:    "FILE003",
	},
	ReasonMaxCountExceeded: {
		Message: "Too many files",
		Action:  "Remove a file before adding more",
		Code:    "FILE004",
	},
}

// ErrTooManyUploads is returned when all upload slots are occupied and the
// wait timeout expires.
var ErrTooManyUploads = errors.New("too many concurrent uploads, please try again later")

// MapError converts an error into a UserMessage. Nil maps to the zero value.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var rejErr *RejectionError
	if errors.As(err, &rejErr) {
		return MapRejection(rejErr.Rejection)
	}

	switch {
	case errors.Is(err, ErrTooManyUploads):
		return UserMessage{Message: "Too many uploads in progress", Action: "Please wait a moment and try again", Code: "UPL002"}
	case errors.Is(err, ErrSessionNotFound):
		return UserMessage{Message: "Intake session not found", Action: "Start a new session", Code: "UPL003"}
	case errors.Is(err, ErrNotFound):
		return UserMessage{Message: "File is no longer in the list", Action: "Refresh the file list", Code: "UPL004"}
	case errors.Is(err, ErrDisabled):
		return UserMessage{Message: "File intake is disabled", Action: "Enable the intake area before adding files", Code: "UPL005"}
	case errors.Is(err, ErrInvalidTransition):
		return UserMessage{Message: "This change is not allowed for the file's current state", Action: "Refresh the file list", Code: "UPL006"}
	case errors.Is(err, ErrInvalidInput):
		return UserMessage{Message: "The request is invalid", Action: "Check the value and try again", Code: "UPL007"}
	case errors.Is(err, ErrUploadFailed):
		return UserMessage{Message: "Upload failed", Action: "Remove the file or add it again to retry", Code: "UPL001"}
	}

	return defaultMessage
}

// MapRejection converts a rejection into a UserMessage.
func MapRejection(r Rejection) UserMessage {
	msg, ok := reasonMessages[r.Reason]
	if !ok {
		return defaultMessage
	}
	if r.Message != "" {
		msg.Message = r.Message
	}
	return msg
}

// FormatUserError formats err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
