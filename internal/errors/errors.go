package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"
)

type ErrorType string

const (
	ErrorTypeNotARepo        ErrorType = "NOT_A_REPO"
	ErrorTypeNothingToCommit ErrorType = "NOTHING_TO_COMMIT"
	ErrorTypeNotFound        ErrorType = "NOT_FOUND"
	ErrorTypeAmbiguousID     ErrorType = "AMBIGUOUS_ID"
	ErrorTypeIO              ErrorType = "IO"
	ErrorTypePermission      ErrorType = "PERMISSION"
	ErrorTypeValidation      ErrorType = "VALIDATION"
)

// Sentinels for errors.Is. Any *Error matches the sentinel of its type.
var (
	ErrNotARepo        = &Error{Type: ErrorTypeNotARepo}
	ErrNothingToCommit = &Error{Type: ErrorTypeNothingToCommit}
	ErrNotFound        = &Error{Type: ErrorTypeNotFound}
	ErrAmbiguousID     = &Error{Type: ErrorTypeAmbiguousID}
	ErrIO              = &Error{Type: ErrorTypeIO}
	ErrPermission      = &Error{Type: ErrorTypePermission}
	ErrValidation      = &Error{Type: ErrorTypeValidation}
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Path    string    `json:"path,omitempty"`
	Details any       `json:"details,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	switch {
	case e.Type == ErrorTypePermission:
		return "permission denied: " + e.Path
	case e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Path != "":
		return e.Message + ": " + e.Path
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

func NotARepo(root string) *Error {
	return &Error{
		Type:    ErrorTypeNotARepo,
		Message: "not an op repository (run 'op init' first)",
		Path:    root,
	}
}

func NothingToCommit() *Error {
	return &Error{
		Type:    ErrorTypeNothingToCommit,
		Message: "nothing to commit: no tracked files",
	}
}

func NotFound(message string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

func AmbiguousID(prefix string, matches []string) *Error {
	return &Error{
		Type:    ErrorTypeAmbiguousID,
		Message: fmt.Sprintf("commit id %q is ambiguous, matches %s", prefix, strings.Join(matches, ", ")),
		Details: matches,
	}
}

func ValidationError(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: details,
	}
}

// FromIO classifies a filesystem error. Permission failures keep the
// offending path so it can be shown to the user.
func FromIO(op, path string, err error) *Error {
	if stderrors.Is(err, fs.ErrPermission) {
		return &Error{
			Type:    ErrorTypePermission,
			Message: op,
			Path:    path,
			Err:     err,
		}
	}
	return &Error{
		Type:    ErrorTypeIO,
		Message: op,
		Path:    path,
		Err:     err,
	}
}

// TypeOf returns the ErrorType carried anywhere in err's chain, or "".
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ""
}
