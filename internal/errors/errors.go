package errors

import (
	stderrors "errors"
	"fmt"
)

type ErrorType string

const (
	ErrorTypeNoSuchPath           ErrorType = "NO_SUCH_PATH"
	ErrorTypeNoSuchID             ErrorType = "NO_SUCH_ID"
	ErrorTypeIdentityConflict     ErrorType = "IDENTITY_CONFLICT"
	ErrorTypeRenameFailed         ErrorType = "RENAME_FAILED"
	ErrorTypeNotVersioned         ErrorType = "NOT_VERSIONED"
	ErrorTypeInvalidNormalization ErrorType = "INVALID_NORMALIZATION"
	ErrorTypeInternal             ErrorType = "INTERNAL"
)

// RenameSide says which end of a rename violated a precondition.
type RenameSide string

const (
	RenameSourceProblem      RenameSide = "source"
	RenameDestinationProblem RenameSide = "destination"
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Path    string    `json:"path,omitempty"`
	Details any       `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Path)
	}
	return e.Message
}

// RenameDetails is the structured payload of a RENAME_FAILED error.
type RenameDetails struct {
	From   string     `json:"from"`
	To     string     `json:"to"`
	Side   RenameSide `json:"side"`
	Reason string     `json:"reason"`
}

func NoSuchPath(path string) *Error {
	return &Error{Type: ErrorTypeNoSuchPath, Message: "no such path", Path: path}
}

func NoSuchID(id string) *Error {
	return &Error{Type: ErrorTypeNoSuchID, Message: "no such id", Path: id}
}

func IdentityConflict(path string, id string, boundTo string) *Error {
	return &Error{
		Type:    ErrorTypeIdentityConflict,
		Message: "id already bound to a different path",
		Path:    path,
		Details: map[string]string{"id": id, "bound_to": boundTo},
	}
}

func RenameFailed(from, to string, side RenameSide, reason string) *Error {
	return &Error{
		Type:    ErrorTypeRenameFailed,
		Message: fmt.Sprintf("cannot rename %s to %s: %s", from, to, reason),
		Details: RenameDetails{From: from, To: to, Side: side, Reason: reason},
	}
}

func NotVersioned(path string) *Error {
	return &Error{Type: ErrorTypeNotVersioned, Message: "not versioned", Path: path}
}

func InvalidNormalization(path string) *Error {
	return &Error{
		Type:    ErrorTypeInvalidNormalization,
		Message: "path cannot be stored in normalized form on this platform",
		Path:    path,
	}
}

func Internal(message string) *Error {
	return &Error{Type: ErrorTypeInternal, Message: message}
}

// IsType reports whether err is a bridge error of the given type. Store
// level I/O failures are not bridge errors and never match.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type == t
	}
	return false
}

func IsNoSuchPath(err error) bool { return IsType(err, ErrorTypeNoSuchPath) }
func IsNoSuchID(err error) bool   { return IsType(err, ErrorTypeNoSuchID) }
