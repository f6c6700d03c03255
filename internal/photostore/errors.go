package photostore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorType int

const (
	ErrPermission ErrorType = iota
	ErrDelete
	ErrNoCurrent
	ErrNothingToUndo
	ErrUnknown
)

// Error is the typed failure returned by Store operations.
type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func WrapError(err error, errorType ErrorType, message string) *Error {
	e := NewError(errorType, message)
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrPermission:
		return "Permission"
	case ErrDelete:
		return "Delete"
	case ErrNoCurrent:
		return "NoCurrent"
	case ErrNothingToUndo:
		return "NothingToUndo"
	default:
		return "Unknown"
	}
}

// Advice is a short hint for the person at the other end of the error.
func (t ErrorType) Advice() string {
	switch t {
	case ErrPermission:
		return "Grant read and write access to the library roots, then start a new session"
	case ErrDelete:
		return "The asset was kept; check file permissions or whether it is locked, then retry"
	case ErrNoCurrent:
		return "Fetch the current asset first; the library may be exhausted"
	case ErrNothingToUndo:
		return "Only the most recent skip can be undone"
	default:
		return "Check the server log for details"
	}
}

func IsErrorType(err error, errorType ErrorType) bool {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Type == errorType
	}
	return false
}
