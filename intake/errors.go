package intake

import (
	"errors"
	"fmt"
)

// Kind classifies an intake failure. The HTTP layer maps kinds to status codes;
// nothing below it knows about HTTP.
type Kind string

const (
	KindMissingField Kind = "missing_field"
	KindNotFound     Kind = "not_found"
	KindInvalidOrder Kind = "invalid_order"
	KindPersistence  Kind = "persistence"
)

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrMissingField = &Error{Kind: KindMissingField}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrInvalidOrder = &Error{Kind: KindInvalidOrder}
	ErrPersistence  = &Error{Kind: KindPersistence}
)

// Error is a structured intake error.
type Error struct {
	Kind Kind `json:"-"`

	// Code is a machine-readable error code (e.g. "ORDER_MISSING_FIELD").
	Code string `json:"code"`

	Message string `json:"message"`

	// Params carries the offending action index, field name and id.
	Params map[string]any `json:"params,omitempty"`

	Err error `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether the same request may succeed later. Only storage
// failures (lock timeouts, lost connections) qualify.
func (e *Error) Retryable() bool { return e.Kind == KindPersistence }

// KindOf returns the kind of an intake error, or "" for any other error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func missingField(action int, field string) *Error {
	return &Error{
		Kind:    KindMissingField,
		Code:    "ORDER_MISSING_FIELD",
		Message: fmt.Sprintf("action %d: %s is required", action, field),
		Params:  map[string]any{"action": action, "field": field},
	}
}

func notFound(action int, field string, id int64, err error) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    "ORDER_REFERENCE_NOT_FOUND",
		Message: fmt.Sprintf("action %d: %s %d does not exist", action, field, id),
		Params:  map[string]any{"action": action, "field": field, "id": id},
		Err:     err,
	}
}

func invalidOrder(format string, args ...any) *Error {
	return &Error{
		Kind:    KindInvalidOrder,
		Code:    "ORDER_INVALID",
		Message: fmt.Sprintf(format, args...),
	}
}

func persistence(op string, err error) *Error {
	return &Error{
		Kind:    KindPersistence,
		Code:    "ORDER_PERSISTENCE_FAILED",
		Message: op,
		Err:     err,
	}
}
