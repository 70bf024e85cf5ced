// Package apperr defines the typed error kinds shared across the service.
//
// Services return *Error values; the HTTP layer maps kinds to status codes
// and stable error codes. Wrapping preserves the kind through error chains.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind int

const (
	// KindUnknown is the zero value; mapped to an internal error.
	KindUnknown Kind = iota
	// KindNotFound: unknown entity id, or an entity hidden from the caller.
	KindNotFound
	// KindUnauthorized: missing or invalid identity.
	KindUnauthorized
	// KindForbidden: valid identity without the required role.
	KindForbidden
	// KindInvalidInput: schema, length, or enum violations.
	KindInvalidInput
	// KindInvalidTransition: case status machine violation.
	KindInvalidTransition
	// KindAlreadyProcessing: a worker holds the case's processing lock.
	KindAlreadyProcessing
	// KindNoDocuments: processing requested for a case with no documents.
	KindNoDocuments
	// KindExtraction: the extractor or one of its providers failed.
	KindExtraction
	// KindRuleEngine: rule evaluation panicked or aggregation was impossible.
	KindRuleEngine
	// KindStorage: persistence failed.
	KindStorage
	// KindAdvisoryUnavailable: external advisory generator failed; callers
	// always recover to the deterministic fallback.
	KindAdvisoryUnavailable
)

// String returns the stable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindInvalidInput:
		return "invalid_input"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindAlreadyProcessing:
		return "already_processing"
	case KindNoDocuments:
		return "no_documents"
	case KindExtraction:
		return "extraction_error"
	case KindRuleEngine:
		return "rule_engine_error"
	case KindStorage:
		return "storage_error"
	case KindAdvisoryUnavailable:
		return "advisory_unavailable"
	default:
		return "unknown"
	}
}

// Error is a classified error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindUnknown if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
