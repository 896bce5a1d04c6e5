// Package errors provides the error taxonomy shared by every specforge component.
//
// Domain failures are reported as *Error values carrying a Kind and a
// human-readable reason. Each Kind has a sentinel so callers can write
// errors.Is(err, perrors.ErrNotFound) through any amount of wrapping.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindForbidden         Kind = "forbidden"
	KindValidation        Kind = "validation_failed"
	KindGenerationFailed  Kind = "generation_failed"
	KindConflictingUpdate Kind = "conflicting_update"
	KindUnauthorized      Kind = "unauthorized"
	KindUnavailable       Kind = "unavailable"
	KindInternal          Kind = "internal"
)

// Sentinel errors for common failure modes.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrForbidden         = errors.New("access denied")
	ErrValidation        = errors.New("validation failed")
	ErrGenerationFailed  = errors.New("generation failed")
	ErrConflictingUpdate = errors.New("conflicting update")
	ErrUnauthorized      = errors.New("authentication failed")
	ErrUnavailable       = errors.New("service unavailable")
	ErrInternal          = errors.New("internal error")
	ErrTimeout           = errors.New("operation timed out")
	ErrRateLimit         = errors.New("rate limit exceeded")
)

var kindSentinels = map[Kind]error{
	KindNotFound:          ErrNotFound,
	KindForbidden:         ErrForbidden,
	KindValidation:        ErrValidation,
	KindGenerationFailed:  ErrGenerationFailed,
	KindConflictingUpdate: ErrConflictingUpdate,
	KindUnauthorized:      ErrUnauthorized,
	KindUnavailable:       ErrUnavailable,
	KindInternal:          ErrInternal,
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Reason
	if msg == "" {
		if s, ok := kindSentinels[e.Kind]; ok {
			msg = s.Error()
		} else {
			msg = string(e.Kind)
		}
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// E builds an *Error of the given kind.
func E(kind Kind, op, reason string) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason}
}

// Wrap builds an *Error of the given kind that wraps cause.
func Wrap(kind Kind, op string, cause error, reason string) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: cause}
}

func NotFound(op, format string, args ...any) *Error {
	return E(KindNotFound, op, fmt.Sprintf(format, args...))
}

func Forbidden(op, format string, args ...any) *Error {
	return E(KindForbidden, op, fmt.Sprintf(format, args...))
}

func Validation(op, format string, args ...any) *Error {
	return E(KindValidation, op, fmt.Sprintf(format, args...))
}

func Conflict(op, format string, args ...any) *Error {
	return E(KindConflictingUpdate, op, fmt.Sprintf(format, args...))
}

func Unauthorized(op, format string, args ...any) *Error {
	return E(KindUnauthorized, op, fmt.Sprintf(format, args...))
}

// Generation wraps a backend failure as GenerationFailed.
func Generation(op string, cause error) *Error {
	reason := "generation backend failed"
	if errors.Is(cause, ErrTimeout) {
		reason = "generation timed out"
	}
	return Wrap(KindGenerationFailed, op, cause, reason)
}

// Internal wraps an unexpected fault, typically from the store.
func Internal(op string, cause error) *Error {
	return Wrap(KindInternal, op, cause, "")
}

// KindOf returns the kind of the first *Error in err's chain.
// Unclassified errors report KindInternal; nil reports "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k, s := range kindSentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	if errors.Is(err, ErrTimeout) {
		return KindGenerationFailed
	}
	return KindInternal
}

// Reason returns the human-readable reason of the first *Error in err's chain,
// falling back to err.Error().
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return err.Error()
}

// APIError represents an error from an external API call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable)
}
