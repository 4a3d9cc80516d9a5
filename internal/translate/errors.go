package translate

import (
	"errors"
	"strings"
	"time"
)

// Kind classifies a translation service failure.
type Kind string

const (
	KindTransient  Kind = "transient"
	KindRateLimit  Kind = "rate_limit"
	KindAuth       Kind = "auth"
	KindValidation Kind = "validation"
	KindBadRequest Kind = "bad_request"
)

// Error is a classified service failure.
type Error struct {
	Kind Kind
	// SafeMessage is suitable for job snapshots and logs.
	SafeMessage string
	Cause       error
	// RetryAfter is the server's requested delay, zero when absent.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if msg := strings.TrimSpace(e.SafeMessage); msg != "" {
		return msg
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "unknown error"
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func defaultSafeMessage(kind Kind) string {
	switch kind {
	case KindTransient:
		return "Temporary upstream error."
	case KindRateLimit:
		return "Rate limit exceeded."
	case KindAuth:
		return "Authentication with the translation service failed."
	case KindValidation:
		return "Translated output failed validation."
	case KindBadRequest:
		return "Request rejected by the translation service."
	default:
		return "Request failed."
	}
}

// NewError builds a classified error. An empty message uses the kind's default.
func NewError(kind Kind, safeMessage string, cause error) error {
	msg := strings.TrimSpace(safeMessage)
	if msg == "" {
		msg = defaultSafeMessage(kind)
	}
	return &Error{Kind: kind, SafeMessage: msg, Cause: cause}
}

func Transient(err error) error  { return NewError(KindTransient, "", err) }
func Validation(err error) error { return NewError(KindValidation, "", err) }

// KindOf returns the classification of err, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Kind, true
}

// IsRetryable reports whether another attempt may succeed. Validation
// failures are retried because model output is not deterministic.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindTransient || e.Kind == KindRateLimit || e.Kind == KindValidation
}

// RetryAfter returns the server-requested delay carried by err.
func RetryAfter(err error) (time.Duration, bool) {
	var e *Error
	if !errors.As(err, &e) || e.RetryAfter <= 0 {
		return 0, false
	}
	return e.RetryAfter, true
}
