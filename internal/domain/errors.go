package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies failures so the orchestrator can decide between
// retrying, rescheduling, and giving up.
type ErrorKind string

const (
	KindValidation         ErrorKind = "validation_error"
	KindUnsupportedContent ErrorKind = "unsupported_content"
	KindAuth               ErrorKind = "auth_error"
	KindRateLimited        ErrorKind = "rate_limited"
	KindTransientNetwork   ErrorKind = "transient_network"
	KindPlatformServer     ErrorKind = "platform_server_error"
	KindProcessingTimeout  ErrorKind = "processing_timeout"
	KindRetriesExhausted   ErrorKind = "retries_exhausted"
	KindMediaUnavailable   ErrorKind = "media_unavailable"
)

// Error carries a kind alongside the message. RetryAfter is only set for
// rate-limit responses that announce a reset time.
type Error struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
	wrapped    error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// E builds a classified error.
func E(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// RateLimitedError reports an announced reset delay from a platform.
func RateLimitedError(retryAfter time.Duration, format string, args ...any) *Error {
	return &Error{Kind: KindRateLimited, Message: fmt.Sprintf(format, args...), RetryAfter: retryAfter}
}

// KindOf extracts the classification of err, or "" for unclassified errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// RetryAfterOf returns the announced retry-after delay, if any.
func RetryAfterOf(err error) time.Duration {
	var de *Error
	if errors.As(err, &de) {
		return de.RetryAfter
	}
	return 0
}

// IsRetriable reports whether the failure should consume retry budget and
// re-enter the backoff path. Rate limiting is deliberately excluded: it is
// an admission-layer signal handled without spending an attempt.
func IsRetriable(err error) bool {
	switch KindOf(err) {
	case KindTransientNetwork, KindPlatformServer:
		return true
	}
	return false
}
