// Package lerrors is the closed family of error kinds named in spec.md §7.
// It is grounded on kilroy's internal/llm/errors.go httpErrorBase hierarchy:
// one concrete type carrying a Kind, a message, and retry metadata, with
// errors.As-friendly helpers instead of one type per kind.
package lerrors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind is one of the error kinds enumerated in spec.md §7.
type Kind string

const (
	InvalidArguments   Kind = "InvalidArguments"
	OutsideBoundary    Kind = "OutsideBoundary"
	PatchVerification  Kind = "PatchVerification"
	PatchApplyFailed   Kind = "PatchApplyFailed"
	ToolNotFound       Kind = "ToolNotFound"
	ApprovalDenied     Kind = "ApprovalDenied"
	Timeout            Kind = "Timeout"
	PtyUnknownSession  Kind = "PtyUnknownSession"
	PtyAlreadyOpen     Kind = "PtyAlreadyOpen"
	TransportRetryable Kind = "TransportRetryable"
	TransportFatal     Kind = "TransportFatal"
	ParseError         Kind = "ParseError"
	FatalKind          Kind = "Fatal"
)

// Error is the single concrete error type for all of Lincona's named kinds.
// Fatal() reports whether the router must bypass tool-result recovery and
// let the driver terminate the turn (spec.md §7's propagation policy).
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	RetryAfter *time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the error kind may be retried internally by the
// streaming model client (§4.J). Only transport errors are ever retryable.
func (e *Error) Retryable() bool { return e.Kind == TransportRetryable }

// Fatal reports whether the router must propagate the error instead of
// converting it into a tool-role {success=false} message.
func (e *Error) Fatal() bool { return e.Kind == FatalKind }

// New builds a plain error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around a causing error.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err (or anything in its chain) is a *Error of kind k.
func Is(err error, k Kind) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind == k
	}
	return false
}

// ErrorFromHTTPStatus classifies a non-2xx HTTP response the way kilroy's
// ErrorFromHTTPStatus does, collapsing the result into the two transport
// kinds spec.md §7 names instead of kilroy's one-type-per-status hierarchy.
func ErrorFromHTTPStatus(statusCode int, message string, retryAfter *time.Duration) *Error {
	switch statusCode {
	case http.StatusTooManyRequests:
		return &Error{Kind: TransportRetryable, Message: message, StatusCode: statusCode, RetryAfter: retryAfter}
	case http.StatusUnauthorized:
		return &Error{Kind: TransportFatal, Message: message, StatusCode: statusCode}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &Error{Kind: TransportRetryable, Message: message, StatusCode: statusCode, RetryAfter: retryAfter}
	default:
		if statusCode >= 500 {
			return &Error{Kind: TransportRetryable, Message: message, StatusCode: statusCode, RetryAfter: retryAfter}
		}
		return &Error{Kind: TransportFatal, Message: message, StatusCode: statusCode}
	}
}

// ParseRetryAfter parses an HTTP Retry-After header, which is either an
// integer count of seconds or an HTTP-date, mirroring kilroy's
// llm.ParseRetryAfter.
func ParseRetryAfter(v string, now time.Time) *time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}
