package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

// Kind classifies an ImportError.
type Kind string

const (
	KindInvalidArgument       Kind = "invalid_argument"
	KindTransport             Kind = "transport_error"
	KindUpstream              Kind = "upstream_error"
	KindMalformedResponse     Kind = "malformed_response"
	KindReconciliationFailure Kind = "reconciliation_failure"
)

// Sentinels for errors.Is. Matching is by kind only.
var (
	ErrInvalidArgument       = &ImportError{Kind: KindInvalidArgument}
	ErrTransport             = &ImportError{Kind: KindTransport}
	ErrUpstream              = &ImportError{Kind: KindUpstream}
	ErrMalformedResponse     = &ImportError{Kind: KindMalformedResponse}
	ErrReconciliationFailure = &ImportError{Kind: KindReconciliationFailure}
)

// ImportError is the single error type raised by the fetch, mapping and reconciliation layers.
type ImportError struct {
	Kind       Kind
	Message    string
	Feed       string
	StatusCode int
	Attempts   int
	Cause      error
}

func newError(kind Kind, msg string, cause error) *ImportError {
	return &ImportError{
		Kind:    kind,
		Message: msg,
		Cause:   cause,
	}
}

func InvalidArgument(msg string) *ImportError {
	return newError(KindInvalidArgument, msg, nil)
}

func InvalidArgumentf(format string, args ...any) *ImportError {
	return newError(KindInvalidArgument, fmt.Sprintf(format, args...), nil)
}

func Transport(msg string, cause error) *ImportError {
	return newError(KindTransport, msg, cause)
}

func Upstream(msg string, cause error) *ImportError {
	return newError(KindUpstream, msg, cause)
}

func MalformedResponse(msg string, cause error) *ImportError {
	return newError(KindMalformedResponse, msg, cause)
}

func MalformedResponsef(format string, args ...any) *ImportError {
	return newError(KindMalformedResponse, fmt.Sprintf(format, args...), nil)
}

// ReconciliationFailure always carries the underlying cause.
func ReconciliationFailure(msg string, cause error) *ImportError {
	return newError(KindReconciliationFailure, msg, cause)
}

func (e *ImportError) Error() string {
	path := []string{}
	if e.Feed != "" {
		path = append(path, fmt.Sprintf("feed '%s'", e.Feed))
	}
	if e.StatusCode != 0 {
		path = append(path, fmt.Sprintf("status %d", e.StatusCode))
	}

	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}

	if len(path) == 0 {
		return msg
	}
	return strings.Join(path, " -> ") + ": " + msg
}

func (e *ImportError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an ImportError of the same kind.
func (e *ImportError) Is(target error) bool {
	t, ok := target.(*ImportError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func (e *ImportError) AddFeed(feed string) *ImportError {
	e.Feed = feed
	return e
}

func (e *ImportError) AddStatusCode(statusCode int) *ImportError {
	e.StatusCode = statusCode
	return e
}

func (e *ImportError) AddAttempts(attempts int) *ImportError {
	e.Attempts = attempts
	return e
}

// Transient reports whether the fetch layer may retry this error.
func (e *ImportError) Transient() bool {
	return e.Kind == KindTransport || e.Kind == KindUpstream
}

func (e *ImportError) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindTransport, KindUpstream, KindMalformedResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (e *ImportError) ToHTTPError() *httperror.HTTPError {
	herr := httperror.NewHTTPError(e.HTTPStatus(), e.Error()).AddMetaValue("kind", string(e.Kind))
	if e.Feed != "" {
		herr = herr.AddMetaValue("feed", e.Feed)
	}
	if e.Attempts > 0 {
		herr = herr.AddMetaValue("attempts", strconv.Itoa(e.Attempts))
	}
	return herr
}

// AsImportError returns the first ImportError in err's chain.
func AsImportError(err error) (*ImportError, bool) {
	var ie *ImportError
	if stderrors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

func IsImportError(err error) bool {
	_, ok := AsImportError(err)
	return ok
}

// KindOf returns the kind of the first ImportError in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	if ie, ok := AsImportError(err); ok {
		return ie.Kind
	}
	return ""
}

func IsTransient(err error) bool {
	ie, ok := AsImportError(err)
	return ok && ie.Transient()
}
