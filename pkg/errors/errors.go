// Package errors carries the typed errors services return and the HTTP
// contract each code maps to.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	// Order engine outcomes.
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeStockInsufficient Code = "STOCK_INSUFFICIENT"
	CodeProximityRejected Code = "PROXIMITY_REJECTED"
	CodeUpstream          Code = "UPSTREAM_UNAVAILABLE"
)

// Metadata is the response contract of a code. The caller-supplied message
// replaces PublicMessage only when MessageExposed is set, and details are only
// echoed when DetailsAllowed is set.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	MessageExposed bool
	DetailsAllowed bool
}

type exposure uint8

const (
	exposeMessage exposure = 1 << iota
	exposeDetails

	hidden exposure = 0
	open            = exposeMessage | exposeDetails
)

func meta(status int, retryable bool, public string, exp exposure) Metadata {
	return Metadata{
		HTTPStatus:     status,
		Retryable:      retryable,
		PublicMessage:  public,
		MessageExposed: exp&exposeMessage != 0,
		DetailsAllowed: exp&exposeDetails != 0,
	}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:        meta(http.StatusBadRequest, false, "validation failed", open),
	CodeUnauthorized:      meta(http.StatusUnauthorized, false, "authentication required", exposeMessage),
	CodeForbidden:         meta(http.StatusForbidden, false, "access denied", exposeMessage),
	CodeNotFound:          meta(http.StatusNotFound, false, "resource not found", exposeMessage),
	CodeConflict:          meta(http.StatusConflict, false, "conflict detected", exposeMessage),
	CodeStateConflict:     meta(http.StatusUnprocessableEntity, false, "state transition disallowed", open),
	CodeIdempotency:       meta(http.StatusConflict, false, "idempotency key reused", open),
	CodeRateLimit:         meta(http.StatusTooManyRequests, false, "rate limit exceeded", exposeMessage),
	CodeInternal:          meta(http.StatusInternalServerError, true, "internal server error", hidden),
	CodeDependency:        meta(http.StatusServiceUnavailable, true, "dependency unavailable", exposeDetails),
	CodeInvalidTransition: meta(http.StatusConflict, false, "transition not allowed from current state", open),
	CodeStockInsufficient: meta(http.StatusConflict, false, "insufficient stock", open),
	CodeProximityRejected: meta(http.StatusBadRequest, true, "delivery position rejected", open),
	CodeUpstream:          meta(http.StatusInternalServerError, true, "upstream provider unavailable", exposeDetails),
}

// MetadataFor falls back to the internal error contract for unknown codes.
func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded error with an optional cause and client-facing details.
// Methods are nil-safe.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf formats message like fmt.Sprintf.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches err as the cause. A nil err yields a plain New.
func Wrap(code Code, err error, message string) *Error {
	e := New(code, message)
	e.cause = err
	return e
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails sets details in place and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// IsCode reports whether the outermost typed error in err's chain has code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
