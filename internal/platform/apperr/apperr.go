// Package apperr classifies failures into the three kinds the API surfaces to
// clients: a missing record, a rejected input, and a failed call to a backing
// store or remote service.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind is the failure category.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the operation that failed, Msg is safe
// to show to a client, Err is the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports that a lookup yielded no record.
func NotFound(op, msg string) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

// Validation reports rejected input. No remote call has been made.
func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

// Transport wraps a failed store or network call.
func Transport(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Msg: "upstream call failed", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsTransport(err error) bool  { return KindOf(err) == KindTransport }

// HTTPStatus maps an error to the response status handlers should use.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts err into an echo.HTTPError. Transport and unknown failures
// get a generic message so store details never reach the client.
func ToHTTP(err error) *echo.HTTPError {
	status := HTTPStatus(err)
	var e *Error
	if errors.As(err, &e) && (e.Kind == KindNotFound || e.Kind == KindValidation) {
		return echo.NewHTTPError(status, e.Msg)
	}
	if status == http.StatusBadGateway {
		return echo.NewHTTPError(status, "upstream service unavailable, try again")
	}
	return echo.NewHTTPError(status, "internal server error")
}
