package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed call.
type Kind string

const (
	// KindNetwork: the request went out but no response arrived.
	KindNetwork Kind = "NETWORK_ERROR"
	// KindHTTP: the server answered with a non-2xx status.
	KindHTTP Kind = "HTTP_ERROR"
	// KindRequest: the request could not be built or sent.
	KindRequest Kind = "REQUEST_ERROR"
	// KindUnknown: anything else.
	KindUnknown Kind = "UNKNOWN_ERROR"
)

// ErrUnauthorized matches (via errors.Is) any HTTP_ERROR carrying a 401.
var ErrUnauthorized = errors.New("unauthorized")

// Error is the only error type returned by Client methods.
type Error struct {
	Message    string
	StatusCode int
	Kind       Kind
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports 401 HTTP errors as ErrUnauthorized.
func (e *Error) Is(target error) bool {
	return target == ErrUnauthorized && e.Kind == KindHTTP && e.StatusCode == http.StatusUnauthorized
}

// AsError extracts the typed error from err's chain.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	if apiErr, ok := AsError(err); ok {
		return apiErr.Kind
	}
	return KindUnknown
}

// StatusOf returns the HTTP status carried by err, 0 if none.
func StatusOf(err error) int {
	if apiErr, ok := AsError(err); ok {
		return apiErr.StatusCode
	}
	return 0
}

func requestError(err error) *Error {
	return &Error{Kind: KindRequest, Message: err.Error(), Err: err}
}

func unknownError(err error) *Error {
	return &Error{Kind: KindUnknown, Message: err.Error(), Err: err}
}
