// Package gwerrors defines the error taxonomy shared by every gateway
// component. Every component returns a *Error so that internal/api can map
// it to an HTTP status and response body without inspecting component
// internals.
package gwerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a gateway error independently of its message.
type Kind string

const (
	// KindRequestMalformed covers path/payload validation failures.
	KindRequestMalformed Kind = "request_malformed"
	// KindUnauthorizedFunction is returned when a zome call is not on the allow-list.
	KindUnauthorizedFunction Kind = "unauthorized_function"
	// KindNotInstalled means no running app matched the selection.
	KindNotInstalled Kind = "not_installed"
	// KindNotAllowed means a match was found but is not in allowed_apps.
	KindNotAllowed Kind = "not_allowed"
	// KindMultipleMatching means more than one app matched the selection.
	KindMultipleMatching Kind = "multiple_matching"
	// KindUpstreamUnavailable means the Conductor could not be reached after bounded retries.
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	// KindUpstreamProtocol wraps a well-formed error returned by the Conductor itself.
	KindUpstreamProtocol Kind = "upstream_protocol"
	// KindInternal covers everything else (I/O, serialization bugs).
	KindInternal Kind = "internal"
)

// Error is the gateway's canonical error type.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// App/Module/Fn are populated for KindUnauthorizedFunction so the
	// pipeline can render the exact denial message.
	App, Module, Fn string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// As reports whether err is (or wraps) a *Error, returning it when found.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// RequestMalformed builds a KindRequestMalformed error with the given reason,
// matching the upstream's "Request is malformed: {reason}" wording.
func RequestMalformed(reason string) *Error {
	return &Error{Kind: KindRequestMalformed, Message: "Request is malformed: " + reason}
}

// UnauthorizedFunction builds the denial message for a function not on the
// allow-list.
func UnauthorizedFunction(app, module, fn string) *Error {
	return &Error{
		Kind:    KindUnauthorizedFunction,
		Message: fmt.Sprintf("Function %s in zome %s in app %s is not allowed", fn, module, app),
		App:     app, Module: module, Fn: fn,
	}
}

// NotInstalled builds the AppSelection.NotInstalled error.
func NotInstalled(appID string) *Error {
	return &Error{Kind: KindNotInstalled, Message: fmt.Sprintf("Error selecting a valid app: no running app matching %s was found", appID)}
}

// NotAllowed builds the AppSelection.NotAllowed error.
func NotAllowed(appID string) *Error {
	return &Error{Kind: KindNotAllowed, Message: fmt.Sprintf("Error selecting a valid app: app %s is not in the allow list", appID)}
}

// MultipleMatching builds the AppSelection.MultipleMatching error.
func MultipleMatching(appID string) *Error {
	return &Error{Kind: KindMultipleMatching, Message: fmt.Sprintf("Error selecting a valid app: more than one running app matches %s", appID)}
}

// UpstreamUnavailable builds the error returned when the Conductor could not
// be reached after bounded retries.
func UpstreamUnavailable() *Error {
	return &Error{Kind: KindUpstreamUnavailable, Message: "Could not connect to Holochain"}
}

// UpstreamProtocol wraps a passthrough message from the Conductor.
func UpstreamProtocol(message string) *Error {
	return &Error{Kind: KindUpstreamProtocol, Message: message}
}

// Internal wraps an unexpected error with a generic body text.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "Something went wrong", Cause: cause}
}

// HTTPStatus maps a Kind to its HTTP status code.
func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindRequestMalformed:
		return http.StatusBadRequest
	case KindUnauthorizedFunction, KindNotAllowed:
		return http.StatusForbidden
	case KindNotInstalled:
		return http.StatusNotFound
	case KindMultipleMatching:
		return http.StatusInternalServerError
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindUpstreamProtocol:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Body returns the exact string placed into the {"error": ...} response body.
func (e *Error) Body() string {
	if e == nil {
		return "Something went wrong"
	}
	switch e.Kind {
	case KindUpstreamUnavailable:
		return "Could not connect to Holochain"
	default:
		return e.Message
	}
}
