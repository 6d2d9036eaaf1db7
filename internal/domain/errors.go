package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures across the engine.
type ErrorKind string

const (
	KindSpecUnreachable        ErrorKind = "unreachable"
	KindSpecMalformed          ErrorKind = "malformed"
	KindSpecUnsupportedVersion ErrorKind = "unsupported_version"

	KindMissingArgument ErrorKind = "missing_argument"
	KindTypeMismatch    ErrorKind = "type_mismatch"
	KindInvalidArgument ErrorKind = "invalid_argument"

	KindUnauthorized             ErrorKind = "unauthorized"
	KindTokenEndpointUnreachable ErrorKind = "token_endpoint_unreachable"
	KindAuthMisconfigured        ErrorKind = "misconfigured"

	KindConnectionFailed ErrorKind = "connection_failed"
	KindTimeout          ErrorKind = "timeout"

	KindUpstreamClient ErrorKind = "upstream_4xx"
	KindUpstreamServer ErrorKind = "upstream_5xx"
)

// SpecError aborts a registry build. No handle from the failing document is registered.
type SpecError struct {
	Kind   ErrorKind
	Source string
	Err    error
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("spec %s (%s): %v", e.Kind, e.Source, e.Err)
}

func (e *SpecError) Unwrap() error { return e.Err }

// ValidationError rejects invocation arguments before any network activity.
type ValidationError struct {
	Kind   ErrorKind
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid arguments: %s", e.Detail)
	}
	return fmt.Sprintf("invalid argument %q (%s): %s", e.Field, e.Kind, e.Detail)
}

// ValidationErrors collects every argument problem found in one call.
type ValidationErrors []*ValidationError

func (es ValidationErrors) Error() string {
	if len(es) == 1 {
		return es[0].Error()
	}
	msg := fmt.Sprintf("%d invalid arguments:", len(es))
	for _, e := range es {
		msg += " " + e.Error() + ";"
	}
	return msg
}

// As lets errors.As find the first *ValidationError.
func (es ValidationErrors) As(target any) bool {
	t, ok := target.(**ValidationError)
	if !ok || len(es) == 0 {
		return false
	}
	*t = es[0]
	return true
}

// AuthError reports a failure to obtain or apply credentials.
type AuthError struct {
	Kind ErrorKind
	// Status is the token endpoint HTTP status, when one was received.
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("auth %s (HTTP %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("auth %s: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError reports a call that produced no HTTP response.
type TransportError struct {
	Kind ErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError reports a non-2xx response from the upstream API.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("upstream returned HTTP %d: %s", e.Status, e.Body)
}

// Kind returns KindUpstreamServer for 5xx and KindUpstreamClient otherwise.
func (e *UpstreamError) Kind() ErrorKind {
	if e.Status >= 500 {
		return KindUpstreamServer
	}
	return KindUpstreamClient
}

// KindOf extracts the classification of err, or "" when err is unclassified.
func KindOf(err error) ErrorKind {
	var (
		specErr      *SpecError
		validErr     *ValidationError
		authErr      *AuthError
		transportErr *TransportError
		upstreamErr  *UpstreamError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validErr):
		return validErr.Kind
	case errors.As(err, &authErr):
		return authErr.Kind
	case errors.As(err, &transportErr):
		return transportErr.Kind
	case errors.As(err, &upstreamErr):
		return upstreamErr.Kind()
	case errors.As(err, &specErr):
		return specErr.Kind
	}
	return ""
}
