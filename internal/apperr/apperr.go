// Package apperr defines the error kinds surfaced by the proxy engine.
//
// Every lifecycle failure that reaches a caller carries a machine-readable
// Kind so the console can react without parsing messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	KindValidation      Kind = "VALIDATION"
	KindNotFound        Kind = "NOT_FOUND"
	KindPortInUse       Kind = "PORT_IN_USE"
	KindBind            Kind = "BIND"
	KindCertificate     Kind = "CERTIFICATE"
	KindUpstreamConnect Kind = "UPSTREAM_CONNECT"
	KindTimeout         Kind = "TIMEOUT"
	KindInternal        Kind = "INTERNAL"
)

// Error is an error tagged with a Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind, so that
// errors.Is(err, apperr.NotFound) works without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	Validation      = &Error{Kind: KindValidation}
	NotFound        = &Error{Kind: KindNotFound}
	PortInUse       = &Error{Kind: KindPortInUse}
	Bind            = &Error{Kind: KindBind}
	Certificate     = &Error{Kind: KindCertificate}
	UpstreamConnect = &Error{Kind: KindUpstreamConnect}
	Timeout         = &Error{Kind: KindTimeout}
)

func New(kind Kind, message string, err error) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
