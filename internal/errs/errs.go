// Package errs defines the error kinds shared by the registry, the lifecycle
// controller and the command surface.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	NotFound          Kind = "NotFound"
	NameConflict      Kind = "NameConflict"
	PathConflict      Kind = "PathConflict"
	InvalidTransition Kind = "InvalidTransition"
	ServerBusy        Kind = "ServerBusy"
	CorruptState      Kind = "CorruptState"
	RegistryLocked    Kind = "RegistryLocked"
	AdapterFailure    Kind = "AdapterFailure"
	FilesystemError   Kind = "FilesystemError"
	SupervisorFailure Kind = "SupervisorFailure"
	InvalidRequest    Kind = "InvalidRequest"
)

// Error is a classified failure with the server and operation it happened in.
type Error struct {
	// Kind is the failure class.
	Kind Kind

	// Op is the attempted operation (install, update, registry.insert, ...).
	Op string

	// Server is the server name, if one is involved.
	Server string

	// Detail is human-readable context, for adapter failures the tool's
	// diagnostic output.
	Detail string

	// Err is the underlying cause, if any.
	Err error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrNotFound          = &Error{Kind: NotFound}
	ErrNameConflict      = &Error{Kind: NameConflict}
	ErrPathConflict      = &Error{Kind: PathConflict}
	ErrInvalidTransition = &Error{Kind: InvalidTransition}
	ErrServerBusy        = &Error{Kind: ServerBusy}
	ErrCorruptState      = &Error{Kind: CorruptState}
	ErrRegistryLocked    = &Error{Kind: RegistryLocked}
	ErrAdapterFailure    = &Error{Kind: AdapterFailure}
	ErrFilesystem        = &Error{Kind: FilesystemError}
	ErrSupervisor        = &Error{Kind: SupervisorFailure}
	ErrInvalidRequest    = &Error{Kind: InvalidRequest}
)

// E builds an *Error.
func E(kind Kind, op, server string, err error) *Error {
	return &Error{Kind: kind, Op: op, Server: server, Err: err}
}

// Ef builds an *Error with a formatted detail and no cause.
func Ef(kind Kind, op, server, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Server: server, Detail: fmt.Sprintf(format, args...)}
}

// Error implements the error interface as "<op> <server>: <kind>: <detail>: <cause>".
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
	}
	if e.Server != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(e.Server)
	}
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Server == ""
}

// WithDetail sets the detail text and returns the error.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Wrap attaches op and server to err. Errors that already carry a kind keep it
// and only gain the missing op/server; anything else is classified as kind.
func Wrap(err error, kind Kind, op, server string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op != "" && e.Server != "" {
			return err
		}
		c := *e
		if c.Op == "" {
			c.Op = op
		}
		if c.Server == "" {
			c.Server = server
		}
		return &c
	}
	return E(kind, op, server, err)
}
