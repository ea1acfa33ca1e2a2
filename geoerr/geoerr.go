// Package geoerr defines the closed error taxonomy shared by the location,
// favorites, storage and application-state packages.
//
// Every error surfaced to callers is an *Error carrying a Kind, so callers can
// branch on the failure class without matching message text:
//
//	if geoerr.Is(err, geoerr.NotFound) {
//		// render "no matches"
//	}
package geoerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	Generic     Kind = "generic"
	Validation  Kind = "validation"
	Permission  Kind = "permission"
	Unavailable Kind = "unavailable"
	Timeout     Kind = "timeout"
	NotFound    Kind = "not_found"
	Storage     Kind = "storage"
	Sync        Kind = "sync"
)

// Error is the concrete error type returned by this module.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "location.search".
	Op  string
	Msg string
	Err error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind. This lets sentinel
// errors such as ErrDuplicate in other packages match with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" && t.Op != e.Op {
		return false
	}
	if t.Msg != "" && t.Msg != e.Msg {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an error of kind k.
func New(k Kind, op, msg string) *Error {
	return &Error{Kind: k, Op: op, Msg: msg}
}

// Newf builds an error of kind k with a formatted message.
func Newf(k Kind, op, format string, args ...any) *Error {
	return &Error{Kind: k, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind k to err. A nil err yields nil.
func Wrap(k Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Op: op, Err: err}
}

// Wrapf attaches kind k and a message to err. A nil err yields nil.
func Wrapf(k Kind, op string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or Generic.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Generic
}

// Is reports whether err carries kind k anywhere in its chain.
func Is(err error, k Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == k {
			return true
		}
		err = e.Err
	}
	return false
}
