package ir

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes every failure that can cross the command boundary.
type ErrorKind string

const (
	// KindInvalidHandle indicates the handle is stale, closed, or was never issued.
	KindInvalidHandle ErrorKind = "InvalidHandle"

	// KindPathInvalid indicates the storage root path cannot be used.
	KindPathInvalid ErrorKind = "PathInvalid"

	// KindAlreadyLocked indicates the storage root is held by another instance.
	KindAlreadyLocked ErrorKind = "AlreadyLocked"

	// KindCorruptState indicates on-disk state that cannot be read.
	KindCorruptState ErrorKind = "CorruptState"

	// KindModuleNotFound indicates the command names an unknown module.
	KindModuleNotFound ErrorKind = "ModuleNotFound"

	// KindActionNotFound indicates the module has no such action.
	KindActionNotFound ErrorKind = "ActionNotFound"

	// KindParseError indicates malformed command input.
	KindParseError ErrorKind = "ParseError"

	// KindValidationError indicates well-formed params that violate a module rule.
	KindValidationError ErrorKind = "ValidationError"

	// KindExecutionError indicates the module failed while running the action.
	KindExecutionError ErrorKind = "ExecutionError"

	// KindIOError indicates a filesystem or storage failure.
	KindIOError ErrorKind = "IOError"
)

// Kinds lists every ErrorKind in status-code order.
var Kinds = []ErrorKind{
	KindInvalidHandle,
	KindPathInvalid,
	KindAlreadyLocked,
	KindModuleNotFound,
	KindActionNotFound,
	KindParseError,
	KindValidationError,
	KindExecutionError,
	KindIOError,
	KindCorruptState,
}

// Valid reports whether k is one of the defined kinds.
func (k ErrorKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Error is the structured failure returned by every layer above storage.
//
// Module is empty for failures that happen before routing (handle, path,
// parse). Err holds the underlying cause, if any, and is reachable through
// errors.Is / errors.As.
type Error struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Message is a human-readable description.
	Message string

	// Module names the module that produced the error.
	Module string

	// Err is the wrapped cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Module != "" {
		return fmt.Sprintf("%s: %s (module=%s)", e.Kind, e.Message, e.Module)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates an Error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ModuleErrorf creates an Error attributed to a module.
func ModuleErrorf(kind ErrorKind, module, format string, args ...any) *Error {
	return &Error{Kind: kind, Module: module, Message: fmt.Sprintf(format, args...)}
}

// Wrap converts err into an *Error of the given kind.
// An err that already carries an *Error is returned unchanged so the
// innermost classification wins; a missing module is filled in.
func Wrap(kind ErrorKind, module string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Module == "" && module != "" {
			clone := *e
			clone.Module = module
			return &clone
		}
		return e
	}
	return &Error{Kind: kind, Module: module, Message: err.Error(), Err: err}
}

// KindOf returns the kind of err. Errors that are not *Error report
// KindExecutionError; a nil error reports "".
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindExecutionError
}

// IsKind returns true if err is an *Error of the given kind.
// Uses errors.As to handle wrapped errors.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsInvalidHandle returns true if err reports a stale or unknown handle.
func IsInvalidHandle(err error) bool {
	return IsKind(err, KindInvalidHandle)
}
