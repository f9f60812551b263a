// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package perr implements the tagged error taxonomy used across this module
// in place of a class-hierarchy of exceptions: each kind is a distinct Go
// type so callers distinguish them with errors.As, and each carries an
// optional captured source location for diagnostic output.
package perr

import (
	"fmt"
	"runtime"
)

// location is the file/function/line a perr error was constructed at. It is
// always captured (the cost is negligible next to the OS calls these errors
// typically wrap); renderers decide whether to print it.
type location struct {
	file     string
	function string
	line     int
}

func capture(skip int) location {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return location{}
	}
	fn := runtime.FuncForPC(pc)
	name := ""
	if fn != nil {
		name = fn.Name()
	}
	return location{file: file, function: name, line: line}
}

func (l location) String() string {
	if l.file == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d (%s)", l.file, l.line, l.function)
}

// UserInputError reports a bad flag, an unparseable PID or address, or any
// other mistake the operator made on the command line. Exit code -1.
type UserInputError struct {
	Message string
	loc     location
}

func NewUserInputError(format string, args ...any) *UserInputError {
	return &UserInputError{Message: fmt.Sprintf(format, args...), loc: capture(1)}
}

func (e *UserInputError) Error() string { return e.Message }

// OsError wraps a failed OS call, carrying its native error code. Exit code
// equals Code.
type OsError struct {
	Op      string
	Code    int
	Message string
	loc     location
}

func NewOsError(op string, code int, format string, args ...any) *OsError {
	return &OsError{Op: op, Code: code, Message: fmt.Sprintf(format, args...), loc: capture(1)}
}

func (e *OsError) Error() string {
	return fmt.Sprintf("%s: %s (code %d)", e.Op, e.Message, e.Code)
}

// ImageFormatError reports a signature mismatch, an out-of-range offset, or
// a truncated table while parsing an executable image.
type ImageFormatError struct {
	Message string
	loc     location
}

func NewImageFormatError(format string, args ...any) *ImageFormatError {
	return &ImageFormatError{Message: fmt.Sprintf(format, args...), loc: capture(1)}
}

func (e *ImageFormatError) Error() string { return e.Message }

// NullReference reports an internal contract violation: a defensive check
// that should be unreachable in correct code. Exit code -2.
type NullReference struct {
	Message string
	loc     location
}

func NewNullReference(format string, args ...any) *NullReference {
	return &NullReference{Message: fmt.Sprintf(format, args...), loc: capture(1)}
}

func (e *NullReference) Error() string { return e.Message }

// Unimplemented reports a code path intentionally not built, including a
// capability interface absent on the current platform. Exit code -2 if
// reached.
type Unimplemented struct {
	Message string
	loc     location
}

func NewUnimplemented(format string, args ...any) *Unimplemented {
	return &Unimplemented{Message: fmt.Sprintf(format, args...), loc: capture(1)}
}

func (e *Unimplemented) Error() string { return e.Message }

// Cancellation reports a user-initiated early termination. It is
// deliberately not an "error" in the user-visible sense: workflows treat it
// as success.
type Cancellation struct {
	Message string
	loc     location
}

func NewCancellation(format string, args ...any) *Cancellation {
	return &Cancellation{Message: fmt.Sprintf(format, args...), loc: capture(1)}
}

func (e *Cancellation) Error() string { return e.Message }

// ExitCode maps an error produced by this package to the process exit code
// the operator tools report. Errors not recognized as one of
// this package's kinds map to -3 (unexpected failure); nil maps to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch e := err.(type) {
	case *UserInputError:
		return -1
	case *OsError:
		return e.Code
	case *ImageFormatError:
		return -2
	case *NullReference:
		return -2
	case *Unimplemented:
		return -2
	case *Cancellation:
		return 0
	default:
		return -3
	}
}

// Location renders the source location captured at construction, or the
// empty string if none of the recognized kinds wrap err. Intended for
// debug-build diagnostic output.
func Location(err error) string {
	switch e := err.(type) {
	case *UserInputError:
		return e.loc.String()
	case *OsError:
		return e.loc.String()
	case *ImageFormatError:
		return e.loc.String()
	case *NullReference:
		return e.loc.String()
	case *Unimplemented:
		return e.loc.String()
	case *Cancellation:
		return e.loc.String()
	default:
		return ""
	}
}
