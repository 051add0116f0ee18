package backend

import (
	"errors"
	"fmt"
	"syscall"
	"time"
)

var (
	// ErrStatusUnavailable is returned by Status where the platform cannot
	// describe the interpreter process.
	ErrStatusUnavailable = errors.New("backend: process status unavailable on this platform")

	// ErrClosed is returned by calls on a closed interpreter.
	ErrClosed = errors.New("backend: interpreter is closed")
)

// ScriptError is an error raised by script code, or by a host function on
// the script's behalf. Module and Line locate the raise when known.
type ScriptError struct {
	Message string
	Module  string
	Line    int
	Trace   string
	// Value is the raised value when it was not a string.
	Value any
}

func (e *ScriptError) Error() string {
	if e.Module != "" && e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Module, e.Line, e.Message)
	}
	return e.Message
}

// SyntaxError is a compile failure. It unwraps to its ScriptError, so
// errors.As finds either type.
type SyntaxError struct {
	ScriptError
}

func (e *SyntaxError) Unwrap() error { return &e.ScriptError }

// TimeoutError is returned when the CPU budget is spent.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return "The time allocated for running scripts has expired."
}

// OutOfMemoryError is returned when the memory ceiling is exceeded.
type OutOfMemoryError struct {
	Limit uint64
}

func (e *OutOfMemoryError) Error() string { return "not enough memory" }

// ProcessExitedError is returned when an interpreter process exits.
type ProcessExitedError struct {
	Code int
}

func (e *ProcessExitedError) Error() string {
	return fmt.Sprintf("script interpreter exited with status %d", e.Code)
}

// ProcessSignaledError is returned when an interpreter process is killed by
// a signal.
type ProcessSignaledError struct {
	Signal syscall.Signal
}

func (e *ProcessSignaledError) Error() string {
	return fmt.Sprintf("script interpreter exited due to signal %d (%s)", int(e.Signal), e.Signal)
}

// HandleNotFoundError is returned for a released or unknown function handle.
type HandleNotFoundError struct {
	ID int64
}

func (e *HandleNotFoundError) Error() string {
	return fmt.Sprintf("function id %d does not exist", e.ID)
}

// IsFatal reports whether err must abort the whole script call rather than
// surface as a catchable script error.
func IsFatal(err error) bool {
	var (
		timeout  *TimeoutError
		oom      *OutOfMemoryError
		exited   *ProcessExitedError
		signaled *ProcessSignaledError
		handle   *HandleNotFoundError
	)
	switch {
	case err == nil:
		return false
	case errors.As(err, &timeout), errors.As(err, &oom),
		errors.As(err, &exited), errors.As(err, &signaled),
		errors.As(err, &handle):
		return true
	case errors.Is(err, ErrClosed):
		return true
	}
	return false
}
