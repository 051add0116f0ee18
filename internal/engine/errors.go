package engine

import (
	"errors"
	"fmt"
)

// ErrNoSuchModule is returned by Invoke when the host has no module for a
// reference.
var ErrNoSuchModule = errors.New("no such module")

// ErrDestroyed is returned by calls on a destroyed Engine.
var ErrDestroyed = errors.New("engine: destroyed")

// NoSuchFunctionError is returned when a module does not export the
// requested function.
type NoSuchFunctionError struct {
	Module   string
	Function string
}

func (e *NoSuchFunctionError) Error() string {
	return fmt.Sprintf("The function %q does not exist in %s", e.Function, e.Module)
}

// NotCallableError is returned when the requested export is not a function.
type NotCallableError struct {
	Module   string
	Function string
	Type     string
}

func (e *NotCallableError) Error() string {
	return fmt.Sprintf("%q in %s is a %s, not a function", e.Function, e.Module, e.Type)
}

// NotTableError is returned when a module's init chunk does not return a
// table of exports.
type NotTableError struct {
	Module string
	Type   string
}

func (e *NotTableError) Error() string {
	return fmt.Sprintf("The module %s returned a %s value, it is supposed to return an export table", e.Module, e.Type)
}

// RecursionLimitError is returned when frames nest deeper than the cap. Op
// names the operation that tried to nest, if known.
type RecursionLimitError struct {
	Op    string
	Limit int
}

func (e *RecursionLimitError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("template depth limit of %d exceeded", e.Limit)
	}
	return fmt.Sprintf("%s: template depth limit of %d exceeded", e.Op, e.Limit)
}

// attributeDepth names op in a RecursionLimitError that has no operation yet.
func attributeDepth(op string, err error) error {
	var rl *RecursionLimitError
	if errors.As(err, &rl) && rl.Op == "" {
		rl.Op = op
	}
	return err
}
