// Package backend defines the interpreter abstraction that every script
// backend (the in-process sandbox, the out-of-process subprocess) implements,
// along with the function handles and error types exchanged between the
// engine and a backend.
package backend
