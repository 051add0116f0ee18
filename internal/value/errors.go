package value

import "fmt"

// KeyCollisionError is returned when two keys of one script table map to the
// same host key, such as the number 0 and the string "0".
type KeyCollisionError struct {
	Key string
}

func (e *KeyCollisionError) Error() string {
	return fmt.Sprintf("collision for table key %s when passing data from script to host", e.Key)
}

// ArgumentError reports an invalid argument to a host-backed function.
// Func and Arg are optional; without them only Msg is shown.
type ArgumentError struct {
	Func string
	Arg  int
	Msg  string
}

func (e *ArgumentError) Error() string {
	if e.Func == "" {
		return e.Msg
	}
	return fmt.Sprintf("bad argument #%d to '%s' (%s)", e.Arg, e.Func, e.Msg)
}

// ResultTooLargeError is returned when an operation would synthesize a string
// longer than the configured ceiling.
type ResultTooLargeError struct {
	Func  string
	Limit int
}

func (e *ResultTooLargeError) Error() string {
	return fmt.Sprintf("result too long for '%s' (limit %d bytes)", e.Func, e.Limit)
}
