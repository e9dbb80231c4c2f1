package ffi

import (
	"fmt"
	"unicode/utf8"
)

// InputError is a malformed text argument received from the caller.
type InputError struct {
	Arg    string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Arg, e.Reason)
}

// decodeText converts a C string's bytes to a Go string. A nil b stands for
// a NULL pointer.
func decodeText(arg string, b []byte) (string, error) {
	if b == nil {
		return "", &InputError{Arg: arg, Reason: "null pointer"}
	}
	if !utf8.Valid(b) {
		return "", &InputError{Arg: arg, Reason: "not valid UTF-8"}
	}
	return string(b), nil
}
