package ffi

import (
	"errors"
	"fmt"
	"runtime/cgo"
)

var (
	// ErrNullHandle is recorded when a zero handle is passed in.
	ErrNullHandle = errors.New("null handle")

	// ErrWrongHandle is recorded when a handle refers to a different kind
	// of object than the operation expects.
	ErrWrongHandle = errors.New("handle refers to the wrong kind of object")
)

// release hands v to the caller as a new opaque handle. The library keeps
// no other reference to the handle.
func release(v any) uintptr {
	return uintptr(cgo.NewHandle(v))
}

// borrow resolves h without invalidating it.
func borrow[T any](h uintptr, what string) (T, error) {
	var zero T
	if h == 0 {
		return zero, fmt.Errorf("%s: %w", what, ErrNullHandle)
	}
	v, ok := cgo.Handle(h).Value().(T)
	if !ok {
		return zero, fmt.Errorf("%s: %w", what, ErrWrongHandle)
	}
	return v, nil
}

// take resolves h and invalidates it. A handle that fails the null or type
// check is left untouched.
func take[T any](h uintptr, what string) (T, error) {
	v, err := borrow[T](h, what)
	if err != nil {
		return v, err
	}
	cgo.Handle(h).Delete()
	return v, nil
}
