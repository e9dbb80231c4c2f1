package main

/*
#include <stdlib.h>
#include <string.h>
*/
import "C"

import "unsafe"

// textArg copies a C string. NULL becomes nil so it can be told apart from
// an empty string.
func textArg(s *C.char) []byte {
	if s == nil {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(s), C.int(C.strlen(s)))
}

// cText returns a malloc'd copy of s, released with tor_free_string.
func cText(s string) *C.char {
	return C.CString(s)
}

// cBytes returns a malloc'd NUL-terminated copy of b, which need not be
// valid UTF-8. Release it with tor_free_string.
func cBytes(b []byte) *C.char {
	return (*C.char)(C.CBytes(append(b[:len(b):len(b)], 0)))
}

// goText copies a string returned by the library. ok is false for NULL.
func goText(s *C.char) (text string, ok bool) {
	if s == nil {
		return "", false
	}
	return C.GoString(s), true
}
