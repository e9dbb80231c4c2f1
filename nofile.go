//go:build linux || darwin

package main

/*
#include <stdint.h>
*/
import "C"

import "github.com/Foundation-Devices/tor/internal/ffi"

//export tor_get_nofile_limit
func tor_get_nofile_limit() C.uint64_t {
	return C.uint64_t(ffi.Default.NofileLimit())
}

//export tor_set_nofile_limit
func tor_set_nofile_limit(limit C.uint64_t) C.uint64_t {
	return C.uint64_t(ffi.Default.SetNofileLimit(uint64(limit)))
}
