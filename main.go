// Command tor is built with -buildmode=c-shared or c-archive and exposes a
// Tor client with a local SOCKS5 front-end to C callers.
//
// Handles cross the boundary as uintptr_t; 0 is never a valid handle.
// Every function that can fail records the failure for the calling thread,
// where tor_last_error_message retrieves it.
package main

/*
#include <stdbool.h>
#include <stdint.h>
#include <stdlib.h>
#include <string.h>

typedef struct Tor {
	uintptr_t client;
	uintptr_t proxy;
} Tor;
*/
import "C"

import (
	"unsafe"

	"github.com/Foundation-Devices/tor/internal/ffi"
)

func main() {}

//export tor_start
func tor_start(socksPort C.uint16_t, stateDir, cacheDir *C.char) C.Tor {
	b := ffi.Default.Start(uint16(socksPort), textArg(stateDir), textArg(cacheDir))
	return C.Tor{
		client: C.uintptr_t(b.Client),
		proxy:  C.uintptr_t(b.Proxy),
	}
}

//export tor_client_bootstrap
func tor_client_bootstrap(client C.uintptr_t) C.bool {
	return C.bool(ffi.Default.Bootstrap(uintptr(client)))
}

//export tor_client_set_dormant
func tor_client_set_dormant(client C.uintptr_t, softMode C.bool) {
	ffi.Default.SetDormant(uintptr(client), bool(softMode))
}

//export tor_get_exit_node
func tor_get_exit_node(client C.uintptr_t) *C.char {
	id, ok := ffi.Default.ExitNode(uintptr(client))
	if !ok {
		return nil
	}
	return C.CString(id)
}

//export tor_client_destroy
func tor_client_destroy(client C.uintptr_t) {
	ffi.Default.DestroyClient(uintptr(client))
}

//export tor_proxy_stop
func tor_proxy_stop(proxy C.uintptr_t) {
	ffi.Default.StopProxy(uintptr(proxy))
}

//export tor_free_string
func tor_free_string(s *C.char) {
	if s == nil {
		return
	}
	C.free(unsafe.Pointer(s))
}

//export tor_last_error_message
func tor_last_error_message() *C.char {
	return C.CString(ffi.Default.LastErrorMessage())
}

//export tor_hello
func tor_hello() {
	ffi.Default.Hello()
}
