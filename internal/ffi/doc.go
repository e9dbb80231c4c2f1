// Package ffi implements the C boundary of the library on plain Go types so
// it can be tested without cgo. The root package only converts C values and
// forwards to Default.
//
// Objects cross the boundary as opaque handles (runtime/cgo.Handle values,
// never zero). Every operation documents whether it borrows a handle,
// leaving it valid, or takes it, after which the caller must not pass it
// again:
//
//	Start          returns a new client handle and a new proxy handle
//	Bootstrap      borrows the client
//	SetDormant     borrows the client
//	ExitNode       borrows the client
//	DestroyClient  takes the client
//	StopProxy      takes the proxy
//
// Operations that fail record the error in the calling thread's slot of the
// error channel and return a sentinel (zero handles, false, or no text).
package ffi
