// Package tor drives a Tor client for the library.
//
// The client is a tor process launched and controlled through its control
// port with github.com/cretz/bine. This package exposes the handful of
// capabilities the boundary layer needs: create and bootstrap a client from
// two storage directories, toggle dormant mode, check that a usable network
// directory is present, get or launch an exit circuit, and dial streams
// through the client.
package tor
