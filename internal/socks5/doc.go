// Package socks5 provides the small SOCKS5 handshake implementation used by
// the local proxy front-end and by the Tor client to reach tor's SocksPort.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5 to
// keep negotiation, CONNECT parsing and reply writing in one place. It is
// not a full SOCKS5 server or client: only no-auth and username/password
// negotiation and the CONNECT command are supported.
package socks5
