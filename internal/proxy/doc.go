// Package proxy implements the local SOCKS5 front-end that carries
// application traffic through the Tor client, plus shared connection
// plumbing such as keepalive listeners and bidirectional copy.
package proxy
