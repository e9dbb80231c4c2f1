package socks5

import (
	"errors"
	"fmt"
	"net"
	"slices"

	txsocks5 "github.com/txthinking/socks5"
)

var (
	// ErrNoAcceptableMethod means the peers share no authentication method.
	ErrNoAcceptableMethod = errors.New("socks5: no acceptable authentication method")

	// ErrAuthFailed means the server rejected our username/password.
	ErrAuthFailed = errors.New("socks5: authentication failed")
)

// ServerNegotiate reads the client greeting and completes authentication.
// Username/password is preferred when the client offers it, and any
// credentials are accepted: they label the client's streams rather than
// grant access. The returned Auth is zero for the no-auth method.
func ServerNegotiate(conn net.Conn) (Auth, error) {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return Auth{}, fmt.Errorf("negotiation request: %w", err)
	}

	var method byte
	switch {
	case slices.Contains(neg.Methods, txsocks5.MethodUsernamePassword):
		method = txsocks5.MethodUsernamePassword
	case slices.Contains(neg.Methods, txsocks5.MethodNone):
		method = txsocks5.MethodNone
	default:
		writeNoAcceptableMethods(conn)
		return Auth{}, ErrNoAcceptableMethod
	}
	if _, err := txsocks5.NewNegotiationReply(method).WriteTo(conn); err != nil {
		return Auth{}, fmt.Errorf("negotiation reply: %w", err)
	}
	if method == txsocks5.MethodNone {
		return Auth{}, nil
	}

	urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
	if err != nil {
		return Auth{}, fmt.Errorf("read userpass: %w", err)
	}
	if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(conn); err != nil {
		return Auth{}, fmt.Errorf("write userpass: %w", err)
	}
	return Auth{Username: string(urq.Uname), Password: string(urq.Passwd)}, nil
}

// ServerReadRequest reads the request that follows negotiation.
func ServerReadRequest(conn net.Conn) (*txsocks5.Request, error) {
	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	return req, nil
}
