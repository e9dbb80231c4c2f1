package proxy

import (
	"context"
	"net"
	"time"
)

// Dialer opens outbound streams. The Tor client implements it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Config struct {
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	Dialer Dialer
}
