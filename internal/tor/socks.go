package tor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Foundation-Devices/tor/internal/socks5"
)

// socksListener is one of tor's SocksPort listeners.
type socksListener struct {
	network string
	address string
}

// parseSocksListeners parses GETINFO net/listeners/socks: a space separated
// list of addresses, each optionally quoted, with unix sockets prefixed by
// "unix:".
func parseSocksListeners(s string) ([]socksListener, error) {
	var out []socksListener
	for _, f := range strings.Fields(s) {
		if strings.HasPrefix(f, `"`) {
			u, err := strconv.Unquote(f)
			if err != nil {
				return nil, fmt.Errorf("socks listener %s: %w", f, err)
			}
			f = u
		}
		if path, ok := strings.CutPrefix(f, "unix:"); ok {
			out = append(out, socksListener{network: "unix", address: path})
			continue
		}
		out = append(out, socksListener{network: "tcp", address: f})
	}
	if len(out) == 0 {
		return nil, errors.New("tor has no socks listener")
	}
	return out, nil
}

// socksConnect asks tor's SocksPort on conn to CONNECT to address. Non-zero
// auth is sent as username/password, which tor uses to isolate streams
// from those with other credentials.
func socksConnect(ctx context.Context, conn net.Conn, auth socks5.Auth, address string) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	err := socks5.ClientDial(conn, auth, address)
	if !stop() {
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	return conn.SetDeadline(time.Time{})
}
