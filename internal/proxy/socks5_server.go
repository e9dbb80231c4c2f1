package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Foundation-Devices/tor/internal/logging"
	"github.com/Foundation-Devices/tor/internal/socks5"
)

// SOCKS5Server accepts SOCKS5 CONNECT requests and carries them through
// cfg.Dialer. Credentials a client presents are not checked; they reach the
// dialer through the context (see socks5.AuthFromContext).
type SOCKS5Server struct {
	ctx     context.Context
	cfg     Config
	verbose bool
}

// NewSOCKS5Server returns a server whose connections live no longer than ctx.
func NewSOCKS5Server(ctx context.Context, cfg Config, verbose bool) *SOCKS5Server {
	if ctx == nil {
		ctx = context.Background()
	}
	return &SOCKS5Server{ctx: ctx, cfg: cfg, verbose: verbose}
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Serve accepts connections on ln until ln is closed or the server's
// context ends. Other accept errors, such as running out of file
// descriptors, are logged and retried with a capped backoff.
func (s *SOCKS5Server) Serve(ln net.Listener) error {
	var delay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}
			delay = nextAcceptDelay(delay)
			logging.Logger().Warn("socks5: accept failed; retrying",
				zap.Error(err), zap.Duration("delay", delay))

			t := time.NewTimer(delay)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return fmt.Errorf("accept: %w", s.ctx.Err())
			case <-t.C:
			}
			continue
		}
		delay = 0

		go func() {
			if err := s.handle(c); err != nil && s.verbose {
				logging.Logger().Info("socks5: connection error", zap.Error(err))
			}
		}()
	}
}

func nextAcceptDelay(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	return min(2*d, maxAcceptDelay)
}

// Run serves ln until ctx is cancelled, then closes ln and returns nil.
// In-flight connections are torn down when the server's own context ends.
func (s *SOCKS5Server) Run(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	err := s.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *SOCKS5Server) handle(conn net.Conn) error {
	defer conn.Close()
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	if s.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	auth, err := socks5.ServerNegotiate(conn)
	if err != nil {
		return err
	}
	if !auth.IsZero() {
		ctx = socks5.WithAuth(ctx, auth)
	}

	req, err := socks5.ServerReadRequest(conn)
	if err != nil {
		return err
	}
	if req.Cmd != socks5.CmdConnect {
		socks5.WriteCommandNotSupportedReply(conn, req.Atyp)
		return fmt.Errorf("unsupported command %d", req.Cmd)
	}

	dst := req.Address()
	up, err := s.cfg.Dialer.DialContext(ctx, "tcp", dst)
	if err != nil {
		socks5.WriteFailureReply(conn, replyFor(err), req.Atyp)
		return err
	}
	defer up.Close()

	if err := socks5.WriteSuccessReply(conn, up.LocalAddr()); err != nil {
		return err
	}

	if s.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Time{})
	}

	if err := CopyBidirectional(ctx, conn, up); err != nil {
		return fmt.Errorf("proxy %s: %w", dst, err)
	}
	return nil
}

// replyFor maps a dial error to the closest SOCKS5 reply code. A refusal
// from an upstream SOCKS server is passed through unchanged.
func replyFor(err error) byte {
	var repErr *socks5.ReplyError
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.As(err, &repErr):
		return repErr.Rep
	case errors.Is(err, context.DeadlineExceeded):
		return socks5.RepTTLExpired
	case errors.As(err, &dnsErr):
		return socks5.RepHostUnreachable
	case errors.As(err, &netErr) && netErr.Timeout():
		return socks5.RepTTLExpired
	case errors.Is(err, syscall.ECONNREFUSED):
		return socks5.RepConnectionRefused
	default:
		return socks5.RepGeneralFailure
	}
}
