package ffi

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/Foundation-Devices/tor/internal/logging"
	"github.com/Foundation-Devices/tor/internal/proxy"
	"github.com/Foundation-Devices/tor/internal/sched"
	"github.com/Foundation-Devices/tor/internal/tor"
)

// Client is the object behind a client handle.
type Client struct {
	net   Network
	sched *sched.Scheduler
}

// Proxy is the object behind a proxy handle.
type Proxy struct {
	task *sched.Task
	addr net.Addr
}

// Bundle is the pair of handles returned by Start. Both are zero when
// Start fails.
type Bundle struct {
	Client uintptr
	Proxy  uintptr
}

// Start creates and bootstraps a client storing its state in stateDir and
// cacheDir, then starts a SOCKS5 proxy on 127.0.0.1:port carrying traffic
// through it. The caller owns both returned handles.
func (l *Library) Start(port uint16, stateDir, cacheDir []byte) Bundle {
	b, err := l.start(port, stateDir, cacheDir)
	if err != nil {
		l.Fail(err)
		return Bundle{}
	}
	return b
}

func (l *Library) start(port uint16, stateDir, cacheDir []byte) (Bundle, error) {
	state, err := decodeText("state_dir", stateDir)
	if err != nil {
		return Bundle{}, err
	}
	cache, err := decodeText("cache_dir", cacheDir)
	if err != nil {
		return Bundle{}, err
	}

	s, err := l.Scheduler()
	if err != nil {
		return Bundle{}, err
	}

	cfg := tor.Config{
		StateDir:        state,
		CacheDir:        cache,
		AllowOnionAddrs: true,
		TorPath:         s.Config().TorPath,
	}
	if err := cfg.Validate(); err != nil {
		return Bundle{}, fmt.Errorf("client config: %w", err)
	}

	ctx := context.Background()
	n, err := sched.Block(ctx, s, func(ctx context.Context) (Network, error) {
		return l.Connect(ctx, cfg)
	})
	if err != nil {
		return Bundle{}, fmt.Errorf("create client: %w", err)
	}

	p, err := spawnProxy(ctx, s, n, port)
	if err != nil {
		if cerr := n.Close(); cerr != nil {
			logging.Logger().Warn("closing client after failed start", zap.Error(cerr))
		}
		return Bundle{}, err
	}

	return Bundle{
		Client: release(&Client{net: n, sched: s}),
		Proxy:  release(p),
	}, nil
}

// spawnProxy binds the listener on the calling thread, so a busy port is
// reported by Start, and serves it from a scheduler task.
func spawnProxy(ctx context.Context, s *sched.Scheduler, d proxy.Dialer, port uint16) (*Proxy, error) {
	cfg := s.Config()
	ln, err := proxy.ListenTCP(ctx, "tcp", proxy.LocalhostAddr(port), cfg.KeepAlive)
	if err != nil {
		return nil, fmt.Errorf("socks proxy: %w", err)
	}

	pcfg := proxy.Config{
		NegotiationTimeout: cfg.NegotiationTimeout,
		KeepAlive:          cfg.KeepAlive,
		Dialer:             d,
	}
	task := s.Spawn("socks-proxy", func(ctx context.Context) error {
		return proxy.NewSOCKS5Server(ctx, pcfg, cfg.LogEnabled).Run(ctx, ln)
	})

	logging.Logger().Info("socks proxy listening", zap.Stringer("addr", ln.Addr()))
	return &Proxy{task: task, addr: ln.Addr()}, nil
}

// Bootstrap borrows the client and runs its bootstrap to completion. It
// reports whether the client is bootstrapped.
func (l *Library) Bootstrap(client uintptr) bool {
	c, err := borrow[*Client](client, "client")
	if err != nil {
		l.Fail(err)
		return false
	}

	_, err = sched.Block(context.Background(), c.sched, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.net.Bootstrap(ctx)
	})
	if err != nil {
		l.Fail(err)
		return false
	}
	return true
}

// SetDormant borrows the client and switches it to soft-dormant mode when
// soft is true, or back to normal operation otherwise. The handle stays
// valid either way.
func (l *Library) SetDormant(client uintptr, soft bool) {
	c, err := borrow[*Client](client, "client")
	if err != nil {
		l.Fail(err)
		return
	}

	mode := tor.DormantNormal
	if soft {
		mode = tor.DormantSoft
	}
	_, err = sched.Block(context.Background(), c.sched, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.net.SetDormant(ctx, mode)
	})
	if err != nil {
		l.Fail(err)
	}
}

// ExitNode borrows the client and returns the identity of the last hop of
// an exit circuit, reusing a built circuit when there is one. It does not
// change the client's state.
func (l *Library) ExitNode(client uintptr) (string, bool) {
	c, err := borrow[*Client](client, "client")
	if err != nil {
		l.Fail(err)
		return "", false
	}

	id, err := sched.Block(context.Background(), c.sched, func(ctx context.Context) (string, error) {
		if _, err := c.net.NetDir(ctx); err != nil {
			return "", err
		}
		circ, err := c.net.ExitCircuit(ctx, tor.CircuitRequest{})
		if err != nil {
			return "", fmt.Errorf("exit circuit: %w", err)
		}
		hop, err := circ.LastHop()
		if err != nil {
			return "", err
		}
		return hop.String(), nil
	})
	if err != nil {
		l.Fail(err)
		return "", false
	}
	return id, true
}

// DestroyClient takes the client and shuts it down. A proxy started with
// it keeps its listener but can no longer carry traffic; stop it first.
func (l *Library) DestroyClient(client uintptr) {
	c, err := take[*Client](client, "client")
	if err != nil {
		l.Fail(err)
		return
	}
	if err := c.net.Close(); err != nil {
		l.Fail(err)
	}
}

// StopProxy takes the proxy and asks its task to stop. It returns without
// waiting; the listener closes as soon as the task observes the request.
func (l *Library) StopProxy(p uintptr) {
	px, err := take[*Proxy](p, "proxy")
	if err != nil {
		l.Fail(err)
		return
	}
	px.task.Cancel()
	logging.Logger().Info("socks proxy stopping", zap.Stringer("addr", px.addr))
}
