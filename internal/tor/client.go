package tor

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cretz/bine/control"
	"github.com/cretz/bine/tor"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"
	"golang.org/x/sync/singleflight"

	"github.com/Foundation-Devices/tor/internal/logging"
	"github.com/Foundation-Devices/tor/internal/socks5"
)

const (
	circuitBuildTimeout = 60 * time.Second
	circuitPollInterval = 250 * time.Millisecond
)

// DormantMode is the client's background activity level.
type DormantMode int

const (
	// DormantNormal runs all background maintenance.
	DormantNormal DormantMode = iota
	// DormantSoft suspends non-essential background work while keeping
	// existing connections.
	DormantSoft
)

func (m DormantMode) String() string {
	switch m {
	case DormantNormal:
		return "normal"
	case DormantSoft:
		return "soft"
	default:
		return fmt.Sprintf("DormantMode(%d)", int(m))
	}
}

// CircuitRequest describes the exit circuit wanted by ExitCircuit.
type CircuitRequest struct {
	// Ports the exit must allow. Empty means no restriction.
	Ports []uint16

	// Isolation is a stream isolation token. Zero means no isolation;
	// any other value always gets a circuit of its own.
	Isolation uint64
}

func (r CircuitRequest) shareable() bool {
	return len(r.Ports) == 0 && r.Isolation == 0
}

// NetDir summarises the client's current network directory.
type NetDir struct {
	BootstrapPhase string
}

// controller is the part of bine's control connection the client uses.
type controller interface {
	GetInfo(keys ...string) ([]*control.KeyVal, error)
	Signal(signal string) error
	SendRequest(format string, args ...any) (*control.Response, error)
}

// process is the part of a running bine tor instance the client uses.
type process interface {
	EnableNetwork(ctx context.Context, wait bool) error
	Close() error
}

// Client is a running Tor client. It is safe for concurrent use.
type Client struct {
	cfg  Config
	proc process
	ctrl controller

	sf singleflight.Group

	mu    sync.Mutex
	socks *socksListener
	mode  DormantMode
}

// Create launches tor with cfg and bootstraps it.
func Create(ctx context.Context, cfg Config) (*Client, error) {
	c, err := launch(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Bootstrap(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func launch(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}

	conf := &tor.StartConf{
		ExePath:         cfg.TorPath,
		DataDir:         cfg.StateDir,
		NoAutoSocksPort: true,
		ExtraArgs:       cfg.args(),
	}
	log := logging.Logger()
	if log.Core().Enabled(zapcore.DebugLevel) {
		conf.DebugWriter = &zapio.Writer{Log: log.Named("bine"), Level: zapcore.DebugLevel}
	}

	t, err := tor.Start(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("start tor: %w", err)
	}
	log.Info("tor started", zap.String("state_dir", cfg.StateDir), zap.String("cache_dir", cfg.CacheDir))

	return newClient(cfg, t, t.Control), nil
}

func newClient(cfg Config, proc process, ctrl controller) *Client {
	return &Client{cfg: cfg, proc: proc, ctrl: ctrl}
}

// Bootstrap enables the network, waits for tor to bootstrap, then checks
// status/bootstrap-phase for 100% progress. On a client whose network is
// already enabled only the progress check does any work.
func (c *Client) Bootstrap(ctx context.Context) error {
	if err := c.proc.EnableNetwork(ctx, true); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	kvs, err := c.ctrl.GetInfo("status/bootstrap-phase")
	if err != nil {
		return fmt.Errorf("bootstrap status: %w", err)
	}
	var phase string
	for _, kv := range kvs {
		if kv.Key == "status/bootstrap-phase" {
			phase = kv.Val
		}
	}
	progress, err := bootstrapProgress(phase)
	if err != nil {
		return fmt.Errorf("bootstrap status: %w", err)
	}
	if progress < 100 {
		return fmt.Errorf("%w: %d%%", ErrBootstrapIncomplete, progress)
	}

	logging.Logger().Info("tor bootstrapped")
	return nil
}

// bootstrapProgress extracts PROGRESS=N from a bootstrap status event such
// as `NOTICE BOOTSTRAP PROGRESS=100 TAG=done SUMMARY="Done"`.
func bootstrapProgress(phase string) (int, error) {
	for _, f := range strings.Fields(phase) {
		if v, ok := strings.CutPrefix(f, "PROGRESS="); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("progress %q: %w", v, err)
			}
			return n, nil
		}
	}
	return 0, fmt.Errorf("no progress in %q", phase)
}

// SetDormant switches between normal and soft-dormant operation.
func (c *Client) SetDormant(ctx context.Context, mode DormantMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var signal string
	switch mode {
	case DormantNormal:
		signal = "ACTIVE"
	case DormantSoft:
		signal = "DORMANT"
	default:
		return fmt.Errorf("set dormant: unknown mode %v", mode)
	}

	if err := c.ctrl.Signal(signal); err != nil {
		return fmt.Errorf("set dormant %s: %w", mode, err)
	}

	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	logging.Logger().Debug("dormant mode set", zap.Stringer("mode", mode))
	return nil
}

// DormantMode returns the mode last set with SetDormant.
func (c *Client) DormantMode() DormantMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// NetDir returns the current directory if it is timely enough to build
// circuits with, and ErrNoDirectory otherwise.
func (c *Client) NetDir(ctx context.Context) (*NetDir, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kvs, err := c.ctrl.GetInfo("status/enough-dir-info", "status/bootstrap-phase")
	if err != nil {
		return nil, fmt.Errorf("directory status: %w", err)
	}

	var enough bool
	dir := &NetDir{}
	for _, kv := range kvs {
		switch kv.Key {
		case "status/enough-dir-info":
			enough = strings.TrimSpace(kv.Val) == "1"
		case "status/bootstrap-phase":
			dir.BootstrapPhase = kv.Val
		}
	}
	if !enough {
		return nil, ErrNoDirectory
	}
	return dir, nil
}

// Circuits returns tor's current circuit list.
func (c *Client) Circuits(ctx context.Context) ([]Circuit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kvs, err := c.ctrl.GetInfo("circuit-status")
	if err != nil {
		return nil, fmt.Errorf("circuit status: %w", err)
	}
	for _, kv := range kvs {
		if kv.Key == "circuit-status" {
			return parseCircuitStatus(kv.Val)
		}
	}
	return nil, nil
}

// ExitCircuit returns a built exit circuit matching req, reusing an
// existing one when req allows sharing and launching one otherwise.
//
// Concurrent launches on one client are coalesced. A caller whose ctx ends
// stops waiting, but the launch continues for the others.
func (c *Client) ExitCircuit(ctx context.Context, req CircuitRequest) (*Circuit, error) {
	if req.shareable() {
		circs, err := c.Circuits(ctx)
		if err != nil {
			return nil, err
		}
		for i := range circs {
			if circs[i].usableExit() {
				return &circs[i], nil
			}
		}
	}

	key := "exit"
	if !req.shareable() {
		key = fmt.Sprintf("exit/%d/%v", req.Isolation, req.Ports)
	}

	ch := c.sf.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), circuitBuildTimeout)
		defer cancel()
		return c.launchExit(lctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Circuit), nil
	}
}

// launchExit asks tor to build a new general purpose circuit and waits for
// it to be built.
func (c *Client) launchExit(ctx context.Context) (*Circuit, error) {
	resp, err := c.ctrl.SendRequest("EXTENDCIRCUIT 0")
	if err != nil {
		return nil, fmt.Errorf("launch circuit: %w", err)
	}
	id, ok := strings.CutPrefix(strings.TrimSpace(resp.Reply), "EXTENDED ")
	if !ok {
		return nil, fmt.Errorf("launch circuit: unexpected reply %q", resp.Reply)
	}
	id = strings.TrimSpace(id)
	logging.Logger().Debug("circuit launched", zap.String("circuit", id))

	ticker := time.NewTicker(circuitPollInterval)
	defer ticker.Stop()
	for {
		circs, err := c.Circuits(ctx)
		if err != nil {
			return nil, err
		}

		found := false
		for i := range circs {
			if circs[i].ID != id {
				continue
			}
			found = true
			switch circs[i].Status {
			case StatusBuilt:
				return &circs[i], nil
			case StatusFailed, StatusClosed:
				return nil, fmt.Errorf("circuit %s %s", id, strings.ToLower(circs[i].Status))
			}
		}
		if !found {
			return nil, fmt.Errorf("circuit %s vanished before it was built", id)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("circuit %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// DialContext opens a stream to address through tor's SocksPort.
// Credentials attached to ctx with socks5.WithAuth are passed on, so
// streams with different credentials use different circuits.
func (c *Client) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("tor dial %s %s: unsupported network", network, address)
	}

	if !c.cfg.AllowOnionAddrs {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			host = address
		}
		if strings.HasSuffix(strings.ToLower(strings.TrimSuffix(host, ".")), ".onion") {
			return nil, fmt.Errorf("dial %s: %w", address, ErrOnionDisabled)
		}
	}

	l, err := c.socksListener(ctx)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, l.network, l.address)
	if err != nil {
		return nil, fmt.Errorf("tor socks port: %w", err)
	}

	auth, _ := socks5.AuthFromContext(ctx)
	if err := socksConnect(ctx, conn, auth, address); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tor dial %s %s: %w", network, address, err)
	}
	return conn, nil
}

func (c *Client) socksListener(ctx context.Context) (socksListener, error) {
	c.mu.Lock()
	l := c.socks
	c.mu.Unlock()
	if l != nil {
		return *l, nil
	}

	if err := ctx.Err(); err != nil {
		return socksListener{}, err
	}
	kvs, err := c.ctrl.GetInfo("net/listeners/socks")
	if err != nil {
		return socksListener{}, fmt.Errorf("socks listener: %w", err)
	}
	var val string
	for _, kv := range kvs {
		if kv.Key == "net/listeners/socks" {
			val = kv.Val
		}
	}
	ls, err := parseSocksListeners(val)
	if err != nil {
		return socksListener{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socks == nil {
		c.socks = &ls[0]
		logging.Logger().Debug("using tor socks listener",
			zap.String("network", ls[0].network), zap.String("address", ls[0].address))
	}
	return *c.socks, nil
}

// Close stops the tor process.
func (c *Client) Close() error {
	if err := c.proc.Close(); err != nil {
		return fmt.Errorf("close tor: %w", err)
	}
	return nil
}
