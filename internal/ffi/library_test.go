package ffi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Foundation-Devices/tor/internal/config"
	"github.com/Foundation-Devices/tor/internal/lasterr"
	"github.com/Foundation-Devices/tor/internal/sched"
	"github.com/Foundation-Devices/tor/internal/socks5"
	"github.com/Foundation-Devices/tor/internal/testutil"
	"github.com/Foundation-Devices/tor/internal/tor"
)

type fakeNetwork struct {
	mu         sync.Mutex
	cfg        tor.Config
	mode       tor.DormantMode
	circuit    *tor.Circuit
	netDirErr  error
	bootstraps int
	closed     atomic.Bool
}

func (f *fakeNetwork) Bootstrap(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bootstraps++
	return nil
}

func (f *fakeNetwork) SetDormant(ctx context.Context, mode tor.DormantMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
	return nil
}

func (f *fakeNetwork) NetDir(ctx context.Context) (*tor.NetDir, error) {
	if f.netDirErr != nil {
		return nil, f.netDirErr
	}
	return &tor.NetDir{BootstrapPhase: "PROGRESS=100 TAG=done"}, nil
}

func (f *fakeNetwork) ExitCircuit(ctx context.Context, req tor.CircuitRequest) (*tor.Circuit, error) {
	if f.circuit == nil {
		return nil, errors.New("no circuit")
	}
	return f.circuit, nil
}

func (f *fakeNetwork) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if f.closed.Load() {
		return nil, errors.New("client closed")
	}
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}

func (f *fakeNetwork) Close() error {
	f.closed.Store(true)
	return nil
}

type harness struct {
	lib *Library
	net *fakeNetwork
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.NegotiationTimeout = 2 * time.Second
	s, err := sched.New(cfg)
	require.NoError(t, err)

	h := &harness{net: &fakeNetwork{
		circuit: &tor.Circuit{
			ID:     "7",
			Status: tor.StatusBuilt,
			Path: []tor.Relay{
				{Fingerprint: "AAAA", Nickname: "guard"},
				{Fingerprint: "BBBB", Nickname: "exit"},
			},
		},
	}}
	h.lib = &Library{
		Connect: func(ctx context.Context, cfg tor.Config) (Network, error) {
			h.net.cfg = cfg
			return h.net, nil
		},
		Scheduler: func() (*sched.Scheduler, error) { return s, nil },
		Errors:    lasterr.New(func() uint64 { return 1 }),
	}
	return h
}

func (h *harness) start(t *testing.T) (Bundle, uint16) {
	t.Helper()

	port := testutil.FreePort(t)
	b := h.lib.Start(port, []byte(t.TempDir()), []byte(t.TempDir()))
	require.NotZero(t, b.Client, h.lib.LastErrorMessage())
	require.NotZero(t, b.Proxy)
	t.Cleanup(func() {
		h.lib.StopProxy(b.Proxy)
		h.lib.DestroyClient(b.Client)
		h.lib.LastErrorMessage()
	})
	return b, port
}

func TestStartThenBootstrap(t *testing.T) {
	h := newHarness(t)
	b, _ := h.start(t)

	require.True(t, h.lib.Bootstrap(b.Client))
	require.True(t, h.lib.Bootstrap(b.Client))
	require.Equal(t, 2, h.net.bootstraps)
	require.True(t, h.net.cfg.AllowOnionAddrs)
	require.Empty(t, h.lib.LastErrorMessage())
}

func TestStartProxyCarriesTraffic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := newHarness(t)
	_, port := h.start(t)
	echoLn := testutil.StartEchoTCPServer(t, ctx)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, socks5.ClientDial(conn, socks5.Auth{}, echoLn.Addr().String()))
	testutil.AssertEcho(t, conn, conn, []byte("through the proxy"))
}

func TestStartRejectsBadText(t *testing.T) {
	h := newHarness(t)

	b := h.lib.Start(testutil.FreePort(t), []byte{0xff, 0xfe}, []byte(t.TempDir()))
	require.Zero(t, b)
	require.Equal(t, "invalid state_dir: not valid UTF-8", h.lib.LastErrorMessage())
	require.Empty(t, h.lib.LastErrorMessage())

	b = h.lib.Start(testutil.FreePort(t), []byte(t.TempDir()), nil)
	require.Zero(t, b)
	require.Equal(t, "invalid cache_dir: null pointer", h.lib.LastErrorMessage())
}

func TestStartSharedDirectory(t *testing.T) {
	h := newHarness(t)
	dir := []byte(t.TempDir())

	b := h.lib.Start(testutil.FreePort(t), dir, dir)
	require.NotZero(t, b.Client, h.lib.LastErrorMessage())
	require.NotZero(t, b.Proxy)
	defer h.lib.DestroyClient(b.Client)
	defer h.lib.StopProxy(b.Proxy)

	require.Equal(t, string(dir), h.net.cfg.StateDir)
	require.Equal(t, string(dir), h.net.cfg.CacheDir)
	require.True(t, h.lib.Bootstrap(b.Client))
}

func TestStartConnectFailure(t *testing.T) {
	h := newHarness(t)
	h.lib.Connect = func(ctx context.Context, cfg tor.Config) (Network, error) {
		return nil, errors.New("tor exited")
	}

	b := h.lib.Start(testutil.FreePort(t), []byte(t.TempDir()), []byte(t.TempDir()))
	require.Zero(t, b)
	require.Equal(t, "create client: tor exited", h.lib.LastErrorMessage())
}

func TestStartPortInUseClosesClient(t *testing.T) {
	h := newHarness(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := uint16(ln.Addr().(*net.TCPAddr).Port)

	b := h.lib.Start(port, []byte(t.TempDir()), []byte(t.TempDir()))
	require.Zero(t, b)
	require.Contains(t, h.lib.LastErrorMessage(), "socks proxy")
	require.True(t, h.net.closed.Load())
}

func TestStartSchedulerUnavailable(t *testing.T) {
	h := newHarness(t)
	h.lib.Scheduler = func() (*sched.Scheduler, error) {
		return nil, sched.ErrUnavailable
	}

	b := h.lib.Start(testutil.FreePort(t), []byte(t.TempDir()), []byte(t.TempDir()))
	require.Zero(t, b)
	require.Equal(t, sched.ErrUnavailable.Error(), h.lib.LastErrorMessage())
}

func TestExitNode(t *testing.T) {
	h := newHarness(t)
	b, _ := h.start(t)

	id, ok := h.lib.ExitNode(b.Client)
	require.True(t, ok)
	require.Equal(t, "$BBBB~exit", id)

	// The handle is still usable afterwards.
	id, ok = h.lib.ExitNode(b.Client)
	require.True(t, ok)
	require.Equal(t, "$BBBB~exit", id)
}

func TestExitNodeNoDirectory(t *testing.T) {
	h := newHarness(t)
	h.net.netDirErr = tor.ErrNoDirectory
	b, _ := h.start(t)

	_, ok := h.lib.ExitNode(b.Client)
	require.False(t, ok)
	require.Equal(t, "no directory available", h.lib.LastErrorMessage())
}

func TestExitNodeEmptyPath(t *testing.T) {
	h := newHarness(t)
	h.net.circuit = &tor.Circuit{ID: "3", Status: tor.StatusBuilt}
	b, _ := h.start(t)

	_, ok := h.lib.ExitNode(b.Client)
	require.False(t, ok)
	require.Equal(t, tor.ErrEmptyPath.Error(), h.lib.LastErrorMessage())
}

func TestSetDormantKeepsHandle(t *testing.T) {
	h := newHarness(t)
	b, _ := h.start(t)

	h.lib.SetDormant(b.Client, true)
	require.Equal(t, tor.DormantSoft, h.net.mode)
	h.lib.SetDormant(b.Client, false)
	require.Equal(t, tor.DormantNormal, h.net.mode)

	require.True(t, h.lib.Bootstrap(b.Client))
	require.Empty(t, h.lib.LastErrorMessage())
}

func TestNullHandles(t *testing.T) {
	h := newHarness(t)

	require.False(t, h.lib.Bootstrap(0))
	require.Equal(t, "client: null handle", h.lib.LastErrorMessage())

	h.lib.SetDormant(0, true)
	require.Equal(t, "client: null handle", h.lib.LastErrorMessage())

	_, ok := h.lib.ExitNode(0)
	require.False(t, ok)
	require.Equal(t, "client: null handle", h.lib.LastErrorMessage())

	h.lib.DestroyClient(0)
	require.Equal(t, "client: null handle", h.lib.LastErrorMessage())

	h.lib.StopProxy(0)
	require.Equal(t, "proxy: null handle", h.lib.LastErrorMessage())
}

func TestWrongHandleKind(t *testing.T) {
	h := newHarness(t)
	b, _ := h.start(t)

	require.False(t, h.lib.Bootstrap(b.Proxy))
	require.ErrorIs(t, h.lib.Errors.Take(), ErrWrongHandle)

	// A rejected take leaves the handle alive.
	h.lib.StopProxy(b.Client)
	require.ErrorIs(t, h.lib.Errors.Take(), ErrWrongHandle)
	require.True(t, h.lib.Bootstrap(b.Client))
}

func TestStopProxyRefusesNewConnections(t *testing.T) {
	h := newHarness(t)

	port := testutil.FreePort(t)
	b := h.lib.Start(port, []byte(t.TempDir()), []byte(t.TempDir()))
	require.NotZero(t, b.Proxy)
	defer h.lib.DestroyClient(b.Client)

	h.lib.StopProxy(b.Proxy)
	require.Empty(t, h.lib.LastErrorMessage())

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port)))
	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err != nil {
			return true
		}
		_ = c.Close()
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDestroyClientClosesNetwork(t *testing.T) {
	h := newHarness(t)

	b := h.lib.Start(testutil.FreePort(t), []byte(t.TempDir()), []byte(t.TempDir()))
	require.NotZero(t, b.Client)
	defer h.lib.StopProxy(b.Proxy)

	h.lib.DestroyClient(b.Client)
	require.True(t, h.net.closed.Load())
	require.Empty(t, h.lib.LastErrorMessage())
}

func TestErrorsFollowCallingThread(t *testing.T) {
	h := newHarness(t)
	h.lib.Errors = lasterr.New(nil)

	const workers = 16
	var recorded, checked sync.WaitGroup
	recorded.Add(workers)
	checked.Add(workers)

	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Go(func() {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			check := func(got, want string) {
				if got != want {
					errs <- fmt.Errorf("worker %d: got %q want %q", i, got, want)
				}
			}

			b := h.lib.Start(0, []byte{0xc3, 0x28}, []byte("/cache"))
			recorded.Done()
			recorded.Wait()
			check(fmt.Sprint(b), fmt.Sprint(Bundle{}))
			check(h.lib.LastErrorMessage(), "invalid state_dir: not valid UTF-8")
			check(h.lib.LastErrorMessage(), "")

			want := "client: null handle"
			if i%2 == 0 {
				h.lib.Bootstrap(0)
			} else {
				want = fmt.Sprintf("worker %d failed", i)
				h.lib.Fail(errors.New(want))
			}
			checked.Done()
			checked.Wait()
			check(h.lib.LastErrorMessage(), want)
			check(h.lib.LastErrorMessage(), "")
		})
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestLastErrorMessageEmptyWhenClear(t *testing.T) {
	h := newHarness(t)
	require.Empty(t, h.lib.LastErrorMessage())

	h.lib.Fail(errors.New("first"))
	h.lib.Fail(errors.New("second"))
	require.Equal(t, "second", h.lib.LastErrorMessage())
	require.Empty(t, h.lib.LastErrorMessage())
}
