package ffi

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/Foundation-Devices/tor/internal/lasterr"
	"github.com/Foundation-Devices/tor/internal/logging"
	"github.com/Foundation-Devices/tor/internal/sched"
	"github.com/Foundation-Devices/tor/internal/tor"
)

// Network is the Tor client as seen by the boundary. *tor.Client
// implements it.
type Network interface {
	Bootstrap(ctx context.Context) error
	SetDormant(ctx context.Context, mode tor.DormantMode) error
	NetDir(ctx context.Context) (*tor.NetDir, error)
	ExitCircuit(ctx context.Context, req tor.CircuitRequest) (*tor.Circuit, error)
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
	Close() error
}

// ConnectFunc creates and bootstraps a client.
type ConnectFunc func(ctx context.Context, cfg tor.Config) (Network, error)

// Library bundles the collaborators behind the boundary functions.
type Library struct {
	// Connect creates and bootstraps clients.
	Connect ConnectFunc

	// Scheduler returns the background scheduler.
	Scheduler func() (*sched.Scheduler, error)

	// Errors receives every failure reported to the caller.
	Errors *lasterr.Channel
}

// Default is the library used by the exported C functions.
var Default = &Library{
	Connect:   connectTor,
	Scheduler: sched.Get,
	Errors:    lasterr.Default(),
}

func connectTor(ctx context.Context, cfg tor.Config) (Network, error) {
	c, err := tor.Create(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Fail records err for the calling thread.
func (l *Library) Fail(err error) {
	l.Errors.Record(err)
}

// LastErrorMessage returns and clears the calling thread's last error
// message, or "" when none was recorded since the previous call.
func (l *Library) LastErrorMessage() string {
	err := l.Errors.Take()
	if err == nil {
		return ""
	}
	return err.Error()
}

// Hello does nothing useful. Host build systems reference it to force the
// library to be linked.
func (l *Library) Hello() {
	logging.Logger().Info("hello there", zap.String("component", "tor"))
}
