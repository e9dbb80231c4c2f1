// Command tor-socks runs a Tor client with a local SOCKS5 proxy in front of
// it, using the same components as the C library.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/Foundation-Devices/tor/internal/config"
	"github.com/Foundation-Devices/tor/internal/logging"
	"github.com/Foundation-Devices/tor/internal/proxy"
	"github.com/Foundation-Devices/tor/internal/tor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		socksPort          = pflag.Uint16("socks-port", 9150, "Local SOCKS5 port on 127.0.0.1")
		stateDir           = pflag.String("state-dir", defaultDir("state"), "Directory for persistent Tor state")
		cacheDir           = pflag.String("cache-dir", defaultDir("cache"), "Directory for the Tor directory cache")
		torPath            = pflag.String("tor-path", os.Getenv(config.EnvTorPath), "Path to the tor executable, or empty to search PATH")
		logLevel           = pflag.String("log-level", "info", "Log level: debug|info|warn|error")
		negotiationTimeout = pflag.Duration("negotiation-timeout", config.DefaultNegotiationTimeout, "Timeout for SOCKS5 negotiation")
		tcpKeepAlive       = pflag.String("tcp-keepalive", config.DefaultTCPKeepAlive, "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		noOnion            = pflag.Bool("no-onion", false, "Refuse connections to .onion addresses")
		verbose            = pflag.Bool("verbose", false, "Enable per-connection error logging")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	level, err := zapcore.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	if err := logging.Configure(level); err != nil {
		return err
	}
	log := logging.Logger()
	defer func() { _ = log.Sync() }()

	ka, err := config.ParseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	torCfg := tor.Config{
		StateDir:        *stateDir,
		CacheDir:        *cacheDir,
		AllowOnionAddrs: !*noOnion,
		TorPath:         *torPath,
	}
	if err := torCfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := proxy.ListenTCP(ctx, "tcp", proxy.LocalhostAddr(*socksPort), ka)
	if err != nil {
		return fmt.Errorf("socks5 listen: %w", err)
	}

	log.Info("bootstrapping tor", zap.String("state_dir", torCfg.StateDir))
	client, err := tor.Create(ctx, torCfg)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("tor: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Warn("closing tor", zap.Error(err))
		}
	}()

	if circ, err := client.ExitCircuit(ctx, tor.CircuitRequest{}); err == nil {
		if hop, err := circ.LastHop(); err == nil {
			log.Info("exit relay", zap.Stringer("relay", hop))
		}
	}

	cfg := proxy.Config{
		NegotiationTimeout: *negotiationTimeout,
		KeepAlive:          ka,
		Dialer:             client,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := proxy.NewSOCKS5Server(ctx, cfg, *verbose).Run(ctx, ln); err != nil {
			return fmt.Errorf("socks5 serve: %w", err)
		}
		return nil
	})
	log.Info("socks5 proxy listening", zap.Stringer("addr", ln.Addr()))

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	log.Info("shutting down")
	return err
}

func defaultDir(name string) string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tor-socks", name)
}
