// Package config loads the library configuration from the environment.
//
// The host application calls in through a C boundary and cannot pass flags,
// so every knob is an environment variable read once, when the background
// scheduler is first built. An invalid value is a construction error and is
// reported to every later caller.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Environment variables understood by Load.
const (
	EnvWorkers            = "TOR_FFI_WORKERS"
	EnvLogLevel           = "TOR_FFI_LOG_LEVEL"
	EnvTorPath            = "TOR_FFI_TOR_PATH"
	EnvNegotiationTimeout = "TOR_FFI_NEGOTIATION_TIMEOUT"
	EnvTCPKeepAlive       = "TOR_FFI_TCP_KEEPALIVE"
)

const (
	DefaultNegotiationTimeout = 10 * time.Second
	DefaultTCPKeepAlive       = "45:45:3"
)

type Config struct {
	// Workers is the number of scheduler workers.
	Workers int

	// LogLevel is the minimum level logged. Logging is off when LogEnabled
	// is false.
	LogLevel   zapcore.Level
	LogEnabled bool

	// TorPath is the tor executable. Empty means "tor" on PATH.
	TorPath string

	// NegotiationTimeout bounds the SOCKS handshake on the local proxy.
	NegotiationTimeout time.Duration

	// KeepAlive is applied to accepted proxy connections.
	KeepAlive net.KeepAliveConfig
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	ka, _ := ParseTCPKeepAlive(DefaultTCPKeepAlive)
	return Config{
		Workers:            runtime.GOMAXPROCS(0),
		LogLevel:           zapcore.InfoLevel,
		NegotiationTimeout: DefaultNegotiationTimeout,
		KeepAlive:          ka,
	}
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	cfg := Default()

	if s := getenv(EnvWorkers); s != "" {
		n, err := parsePositiveInt(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvWorkers, err)
		}
		cfg.Workers = n
	}

	if s := getenv(EnvLogLevel); s != "" {
		lvl, err := zapcore.ParseLevel(strings.TrimSpace(s))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvLogLevel, err)
		}
		cfg.LogLevel = lvl
		cfg.LogEnabled = true
	}

	cfg.TorPath = strings.TrimSpace(getenv(EnvTorPath))

	if s := getenv(EnvNegotiationTimeout); s != "" {
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvNegotiationTimeout, err)
		}
		if d < 0 {
			return Config{}, fmt.Errorf("invalid %s: must be >= 0", EnvNegotiationTimeout)
		}
		cfg.NegotiationTimeout = d
	}

	if s := getenv(EnvTCPKeepAlive); s != "" {
		ka, err := ParseTCPKeepAlive(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvTCPKeepAlive, err)
		}
		cfg.KeepAlive = ka
	}

	return cfg, nil
}

// ParseTCPKeepAlive parses on|off|keepidle:keepintvl:keepcnt, with idle and
// interval in seconds.
func ParseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
