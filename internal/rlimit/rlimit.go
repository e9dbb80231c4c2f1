//go:build linux || darwin

// Package rlimit reads and raises the open file descriptor limit. A Tor
// client holds many sockets open at once and the default soft limit on some
// platforms is too low for it.
package rlimit

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Nofile returns the current soft RLIMIT_NOFILE.
func Nofile() (uint64, error) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, fmt.Errorf("getrlimit nofile: %w", err)
	}
	return uint64(lim.Cur), nil
}

// IncreaseNofile raises the soft RLIMIT_NOFILE toward limit and returns the
// resulting soft limit. The new value is capped at the hard limit and at
// any platform ceiling. The limit is never lowered.
func IncreaseNofile(limit uint64) (uint64, error) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, fmt.Errorf("getrlimit nofile: %w", err)
	}

	target := min(limit, uint64(lim.Max))
	if ceiling, ok := platformCeiling(); ok {
		target = min(target, ceiling)
	}
	if target <= uint64(lim.Cur) {
		return uint64(lim.Cur), nil
	}

	lim.Cur = target
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, fmt.Errorf("setrlimit nofile %d: %w", target, err)
	}
	return target, nil
}
