//go:build linux || darwin

package ffi

import "github.com/Foundation-Devices/tor/internal/rlimit"

// NofileLimit returns the soft open-file limit, or 0 after recording the
// error.
func (l *Library) NofileLimit() uint64 {
	n, err := rlimit.Nofile()
	if err != nil {
		l.Fail(err)
		return 0
	}
	return n
}

// SetNofileLimit raises the soft open-file limit toward limit and returns
// the resulting limit, or 0 after recording the error.
func (l *Library) SetNofileLimit(limit uint64) uint64 {
	n, err := rlimit.IncreaseNofile(limit)
	if err != nil {
		l.Fail(err)
		return 0
	}
	return n
}
