package tor

import (
	"errors"
	"path/filepath"
)

// Config describes how a client is created.
type Config struct {
	// StateDir holds persistent state (keys, guards). It is used as tor's
	// DataDirectory.
	StateDir string

	// CacheDir holds the directory cache. It may be StateDir, which is
	// also tor's default.
	CacheDir string

	// AllowOnionAddrs permits connections to .onion addresses.
	AllowOnionAddrs bool

	// TorPath is the tor executable. Empty means "tor" on PATH.
	TorPath string
}

// Validate checks that the storage directories are usable.
func (c Config) Validate() error {
	if c.StateDir == "" {
		return errors.New("state directory is empty")
	}
	if c.CacheDir == "" {
		return errors.New("cache directory is empty")
	}
	return nil
}

// args returns the tor command line options derived from c, beyond what
// bine sets itself.
func (c Config) args() []string {
	socks := "auto"
	if !c.AllowOnionAddrs {
		socks += " NoOnionTraffic"
	}
	var args []string
	if filepath.Clean(c.CacheDir) != filepath.Clean(c.StateDir) {
		args = append(args, "--CacheDirectory", c.CacheDir)
	}
	return append(args, "--SocksPort", socks)
}
