package tor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "ok", cfg: Config{StateDir: "/tmp/state", CacheDir: "/tmp/cache"}},
		{name: "missing state", cfg: Config{CacheDir: "/tmp/cache"}, wantErr: true},
		{name: "missing cache", cfg: Config{StateDir: "/tmp/state"}, wantErr: true},
		{name: "same directory", cfg: Config{StateDir: "/tmp/x/", CacheDir: "/tmp/x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfigArgs(t *testing.T) {
	cfg := Config{StateDir: "/s", CacheDir: "/c", AllowOnionAddrs: true}
	require.Equal(t, []string{"--CacheDirectory", "/c", "--SocksPort", "auto"}, cfg.args())

	cfg.AllowOnionAddrs = false
	require.Equal(t, []string{"--CacheDirectory", "/c", "--SocksPort", "auto NoOnionTraffic"}, cfg.args())
}

func TestConfigArgsSharedDirectory(t *testing.T) {
	cfg := Config{StateDir: "/data/tor", CacheDir: "/data/tor/", AllowOnionAddrs: true}
	require.NoError(t, cfg.Validate())
	require.Equal(t, []string{"--SocksPort", "auto"}, cfg.args())
}
