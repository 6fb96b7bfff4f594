package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultProtectListRoundTripsIntoPolicyConfig(t *testing.T) {
	cfg := Default()
	pc := cfg.ToPolicyConfig()
	require.True(t, pc.ProtectList["systemd"])
	require.Equal(t, 150, pc.MaxCandidates)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg := Default()
	cfg.TickIntervalMs = 750
	require.NoError(t, Save(cfg))

	data, err := os.ReadFile(filepath.Join(dir, "smoothtask", "config.yaml"))
	require.NoError(t, err)
	require.Contains(t, string(data), "tick_interval_ms: 750")
}

func TestPathEmptyWithoutHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "")
	// os.UserHomeDir on linux reads $HOME; with it empty, Path returns "".
	require.Empty(t, Path())
}
