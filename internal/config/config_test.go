package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("CONFIG_ENV", "does-not-exist")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, int64(32768), cfg.ReadLimit)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 6, cfg.MaxParticipants)
	assert.False(t, cfg.ReapEmptyRooms)
	assert.Equal(t, 10*time.Second, cfg.MediaTimeout)
	assert.Equal(t, time.Duration(0), cfg.SweepInterval)
	assert.Equal(t, 10, cfg.JoinRateLimit)
	assert.Equal(t, time.Minute, cfg.JoinRateWindow)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.STUNServers)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte(`mode: debug
port: 9090
max_participants: 4
reap_empty_rooms: true
media_timeout: 3s
join_rate_limit: 0
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 4, cfg.MaxParticipants)
	assert.True(t, cfg.ReapEmptyRooms)
	assert.Equal(t, 3*time.Second, cfg.MediaTimeout)
	assert.Equal(t, 0, cfg.JoinRateLimit)
	// Untouched keys keep their defaults.
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
}
