package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tapedeck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("TAPEDECK_DATA_DIR", dataDir)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Empty(t, cfg.Store.Blobs.Type)
	assert.False(t, cfg.Playback.StartPaused)
	assert.Equal(t, 1000, cfg.Playback.SaveIntervalMs)
	assert.Equal(t, time.Second, cfg.SaveInterval())
	assert.Equal(t, 250, cfg.Audio.TickMs)
	assert.Equal(t, 44100, cfg.Audio.SampleRate)
	assert.Equal(t, 100, cfg.Audio.BufferMs)
	assert.Equal(t, 500, cfg.Library.SettleMs)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.Equal(t, filepath.Join(dataDir, "tapedeck.log"), cfg.LogFile())
	assert.Empty(t, cfg.InboxDir())
}

func TestLoad_FileValues(t *testing.T) {
	t.Setenv("TAPEDECK_DATA_DIR", "")
	path := writeConfig(t, `
data_dir: /var/lib/tapedeck
store:
  type: redis
  settings:
    addr: localhost:6379
    db: 2
playback:
  start_paused: true
  save_interval_ms: 250
library:
  inbox_dir: inbox
metrics:
  addr: localhost:9464
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/tapedeck", cfg.DataDir)
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, "localhost:6379", cfg.Store.Settings["addr"])
	assert.True(t, cfg.Playback.StartPaused)
	assert.Equal(t, 250*time.Millisecond, cfg.SaveInterval())
	assert.Equal(t, filepath.Join("/var/lib/tapedeck", "inbox"), cfg.InboxDir())
	assert.Equal(t, "localhost:9464", cfg.Metrics.Addr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TAPEDECK_DATA_DIR", "/tmp/from-env")
	t.Setenv("TAPEDECK_REDIS_PASSWORD", "secret")
	t.Setenv("TAPEDECK_MINIO_ACCESS_KEY", "access")
	t.Setenv("TAPEDECK_MINIO_SECRET_KEY", "hidden")
	path := writeConfig(t, `
data_dir: /ignored
store:
  type: redis
  blobs:
    type: minio
    settings:
      endpoint: localhost:9000
      bucket: tapedeck
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/from-env", cfg.DataDir)
	assert.Equal(t, "secret", cfg.Store.Settings["password"])
	assert.Equal(t, "access", cfg.Store.Blobs.Settings["access_key"])
	assert.Equal(t, "hidden", cfg.Store.Blobs.Settings["secret_key"])
	assert.Equal(t, "localhost:9000", cfg.Store.Blobs.Settings["endpoint"])
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("TAPEDECK_DATA_DIR", t.TempDir())

	tests := []struct {
		name string
		body string
	}{
		{name: "unknown store type", body: "store:\n  type: postgres\n"},
		{name: "unknown blob type", body: "store:\n  blobs:\n    type: s3\n"},
		{name: "negative save interval", body: "playback:\n  save_interval_ms: -1\n"},
		{name: "tick too small", body: "audio:\n  tick_ms: 1\n"},
		{name: "odd sample rate", body: "audio:\n  sample_rate: 12345\n"},
		{name: "bad metrics addr", body: "metrics:\n  addr: not an address\n"},
		{name: "malformed yaml", body: "store: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_SecretsIgnoredForOtherBackends(t *testing.T) {
	t.Setenv("TAPEDECK_DATA_DIR", t.TempDir())
	t.Setenv("TAPEDECK_REDIS_PASSWORD", "secret")

	cfg, err := Load(writeConfig(t, "store:\n  type: memory\n"))
	require.NoError(t, err)
	assert.Nil(t, cfg.Store.Settings)
}
