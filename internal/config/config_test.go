package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"injest/telemetry-agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	content := `
env: test
log:
  level: debug
  format: console
device:
  id: 7
collector:
  host: collector.lan
  port: 9000
  reconnect_delay: 2s
batching:
  threshold: 50
policy:
  only_send_when_plugged: true
  categories:
    audio: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 7, cfg.Device.ID)
	assert.Equal(t, "collector.lan", cfg.Collector.Host)
	assert.Equal(t, 9000, cfg.Collector.Port)
	assert.Equal(t, 2*time.Second, cfg.Collector.ReconnectDelay)
	assert.Equal(t, 50, cfg.Batching.Threshold)
	assert.True(t, cfg.Policy.OnlySendWhenPlugged)
	assert.False(t, cfg.Policy.Categories.Audio)

	// untouched keys keep their defaults
	assert.Equal(t, "/ws", cfg.Collector.Path)
	assert.True(t, cfg.Policy.SendDataEver)
	assert.True(t, cfg.Policy.Categories.GPS)
	assert.False(t, cfg.Policy.Categories.Screenshot)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Collector.ReconnectDelay)
	assert.Equal(t, 100, cfg.Batching.Threshold)
	assert.Equal(t, 500, cfg.Tracker.HistorySize)
	assert.Equal(t, 1, cfg.Device.ID)
	assert.Zero(t, cfg.Batching.FlushInterval)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("REALTIME_SERVER_IP", "10.0.0.5")
	t.Setenv("BATCH_THRESHOLD", "25")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", cfg.Collector.Host)
	assert.Equal(t, 25, cfg.Batching.Threshold)
}

func TestValidate(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	cfg.Batching.Threshold = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateProducerIntervals(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	cfg.AppUsage.Enabled = true
	cfg.AppUsage.PollInterval = 0
	assert.Error(t, cfg.Validate())
}

func TestCategoryByType(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	flags := cfg.Policy.Categories.ByType()
	assert.Len(t, flags, len(models.AllMessageTypes))
	assert.True(t, flags[models.TypeGPS])
	assert.False(t, flags[models.TypeScreenshot])
}
