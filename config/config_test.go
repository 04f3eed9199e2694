package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "camera-stream", cfg.StreamName)
	assert.Equal(t, 25, cfg.Camera.FrameRate)
	assert.Equal(t, 2_000_000, cfg.Camera.Bitrate)
	assert.Equal(t, "synthetic", cfg.Camera.DeviceName)
	assert.True(t, cfg.AutoStart)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.False(t, cfg.RTMP.Enabled)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "./data/streams", cfg.Storage.LocalDir)
	assert.Equal(t, 10, cfg.HLSMaxSegments)
	assert.Equal(t, 10*time.Second, cfg.StaleCheckInterval)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "camproducer.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
stream_name: porch
camera:
  frame_rate: 15
  device_name: /dev/video0
storage:
  backend: gcs
  gcs_bucket: frames
  gcs_prefix: live
rtmp:
  enabled: true
  url: rtmp://ingest.example.com/live
stale_check_interval: 30s
`), 0o644))

	t.Setenv("CAMPRODUCER_HTTP_ADDR", ":9090")
	t.Setenv("CAMPRODUCER_CAMERA_FRAME_RATE", "30")

	cfg, err := Load(viper.New(), file)
	require.NoError(t, err)

	assert.Equal(t, "porch", cfg.StreamName)
	assert.Equal(t, 30, cfg.Camera.FrameRate, "environment overrides the file")
	assert.Equal(t, "/dev/video0", cfg.Camera.DeviceName)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "gcs", cfg.Storage.Backend)
	assert.Equal(t, "frames", cfg.Storage.GCSBucket)
	assert.Equal(t, "live", cfg.Storage.GCSPrefix)
	assert.True(t, cfg.RTMP.Enabled)
	assert.Equal(t, 30*time.Second, cfg.StaleCheckInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(viper.New(), "")
		require.NoError(t, err)
		return cfg
	}

	tests := map[string]func(*Config){
		"empty stream name":   func(c *Config) { c.StreamName = "" },
		"frame rate too high": func(c *Config) { c.Camera.FrameRate = 500 },
		"missing http addr":   func(c *Config) { c.HTTP.Addr = "" },
		"rtmp without url":    func(c *Config) { c.RTMP = RTMPConfig{Enabled: true} },
		"gcs without bucket":  func(c *Config) { c.Storage.Backend = "gcs" },
		"unknown backend":     func(c *Config) { c.Storage.Backend = "s3" },
		"no segments":         func(c *Config) { c.HLSMaxSegments = 0 },
		"zero stale interval": func(c *Config) { c.StaleCheckInterval = 0 },
		"local without dir":   func(c *Config) { c.Storage.LocalDir = "" },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, valid().Validate())
}
