package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"camproducer/internal/mediasource"
	"camproducer/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. CAMPRODUCER_HTTP_ADDR
const EnvPrefix = "CAMPRODUCER"

// Config holds all application configuration
type Config struct {
	// Media source
	StreamName string                          `mapstructure:"stream_name" yaml:"stream_name"`
	Camera     mediasource.CameraConfiguration `mapstructure:"camera" yaml:"camera"`
	AutoStart  bool                            `mapstructure:"auto_start" yaml:"auto_start"`

	// HTTP Server
	HTTP HTTPConfig `mapstructure:"http" yaml:"http"`

	// RTMP egress
	RTMP RTMPConfig `mapstructure:"rtmp" yaml:"rtmp"`

	// Storage
	Storage storage.Config `mapstructure:"storage" yaml:"storage"`

	// HLS
	HLSMaxSegments int `mapstructure:"hls_max_segments" yaml:"hls_max_segments"`

	// Staleness watcher
	StaleCheckInterval time.Duration `mapstructure:"stale_check_interval" yaml:"stale_check_interval"`

	// Logging
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty" yaml:"log_pretty"`
}

// HTTPConfig configures the control/status API
type HTTPConfig struct {
	Addr   string `mapstructure:"addr" yaml:"addr"`
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

// RTMPConfig configures RTMP republishing
type RTMPConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// SetDefaults registers the default value of every key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("stream_name", "camera-stream")
	v.SetDefault("camera.frame_rate", 25)
	v.SetDefault("camera.bitrate", mediasource.DefaultBitrate)
	v.SetDefault("camera.device_name", "synthetic")
	v.SetDefault("auto_start", true)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.api_key", "")

	v.SetDefault("rtmp.enabled", false)
	v.SetDefault("rtmp.url", "rtmp://localhost:1935/live")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "./data/streams")
	v.SetDefault("storage.gcs_project", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_prefix", "")

	v.SetDefault("hls_max_segments", 10)
	v.SetDefault("stale_check_interval", 10*time.Second)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
}

// Load reads configuration from defaults, an optional config file, and CAMPRODUCER_* environment
// variables, in increasing order of precedence. Flags bound to v take precedence over all.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.StreamName == "" {
		errs = append(errs, errors.New("stream_name is required"))
	}
	if err := c.Camera.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("camera: %w", err))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.RTMP.Enabled && c.RTMP.URL == "" {
		errs = append(errs, errors.New("rtmp.url is required when rtmp is enabled"))
	}

	switch c.Storage.Backend {
	case "", "local":
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("storage.local_dir is required for the local backend"))
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			errs = append(errs, errors.New("storage.gcs_bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	if c.HLSMaxSegments < 1 {
		errs = append(errs, errors.New("hls_max_segments must be at least 1"))
	}
	if c.StaleCheckInterval <= 0 {
		errs = append(errs, errors.New("stale_check_interval must be positive"))
	}

	return errors.Join(errs...)
}
