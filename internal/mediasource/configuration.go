package mediasource

import (
	"fmt"
)

// CameraSourceType identifies CameraConfiguration
const CameraSourceType = "camera"

const (
	DefaultBitrate = 2_000_000
	MaxFrameRate   = 120
)

// Configuration is implemented by every kind of media source configuration
type Configuration interface {
	MediaSourceType() string
}

// CameraConfiguration configures a camera media source
type CameraConfiguration struct {
	FrameRate  int    `json:"frameRate" yaml:"frame_rate" mapstructure:"frame_rate"`
	Bitrate    int    `json:"bitrate" yaml:"bitrate" mapstructure:"bitrate"`
	DeviceName string `json:"deviceName" yaml:"device_name" mapstructure:"device_name"`
}

func (c *CameraConfiguration) MediaSourceType() string {
	return CameraSourceType
}

// Validate checks the configuration values
func (c *CameraConfiguration) Validate() error {
	if c.FrameRate < 1 || c.FrameRate > MaxFrameRate {
		return fmt.Errorf("frame rate must be between 1 and %d, got %d", MaxFrameRate, c.FrameRate)
	}
	if c.Bitrate < 0 {
		return fmt.Errorf("bitrate must not be negative, got %d", c.Bitrate)
	}
	return nil
}

// withDefaults returns a copy with unset values filled in
func (c *CameraConfiguration) withDefaults() *CameraConfiguration {
	out := *c
	if out.Bitrate == 0 {
		out.Bitrate = DefaultBitrate
	}
	return &out
}

// ConfigurationTypeError is returned when a media source receives a configuration of the wrong kind
type ConfigurationTypeError struct {
	Expected string
	Got      string
}

func (e *ConfigurationTypeError) Error() string {
	return fmt.Sprintf("configuration must be a %s configuration, got %s", e.Expected, e.Got)
}

// configurationKind names a configuration for error messages
func configurationKind(cfg Configuration) string {
	if cfg == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s (%T)", cfg.MediaSourceType(), cfg)
}
