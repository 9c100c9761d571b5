// Package config resolves runtime configuration from defaults, environment
// variables and an optional YAML file, in ascending precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/e7canasta/orion-camera-hal/internal/fourcc"
	"github.com/e7canasta/orion-camera-hal/internal/frame"
)

// Config is the resolved runtime configuration.
type Config struct {
	// DevicePath is the capture node ("/dev/video0") or "fake:" for the
	// in-process backend.
	DevicePath string

	// Stream defaults used when the caller does not negotiate explicitly.
	StreamFormat frame.Format
	Buffers      int

	// RotationDegrees compensates a physically rotated sensor: 0, 90 or 270.
	RotationDegrees int
	// VideoHack keeps the legacy YV12-as-YU12 plane order for old consumers.
	VideoHack bool

	JPEGQuality  int
	FenceTimeout time.Duration

	LogLevel string
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("device.path", "/dev/video0")
	v.SetDefault("stream.width", 1280)
	v.SetDefault("stream.height", 720)
	v.SetDefault("stream.format", "YUYV")
	v.SetDefault("stream.buffers", 4)
	v.SetDefault("rotation.degrees", 0)
	v.SetDefault("video.hack", false)
	v.SetDefault("jpeg.quality", 85)
	v.SetDefault("fence.timeout", "3s")
	v.SetDefault("log.level", "info")

	v.AutomaticEnv()
	v.BindEnv("device.path", "CAMHAL_DEVICE")
	v.BindEnv("stream.width", "CAMHAL_WIDTH")
	v.BindEnv("stream.height", "CAMHAL_HEIGHT")
	v.BindEnv("stream.format", "CAMHAL_FORMAT")
	v.BindEnv("stream.buffers", "CAMHAL_BUFFERS")
	v.BindEnv("rotation.degrees", "CAMHAL_ROTATION")
	v.BindEnv("video.hack", "CAMHAL_VIDEO_HACK")
	v.BindEnv("jpeg.quality", "CAMHAL_JPEG_QUALITY")
	v.BindEnv("fence.timeout", "CAMHAL_FENCE_TIMEOUT")
	v.BindEnv("log.level", "CAMHAL_LOG_LEVEL")

	return v
}

// Load resolves configuration. A non-empty path names a YAML file that must
// exist; an empty path searches the working directory and /etc/camhal and
// silently falls back to defaults.
func Load(path string) (Config, error) {
	v := newViper()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("camhal")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/camhal")
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return Config{}, fmt.Errorf("config: %w", err)
			}
		}
	}

	cfg := Config{
		DevicePath: v.GetString("device.path"),
		StreamFormat: frame.Format{
			Width:  v.GetInt("stream.width"),
			Height: v.GetInt("stream.height"),
		},
		Buffers:         v.GetInt("stream.buffers"),
		RotationDegrees: v.GetInt("rotation.degrees"),
		VideoHack:       v.GetBool("video.hack"),
		JPEGQuality:     v.GetInt("jpeg.quality"),
		FenceTimeout:    v.GetDuration("fence.timeout"),
		LogLevel:        v.GetString("log.level"),
	}

	tag, err := ParseFourCC(v.GetString("stream.format"))
	if err != nil {
		return Config{}, err
	}
	cfg.StreamFormat.FourCC = tag

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.RotationDegrees {
	case 0, 90, 270:
	default:
		return fmt.Errorf("config: rotation %d not one of 0, 90, 270", c.RotationDegrees)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("config: jpeg quality %d outside 1..100", c.JPEGQuality)
	}
	if c.Buffers < 1 {
		return fmt.Errorf("config: buffer count %d", c.Buffers)
	}
	if err := fourcc.ValidateDimensions(c.StreamFormat.Width, c.StreamFormat.Height); err != nil {
		return fmt.Errorf("config: stream geometry: %w", err)
	}
	return nil
}

// ParseFourCC parses a four-character format tag like "YUYV" or "YU12".
func ParseFourCC(s string) (fourcc.FourCC, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) != 4 {
		return 0, fmt.Errorf("config: format tag %q is not four characters", s)
	}
	return fourcc.New(s[0], s[1], s[2], s[3]), nil
}
