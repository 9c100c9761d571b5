package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-camera-hal/internal/fourcc"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camhal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/dev/video0", cfg.DevicePath)
	assert.Equal(t, fourcc.YUYV, cfg.StreamFormat.FourCC)
	assert.Equal(t, 1280, cfg.StreamFormat.Width)
	assert.Equal(t, 720, cfg.StreamFormat.Height)
	assert.Equal(t, 4, cfg.Buffers)
	assert.Equal(t, 0, cfg.RotationDegrees)
	assert.Equal(t, 85, cfg.JPEGQuality)
	assert.Equal(t, 3*time.Second, cfg.FenceTimeout)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
device:
  path: "fake:"
stream:
  width: 640
  height: 480
  format: MJPG
  buffers: 2
rotation:
  degrees: 270
video:
  hack: true
jpeg:
  quality: 70
fence:
  timeout: 500ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fake:", cfg.DevicePath)
	assert.Equal(t, fourcc.MJPG, cfg.StreamFormat.FourCC)
	assert.Equal(t, 640, cfg.StreamFormat.Width)
	assert.Equal(t, 2, cfg.Buffers)
	assert.Equal(t, 270, cfg.RotationDegrees)
	assert.True(t, cfg.VideoHack)
	assert.Equal(t, 70, cfg.JPEGQuality)
	assert.Equal(t, 500*time.Millisecond, cfg.FenceTimeout)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("CAMHAL_DEVICE", "fake:env")
	t.Setenv("CAMHAL_ROTATION", "90")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "fake:env", cfg.DevicePath)
	assert.Equal(t, 90, cfg.RotationDegrees)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"180 rotation", "rotation:\n  degrees: 180\n"},
		{"quality over 100", "jpeg:\n  quality: 101\n"},
		{"zero buffers", "stream:\n  buffers: 0\n"},
		{"odd width", "stream:\n  width: 641\n"},
		{"bad format tag", "stream:\n  format: YUV\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestMissingExplicitFileIsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
