package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/devicemanager/device"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, device.DefaultWaitSlice, cfg.Device.WaitSlice)
	assert.Zero(t, cfg.Device.FenceTimeout)
	assert.True(t, cfg.Instance.PresentProbe)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
instance:
  application_name: probe
  validation: true
device:
  extensions: [VK_KHR_swapchain]
  fence_timeout: 2s
  wait_slice: 250ms
  serialize_submissions: true
  queue_priority: 0.5
logging:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, "probe", cfg.Instance.ApplicationName)
	assert.True(t, cfg.Instance.Validation)
	assert.True(t, cfg.Instance.PresentProbe)
	assert.Equal(t, []string{"VK_KHR_swapchain"}, cfg.Device.Extensions)
	assert.Equal(t, 2*time.Second, cfg.Device.FenceTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Device.WaitSlice)
	assert.True(t, cfg.Device.SerializeSubmissions)
	assert.Equal(t, float32(0.5), cfg.Device.QueuePriority)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestParseKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("logging:\n  level: warn\n"))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "devicecheck", cfg.Instance.ApplicationName)
	assert.Equal(t, float32(1.0), cfg.Device.QueuePriority)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"negative timeout", "device:\n  fence_timeout: -1s\n", "fence_timeout"},
		{"zero slice", "device:\n  wait_slice: 0s\n", "wait_slice"},
		{"priority", "device:\n  queue_priority: 1.5\n", "queue_priority"},
		{"empty extension", "device:\n  extensions: ['']\n", "extensions"},
		{"format", "logging:\n  format: xml\n", "logging.format"},
		{"syntax", "device: [", "parse config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devicecheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instance:\n  present_probe: false\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Instance.PresentProbe)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestDeviceOptions(t *testing.T) {
	cfg := Default()
	assert.Len(t, cfg.DeviceOptions(slog.Default()), 3)

	cfg.Device.FenceTimeout = time.Second
	cfg.Device.SerializeSubmissions = true
	assert.Len(t, cfg.DeviceOptions(slog.Default()), 5)
}
