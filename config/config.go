// Package config loads the YAML configuration of the devicecheck tool.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
	"gopkg.in/yaml.v3"

	"github.com/vkngwrapper/devicemanager/device"
)

type Config struct {
	Instance struct {
		ApplicationName string `yaml:"application_name"`
		Validation      bool   `yaml:"validation"`
		// PresentProbe opens a hidden window so present support can be
		// reported per queue family.
		PresentProbe bool `yaml:"present_probe"`
	} `yaml:"instance"`

	Device struct {
		Extensions []string `yaml:"extensions"`
		// FenceTimeout of zero waits forever.
		FenceTimeout         time.Duration `yaml:"fence_timeout"`
		WaitSlice            time.Duration `yaml:"wait_slice"`
		SerializeSubmissions bool          `yaml:"serialize_submissions"`
		QueuePriority        float32       `yaml:"queue_priority"`
	} `yaml:"device"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.Instance.ApplicationName = "devicecheck"
	cfg.Instance.PresentProbe = true
	cfg.Device.WaitSlice = device.DefaultWaitSlice
	cfg.Device.QueuePriority = 1.0
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return cfg
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Device.FenceTimeout < 0 {
		return errors.Newf("device.fence_timeout must not be negative, got %s", c.Device.FenceTimeout)
	}
	if c.Device.WaitSlice <= 0 {
		return errors.Newf("device.wait_slice must be positive, got %s", c.Device.WaitSlice)
	}
	if c.Device.QueuePriority < 0 || c.Device.QueuePriority > 1 {
		return errors.Newf("device.queue_priority must be within [0, 1], got %v", c.Device.QueuePriority)
	}
	for _, ext := range c.Device.Extensions {
		if ext == "" {
			return errors.New("device.extensions contains an empty name")
		}
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return errors.Newf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// DeviceOptions converts the device section into Manager options.
func (c *Config) DeviceOptions(logger *slog.Logger) []device.Option {
	opts := []device.Option{
		device.WithLogger(logger),
		device.WithWaitSlice(c.Device.WaitSlice),
		device.WithQueuePriority(c.Device.QueuePriority),
	}
	if c.Device.FenceTimeout > 0 {
		opts = append(opts, device.WithFenceTimeout(c.Device.FenceTimeout))
	}
	if c.Device.SerializeSubmissions {
		opts = append(opts, device.WithSerializedSubmission())
	}
	return opts
}
