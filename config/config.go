// Package config defines the daemon's configuration file and converts it into the settings of
// each component.
package config

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/janvangent1/CHrocodile/controller"
	"github.com/janvangent1/CHrocodile/controller/opcuatable"
	"github.com/janvangent1/CHrocodile/device"
	"github.com/janvangent1/CHrocodile/device/fake"
	"github.com/janvangent1/CHrocodile/logging"
	"github.com/janvangent1/CHrocodile/measurement"
	"github.com/janvangent1/CHrocodile/orchestrator"
)

// DefaultDeviceAddress is the factory address of the sensor's Ethernet interface.
const DefaultDeviceAddress = "192.168.170.3"

// Controller transports.
const (
	TransportMemory = "memory"
	TransportOPCUA  = "opcua"
)

// Config is the whole configuration file.
type Config struct {
	Device     DeviceConfig     `json:"device"`
	Buffer     BufferConfig     `json:"buffer"`
	Continuous ContinuousConfig `json:"continuous"`
	Controller ControllerConfig `json:"controller"`
	Metrics    MetricsConfig    `json:"metrics"`
	Log        LogConfig        `json:"log"`
}

// DeviceConfig describes how to reach the sensor.
type DeviceConfig struct {
	Address        string          `json:"address"`
	Simulate       bool            `json:"simulate"`
	MeasureTimeout time.Duration   `json:"measure_timeout"`
	ConnectTimeout time.Duration   `json:"connect_timeout"`
	CloseTimeout   time.Duration   `json:"close_timeout"`
	Settings       device.Settings `json:"settings"`
	Simulation     fake.Config     `json:"simulation"`
}

// BufferConfig sizes the result buffer.
type BufferConfig struct {
	Capacity int `json:"capacity"`
}

// ContinuousConfig controls continuous measurement.
type ContinuousConfig struct {
	Interval               time.Duration `json:"interval"`
	MaxConsecutiveFailures int           `json:"max_consecutive_failures"`
	// AutoStart starts continuous measurement as soon as the sensor is connected.
	AutoStart bool `json:"auto_start"`
}

// DefaultReenableInterval is how often disabled controller variables are retried.
const DefaultReenableInterval = 5 * time.Minute

// ControllerConfig configures the controller bridge.
type ControllerConfig struct {
	Enabled          bool                 `json:"enabled"`
	Transport        string               `json:"transport"`
	OPCUA            opcuatable.Config    `json:"opcua"`
	PollInterval     time.Duration        `json:"poll_interval"`
	WriteTimeout     time.Duration        `json:"write_timeout"`
	MaxWriteFailures int                  `json:"max_write_failures"`
	// ReenableInterval is how often variables disabled after repeated write timeouts are
	// written to again. Zero leaves them disabled until restart.
	ReenableInterval time.Duration        `json:"reenable_interval"`
	Variables        controller.Variables `json:"variables"`
}

// MetricsConfig configures the Prometheus endpoint and the periodic status log.
type MetricsConfig struct {
	// Address is where /metrics is served. Empty disables the endpoint.
	Address string `json:"address"`
	// StatusInterval is how often a status summary is logged. Zero disables it.
	StatusInterval time.Duration `json:"status_interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `json:"level"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// Default returns the configuration used when a field is not given.
func Default() Config {
	return Config{
		Device: DeviceConfig{
			Address:        DefaultDeviceAddress,
			MeasureTimeout: orchestrator.DefaultMeasureTimeout,
			ConnectTimeout: orchestrator.DefaultConnectTimeout,
			CloseTimeout:   orchestrator.DefaultCloseTimeout,
			Settings:       device.DefaultSettings(),
			Simulation:     fake.DefaultConfig(),
		},
		Buffer: BufferConfig{Capacity: measurement.DefaultCapacity},
		Continuous: ContinuousConfig{
			Interval:               orchestrator.DefaultInterval,
			MaxConsecutiveFailures: orchestrator.DefaultMaxConsecutiveFailures,
		},
		Controller: ControllerConfig{
			Transport:        TransportMemory,
			PollInterval:     controller.DefaultPollInterval,
			WriteTimeout:     controller.DefaultWriteTimeout,
			MaxWriteFailures: controller.DefaultMaxWriteFailures,
			ReenableInterval: DefaultReenableInterval,
			Variables:        controller.DefaultVariables(),
		},
		Metrics: MetricsConfig{StatusInterval: time.Minute},
		Log:     LogConfig{Level: "info"},
	}
}

// ApplyDefaults replaces zero values that are never valid with their defaults.
func (c *Config) ApplyDefaults() {
	def := Default()
	if c.Device.Address == "" && !c.Device.Simulate {
		c.Device.Address = def.Device.Address
	}
	if c.Device.MeasureTimeout <= 0 {
		c.Device.MeasureTimeout = def.Device.MeasureTimeout
	}
	if c.Device.ConnectTimeout <= 0 {
		c.Device.ConnectTimeout = def.Device.ConnectTimeout
	}
	if c.Device.CloseTimeout <= 0 {
		c.Device.CloseTimeout = def.Device.CloseTimeout
	}
	if c.Device.Simulation.SpectrumPoints <= 0 {
		c.Device.Simulation.SpectrumPoints = def.Device.Simulation.SpectrumPoints
	}
	if c.Buffer.Capacity == 0 {
		c.Buffer.Capacity = def.Buffer.Capacity
	}
	if c.Continuous.Interval == 0 {
		c.Continuous.Interval = def.Continuous.Interval
	}
	if c.Continuous.MaxConsecutiveFailures == 0 {
		c.Continuous.MaxConsecutiveFailures = def.Continuous.MaxConsecutiveFailures
	}
	if c.Controller.Transport == "" {
		c.Controller.Transport = def.Controller.Transport
	}
	if c.Controller.PollInterval == 0 {
		c.Controller.PollInterval = def.Controller.PollInterval
	}
	if c.Controller.WriteTimeout == 0 {
		c.Controller.WriteTimeout = def.Controller.WriteTimeout
	}
	if c.Controller.MaxWriteFailures == 0 {
		c.Controller.MaxWriteFailures = def.Controller.MaxWriteFailures
	}
	c.Controller.Variables.ApplyDefaults()
	if c.Controller.Transport == TransportOPCUA {
		c.Controller.OPCUA.ApplyDefaults()
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs error
	if err := c.Device.Settings.Validate(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "device.settings"))
	}
	if c.Device.Simulate {
		if err := c.Device.Simulation.Validate(); err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "device.simulation"))
		}
	}
	if c.Buffer.Capacity <= 0 {
		errs = multierr.Append(errs, errors.Errorf("buffer.capacity must be positive, got %d", c.Buffer.Capacity))
	}
	if c.Continuous.Interval < orchestrator.MinInterval {
		errs = multierr.Append(errs, errors.Errorf("continuous.interval must be at least %s, got %s",
			orchestrator.MinInterval, c.Continuous.Interval))
	}
	if c.Continuous.MaxConsecutiveFailures < 0 {
		errs = multierr.Append(errs, errors.New("continuous.max_consecutive_failures cannot be negative"))
	}
	if c.Controller.Enabled {
		errs = multierr.Append(errs, c.Controller.validate())
	}
	if _, err := logging.LevelFromString(c.Log.Level); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "log.level"))
	}
	return errs
}

func (c *ControllerConfig) validate() error {
	var errs error
	switch c.Transport {
	case TransportMemory:
	case TransportOPCUA:
		if err := c.OPCUA.Validate(); err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "controller.opcua"))
		}
	default:
		errs = multierr.Append(errs, errors.Errorf("controller.transport %q is not %q or %q",
			c.Transport, TransportMemory, TransportOPCUA))
	}
	if c.PollInterval < 10*time.Millisecond {
		errs = multierr.Append(errs, errors.Errorf("controller.poll_interval must be at least 10ms, got %s", c.PollInterval))
	}
	if c.MaxWriteFailures < 0 {
		errs = multierr.Append(errs, errors.New("controller.max_write_failures cannot be negative"))
	}
	if c.ReenableInterval < 0 {
		errs = multierr.Append(errs, errors.New("controller.reenable_interval cannot be negative"))
	}
	if err := c.Variables.Validate(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "controller.variables"))
	}
	return errs
}

// OrchestratorConfig returns the orchestrator's settings.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		MeasureTimeout:         c.Device.MeasureTimeout,
		ConnectTimeout:         c.Device.ConnectTimeout,
		CloseTimeout:           c.Device.CloseTimeout,
		MaxConsecutiveFailures: c.Continuous.MaxConsecutiveFailures,
		Settings:               c.Device.Settings,
	}
}

// BridgeConfig returns the controller bridge's settings.
func (c *Config) BridgeConfig() controller.Config {
	return controller.Config{
		PollInterval:     c.Controller.PollInterval,
		WriteTimeout:     c.Controller.WriteTimeout,
		MaxWriteFailures: c.Controller.MaxWriteFailures,
		Variables:        c.Controller.Variables,
	}
}

// FileOptions returns the rotation settings of the log file.
func (c *LogConfig) FileOptions() logging.FileOptions {
	return logging.FileOptions{
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}
