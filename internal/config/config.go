// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Device      DeviceConfig      `mapstructure:"device" yaml:"device"`
	Environment EnvironmentConfig `mapstructure:"environment" yaml:"environment"`
	Overlay     OverlayConfig     `mapstructure:"overlay" yaml:"overlay"`
	Actuation   ActuationConfig   `mapstructure:"actuation" yaml:"actuation"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Replay      ReplayConfig      `mapstructure:"replay" yaml:"replay"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DeviceConfig describes how to reach the device over adb.
type DeviceConfig struct {
	ADBPath string `mapstructure:"adb_path" yaml:"adb_path"`
	// Serial selects a device when more than one is attached. Empty means the default device.
	Serial         string        `mapstructure:"serial" yaml:"serial"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	// CommandRate caps adb invocations per second. Zero disables throttling.
	CommandRate  float64 `mapstructure:"command_rate" yaml:"command_rate"`
	CommandBurst int     `mapstructure:"command_burst" yaml:"command_burst"`
}

// EnvironmentConfig tunes the session and its stabilization protocol.
type EnvironmentConfig struct {
	StabilityThreshold int           `mapstructure:"stability_threshold" yaml:"stability_threshold"`
	PollInterval       time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	StabilityTimeout   time.Duration `mapstructure:"stability_timeout" yaml:"stability_timeout"`
	GoHomeOnReset      bool          `mapstructure:"go_home_on_reset" yaml:"go_home_on_reset"`
	HideAutomationUI   bool          `mapstructure:"hide_automation_ui" yaml:"hide_automation_ui"`
}

// OverlayConfig controls the on-device message overlay.
type OverlayConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	BroadcastAction string `mapstructure:"broadcast_action" yaml:"broadcast_action"`
}

// StoreConfig configures trajectory persistence in PostgreSQL.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// ReplayConfig configures the replay command.
type ReplayConfig struct {
	StabilizeBetweenSteps bool   `mapstructure:"stabilize_between_steps" yaml:"stabilize_between_steps"`
	TrajectoryFile        string `mapstructure:"trajectory_file" yaml:"trajectory_file"`
	StopOnError           bool   `mapstructure:"stop_on_error" yaml:"stop_on_error"`
}

// MetricsConfig controls the Prometheus export.
type MetricsConfig struct {
	// Textfile is written after every command for the node exporter textfile collector.
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// NewDefaultConfig creates a configuration populated with all the default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg := &Config{}
	// Unmarshal of pure defaults cannot fail.
	_ = v.Unmarshal(cfg)
	return cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "droidctl")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Device --
	v.SetDefault("device.adb_path", "adb")
	v.SetDefault("device.serial", "")
	v.SetDefault("device.command_timeout", "30s")
	v.SetDefault("device.command_rate", 0.0)
	v.SetDefault("device.command_burst", 1)

	// -- Environment --
	v.SetDefault("environment.stability_threshold", 3)
	v.SetDefault("environment.poll_interval", "500ms")
	v.SetDefault("environment.stability_timeout", "6s")
	v.SetDefault("environment.go_home_on_reset", false)
	v.SetDefault("environment.hide_automation_ui", false)

	// -- Overlay --
	v.SetDefault("overlay.enabled", true)
	v.SetDefault("overlay.broadcast_action", "com.example.ACTION_UPDATE_OVERLAY")

	// -- Actuation --
	setActuationDefaults(v)

	// -- Store --
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.url", "")

	// -- Replay --
	v.SetDefault("replay.stabilize_between_steps", true)
	v.SetDefault("replay.trajectory_file", "")
	v.SetDefault("replay.stop_on_error", true)

	// -- Metrics --
	v.SetDefault("metrics.textfile", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("store.url", "DROIDCTL_STORE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading ~ in file system paths.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.Logger.LogFile, &c.Replay.TrajectoryFile, &c.Metrics.Textfile, &c.Device.ADBPath} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Device.ADBPath == "" {
		return fmt.Errorf("device.adb_path is required")
	}
	if c.Device.CommandTimeout <= 0 {
		return fmt.Errorf("device.command_timeout must be a positive duration")
	}
	if c.Device.CommandRate < 0 {
		return fmt.Errorf("device.command_rate must not be negative")
	}
	if err := c.Environment.Validate(); err != nil {
		return fmt.Errorf("environment configuration invalid: %w", err)
	}
	if err := c.Actuation.Validate(); err != nil {
		return fmt.Errorf("actuation configuration invalid: %w", err)
	}
	if c.Store.Enabled && c.Store.URL == "" {
		return fmt.Errorf("store.url is required when the store is enabled")
	}
	return nil
}

// Validate checks the stabilization settings.
func (e *EnvironmentConfig) Validate() error {
	if e.StabilityThreshold < 1 {
		return fmt.Errorf("stability_threshold must be at least 1")
	}
	if e.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if e.StabilityTimeout < 0 {
		return fmt.Errorf("stability_timeout must not be negative")
	}
	return nil
}
