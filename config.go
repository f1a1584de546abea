package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Board      BoardConfig      `yaml:"board"`
	Filter     FilterConfig     `yaml:"filter"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Spectrum   SpectrumConfig   `yaml:"spectrum"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Storage    StorageConfig    `yaml:"storage"`
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Listen         string `yaml:"listen"`
	EnableCORS     bool   `yaml:"enable_cors"`
	LogFileEnabled bool   `yaml:"logfile_enabled"` // Enable HTTP request logging (default: false)
	LogFile        string `yaml:"logfile"`         // HTTP request log file path
}

// BoardConfig contains acquisition board settings
type BoardConfig struct {
	Driver                string  `yaml:"driver"`      // Board driver: "sim" (default)
	SerialPort            string  `yaml:"serial_port"` // SPI device path, informational for the sim driver
	SampleRate            int     `yaml:"sample_rate"` // Samples per second per channel
	PollIntervalMs        int     `yaml:"poll_interval_ms"`
	CalibrationDurationMs int     `yaml:"calibration_duration_ms"`
	RefNormalizeThreshold float64 `yaml:"ref_normalize_threshold"` // Windowed REF mean above this triggers publish-time normalization
}

// FilterConfig contains the default filter settings applied at startup.
// The running values live on the pipeline and are replaced wholesale by
// the update-settings operation.
type FilterConfig struct {
	BandpassEnabled           bool    `yaml:"bandpass_enabled"`
	BaselineCorrectionEnabled bool    `yaml:"baseline_correction_enabled"`
	SmoothingEnabled          bool    `yaml:"smoothing_enabled"`
	Lowcut                    float64 `yaml:"lowcut"`
	Highcut                   float64 `yaml:"highcut"`
	Order                     int     `yaml:"order"`
}

// ChannelsConfig contains the default channel selection
type ChannelsConfig struct {
	Enabled        int               `yaml:"enabled"` // Number of data channels enabled (1-8)
	RefEnabled     bool              `yaml:"ref_enabled"`
	BiasoutEnabled bool              `yaml:"biasout_enabled"`
	Colors         map[string]string `yaml:"colors"` // Optional display color overrides by channel name
}

// SpectrumConfig contains band-power snapshot settings
type SpectrumConfig struct {
	Enabled    bool `yaml:"enabled"`
	IntervalMs int  `yaml:"interval_ms"` // How often band powers are computed and pushed
	WindowSize int  `yaml:"window_size"` // Number of recent samples per channel fed to the FFT
}

// PrometheusConfig contains metrics endpoint settings
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MQTTConfig contains MQTT telemetry settings
type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	PublishSamples bool          `yaml:"publish_samples"` // Publish per-tick samples in addition to lifecycle events
	TLS            MQTTTLSConfig `yaml:"tls"`
}

// MQTTTLSConfig contains TLS settings for the MQTT connection
type MQTTTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // SQLite database path
}

// LoadConfig reads and validates the configuration from a YAML file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// applyDefaults fills in defaults for fields not specified in the YAML
func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":5000"
	}
	if c.Server.LogFile == "" {
		c.Server.LogFile = "web.log"
	}
	if c.Board.Driver == "" {
		c.Board.Driver = "sim"
	}
	if c.Board.SerialPort == "" {
		c.Board.SerialPort = "/dev/spidev0.0"
	}
	if c.Board.SampleRate == 0 {
		c.Board.SampleRate = 250
	}
	if c.Board.PollIntervalMs == 0 {
		c.Board.PollIntervalMs = 1000 // One window per second
	}
	if c.Board.CalibrationDurationMs == 0 {
		c.Board.CalibrationDurationMs = 5000
	}
	if c.Board.RefNormalizeThreshold == 0 {
		// Heuristic carried over from the original acquisition script; it is
		// hardware-dependent, hence configurable.
		c.Board.RefNormalizeThreshold = 1000.0
	}
	if c.Filter.Lowcut == 0 {
		c.Filter.Lowcut = 3.0
	}
	if c.Filter.Highcut == 0 {
		c.Filter.Highcut = 45.0
	}
	if c.Filter.Order == 0 {
		c.Filter.Order = 2
	}
	if c.Channels.Enabled == 0 {
		c.Channels.Enabled = 8
	}
	if c.Spectrum.IntervalMs == 0 {
		c.Spectrum.IntervalMs = 2000
	}
	if c.Spectrum.WindowSize == 0 {
		c.Spectrum.WindowSize = 512
	}
	if c.Prometheus.Path == "" {
		c.Prometheus.Path = "/metrics"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "eeg"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "eeg.db"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Board.SampleRate < 1 {
		return fmt.Errorf("board.sample_rate must be at least 1")
	}
	if c.Board.PollIntervalMs < 1 {
		return fmt.Errorf("board.poll_interval_ms must be at least 1")
	}
	if c.Board.RefNormalizeThreshold < 0 {
		return fmt.Errorf("board.ref_normalize_threshold must not be negative")
	}
	if c.Filter.Lowcut >= c.Filter.Highcut {
		return fmt.Errorf("filter.lowcut must be below filter.highcut")
	}
	if c.Filter.Order < 1 {
		return fmt.Errorf("filter.order must be at least 1")
	}
	if c.Channels.Enabled < 1 || c.Channels.Enabled > maxDataChannels {
		return fmt.Errorf("channels.enabled must be between 1 and %d", maxDataChannels)
	}
	if c.Spectrum.Enabled && c.Spectrum.WindowSize < 16 {
		return fmt.Errorf("spectrum.window_size must be at least 16")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// DefaultSettings builds the initial pipeline settings from the config
func (c *Config) DefaultSettings() Settings {
	return Settings{
		EnabledChannels:           c.Channels.Enabled,
		RefEnabled:                c.Channels.RefEnabled,
		BiasoutEnabled:            c.Channels.BiasoutEnabled,
		BandpassEnabled:           c.Filter.BandpassEnabled,
		BaselineCorrectionEnabled: c.Filter.BaselineCorrectionEnabled,
		SmoothingEnabled:          c.Filter.SmoothingEnabled,
		Lowcut:                    c.Filter.Lowcut,
		Highcut:                   c.Filter.Highcut,
		Order:                     c.Filter.Order,
	}
}
