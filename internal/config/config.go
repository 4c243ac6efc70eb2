package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProducerConfig is the complete configuration for the Pi-side streaming daemon
type ProducerConfig struct {
	// Host is the address endpoints bind to (and advertise)
	Host    string        `yaml:"host"`
	Cameras CamerasConfig `yaml:"cameras"`
	Streams StreamsConfig `yaml:"streams"`
	API     APIConfig     `yaml:"api"`
}

// CamerasConfig contains camera detection and capture settings
type CamerasConfig struct {
	Resolution    string `yaml:"resolution"`      // "640x480"
	FPS           int    `yaml:"fps"`             // target frame rate
	Codec         string `yaml:"codec"`           // "h264"
	MaxCameras    int    `yaml:"max_cameras"`     // upper bound on managed cameras
	PollIntervalS int    `yaml:"poll_interval_s"` // hot-plug poll interval in seconds
	DeviceDir     string `yaml:"device_dir"`      // where capture devices appear (default /dev)
}

// StreamsConfig contains endpoint allocation and restart settings
type StreamsConfig struct {
	BasePort        int  `yaml:"base_port"`         // first port in the allocation range
	PortCount       int  `yaml:"port_count"`        // size of the allocation range
	GracePeriodS    int  `yaml:"grace_period_s"`    // port quarantine after retire, seconds
	RestartAttempts int  `yaml:"restart_attempts"`  // pipeline restart budget per fault
	RestartBackoffS int  `yaml:"restart_backoff_s"` // linear restart backoff step, seconds
	TestPattern     bool `yaml:"test_pattern"`      // stream a synthetic pattern instead of capture devices
}

// APIConfig contains HTTP status/control surface settings
type APIConfig struct {
	Listen string `yaml:"listen"` // e.g. ":8080"
}

// StationConfig is the complete configuration for the base-station daemon
type StationConfig struct {
	// ProducerHost is the address the Pi advertises its endpoints on
	ProducerHost string `yaml:"producer_host"`
	// CameraPorts maps a camera identifier to the endpoint port it streams on
	CameraPorts map[string]int `yaml:"camera_ports"`
	// Slots is the number of simultaneous display slots
	Slots int `yaml:"slots"`
	// Resolution is the decode output size per slot, "WIDTHxHEIGHT"
	Resolution string `yaml:"resolution"`
	// BufferDepth is the per-slot frame buffer capacity
	BufferDepth int `yaml:"buffer_depth"`
	// Transport selects the receiver backend: "gst" or "mock"
	Transport string          `yaml:"transport"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	API       APIConfig       `yaml:"api"`
}

// ReconnectConfig contains consumer-side retry settings
type ReconnectConfig struct {
	MaxRetries    int `yaml:"max_retries"`     // attempts before a connection is declared Failed
	InitialDelayS int `yaml:"initial_delay_s"` // first backoff delay, seconds
	MaxDelayS     int `yaml:"max_delay_s"`     // backoff cap, seconds
	ReadTimeoutS  int `yaml:"read_timeout_s"`  // silence threshold before a stream counts as interrupted
}

// PollInterval returns the hot-plug poll interval as a duration
func (c CamerasConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalS) * time.Second
}

// GracePeriod returns the port quarantine window as a duration
func (c StreamsConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodS) * time.Second
}

// RestartBackoff returns the linear restart backoff step as a duration
func (c StreamsConfig) RestartBackoff() time.Duration {
	return time.Duration(c.RestartBackoffS) * time.Second
}

// LoadProducer reads, parses and validates a producer YAML configuration file
func LoadProducer(path string) (*ProducerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ProducerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := ValidateProducer(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadStation reads, parses and validates a station YAML configuration file
func LoadStation(path string) (*StationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg StationConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := ValidateStation(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
