package config

import (
	"fmt"
	"regexp"
)

var resolutionPattern = regexp.MustCompile(`^[0-9]+x[0-9]+$`)

// ParseResolution splits a "WIDTHxHEIGHT" string into its dimensions
func ParseResolution(res string) (width, height int, err error) {
	if !resolutionPattern.MatchString(res) {
		return 0, 0, fmt.Errorf("resolution must match WIDTHxHEIGHT, got %q", res)
	}
	if _, err := fmt.Sscanf(res, "%dx%d", &width, &height); err != nil {
		return 0, 0, fmt.Errorf("failed to parse resolution %q: %w", res, err)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("resolution dimensions must be positive, got %q", res)
	}
	return width, height, nil
}

// ValidateProducer checks producer configuration and applies defaults
func ValidateProducer(cfg *ProducerConfig) error {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}

	if cfg.Cameras.Resolution == "" {
		cfg.Cameras.Resolution = "640x480"
	}
	if _, _, err := ParseResolution(cfg.Cameras.Resolution); err != nil {
		return fmt.Errorf("cameras.resolution: %w", err)
	}
	if cfg.Cameras.FPS <= 0 {
		cfg.Cameras.FPS = 15
	}
	if cfg.Cameras.FPS > 60 {
		return fmt.Errorf("cameras.fps must be <= 60, got %d", cfg.Cameras.FPS)
	}
	if cfg.Cameras.Codec == "" {
		cfg.Cameras.Codec = "h264"
	}
	if cfg.Cameras.Codec != "h264" {
		return fmt.Errorf("cameras.codec: unsupported codec %q (only h264)", cfg.Cameras.Codec)
	}
	if cfg.Cameras.MaxCameras <= 0 {
		cfg.Cameras.MaxCameras = 3
	}
	if cfg.Cameras.PollIntervalS <= 0 {
		cfg.Cameras.PollIntervalS = 5
	}
	if cfg.Cameras.DeviceDir == "" {
		cfg.Cameras.DeviceDir = "/dev"
	}

	if cfg.Streams.BasePort == 0 {
		cfg.Streams.BasePort = 8554
	}
	if cfg.Streams.BasePort < 1024 || cfg.Streams.BasePort > 65000 {
		return fmt.Errorf("streams.base_port must be in [1024, 65000], got %d", cfg.Streams.BasePort)
	}
	if cfg.Streams.PortCount <= 0 {
		cfg.Streams.PortCount = cfg.Cameras.MaxCameras
	}
	if cfg.Streams.BasePort+cfg.Streams.PortCount > 65535 {
		return fmt.Errorf("streams port range [%d, %d) exceeds 65535",
			cfg.Streams.BasePort, cfg.Streams.BasePort+cfg.Streams.PortCount)
	}
	if cfg.Streams.GracePeriodS <= 0 {
		cfg.Streams.GracePeriodS = 10
	}
	if cfg.Streams.RestartAttempts <= 0 {
		cfg.Streams.RestartAttempts = 3
	}
	if cfg.Streams.RestartBackoffS <= 0 {
		cfg.Streams.RestartBackoffS = 2
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = ":8080"
	}

	return nil
}

// ValidateStation checks station configuration and applies defaults
func ValidateStation(cfg *StationConfig) error {
	if cfg.ProducerHost == "" {
		return fmt.Errorf("producer_host is required")
	}
	if len(cfg.CameraPorts) == 0 {
		return fmt.Errorf("camera_ports must map at least one camera")
	}
	for id, port := range cfg.CameraPorts {
		if port < 1024 || port > 65535 {
			return fmt.Errorf("camera_ports[%s]: port %d out of range [1024, 65535]", id, port)
		}
	}

	if cfg.Slots <= 0 {
		cfg.Slots = 2
	}
	if cfg.Slots > 8 {
		return fmt.Errorf("slots must be <= 8, got %d", cfg.Slots)
	}
	if cfg.Resolution == "" {
		cfg.Resolution = "640x480"
	}
	if _, _, err := ParseResolution(cfg.Resolution); err != nil {
		return fmt.Errorf("resolution: %w", err)
	}
	if cfg.BufferDepth <= 0 {
		cfg.BufferDepth = 5
	}

	switch cfg.Transport {
	case "":
		cfg.Transport = "gst"
	case "gst", "mock":
	default:
		return fmt.Errorf("transport must be \"gst\" or \"mock\", got %q", cfg.Transport)
	}

	if cfg.Reconnect.MaxRetries <= 0 {
		cfg.Reconnect.MaxRetries = 5
	}
	if cfg.Reconnect.InitialDelayS <= 0 {
		cfg.Reconnect.InitialDelayS = 1
	}
	if cfg.Reconnect.MaxDelayS <= 0 {
		cfg.Reconnect.MaxDelayS = 16
	}
	if cfg.Reconnect.MaxDelayS < cfg.Reconnect.InitialDelayS {
		return fmt.Errorf("reconnect.max_delay_s (%d) must be >= reconnect.initial_delay_s (%d)",
			cfg.Reconnect.MaxDelayS, cfg.Reconnect.InitialDelayS)
	}
	if cfg.Reconnect.ReadTimeoutS <= 0 {
		cfg.Reconnect.ReadTimeoutS = 5
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = ":8081"
	}

	return nil
}
