package registry

import "time"

// Status is the lifecycle state of a capture source
type Status string

const (
	// StatusDetected means the device is present but not yet published
	StatusDetected Status = "detected"
	// StatusInitializing means an endpoint is being (re)created for it
	StatusInitializing Status = "initializing"
	// StatusStreaming means its endpoint pipeline is active
	StatusStreaming Status = "streaming"
	// StatusDisconnected means the device vanished from the bus
	StatusDisconnected Status = "disconnected"
	// StatusError means the device or its pipeline reported a fault
	StatusError Status = "error"
)

// CameraSource describes one capture device and its configured
// parameters. Mutated only by the Registry; callers receive copies.
type CameraSource struct {
	// ID is the stable identifier, assigned on first detection and
	// retained across unplug/replug of the same device path
	ID string `json:"id"`
	// Device is the capture device path, e.g. /dev/video0
	Device string `json:"device"`
	// Width and Height are the configured capture resolution
	Width  int `json:"width"`
	Height int `json:"height"`
	// FPS is the configured frame rate
	FPS int `json:"fps"`
	// Codec is the configured encoder, e.g. "h264"
	Codec string `json:"codec"`
	// Status is the current lifecycle state
	Status Status `json:"status"`
	// LastSeen is the last poll that observed the device present
	LastSeen time.Time `json:"last_seen"`
}

// EventKind classifies registry events
type EventKind string

const (
	// EventArrived fires on first detection and on replug of a known
	// device; the camera needs a (new) endpoint
	EventArrived EventKind = "arrived"
	// EventRemoved fires when a poll observes the device absent; the
	// dependent endpoint must be torn down
	EventRemoved EventKind = "removed"
	// EventStatusChanged fires on any other status transition
	EventStatusChanged EventKind = "status_changed"
)

// Event is one observable camera state transition
type Event struct {
	Kind   EventKind    `json:"kind"`
	Camera CameraSource `json:"camera"`
	At     time.Time    `json:"at"`
}
