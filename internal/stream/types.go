package stream

import (
	"fmt"
	"time"
)

// Frame is a single decoded video frame with metadata
type Frame struct {
	// Seq is the monotonic sequence number within one connection
	Seq uint64
	// Timestamp is when the frame was decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains the decoded frame data (RGB)
	Data []byte
	// TraceID is a unique identifier for distributed tracing
	TraceID string
}

// Address identifies a remote stream endpoint
type Address struct {
	Host  string
	Port  int
	Mount string
}

// URL returns the full stream address, e.g. "tcp://10.0.0.5:8554/cam1"
func (a Address) URL() string {
	return fmt.Sprintf("tcp://%s:%d%s", a.Host, a.Port, a.Mount)
}

// State is the lifecycle state of a stream connection
type State int

const (
	// StateDisconnected is the initial state and the terminal state after Stop
	StateDisconnected State = iota
	// StateConnecting means a connect attempt is in flight
	StateConnecting
	// StateConnected means frames are being pumped into the buffer
	StateConnected
	// StateReconnecting means the connection waits out a backoff delay
	StateReconnecting
	// StateFailed means the retry budget is exhausted; only a fresh
	// connection instance leaves this state
	StateFailed
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnectionStats is a snapshot of connection operational state. State
// and Address are carried separately on the status surface, so they are
// excluded from the JSON form.
type ConnectionStats struct {
	// State is the current connection state
	State State `json:"-"`
	// Address is the bound endpoint address
	Address Address `json:"-"`
	// FramesReceived is the total number of frames pumped into the buffer
	FramesReceived uint64 `json:"frames_received"`
	// FramesDropped is the total number of frames evicted from the buffer
	FramesDropped uint64 `json:"frames_dropped"`
	// BytesReceived is the total decoded payload bytes
	BytesReceived uint64 `json:"bytes_received"`
	// FPS is the recent measured frame rate
	FPS float64 `json:"fps"`
	// BitrateKbps is the recent estimated bitrate in kilobits per second
	BitrateKbps float64 `json:"bitrate_kbps"`
	// Retries is the current reconnect attempt count
	Retries int `json:"retries"`
	// LastError describes the most recent transport failure, if any
	LastError string `json:"last_error,omitempty"`
}
