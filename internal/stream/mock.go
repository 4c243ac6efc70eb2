package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockReceiver generates synthetic frames for tests and for running the
// station without a producer (transport: "mock").
//
// Failure injection:
//   - FailConnects: the first N Connect calls return ErrConnectTimeout
//   - FailAfter: after N successful reads the stream reports
//     ErrStreamInterrupted (0 = never)
type MockReceiver struct {
	Width        int
	Height       int
	FPS          int
	FailConnects int
	FailAfter    uint64

	mu        sync.Mutex
	seq       uint64
	reads     uint64
	connects  int
	connected bool
	closed    bool
}

// NewMockReceiver creates a mock receiver emitting black frames at the
// given rate
func NewMockReceiver(width, height, fps int) *MockReceiver {
	return &MockReceiver{Width: width, Height: height, FPS: fps}
}

// Connect simulates the transport handshake
func (m *MockReceiver) Connect(ctx context.Context, addr Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.connects++
	if m.connects <= m.FailConnects {
		return ErrConnectTimeout
	}
	m.connected = true
	return nil
}

// Read emits the next synthetic frame at the configured rate
func (m *MockReceiver) Read(ctx context.Context) (Frame, error) {
	m.mu.Lock()
	if m.closed || !m.connected {
		m.mu.Unlock()
		return Frame{}, ErrStreamInterrupted
	}
	if m.FailAfter > 0 && m.reads >= m.FailAfter {
		m.connected = false
		m.mu.Unlock()
		return Frame{}, ErrStreamInterrupted
	}
	fps := m.FPS
	m.mu.Unlock()

	if fps <= 0 {
		fps = 15
	}
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-time.After(time.Second / time.Duration(fps)):
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Frame{}, ErrStreamInterrupted
	}
	m.seq++
	m.reads++

	return Frame{
		Seq:       m.seq,
		Timestamp: time.Now(),
		Width:     m.Width,
		Height:    m.Height,
		Data:      make([]byte, m.Width*m.Height*3),
		TraceID:   uuid.New().String(),
	}, nil
}

// Close releases the mock transport. Idempotent.
func (m *MockReceiver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.connected = false
	return nil
}
