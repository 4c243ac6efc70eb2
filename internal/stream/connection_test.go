package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var testAddr = Address{Host: "127.0.0.1", Port: 8554, Mount: "/cam1"}

func fastBackoff() BackoffConfig {
	return BackoffConfig{
		MaxRetries:   3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Jitter:       0,
	}
}

// waitForState polls until the connection reaches the wanted state
func waitForState(t *testing.T, c *Connection, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v within %v", c.State(), want, timeout)
}

func TestConnectionDeliversFrames(t *testing.T) {
	conn, err := NewConnection(ConnectionConfig{
		Address:     testAddr,
		BufferDepth: 5,
		Backoff:     fastBackoff(),
		NewReceiver: func() Receiver { return NewMockReceiver(4, 4, 200) },
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := conn.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer conn.Stop()

	waitForState(t, conn, StateConnected, time.Second)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if conn.Stats().FramesReceived >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := conn.Stats().FramesReceived; got < 3 {
		t.Fatalf("FramesReceived = %d, want >= 3", got)
	}

	// Frames come out in arrival order
	var last uint64
	for {
		f, ok := conn.Buffer().Pop()
		if !ok {
			break
		}
		if f.Seq <= last {
			t.Fatalf("sequence went backwards: %d after %d", f.Seq, last)
		}
		last = f.Seq
	}
}

func TestConnectionRetriesThenConnects(t *testing.T) {
	// First two attempts get a receiver that refuses the handshake,
	// the third one succeeds
	var attempts int32
	factory := func() Receiver {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			return &MockReceiver{Width: 4, Height: 4, FPS: 100, FailConnects: 1}
		}
		return NewMockReceiver(4, 4, 100)
	}

	conn, err := NewConnection(ConnectionConfig{
		Address:     testAddr,
		Backoff:     fastBackoff(),
		NewReceiver: factory,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := conn.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer conn.Stop()

	waitForState(t, conn, StateConnected, 2*time.Second)

	// A successful handshake resets the retry budget
	if got := conn.Stats().Retries; got != 0 {
		t.Fatalf("Retries = %d after connect, want 0", got)
	}
}

func TestConnectionFailsAfterBudget(t *testing.T) {
	conn, err := NewConnection(ConnectionConfig{
		Address: testAddr,
		Backoff: fastBackoff(),
		NewReceiver: func() Receiver {
			return &MockReceiver{Width: 4, Height: 4, FPS: 100, FailConnects: 100}
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := conn.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitForState(t, conn, StateFailed, 2*time.Second)

	if !errors.Is(conn.LastError(), ErrRetryBudgetExceeded) {
		t.Fatalf("LastError = %v, want ErrRetryBudgetExceeded", conn.LastError())
	}

	// Failed is terminal: Stop must not mask it
	if err := conn.Stop(); err != nil {
		t.Fatal(err)
	}
	if got := conn.State(); got != StateFailed {
		t.Fatalf("state after Stop = %v, want Failed to stay queryable", got)
	}
}

// silentReceiver completes the handshake but never delivers a frame,
// like an endpoint whose producer hung without closing the socket
type silentReceiver struct {
	MockReceiver
}

func (r *silentReceiver) Read(ctx context.Context) (Frame, error) {
	<-ctx.Done()
	return Frame{}, ctx.Err()
}

func TestConnectionSilentStreamTriggersReconnect(t *testing.T) {
	conn, err := NewConnection(ConnectionConfig{
		Address: testAddr,
		Backoff: BackoffConfig{
			MaxRetries:   5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     200 * time.Millisecond,
		},
		ReadTimeout: 50 * time.Millisecond,
		NewReceiver: func() Receiver { return &silentReceiver{} },
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := conn.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer conn.Stop()

	waitForState(t, conn, StateConnected, time.Second)

	// The read timeout, not a transport error, must push the connection
	// into Reconnecting with an interruption cause
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn.State() == StateReconnecting && errors.Is(conn.LastError(), ErrStreamInterrupted) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, last error = %v, want Reconnecting with ErrStreamInterrupted",
		conn.State(), conn.LastError())
}

func TestConnectionReconnectsAfterInterruption(t *testing.T) {
	conn, err := NewConnection(ConnectionConfig{
		Address: testAddr,
		Backoff: fastBackoff(),
		NewReceiver: func() Receiver {
			// Every attempt gets a fresh stream that dies after 3 frames
			return &MockReceiver{Width: 4, Height: 4, FPS: 200, FailAfter: 3}
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := conn.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer conn.Stop()

	// More frames than one stream's lifetime proves a reconnect happened
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if conn.Stats().FramesReceived > 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("FramesReceived = %d, want > 3 across reconnects", conn.Stats().FramesReceived)
}

func TestConnectionStopDuringBackoff(t *testing.T) {
	conn, err := NewConnection(ConnectionConfig{
		Address: testAddr,
		Backoff: BackoffConfig{
			MaxRetries:   5,
			InitialDelay: 30 * time.Second, // far longer than the test
			MaxDelay:     30 * time.Second,
		},
		NewReceiver: func() Receiver {
			return &MockReceiver{Width: 4, Height: 4, FPS: 100, FailConnects: 100}
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := conn.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitForState(t, conn, StateReconnecting, 2*time.Second)

	start := time.Now()
	if err := conn.Stop(); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Stop took %v, want prompt cancellation of backoff wait", elapsed)
	}
	if got := conn.State(); got != StateDisconnected {
		t.Fatalf("state after Stop = %v, want Disconnected", got)
	}
}

func TestConnectionStartTwice(t *testing.T) {
	conn, err := NewConnection(ConnectionConfig{
		Address:     testAddr,
		Backoff:     fastBackoff(),
		NewReceiver: func() Receiver { return NewMockReceiver(4, 4, 100) },
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := conn.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer conn.Stop()

	if err := conn.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestConnectionValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  ConnectionConfig
	}{
		{"missing factory", ConnectionConfig{Address: testAddr}},
		{"missing host", ConnectionConfig{
			Address:     Address{Port: 8554},
			NewReceiver: func() Receiver { return NewMockReceiver(4, 4, 15) },
		}},
		{"missing port", ConnectionConfig{
			Address:     Address{Host: "127.0.0.1"},
			NewReceiver: func() Receiver { return NewMockReceiver(4, 4, 15) },
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewConnection(tt.cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
