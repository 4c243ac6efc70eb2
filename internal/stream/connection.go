package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionConfig contains everything one connection needs at
// construction. The configuration is immutable once the connection is
// created; runtime-mutable state lives inside the Connection.
type ConnectionConfig struct {
	// Address is the target endpoint
	Address Address
	// BufferDepth is the frame buffer capacity (default: 5)
	BufferDepth int
	// Backoff is the reconnect schedule (zero value: DefaultBackoffConfig)
	Backoff BackoffConfig
	// ConnectTimeout bounds a single connect attempt (default: 5s)
	ConnectTimeout time.Duration
	// ReadTimeout is the silence threshold before the stream counts as
	// interrupted (default: 5s)
	ReadTimeout time.Duration
	// NewReceiver creates a fresh transport per connect attempt
	NewReceiver ReceiverFactory
}

// Connection is the per-slot stream state machine. It owns one network
// pump goroutine, a frame buffer and the reconnect schedule.
//
// State transitions:
//
//	Disconnected → Connecting            on Start
//	Connecting   → Connected             on successful handshake
//	Connecting   → Reconnecting          on connect failure or timeout
//	Connected    → Reconnecting          on read timeout, transport error or remote close
//	Reconnecting → Connecting            after the computed backoff delay
//	Reconnecting → Failed                when the retry budget is exhausted
//	any          → Disconnected          on Stop (Failed stays Failed)
//
// Failed is terminal for this instance; a reassignment creates a fresh
// Connection with a reset retry count.
type Connection struct {
	cfg ConnectionConfig
	buf *FrameBuffer

	// Lifecycle
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	// Counters (atomic for lock-free Stats reads)
	framesReceived uint64
	bytesReceived  uint64

	// State machine fields, guarded by mu. The lock is held only for
	// field swaps so Status queries never wait on network I/O.
	mu          sync.RWMutex
	state       State
	retries     int
	lastErr     error
	windowStart time.Time
	windowN     uint64
	windowBytes uint64
	fps         float64
	bitrateKbps float64
}

// NewConnection creates a connection with fail-fast validation.
// The connection does not touch the network until Start.
func NewConnection(cfg ConnectionConfig) (*Connection, error) {
	if cfg.NewReceiver == nil {
		return nil, fmt.Errorf("stream: receiver factory is required")
	}
	if cfg.Address.Host == "" || cfg.Address.Port == 0 {
		return nil, fmt.Errorf("stream: invalid address %q", cfg.Address.URL())
	}
	if cfg.BufferDepth <= 0 {
		cfg.BufferDepth = 5
	}
	if cfg.Backoff.MaxRetries == 0 {
		cfg.Backoff = DefaultBackoffConfig()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}

	return &Connection{
		cfg:   cfg,
		buf:   NewFrameBuffer(cfg.BufferDepth),
		state: StateDisconnected,
	}, nil
}

// Start launches the network pump and returns immediately.
// Frames arrive in the buffer asynchronously once connected.
func (c *Connection) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	slog.Info("stream: connection starting", "address", c.cfg.Address.URL())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(runCtx)
	}()

	return nil
}

// Stop cancels any in-flight connect attempt or backoff wait and waits
// for the pump to exit. Idempotent. A Failed connection stays Failed so
// the terminal state remains queryable; every other state transitions
// to Disconnected.
func (c *Connection) Stop() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("stream: stop timeout exceeded", "address", c.cfg.Address.URL())
	}

	c.mu.Lock()
	if c.state != StateFailed {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	return nil
}

// State returns the current connection state. Never blocks on I/O.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Buffer returns the connection's frame buffer for the rendering consumer
func (c *Connection) Buffer() *FrameBuffer {
	return c.buf
}

// Address returns the bound endpoint address
func (c *Connection) Address() Address {
	return c.cfg.Address
}

// LastError returns the most recent transport failure, or nil
func (c *Connection) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Stats returns a snapshot of connection metrics. Never blocks on I/O.
func (c *Connection) Stats() ConnectionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var lastErr string
	if c.lastErr != nil {
		lastErr = c.lastErr.Error()
	}

	return ConnectionStats{
		State:          c.state,
		Address:        c.cfg.Address,
		FramesReceived: atomic.LoadUint64(&c.framesReceived),
		FramesDropped:  c.buf.Dropped(),
		BytesReceived:  atomic.LoadUint64(&c.bytesReceived),
		FPS:            c.fps,
		BitrateKbps:    c.bitrateKbps,
		Retries:        c.retries,
		LastError:      lastErr,
	}
}

// run drives connect → pump → reconnect until cancelled or Failed
func (c *Connection) run(ctx context.Context) {
	for {
		c.setState(StateConnecting)

		recv := c.cfg.NewReceiver()
		connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		err := recv.Connect(connectCtx, c.cfg.Address)
		cancel()

		if ctx.Err() != nil {
			recv.Close()
			c.setState(StateDisconnected)
			return
		}
		if err != nil {
			recv.Close()
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %s", ErrConnectTimeout, c.cfg.Address.URL())
			}
			if !c.waitRetry(ctx, err) {
				return
			}
			continue
		}

		c.connected()
		err = c.pump(ctx, recv)
		recv.Close()

		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}
		if !c.waitRetry(ctx, err) {
			return
		}
	}
}

// connected marks the handshake as done and resets the retry counter
func (c *Connection) connected() {
	c.mu.Lock()
	c.state = StateConnected
	c.retries = 0
	c.lastErr = nil
	c.windowStart = time.Now()
	c.windowN = 0
	c.windowBytes = 0
	c.mu.Unlock()

	slog.Info("stream: connected", "address", c.cfg.Address.URL())
}

// pump reads frames into the buffer until a fault or cancellation.
// Each read is bounded by ReadTimeout so a silent endpoint is detected
// as an interruption rather than hanging the pump forever.
func (c *Connection) pump(ctx context.Context, recv Receiver) error {
	for {
		readCtx, cancel := context.WithTimeout(ctx, c.cfg.ReadTimeout)
		frame, err := recv.Read(readCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w: no data for %s", ErrStreamInterrupted, c.cfg.ReadTimeout)
			}
			return err
		}

		// Drop-oldest happens inside the buffer; the read path never blocks
		c.buf.Push(frame)
		atomic.AddUint64(&c.framesReceived, 1)
		atomic.AddUint64(&c.bytesReceived, uint64(len(frame.Data)))
		c.observeRate(len(frame.Data))
	}
}

// observeRate folds a received frame into the rolling FPS/bitrate window
func (c *Connection) observeRate(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.windowN++
	c.windowBytes += uint64(size)

	elapsed := time.Since(c.windowStart)
	if elapsed >= time.Second {
		c.fps = float64(c.windowN) / elapsed.Seconds()
		c.bitrateKbps = float64(c.windowBytes) * 8 / 1000 / elapsed.Seconds()
		c.windowStart = time.Now()
		c.windowN = 0
		c.windowBytes = 0
	}
}

// waitRetry records a transport failure and waits out the backoff delay.
// Returns false when the run loop must exit (budget exhausted or
// cancelled).
func (c *Connection) waitRetry(ctx context.Context, cause error) bool {
	c.mu.Lock()
	c.retries++
	retries := c.retries
	c.lastErr = cause
	if retries > c.cfg.Backoff.MaxRetries {
		c.state = StateFailed
		c.lastErr = fmt.Errorf("%w after %d attempts: %v", ErrRetryBudgetExceeded, retries-1, cause)
		c.mu.Unlock()

		slog.Error("stream: retry budget exceeded",
			"address", c.cfg.Address.URL(),
			"attempts", retries-1,
			"error", cause,
		)
		return false
	}
	c.state = StateReconnecting
	c.mu.Unlock()

	delay := c.cfg.Backoff.Delay(retries)
	slog.Warn("stream: retrying connection",
		"address", c.cfg.Address.URL(),
		"attempt", retries,
		"max_retries", c.cfg.Backoff.MaxRetries,
		"delay", delay,
		"error", cause,
	)

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		c.setState(StateDisconnected)
		return false
	}
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	old := c.state
	c.state = s
	c.mu.Unlock()

	if old != s {
		slog.Debug("stream: state changed",
			"address", c.cfg.Address.URL(),
			"from", old.String(),
			"to", s.String(),
		)
	}
}
