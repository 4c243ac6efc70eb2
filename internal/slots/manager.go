// Package slots owns the fixed set of consumer display slots. Each slot
// holds at most one stream connection; slots are fully independent so a
// reconnect storm on one never delays frame delivery on another.
package slots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/stream"
)

var (
	// ErrNoSuchSlot indicates a slot index outside the configured range
	ErrNoSuchSlot = errors.New("slots: no such slot")
	// ErrNotStarted indicates Assign was called before Start
	ErrNotStarted = errors.New("slots: manager not started")
)

// ManagerConfig contains slot table construction parameters
type ManagerConfig struct {
	// Slots is the fixed number of display slots (default: 2)
	Slots int
	// BufferDepth is the per-slot frame buffer capacity
	BufferDepth int
	// Backoff is the reconnect schedule shared by all connections
	Backoff stream.BackoffConfig
	// ConnectTimeout bounds a single connect attempt
	ConnectTimeout time.Duration
	// ReadTimeout is the per-read silence threshold
	ReadTimeout time.Duration
	// NewReceiver creates the transport for each connect attempt
	NewReceiver stream.ReceiverFactory
}

// SlotStats is a snapshot of one slot for the status surface
type SlotStats struct {
	Index      int                    `json:"index"`
	Bound      bool                   `json:"bound"`
	Address    string                 `json:"address,omitempty"`
	State      string                 `json:"state"`
	Connection stream.ConnectionStats `json:"connection,omitempty"`
}

// slot pairs the table entry with a per-slot operation lock. opMu
// serializes Assign/Release on one slot without ever being held while
// another slot or a Status reader needs the table lock.
type slot struct {
	opMu sync.Mutex
	conn *stream.Connection
}

// Manager is the consumer-side slot table. The table lock guards only
// pointer swaps; connection teardown and connect attempts run outside
// it so one stalled slot cannot starve status visibility or another
// slot's rendering.
type Manager struct {
	cfg ManagerConfig

	mu    sync.RWMutex
	slots []*slot

	runCtx  context.Context
	started bool
}

// NewManager creates a slot manager with fail-fast validation
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.NewReceiver == nil {
		return nil, fmt.Errorf("slots: receiver factory is required")
	}
	if cfg.Slots <= 0 {
		cfg.Slots = 2
	}
	if cfg.BufferDepth <= 0 {
		cfg.BufferDepth = 5
	}

	table := make([]*slot, cfg.Slots)
	for i := range table {
		table[i] = &slot{}
	}

	return &Manager{cfg: cfg, slots: table}, nil
}

// Start retains the parent context under which all connections run
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("slots: manager already started")
	}
	m.runCtx = ctx
	m.started = true

	slog.Info("slots: manager started", "slots", len(m.slots))
	return nil
}

// Assign binds a slot to an endpoint address. An existing connection on
// the slot is torn down first (bounded, graceful), then a fresh
// connection with a reset retry count is started. Assignment is
// serialized per slot and never blocks other slots.
func (m *Manager) Assign(index int, addr stream.Address) error {
	s, err := m.slot(index)
	if err != nil {
		return err
	}

	m.mu.RLock()
	started := m.started
	runCtx := m.runCtx
	m.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	// Tear down outside the table lock; Stop drains bounded
	m.mu.RLock()
	old := s.conn
	m.mu.RUnlock()
	if old != nil {
		slog.Info("slots: reassigning slot",
			"slot", index,
			"old_address", old.Address().URL(),
			"new_address", addr.URL(),
		)
		if err := old.Stop(); err != nil {
			slog.Error("slots: failed to stop previous connection", "slot", index, "error", err)
		}
	}

	conn, err := stream.NewConnection(stream.ConnectionConfig{
		Address:        addr,
		BufferDepth:    m.cfg.BufferDepth,
		Backoff:        m.cfg.Backoff,
		ConnectTimeout: m.cfg.ConnectTimeout,
		ReadTimeout:    m.cfg.ReadTimeout,
		NewReceiver:    m.cfg.NewReceiver,
	})
	if err != nil {
		// Previous connection is already gone; leave the slot idle
		m.swap(s, nil)
		return fmt.Errorf("slots: assign slot %d: %w", index, err)
	}
	if err := conn.Start(runCtx); err != nil {
		m.swap(s, nil)
		return fmt.Errorf("slots: assign slot %d: %w", index, err)
	}

	m.swap(s, conn)

	slog.Info("slots: slot assigned", "slot", index, "address", addr.URL())
	return nil
}

// Release tears down the slot's connection and frees the slot. All
// in-flight connect attempts and backoff waits are cancelled promptly.
// Releasing an idle slot is a no-op.
func (m *Manager) Release(index int) error {
	s, err := m.slot(index)
	if err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	m.mu.RLock()
	conn := s.conn
	m.mu.RUnlock()
	if conn == nil {
		return nil
	}

	if err := conn.Stop(); err != nil {
		slog.Error("slots: failed to stop connection", "slot", index, "error", err)
	}
	m.swap(s, nil)

	slog.Info("slots: slot released", "slot", index)
	return nil
}

// Status returns the slot's connection state. Idle slots report
// Disconnected. Never blocks on network I/O.
func (m *Manager) Status(index int) (stream.State, error) {
	s, err := m.slot(index)
	if err != nil {
		return stream.StateDisconnected, err
	}

	m.mu.RLock()
	conn := s.conn
	m.mu.RUnlock()
	if conn == nil {
		return stream.StateDisconnected, nil
	}
	return conn.State(), nil
}

// Buffer returns the slot's frame buffer for the rendering consumer,
// or nil for an idle slot.
func (m *Manager) Buffer(index int) (*stream.FrameBuffer, error) {
	s, err := m.slot(index)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	conn := s.conn
	m.mu.RUnlock()
	if conn == nil {
		return nil, nil
	}
	return conn.Buffer(), nil
}

// Stats returns a snapshot of every slot for the status surface
func (m *Manager) Stats() []SlotStats {
	m.mu.RLock()
	conns := make([]*stream.Connection, len(m.slots))
	for i, s := range m.slots {
		conns[i] = s.conn
	}
	m.mu.RUnlock()

	out := make([]SlotStats, len(conns))
	for i, conn := range conns {
		if conn == nil {
			out[i] = SlotStats{Index: i, State: stream.StateDisconnected.String()}
			continue
		}
		cs := conn.Stats()
		out[i] = SlotStats{
			Index:      i,
			Bound:      true,
			Address:    cs.Address.URL(),
			State:      cs.State.String(),
			Connection: cs,
		}
	}
	return out
}

// Len returns the fixed number of slots
func (m *Manager) Len() int {
	return len(m.slots)
}

// Shutdown tears down all slots concurrently and waits for every
// connection to confirm release or the context to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	slog.Info("slots: shutting down", "slots", len(m.slots))

	var wg sync.WaitGroup
	for i := range m.slots {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			if err := m.Release(index); err != nil {
				slog.Error("slots: release failed during shutdown", "slot", index, "error", err)
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("slots: shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("slots: shutdown timed out: %w", ctx.Err())
	}
}

func (m *Manager) slot(index int) (*slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index < 0 || index >= len(m.slots) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrNoSuchSlot, index, len(m.slots))
	}
	return m.slots[index], nil
}

// swap installs a connection pointer under the brief table lock
func (m *Manager) swap(s *slot, conn *stream.Connection) {
	m.mu.Lock()
	s.conn = conn
	m.mu.Unlock()
}
