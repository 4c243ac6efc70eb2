package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// eventBus fans registry events out to subscribers without ever
// blocking the poll loop. A slow subscriber loses events (tracked per
// subscriber) rather than delaying hot-plug reaction for everyone else.
type eventBus struct {
	mu      sync.RWMutex
	subs    map[string]chan Event
	closed  bool
	dropped map[string]*uint64
}

func newEventBus() *eventBus {
	return &eventBus{
		subs:    make(map[string]chan Event),
		dropped: make(map[string]*uint64),
	}
}

// subscribe registers a named subscriber with its own buffered channel
func (b *eventBus) subscribe(name string, buffer int) (<-chan Event, error) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("registry: event bus closed")
	}
	if _, exists := b.subs[name]; exists {
		return nil, fmt.Errorf("registry: subscriber %q already registered", name)
	}

	ch := make(chan Event, buffer)
	b.subs[name] = ch
	b.dropped[name] = new(uint64)
	return ch, nil
}

// unsubscribe removes a subscriber and closes its channel. Idempotent.
func (b *eventBus) unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[name]
	if !ok {
		return
	}
	delete(b.subs, name)
	delete(b.dropped, name)
	close(ch)
}

// publish delivers an event to every subscriber, dropping on full buffers
func (b *eventBus) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for name, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			atomic.AddUint64(b.dropped[name], 1)
			slog.Debug("registry: dropping event, subscriber slow",
				"subscriber", name,
				"kind", ev.Kind,
				"camera", ev.Camera.ID,
			)
		}
	}
}

// close shuts the bus and all subscriber channels
func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for name, ch := range b.subs {
		close(ch)
		delete(b.subs, name)
		delete(b.dropped, name)
	}
}
