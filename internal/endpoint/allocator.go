package endpoint

import (
	"fmt"
	"sync"
	"time"
)

// portAllocator hands out serving ports from a fixed contiguous range.
// A released port is quarantined for a grace period so a consumer still
// draining the old stream cannot be handed a different camera on the
// same address.
type portAllocator struct {
	base  int
	count int
	grace time.Duration

	mu         sync.Mutex
	inUse      map[int]bool
	graceUntil map[int]time.Time

	now func() time.Time // injectable for tests
}

func newPortAllocator(base, count int, grace time.Duration) *portAllocator {
	return &portAllocator{
		base:       base,
		count:      count,
		grace:      grace,
		inUse:      make(map[int]bool),
		graceUntil: make(map[int]time.Time),
		now:        time.Now,
	}
}

// allocate returns the lowest free port in the range, or
// ErrPortExhausted when every port is in use or quarantined.
func (a *portAllocator) allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	for port := a.base; port < a.base+a.count; port++ {
		if a.inUse[port] {
			continue
		}
		if until, quarantined := a.graceUntil[port]; quarantined {
			if now.Before(until) {
				continue
			}
			delete(a.graceUntil, port)
		}
		a.inUse[port] = true
		return port, nil
	}
	return 0, fmt.Errorf("%w: %d ports from %d", ErrPortExhausted, a.count, a.base)
}

// release frees a port and starts its reuse quarantine. Idempotent.
func (a *portAllocator) release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.inUse[port] {
		return
	}
	delete(a.inUse, port)
	a.graceUntil[port] = a.now().Add(a.grace)
}

// mount derives the stable stream path for a port. Port and mount come
// and go together, so the mapping stays collision-free for free.
func (a *portAllocator) mount(port int) string {
	return fmt.Sprintf("/cam%d", port-a.base+1)
}
