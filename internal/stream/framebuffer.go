package stream

import "sync"

// FrameBuffer is a bounded ring of decoded frames between the network
// pump and the rendering consumer.
//
// Semantics:
//   - Push never blocks: at capacity the oldest unread frame is evicted
//   - Pop is non-blocking: frames come out in arrival order
//   - Latest returns the most recently pushed frame even after it was
//     popped, so a renderer can repaint while the buffer is empty
//
// Capacity is fixed at construction; changing depth means recreating
// the buffer.
type FrameBuffer struct {
	mu       sync.Mutex
	data     []Frame
	capacity int
	head     int // next write position
	size     int
	latest   Frame
	hasAny   bool
	dropped  uint64
}

// NewFrameBuffer creates a frame buffer with the given capacity.
// Capacity must be at least 1; smaller values are clamped.
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameBuffer{
		data:     make([]Frame, capacity),
		capacity: capacity,
	}
}

// Push inserts a frame, evicting the oldest unread frame when full.
// Never blocks the producer.
func (b *FrameBuffer) Push(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data[b.head] = f
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	} else {
		// Oldest unread frame was overwritten
		b.dropped++
	}
	b.latest = f
	b.hasAny = true
}

// Pop removes and returns the oldest unread frame.
// The second return value is false when the buffer is empty.
func (b *FrameBuffer) Pop() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return Frame{}, false
	}
	tail := (b.head - b.size + b.capacity) % b.capacity
	f := b.data[tail]
	b.data[tail] = Frame{} // release payload reference
	b.size--
	return f, true
}

// Latest returns the most recently pushed frame, whether or not it has
// been popped. The second return value is false before the first Push.
func (b *FrameBuffer) Latest() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.hasAny {
		return Frame{}, false
	}
	return b.latest, true
}

// Len returns the number of unread frames
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the fixed capacity
func (b *FrameBuffer) Cap() int {
	return b.capacity
}

// Dropped returns the lifetime count of evicted frames
func (b *FrameBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Clear discards all unread frames, keeping the latest-frame snapshot
func (b *FrameBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.data {
		b.data[i] = Frame{}
	}
	b.head = 0
	b.size = 0
}
