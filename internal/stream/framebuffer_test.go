package stream

import "testing"

func frameWithSeq(seq uint64) Frame {
	return Frame{Seq: seq, Data: []byte{byte(seq)}}
}

func TestFrameBufferPushPop(t *testing.T) {
	buf := NewFrameBuffer(3)

	if _, ok := buf.Pop(); ok {
		t.Fatal("expected empty buffer")
	}

	buf.Push(frameWithSeq(1))
	buf.Push(frameWithSeq(2))

	if got := buf.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	f, ok := buf.Pop()
	if !ok || f.Seq != 1 {
		t.Fatalf("Pop() = (%d, %v), want oldest frame 1", f.Seq, ok)
	}
	f, ok = buf.Pop()
	if !ok || f.Seq != 2 {
		t.Fatalf("Pop() = (%d, %v), want frame 2", f.Seq, ok)
	}
	if _, ok := buf.Pop(); ok {
		t.Fatal("expected buffer drained")
	}
}

func TestFrameBufferDropOldest(t *testing.T) {
	buf := NewFrameBuffer(3)

	for seq := uint64(1); seq <= 5; seq++ {
		buf.Push(frameWithSeq(seq))
	}

	if got := buf.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	if got := buf.Dropped(); got != 2 {
		t.Fatalf("Dropped() = %d, want 2", got)
	}

	// Frames 1 and 2 were evicted; order of survivors is preserved
	want := []uint64{3, 4, 5}
	for _, seq := range want {
		f, ok := buf.Pop()
		if !ok || f.Seq != seq {
			t.Fatalf("Pop() = (%d, %v), want %d", f.Seq, ok, seq)
		}
	}
}

func TestFrameBufferOrdering(t *testing.T) {
	buf := NewFrameBuffer(4)

	var last uint64
	for seq := uint64(1); seq <= 20; seq++ {
		buf.Push(frameWithSeq(seq))
		if seq%3 == 0 {
			f, ok := buf.Pop()
			if !ok {
				t.Fatalf("Pop() empty at seq %d", seq)
			}
			if f.Seq <= last {
				t.Fatalf("sequence went backwards: %d after %d", f.Seq, last)
			}
			last = f.Seq
		}
	}
}

func TestFrameBufferLatest(t *testing.T) {
	buf := NewFrameBuffer(2)

	if _, ok := buf.Latest(); ok {
		t.Fatal("Latest() should report nothing before first push")
	}

	buf.Push(frameWithSeq(1))
	buf.Push(frameWithSeq(2))
	buf.Pop()
	buf.Pop()

	// Buffer is drained but the renderer can still repaint
	f, ok := buf.Latest()
	if !ok || f.Seq != 2 {
		t.Fatalf("Latest() = (%d, %v), want frame 2", f.Seq, ok)
	}
}

func TestFrameBufferClear(t *testing.T) {
	buf := NewFrameBuffer(3)
	buf.Push(frameWithSeq(1))
	buf.Push(frameWithSeq(2))

	buf.Clear()

	if got := buf.Len(); got != 0 {
		t.Fatalf("Len() = %d after Clear, want 0", got)
	}
	if _, ok := buf.Latest(); !ok {
		t.Fatal("Clear should keep the latest-frame snapshot")
	}
}

func TestFrameBufferCapacityClamp(t *testing.T) {
	buf := NewFrameBuffer(0)
	if got := buf.Cap(); got != 1 {
		t.Fatalf("Cap() = %d, want clamp to 1", got)
	}
	buf.Push(frameWithSeq(1))
	buf.Push(frameWithSeq(2))
	f, ok := buf.Pop()
	if !ok || f.Seq != 2 {
		t.Fatalf("Pop() = (%d, %v), want only frame 2 retained", f.Seq, ok)
	}
}
