package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestV4L2DiscoveryScansCaptureNodes(t *testing.T) {
	dir := t.TempDir()
	// Each camera exposes a capture node (even) and a metadata node (odd)
	for _, name := range []string{"video0", "video1", "video2", "video3", "video10", "null", "tty0"} {
		touch(t, dir, name)
	}

	disc := NewV4L2Discovery(dir, 0)
	devices, err := disc.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		filepath.Join(dir, "video0"),
		filepath.Join(dir, "video2"),
		filepath.Join(dir, "video10"),
	}
	if len(devices) != len(want) {
		t.Fatalf("Scan() = %v, want %v", devices, want)
	}
	for i := range want {
		if devices[i] != want[i] {
			t.Fatalf("Scan()[%d] = %q, want %q", i, devices[i], want[i])
		}
	}
}

func TestV4L2DiscoveryMax(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"video0", "video2", "video4", "video6"} {
		touch(t, dir, name)
	}

	disc := NewV4L2Discovery(dir, 2)
	devices, err := disc.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 {
		t.Fatalf("Scan() returned %d devices, want max 2", len(devices))
	}
}

func TestV4L2DiscoveryMissingDir(t *testing.T) {
	disc := NewV4L2Discovery(filepath.Join(t.TempDir(), "nope"), 0)
	if _, err := disc.Scan(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
