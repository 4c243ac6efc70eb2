package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Discovery enumerates capture device paths currently present
type Discovery interface {
	Scan(ctx context.Context) ([]string, error)
}

// V4L2Discovery scans a device directory for video capture nodes
// (/dev/video*). Only even-numbered nodes are reported: on current
// kernels each USB camera exposes a capture node and a metadata node
// as consecutive indices.
type V4L2Discovery struct {
	// Dir is the device directory, normally /dev
	Dir string
	// Max bounds the number of reported devices (0 = unbounded)
	Max int
}

// NewV4L2Discovery creates a discovery over the given device directory
func NewV4L2Discovery(dir string, max int) *V4L2Discovery {
	if dir == "" {
		dir = "/dev"
	}
	return &V4L2Discovery{Dir: dir, Max: max}
}

// Scan returns present capture device paths in stable index order
func (d *V4L2Discovery) Scan(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to read %s: %w", d.Dir, err)
	}

	type node struct {
		index int
		path  string
	}
	var nodes []node
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "video") {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(name, "video"))
		if err != nil {
			continue
		}
		if idx%2 != 0 {
			continue
		}
		nodes = append(nodes, node{index: idx, path: filepath.Join(d.Dir, name)})
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].index < nodes[j].index })

	devices := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if d.Max > 0 && len(devices) >= d.Max {
			break
		}
		devices = append(devices, n.path)
	}
	return devices, nil
}
