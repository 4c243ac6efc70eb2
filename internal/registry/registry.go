// Package registry tracks capture devices on the producer: detection,
// configuration, and hot-plug arrival/removal events.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// ErrNotFound indicates an unknown camera reference
var ErrNotFound = errors.New("registry: camera not found")

// Settings are the default capture parameters applied on detection
type Settings struct {
	Width  int
	Height int
	FPS    int
	Codec  string
}

// Config contains registry construction parameters
type Config struct {
	// Defaults are applied to newly detected cameras
	Defaults Settings
	// PollInterval is the hot-plug re-enumeration period (default: 5s)
	PollInterval time.Duration
	// DeviceDir is watched for device node churn to trigger an early
	// rescan between polls (default: /dev; empty string disables watch)
	DeviceDir string
	// MaxCameras bounds how many devices are managed
	MaxCameras int
}

// Registry owns all CameraSource state. Detection runs on a periodic
// poll loop, optionally nudged early by a filesystem watch on the
// device directory; reaction latency to hot-plug is at most one poll
// interval either way.
type Registry struct {
	cfg       Config
	discovery Discovery
	bus       *eventBus

	mu       sync.RWMutex
	cameras  map[string]*CameraSource // by ID
	byDevice map[string]string        // device path -> ID

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	rescan  chan struct{}
	watcher *fsnotify.Watcher
}

// New creates a registry with fail-fast validation
func New(discovery Discovery, cfg Config) (*Registry, error) {
	if discovery == nil {
		return nil, fmt.Errorf("registry: discovery is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxCameras <= 0 {
		cfg.MaxCameras = 3
	}
	if cfg.Defaults.Width <= 0 || cfg.Defaults.Height <= 0 {
		cfg.Defaults.Width, cfg.Defaults.Height = 640, 480
	}
	if cfg.Defaults.FPS <= 0 {
		cfg.Defaults.FPS = 15
	}
	if cfg.Defaults.Codec == "" {
		cfg.Defaults.Codec = "h264"
	}

	return &Registry{
		cfg:       cfg,
		discovery: discovery,
		bus:       newEventBus(),
		cameras:   make(map[string]*CameraSource),
		byDevice:  make(map[string]string),
		rescan:    make(chan struct{}, 1),
	}, nil
}

// Start performs an initial scan and launches the poll loop
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("registry: already started")
	}
	// cancel and the poll loop's wait-group slot must be visible to any
	// Stop that observes started, so both are registered inside the same
	// critical section
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	r.started = true
	r.mu.Unlock()

	if err := r.poll(runCtx); err != nil {
		slog.Warn("registry: initial scan failed", "error", err)
	}

	if r.cfg.DeviceDir != "" {
		if err := r.startWatcher(); err != nil {
			// Polling alone still satisfies detection; the watcher only
			// shortens latency
			slog.Warn("registry: device watch unavailable, relying on polling",
				"dir", r.cfg.DeviceDir,
				"error", err,
			)
		}
	}

	go r.pollLoop(runCtx)

	slog.Info("registry: started",
		"poll_interval", r.cfg.PollInterval,
		"max_cameras", r.cfg.MaxCameras,
	)
	return nil
}

// Stop halts polling and closes all event subscriptions. Idempotent.
func (r *Registry) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	cancel := r.cancel
	watcher := r.watcher
	r.mu.Unlock()

	cancel()
	if watcher != nil {
		watcher.Close()
	}
	r.wg.Wait()
	r.bus.close()

	slog.Info("registry: stopped")
	return nil
}

// Enumerate returns a snapshot of all known cameras
func (r *Registry) Enumerate() []CameraSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]CameraSource, 0, len(r.cameras))
	for _, cam := range r.cameras {
		out = append(out, *cam)
	}
	return out
}

// Get returns a copy of one camera by ID
func (r *Registry) Get(id string) (CameraSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cam, ok := r.cameras[id]
	if !ok {
		return CameraSource{}, false
	}
	return *cam, true
}

// Configure updates a camera's capture parameters.
// Returns ErrNotFound for an unknown ID.
func (r *Registry) Configure(id string, width, height, fps int, codec string) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("registry: invalid resolution %dx%d", width, height)
	}
	if fps <= 0 {
		return fmt.Errorf("registry: invalid fps %d", fps)
	}
	if codec == "" {
		return fmt.Errorf("registry: codec is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cam, ok := r.cameras[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cam.Width, cam.Height, cam.FPS, cam.Codec = width, height, fps, codec

	slog.Info("registry: camera configured",
		"camera", id,
		"resolution", fmt.Sprintf("%dx%d", width, height),
		"fps", fps,
		"codec", codec,
	)
	return nil
}

// SetStatus records an externally observed status transition (endpoint
// published, pipeline fault) and emits a StatusChanged event.
func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	cam, ok := r.cameras[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if cam.Status == status {
		r.mu.Unlock()
		return nil
	}
	cam.Status = status
	snapshot := *cam
	r.mu.Unlock()

	r.bus.publish(Event{Kind: EventStatusChanged, Camera: snapshot, At: time.Now()})
	return nil
}

// Subscribe registers a named event subscriber. Events are delivered on
// a buffered channel and dropped when the subscriber lags, never
// blocking detection.
func (r *Registry) Subscribe(name string, buffer int) (<-chan Event, error) {
	return r.bus.subscribe(name, buffer)
}

// Unsubscribe removes a subscriber and closes its channel
func (r *Registry) Unsubscribe(name string) {
	r.bus.unsubscribe(name)
}

// pollLoop re-enumerates devices every PollInterval, or earlier when
// the device directory watcher observes churn
func (r *Registry) pollLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.rescan:
		}

		if err := r.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("registry: poll failed", "error", err)
		}
	}
}

// poll reconciles the camera table against the devices present now
func (r *Registry) poll(ctx context.Context) error {
	devices, err := r.discovery.Scan(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	present := make(map[string]bool, len(devices))
	var events []Event

	r.mu.Lock()
	for _, dev := range devices {
		present[dev] = true

		id, known := r.byDevice[dev]
		if !known {
			if len(r.cameras) >= r.cfg.MaxCameras {
				continue
			}
			cam := &CameraSource{
				ID:       uuid.New().String(),
				Device:   dev,
				Width:    r.cfg.Defaults.Width,
				Height:   r.cfg.Defaults.Height,
				FPS:      r.cfg.Defaults.FPS,
				Codec:    r.cfg.Defaults.Codec,
				Status:   StatusDetected,
				LastSeen: now,
			}
			r.cameras[cam.ID] = cam
			r.byDevice[dev] = cam.ID
			events = append(events, Event{Kind: EventArrived, Camera: *cam, At: now})
			continue
		}

		cam := r.cameras[id]
		cam.LastSeen = now
		if cam.Status == StatusDisconnected {
			// Replug of a known device: same stable ID, fresh endpoint
			cam.Status = StatusInitializing
			events = append(events, Event{Kind: EventArrived, Camera: *cam, At: now})
		}
	}

	for dev, id := range r.byDevice {
		if present[dev] {
			continue
		}
		cam := r.cameras[id]
		if cam.Status == StatusDisconnected {
			continue
		}
		cam.Status = StatusDisconnected
		events = append(events, Event{Kind: EventRemoved, Camera: *cam, At: now})
	}
	r.mu.Unlock()

	for _, ev := range events {
		slog.Info("registry: camera event",
			"kind", ev.Kind,
			"camera", ev.Camera.ID,
			"device", ev.Camera.Device,
			"status", ev.Camera.Status,
		)
		r.bus.publish(ev)
	}
	return nil
}

// startWatcher begins watching the device directory so node churn
// triggers a rescan before the next tick
func (r *Registry) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(r.cfg.DeviceDir); err != nil {
		watcher.Close()
		return err
	}
	r.mu.Lock()
	if !r.started {
		// Stopped while the watcher was being set up
		r.mu.Unlock()
		watcher.Close()
		return nil
	}
	r.watcher = watcher
	r.wg.Add(1)
	r.mu.Unlock()
	go func() {
		defer r.wg.Done()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.Contains(ev.Name, "video") {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Remove) == 0 {
					continue
				}
				select {
				case r.rescan <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("registry: device watch error", "error", err)
			}
		}
	}()

	slog.Info("registry: watching device directory", "dir", r.cfg.DeviceDir)
	return nil
}
