// Package endpoint owns the producer's network endpoints: one serving
// address per published camera, a bounded port range, and supervision
// of the pipeline behind each endpoint.
package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/stream"
)

// State is the lifecycle state of one endpoint
type State int

const (
	// StateStopped means the endpoint has been retired
	StateStopped State = iota
	// StateStarting means the pipeline is coming up
	StateStarting
	// StateActive means the pipeline is serving
	StateActive
	// StateFailing means the restart budget is spent; the endpoint keeps
	// its address but serves nothing until retired and republished
	StateFailing
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateFailing:
		return "failing"
	default:
		return "unknown"
	}
}

// PublishSpec names the camera and capture parameters for one endpoint
type PublishSpec struct {
	CameraID string
	Device   string
	Width    int
	Height   int
	FPS      int
	Codec    string
}

// Info is a snapshot of one endpoint for the status surface
type Info struct {
	CameraID string `json:"camera_id"`
	Device   string `json:"device"`
	URL      string `json:"url"`
	State    string `json:"state"`
	Restarts int    `json:"restarts"`
	Error    string `json:"error,omitempty"`
}

// Fault reports an endpoint whose restart budget is spent
type Fault struct {
	CameraID string
	Err      error
}

// Config contains orchestrator construction parameters
type Config struct {
	// Host is the address endpoints are served on
	Host string
	// BasePort and PortCount define the serving port range
	BasePort  int
	PortCount int
	// GracePeriod quarantines a retired endpoint's port before reuse
	GracePeriod time.Duration
	// RestartAttempts bounds in-place pipeline restarts per endpoint
	RestartAttempts int
	// RestartBackoff is the base delay between restart attempts; the
	// delay grows linearly with the attempt number
	RestartBackoff time.Duration
	// TestPattern swaps every device for a synthetic source
	TestPattern bool
	// NewPipeline creates the media pipeline behind each endpoint
	NewPipeline PipelineFactory
}

type endpoint struct {
	spec     PublishSpec
	port     int
	addr     stream.Address
	pipeline Pipeline
	state    State
	restarts int
	lastErr  error
	cancel   context.CancelFunc
}

// Orchestrator maps published cameras to serving endpoints. Each
// endpoint's pipeline is supervised: a faulted pipeline is rebuilt a
// bounded number of times before the endpoint is marked Failing.
type Orchestrator struct {
	cfg   Config
	ports *portAllocator

	mu        sync.RWMutex
	endpoints map[string]*endpoint

	runCtx  context.Context
	started bool
	wg      sync.WaitGroup
	faults  chan Fault
}

// NewOrchestrator creates an orchestrator with fail-fast validation
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.NewPipeline == nil {
		return nil, fmt.Errorf("endpoint: pipeline factory is required")
	}
	if cfg.BasePort <= 0 || cfg.BasePort > 65535 {
		return nil, fmt.Errorf("endpoint: invalid base port %d", cfg.BasePort)
	}
	if cfg.PortCount <= 0 || cfg.BasePort+cfg.PortCount-1 > 65535 {
		return nil, fmt.Errorf("endpoint: invalid port count %d from base %d", cfg.PortCount, cfg.BasePort)
	}
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.GracePeriod < 0 {
		return nil, fmt.Errorf("endpoint: negative grace period")
	}
	if cfg.RestartAttempts <= 0 {
		cfg.RestartAttempts = 3
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = 2 * time.Second
	}

	return &Orchestrator{
		cfg:       cfg,
		ports:     newPortAllocator(cfg.BasePort, cfg.PortCount, cfg.GracePeriod),
		endpoints: make(map[string]*endpoint),
		faults:    make(chan Fault, 8),
	}, nil
}

// Start retains the parent context under which all pipelines run
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return fmt.Errorf("endpoint: orchestrator already started")
	}
	o.runCtx = ctx
	o.started = true

	slog.Info("endpoint: orchestrator started",
		"host", o.cfg.Host,
		"base_port", o.cfg.BasePort,
		"port_count", o.cfg.PortCount,
	)
	return nil
}

// Faults delivers endpoints whose restart budget is spent. Dropped, not
// blocked on, when the listener lags.
func (o *Orchestrator) Faults() <-chan Fault {
	return o.faults
}

// Publish allocates a port and mount for the camera and brings up its
// pipeline. Publishing an already-published camera returns
// ErrAlreadyPublished; a full port range returns ErrPortExhausted.
func (o *Orchestrator) Publish(spec PublishSpec) (stream.Address, error) {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return stream.Address{}, fmt.Errorf("endpoint: orchestrator not started")
	}
	if _, exists := o.endpoints[spec.CameraID]; exists {
		o.mu.Unlock()
		return stream.Address{}, fmt.Errorf("%w: camera %s", ErrAlreadyPublished, spec.CameraID)
	}

	port, err := o.ports.allocate()
	if err != nil {
		o.mu.Unlock()
		return stream.Address{}, err
	}

	ep := &endpoint{
		spec:  spec,
		port:  port,
		addr:  stream.Address{Host: o.cfg.Host, Port: port, Mount: o.ports.mount(port)},
		state: StateStarting,
	}
	o.endpoints[spec.CameraID] = ep
	runCtx := o.runCtx
	o.mu.Unlock()

	pipeline, err := o.buildPipeline(ep)
	if err != nil {
		o.mu.Lock()
		delete(o.endpoints, spec.CameraID)
		o.mu.Unlock()
		o.ports.release(port)
		return stream.Address{}, fmt.Errorf("%w: camera %s: %v", ErrPipelineStart, spec.CameraID, err)
	}

	superviseCtx, cancel := context.WithCancel(runCtx)
	o.mu.Lock()
	if cur, ok := o.endpoints[spec.CameraID]; !ok || cur != ep {
		// Retired while the pipeline was coming up; the port is
		// already back in quarantine
		o.mu.Unlock()
		cancel()
		pipeline.Stop()
		return stream.Address{}, fmt.Errorf("endpoint: camera %s retired during publish", spec.CameraID)
	}
	ep.pipeline = pipeline
	ep.state = StateActive
	ep.cancel = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go o.supervise(superviseCtx, ep)

	slog.Info("endpoint: published",
		"camera", spec.CameraID,
		"device", spec.Device,
		"url", ep.addr.URL(),
	)
	return ep.addr, nil
}

// Retire tears down the camera's endpoint and quarantines its port.
// Retiring an unknown camera is a no-op.
func (o *Orchestrator) Retire(cameraID string) error {
	o.mu.Lock()
	ep, ok := o.endpoints[cameraID]
	if !ok {
		o.mu.Unlock()
		return nil
	}
	delete(o.endpoints, cameraID)
	ep.state = StateStopped
	pipeline := ep.pipeline
	cancel := ep.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pipeline != nil {
		if err := pipeline.Stop(); err != nil {
			slog.Error("endpoint: pipeline stop failed", "camera", cameraID, "error", err)
		}
	}
	o.ports.release(ep.port)

	slog.Info("endpoint: retired", "camera", cameraID, "url", ep.addr.URL())
	return nil
}

// Get returns a snapshot of the camera's endpoint
func (o *Orchestrator) Get(cameraID string) (Info, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	ep, ok := o.endpoints[cameraID]
	if !ok {
		return Info{}, fmt.Errorf("%w: camera %s", ErrNotFound, cameraID)
	}
	return o.info(ep), nil
}

// Endpoints returns a snapshot of every live endpoint
func (o *Orchestrator) Endpoints() []Info {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]Info, 0, len(o.endpoints))
	for _, ep := range o.endpoints {
		out = append(out, o.info(ep))
	}
	return out
}

// Shutdown retires every endpoint concurrently and waits for the
// supervisors to exit or the context to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.RLock()
	ids := make([]string, 0, len(o.endpoints))
	for id := range o.endpoints {
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	slog.Info("endpoint: shutting down", "endpoints", len(ids))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := o.Retire(id); err != nil {
				slog.Error("endpoint: retire failed during shutdown", "camera", id, "error", err)
			}
		}(id)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("endpoint: shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("endpoint: shutdown timed out: %w", ctx.Err())
	}
}

// supervise restarts the endpoint's pipeline on fault, up to the
// configured budget, then marks the endpoint Failing and reports it.
func (o *Orchestrator) supervise(ctx context.Context, ep *endpoint) {
	defer o.wg.Done()

	for {
		o.mu.RLock()
		pipeline := ep.pipeline
		o.mu.RUnlock()
		if pipeline == nil {
			return
		}

		var faultErr error
		select {
		case <-ctx.Done():
			return
		case faultErr = <-pipeline.Err():
		}

		o.mu.Lock()
		if ep.state == StateStopped {
			o.mu.Unlock()
			return
		}
		ep.restarts++
		attempt := ep.restarts
		ep.lastErr = faultErr
		budgetSpent := attempt > o.cfg.RestartAttempts
		if budgetSpent {
			ep.state = StateFailing
		} else {
			ep.state = StateStarting
		}
		o.mu.Unlock()

		if budgetSpent {
			slog.Error("endpoint: restart budget spent",
				"camera", ep.spec.CameraID,
				"attempts", o.cfg.RestartAttempts,
				"error", faultErr,
			)
			select {
			case o.faults <- Fault{CameraID: ep.spec.CameraID, Err: faultErr}:
			default:
			}
			return
		}

		delay := time.Duration(attempt) * o.cfg.RestartBackoff
		slog.Warn("endpoint: pipeline fault, restarting",
			"camera", ep.spec.CameraID,
			"attempt", attempt,
			"delay", delay,
			"error", faultErr,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		pipeline.Stop()
		fresh, err := o.buildPipeline(ep)
		if err != nil {
			// Counts against the budget on the next loop iteration via a
			// synthetic fault
			o.mu.Lock()
			ep.lastErr = err
			o.mu.Unlock()
			fresh = &deadPipeline{err: err}
		}

		o.mu.Lock()
		if ep.state == StateStopped {
			o.mu.Unlock()
			fresh.Stop()
			return
		}
		ep.pipeline = fresh
		if err == nil {
			ep.state = StateActive
			slog.Info("endpoint: pipeline restarted", "camera", ep.spec.CameraID, "attempt", attempt)
		}
		o.mu.Unlock()
	}
}

func (o *Orchestrator) buildPipeline(ep *endpoint) (Pipeline, error) {
	pipeline, err := o.cfg.NewPipeline(PipelineConfig{
		Device:      ep.spec.Device,
		Width:       ep.spec.Width,
		Height:      ep.spec.Height,
		FPS:         ep.spec.FPS,
		Codec:       ep.spec.Codec,
		Host:        o.cfg.Host,
		Port:        ep.port,
		Mount:       ep.addr.Mount,
		TestPattern: o.cfg.TestPattern,
	})
	if err != nil {
		return nil, err
	}
	if err := pipeline.Start(o.runCtx); err != nil {
		pipeline.Stop()
		return nil, err
	}
	return pipeline, nil
}

// info builds a snapshot; caller holds at least the read lock
func (o *Orchestrator) info(ep *endpoint) Info {
	info := Info{
		CameraID: ep.spec.CameraID,
		Device:   ep.spec.Device,
		URL:      ep.addr.URL(),
		State:    ep.state.String(),
		Restarts: ep.restarts,
	}
	if ep.lastErr != nil {
		info.Error = ep.lastErr.Error()
	}
	return info
}

// deadPipeline immediately reports the build error that produced it, so
// a failed rebuild flows through the same fault path as a runtime fault.
type deadPipeline struct {
	err  error
	once sync.Once
	ch   chan error
}

func (d *deadPipeline) Start(context.Context) error { return d.err }

func (d *deadPipeline) Stop() error { return nil }

func (d *deadPipeline) Err() <-chan error {
	d.once.Do(func() {
		d.ch = make(chan error, 1)
		d.ch <- d.err
	})
	return d.ch
}
