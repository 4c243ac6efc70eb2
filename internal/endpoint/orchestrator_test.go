package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakePipeline is a controllable stand-in for the media pipeline
type fakePipeline struct {
	cfg   PipelineConfig
	errCh chan error

	mu      sync.Mutex
	stopped bool
}

func (p *fakePipeline) Start(ctx context.Context) error { return nil }

func (p *fakePipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	return nil
}

func (p *fakePipeline) Err() <-chan error { return p.errCh }

func (p *fakePipeline) fault(err error) {
	select {
	case p.errCh <- err:
	default:
	}
}

// fakeFactory builds fakePipelines and records them for inspection
type fakeFactory struct {
	mu       sync.Mutex
	built    []*fakePipeline
	failures int // first N builds fault immediately after start
	buildErr error
}

func (f *fakeFactory) new(cfg PipelineConfig) (Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.buildErr != nil {
		return nil, f.buildErr
	}
	p := &fakePipeline{cfg: cfg, errCh: make(chan error, 1)}
	f.built = append(f.built, p)
	if len(f.built) <= f.failures {
		p.fault(fmt.Errorf("synthetic pipeline fault %d", len(f.built)))
	}
	return p, nil
}

func (f *fakeFactory) builds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

func testOrchestrator(t *testing.T, factory PipelineFactory, mutate func(*Config)) *Orchestrator {
	t.Helper()
	cfg := Config{
		Host:            "192.168.1.10",
		BasePort:        8554,
		PortCount:       3,
		GracePeriod:     0,
		RestartAttempts: 2,
		RestartBackoff:  time.Millisecond,
		NewPipeline:     factory,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	o, err := NewOrchestrator(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return o
}

func spec(id string) PublishSpec {
	return PublishSpec{CameraID: id, Device: "/dev/video0", Width: 640, Height: 480, FPS: 15, Codec: "h264"}
}

func waitForEndpointState(t *testing.T, o *Orchestrator, id, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		info, err := o.Get(id)
		if err == nil && info.State == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	info, _ := o.Get(id)
	t.Fatalf("endpoint %s state = %q, want %q within %v", id, info.State, want, timeout)
}

func TestOrchestratorPublish(t *testing.T) {
	factory := &fakeFactory{}
	o := testOrchestrator(t, factory.new, nil)
	defer o.Shutdown(context.Background())

	addr1, err := o.Publish(spec("cam-a"))
	if err != nil {
		t.Fatal(err)
	}
	addr2, err := o.Publish(spec("cam-b"))
	if err != nil {
		t.Fatal(err)
	}

	if addr1.Port == addr2.Port {
		t.Fatalf("both endpoints got port %d, want unique ports", addr1.Port)
	}
	if addr1.Mount == addr2.Mount {
		t.Fatalf("both endpoints got mount %q, want unique mounts", addr1.Mount)
	}
	if got, want := addr1.URL(), "tcp://192.168.1.10:8554/cam1"; got != want {
		t.Fatalf("URL() = %q, want %q", got, want)
	}

	info, err := o.Get("cam-a")
	if err != nil {
		t.Fatal(err)
	}
	if info.State != StateActive.String() {
		t.Fatalf("endpoint state = %q, want active", info.State)
	}
	if got := len(o.Endpoints()); got != 2 {
		t.Fatalf("Endpoints() = %d, want 2", got)
	}
}

func TestOrchestratorDuplicatePublish(t *testing.T) {
	factory := &fakeFactory{}
	o := testOrchestrator(t, factory.new, nil)
	defer o.Shutdown(context.Background())

	if _, err := o.Publish(spec("cam-a")); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Publish(spec("cam-a")); !errors.Is(err, ErrAlreadyPublished) {
		t.Fatalf("second Publish = %v, want ErrAlreadyPublished", err)
	}
}

func TestOrchestratorPortExhaustion(t *testing.T) {
	factory := &fakeFactory{}
	o := testOrchestrator(t, factory.new, func(cfg *Config) { cfg.PortCount = 1 })
	defer o.Shutdown(context.Background())

	if _, err := o.Publish(spec("cam-a")); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Publish(spec("cam-b")); !errors.Is(err, ErrPortExhausted) {
		t.Fatalf("Publish on full range = %v, want ErrPortExhausted", err)
	}
}

func TestOrchestratorRetire(t *testing.T) {
	factory := &fakeFactory{}
	o := testOrchestrator(t, factory.new, nil)
	defer o.Shutdown(context.Background())

	addr, err := o.Publish(spec("cam-a"))
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Retire("cam-a"); err != nil {
		t.Fatal(err)
	}

	if _, err := o.Get("cam-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after retire = %v, want ErrNotFound", err)
	}
	factory.mu.Lock()
	stopped := factory.built[0].stopped
	factory.mu.Unlock()
	if !stopped {
		t.Fatal("retire must stop the pipeline")
	}

	// Grace period is zero here, so the port is immediately reusable
	again, err := o.Publish(spec("cam-a"))
	if err != nil {
		t.Fatal(err)
	}
	if again.Port != addr.Port {
		t.Fatalf("republished port = %d, want reused %d", again.Port, addr.Port)
	}

	// Retiring an unknown camera is a no-op
	if err := o.Retire("no-such-camera"); err != nil {
		t.Fatal(err)
	}
}

func TestOrchestratorPublishBuildFailure(t *testing.T) {
	factory := &fakeFactory{buildErr: errors.New("no such element")}
	o := testOrchestrator(t, factory.new, nil)
	defer o.Shutdown(context.Background())

	if _, err := o.Publish(spec("cam-a")); !errors.Is(err, ErrPipelineStart) {
		t.Fatalf("Publish with broken factory = %v, want ErrPipelineStart", err)
	}

	// The allocated port must be returned on failure
	factory.mu.Lock()
	factory.buildErr = nil
	factory.mu.Unlock()
	addr, err := o.Publish(spec("cam-a"))
	if err != nil {
		t.Fatal(err)
	}
	if addr.Port != 8554 {
		t.Fatalf("port = %d, want 8554 released by the failed publish", addr.Port)
	}
}

func TestOrchestratorRestartRecovers(t *testing.T) {
	factory := &fakeFactory{failures: 1}
	o := testOrchestrator(t, factory.new, nil)
	defer o.Shutdown(context.Background())

	if _, err := o.Publish(spec("cam-a")); err != nil {
		t.Fatal(err)
	}

	// First pipeline faults, the rebuild succeeds
	waitForEndpointState(t, o, "cam-a", StateActive.String(), time.Second)

	info, err := o.Get("cam-a")
	if err != nil {
		t.Fatal(err)
	}
	if info.Restarts != 1 {
		t.Fatalf("Restarts = %d, want 1", info.Restarts)
	}
	if factory.builds() != 2 {
		t.Fatalf("factory built %d pipelines, want 2", factory.builds())
	}
}

func TestOrchestratorRestartBudgetSpent(t *testing.T) {
	factory := &fakeFactory{failures: 100} // every pipeline faults
	o := testOrchestrator(t, factory.new, nil)
	defer o.Shutdown(context.Background())

	if _, err := o.Publish(spec("cam-a")); err != nil {
		t.Fatal(err)
	}

	select {
	case fault := <-o.Faults():
		if fault.CameraID != "cam-a" {
			t.Fatalf("fault camera = %q, want cam-a", fault.CameraID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a fault report after the restart budget")
	}

	waitForEndpointState(t, o, "cam-a", StateFailing.String(), time.Second)

	// Initial build plus one rebuild per budgeted restart
	if got := factory.builds(); got != 3 {
		t.Fatalf("factory built %d pipelines, want 3", got)
	}

	// Failing keeps its address until retired; a fresh publish recovers
	if err := o.Retire("cam-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Publish(spec("cam-a")); err != nil {
		t.Fatal(err)
	}
}
