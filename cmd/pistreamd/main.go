// pistreamd is the Pi-side streaming daemon: it watches for cameras,
// publishes one TCP endpoint per camera, and exposes a control API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/config"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/endpoint"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/gstpipe"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/metrics"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/registry"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "pistreamd.yaml", "path to configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := run(*configPath); err != nil {
		slog.Error("pistreamd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadProducer(configPath)
	if err != nil {
		return err
	}

	width, height, err := config.ParseResolution(cfg.Cameras.Resolution)
	if err != nil {
		return err
	}

	slog.Info("pistreamd: starting",
		"host", cfg.Host,
		"resolution", cfg.Cameras.Resolution,
		"fps", cfg.Cameras.FPS,
		"max_cameras", cfg.Cameras.MaxCameras,
		"test_pattern", cfg.Streams.TestPattern,
	)

	reg, err := registry.New(
		registry.NewV4L2Discovery(cfg.Cameras.DeviceDir, cfg.Cameras.MaxCameras),
		registry.Config{
			Defaults: registry.Settings{
				Width:  width,
				Height: height,
				FPS:    cfg.Cameras.FPS,
				Codec:  cfg.Cameras.Codec,
			},
			PollInterval: cfg.Cameras.PollInterval(),
			DeviceDir:    cfg.Cameras.DeviceDir,
			MaxCameras:   cfg.Cameras.MaxCameras,
		},
	)
	if err != nil {
		return err
	}

	orch, err := endpoint.NewOrchestrator(endpoint.Config{
		Host:            cfg.Host,
		BasePort:        cfg.Streams.BasePort,
		PortCount:       cfg.Streams.PortCount,
		GracePeriod:     cfg.Streams.GracePeriod(),
		RestartAttempts: cfg.Streams.RestartAttempts,
		RestartBackoff:  cfg.Streams.RestartBackoff(),
		TestPattern:     cfg.Streams.TestPattern,
		NewPipeline:     gstpipe.NewCameraPipeline,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		return err
	}

	// Subscribe before the registry's initial scan so the first
	// arrivals are published too
	events, err := reg.Subscribe("autopublish", 32)
	if err != nil {
		return err
	}
	go autoPublish(ctx, reg, orch, events)
	go watchFaults(ctx, reg, orch)
	go monitorLoop(ctx, reg, orch)

	if err := reg.Start(ctx); err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(metrics.NewProducerCollector(reg, orch))

	api := server.NewProducerServer(reg, orch)
	httpServer := &http.Server{
		Addr:    cfg.API.Listen,
		Handler: api.Router(promRegistry),
	}
	go func() {
		slog.Info("pistreamd: api listening", "addr", cfg.API.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("pistreamd: api server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("pistreamd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("pistreamd: api shutdown failed", "error", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		slog.Error("pistreamd: orchestrator shutdown failed", "error", err)
	}
	if err := reg.Stop(); err != nil {
		slog.Error("pistreamd: registry stop failed", "error", err)
	}

	slog.Info("pistreamd: stopped")
	return nil
}

// autoPublish reacts to camera arrival and removal: every detected
// camera gets an endpoint, every removed camera loses it.
func autoPublish(ctx context.Context, reg *registry.Registry, orch *endpoint.Orchestrator, events <-chan registry.Event) {
	for {
		var ev registry.Event
		var ok bool
		select {
		case <-ctx.Done():
			return
		case ev, ok = <-events:
			if !ok {
				return
			}
		}

		switch ev.Kind {
		case registry.EventArrived:
			cam := ev.Camera
			addr, err := orch.Publish(endpoint.PublishSpec{
				CameraID: cam.ID,
				Device:   cam.Device,
				Width:    cam.Width,
				Height:   cam.Height,
				FPS:      cam.FPS,
				Codec:    cam.Codec,
			})
			if err != nil {
				slog.Error("pistreamd: publish failed", "camera", cam.ID, "device", cam.Device, "error", err)
				reg.SetStatus(cam.ID, registry.StatusError)
				continue
			}
			reg.SetStatus(cam.ID, registry.StatusStreaming)
			slog.Info("pistreamd: camera streaming", "camera", cam.ID, "url", addr.URL())
			logEndpoints(orch)

		case registry.EventRemoved:
			if err := orch.Retire(ev.Camera.ID); err != nil {
				slog.Error("pistreamd: retire failed", "camera", ev.Camera.ID, "error", err)
			}
			logEndpoints(orch)
		}
	}
}

// watchFaults downgrades cameras whose endpoint spent its restart budget
func watchFaults(ctx context.Context, reg *registry.Registry, orch *endpoint.Orchestrator) {
	for {
		select {
		case <-ctx.Done():
			return
		case fault := <-orch.Faults():
			slog.Error("pistreamd: endpoint failing", "camera", fault.CameraID, "error", fault.Err)
			if err := reg.SetStatus(fault.CameraID, registry.StatusError); err != nil {
				slog.Warn("pistreamd: status update failed", "camera", fault.CameraID, "error", err)
			}
		}
	}
}

// monitorLoop periodically logs a health summary so long-running
// deployments leave a trace of camera and endpoint churn
func monitorLoop(ctx context.Context, reg *registry.Registry, orch *endpoint.Orchestrator) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		byStatus := make(map[string]int)
		for _, cam := range reg.Enumerate() {
			byStatus[string(cam.Status)]++
		}
		byState := make(map[string]int)
		for _, ep := range orch.Endpoints() {
			byState[ep.State]++
		}
		slog.Info("pistreamd: health",
			"cameras", byStatus,
			"endpoints", byState,
		)
	}
}

// logEndpoints prints the current stream URLs so an operator tailing
// the log can point a player at them
func logEndpoints(orch *endpoint.Orchestrator) {
	eps := orch.Endpoints()
	urls := make([]string, 0, len(eps))
	for _, ep := range eps {
		urls = append(urls, fmt.Sprintf("%s (%s)", ep.URL, ep.State))
	}
	slog.Info("pistreamd: serving streams", "count", len(eps), "urls", urls)
}
