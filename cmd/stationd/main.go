// stationd is the base-station daemon: it holds the display slots,
// keeps their stream connections alive, and exposes a slot control API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/config"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/gstpipe"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/metrics"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/server"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/slots"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/stream"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "stationd.yaml", "path to configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := run(*configPath); err != nil {
		slog.Error("stationd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadStation(configPath)
	if err != nil {
		return err
	}

	width, height, err := config.ParseResolution(cfg.Resolution)
	if err != nil {
		return err
	}

	slog.Info("stationd: starting",
		"producer_host", cfg.ProducerHost,
		"slots", cfg.Slots,
		"transport", cfg.Transport,
		"resolution", cfg.Resolution,
	)

	var factory stream.ReceiverFactory
	switch cfg.Transport {
	case "mock":
		factory = func() stream.Receiver {
			return &stream.MockReceiver{Width: width, Height: height, FPS: 15}
		}
	default:
		factory = gstpipe.NewReceiverFactory(width, height)
	}

	manager, err := slots.NewManager(slots.ManagerConfig{
		Slots:       cfg.Slots,
		BufferDepth: cfg.BufferDepth,
		Backoff: stream.BackoffConfig{
			MaxRetries:   cfg.Reconnect.MaxRetries,
			InitialDelay: time.Duration(cfg.Reconnect.InitialDelayS) * time.Second,
			MaxDelay:     time.Duration(cfg.Reconnect.MaxDelayS) * time.Second,
			Jitter:       0.2,
		},
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    time.Duration(cfg.Reconnect.ReadTimeoutS) * time.Second,
		NewReceiver:    factory,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		return err
	}

	assignInitial(cfg, manager)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(metrics.NewStationCollector(manager))

	api := server.NewStationServer(manager)
	httpServer := &http.Server{
		Addr:    cfg.API.Listen,
		Handler: api.Router(promRegistry),
	}
	go func() {
		slog.Info("stationd: api listening", "addr", cfg.API.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("stationd: api server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("stationd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("stationd: api shutdown failed", "error", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		slog.Error("stationd: slot shutdown failed", "error", err)
	}

	slog.Info("stationd: stopped")
	return nil
}

// assignInitial binds the configured camera ports to slots in stable
// (sorted) order, as many as fit
func assignInitial(cfg *config.StationConfig, manager *slots.Manager) {
	names := make([]string, 0, len(cfg.CameraPorts))
	for name := range cfg.CameraPorts {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		if i >= manager.Len() {
			slog.Warn("stationd: more cameras than slots, skipping", "camera", name)
			continue
		}
		addr := stream.Address{Host: cfg.ProducerHost, Port: cfg.CameraPorts[name], Mount: "/" + name}
		if err := manager.Assign(i, addr); err != nil {
			slog.Error("stationd: initial assignment failed", "slot", i, "camera", name, "error", err)
			continue
		}
		slog.Info("stationd: slot bound", "slot", i, "camera", name, "address", addr.URL())
	}
}
