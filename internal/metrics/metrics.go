// Package metrics exposes producer and station state as Prometheus
// collectors. Collectors snapshot live state at scrape time, so there
// is no polling goroutine to keep in sync.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/endpoint"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/registry"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/slots"
)

// ProducerCollector exports camera registry and endpoint state
type ProducerCollector struct {
	registry     *registry.Registry
	orchestrator *endpoint.Orchestrator

	cameras          *prometheus.Desc
	endpoints        *prometheus.Desc
	endpointRestarts *prometheus.Desc
}

// NewProducerCollector creates a collector over the producer's state
func NewProducerCollector(reg *registry.Registry, orch *endpoint.Orchestrator) *ProducerCollector {
	return &ProducerCollector{
		registry:     reg,
		orchestrator: orch,
		cameras: prometheus.NewDesc(
			"producer_cameras",
			"Cameras known to the registry, by status.",
			[]string{"status"}, nil,
		),
		endpoints: prometheus.NewDesc(
			"producer_endpoints",
			"Published endpoints, by state.",
			[]string{"state"}, nil,
		),
		endpointRestarts: prometheus.NewDesc(
			"producer_endpoint_restarts_total",
			"Pipeline restarts per endpoint.",
			[]string{"camera"}, nil,
		),
	}
}

func (c *ProducerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cameras
	ch <- c.endpoints
	ch <- c.endpointRestarts
}

func (c *ProducerCollector) Collect(ch chan<- prometheus.Metric) {
	byStatus := make(map[string]int)
	for _, cam := range c.registry.Enumerate() {
		byStatus[string(cam.Status)]++
	}
	for status, n := range byStatus {
		ch <- prometheus.MustNewConstMetric(c.cameras, prometheus.GaugeValue, float64(n), status)
	}

	byState := make(map[string]int)
	for _, ep := range c.orchestrator.Endpoints() {
		byState[ep.State]++
		ch <- prometheus.MustNewConstMetric(
			c.endpointRestarts, prometheus.CounterValue, float64(ep.Restarts), ep.CameraID)
	}
	for state, n := range byState {
		ch <- prometheus.MustNewConstMetric(c.endpoints, prometheus.GaugeValue, float64(n), state)
	}
}

// StationCollector exports per-slot connection state and throughput
type StationCollector struct {
	manager *slots.Manager

	slotState    *prometheus.Desc
	framesTotal  *prometheus.Desc
	droppedTotal *prometheus.Desc
	bytesTotal   *prometheus.Desc
	fps          *prometheus.Desc
	bitrate      *prometheus.Desc
	retriesTotal *prometheus.Desc
}

// NewStationCollector creates a collector over the station's slot table
func NewStationCollector(m *slots.Manager) *StationCollector {
	return &StationCollector{
		manager: m,
		slotState: prometheus.NewDesc(
			"station_slot_up",
			"1 when the slot's connection is in the given state.",
			[]string{"slot", "state"}, nil,
		),
		framesTotal: prometheus.NewDesc(
			"station_slot_frames_received_total",
			"Frames received on the slot's connection.",
			[]string{"slot"}, nil,
		),
		droppedTotal: prometheus.NewDesc(
			"station_slot_frames_dropped_total",
			"Frames dropped on the slot's connection.",
			[]string{"slot"}, nil,
		),
		bytesTotal: prometheus.NewDesc(
			"station_slot_bytes_received_total",
			"Bytes received on the slot's connection.",
			[]string{"slot"}, nil,
		),
		fps: prometheus.NewDesc(
			"station_slot_fps",
			"Rolling frames per second on the slot's connection.",
			[]string{"slot"}, nil,
		),
		bitrate: prometheus.NewDesc(
			"station_slot_bitrate_kbps",
			"Rolling bitrate on the slot's connection.",
			[]string{"slot"}, nil,
		),
		retriesTotal: prometheus.NewDesc(
			"station_slot_retries_total",
			"Reconnect attempts on the slot's current binding.",
			[]string{"slot"}, nil,
		),
	}
}

func (c *StationCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.slotState
	ch <- c.framesTotal
	ch <- c.droppedTotal
	ch <- c.bytesTotal
	ch <- c.fps
	ch <- c.bitrate
	ch <- c.retriesTotal
}

func (c *StationCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.manager.Stats() {
		slot := strconv.Itoa(s.Index)
		ch <- prometheus.MustNewConstMetric(c.slotState, prometheus.GaugeValue, 1, slot, s.State)
		if !s.Bound {
			continue
		}
		cs := s.Connection
		ch <- prometheus.MustNewConstMetric(c.framesTotal, prometheus.CounterValue, float64(cs.FramesReceived), slot)
		ch <- prometheus.MustNewConstMetric(c.droppedTotal, prometheus.CounterValue, float64(cs.FramesDropped), slot)
		ch <- prometheus.MustNewConstMetric(c.bytesTotal, prometheus.CounterValue, float64(cs.BytesReceived), slot)
		ch <- prometheus.MustNewConstMetric(c.fps, prometheus.GaugeValue, cs.FPS, slot)
		ch <- prometheus.MustNewConstMetric(c.bitrate, prometheus.GaugeValue, cs.BitrateKbps, slot)
		ch <- prometheus.MustNewConstMetric(c.retriesTotal, prometheus.CounterValue, float64(cs.Retries), slot)
	}
}
