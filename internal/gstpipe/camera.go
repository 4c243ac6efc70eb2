// Package gstpipe holds the GStreamer media pipelines: the producer's
// capture-and-serve pipeline and the consumer's receive-and-decode
// pipeline.
package gstpipe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/endpoint"
)

// CameraPipeline serves one capture device over TCP as an MPEG-TS
// wrapped H.264 stream:
//
//	v4l2src → videoconvert → capsfilter → x264enc → mpegtsmux → tcpserversink
//
// With TestPattern set, v4l2src is replaced by videotestsrc so the full
// path can run on machines without cameras.
type CameraPipeline struct {
	cfg      endpoint.PipelineConfig
	pipeline *gst.Pipeline

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errCh   chan error
	stopped bool
}

// NewCameraPipeline builds the pipeline in the NULL state
func NewCameraPipeline(cfg endpoint.PipelineConfig) (endpoint.Pipeline, error) {
	if cfg.Codec != "h264" {
		return nil, fmt.Errorf("gstpipe: unsupported codec %q", cfg.Codec)
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("gstpipe: failed to create pipeline: %w", err)
	}

	var source *gst.Element
	if cfg.TestPattern {
		source, err = gst.NewElement("videotestsrc")
		if err != nil {
			return nil, fmt.Errorf("gstpipe: failed to create videotestsrc: %w", err)
		}
		source.SetProperty("pattern", 18) // moving ball, visibly alive
		source.SetProperty("is-live", true)
	} else {
		source, err = gst.NewElement("v4l2src")
		if err != nil {
			return nil, fmt.Errorf("gstpipe: failed to create v4l2src: %w", err)
		}
		source.SetProperty("device", cfg.Device)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("gstpipe: failed to create videoconvert: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("gstpipe: failed to create capsfilter: %w", err)
	}
	capsStr := fmt.Sprintf("video/x-raw,width=%d,height=%d,framerate=%d/1",
		cfg.Width, cfg.Height, cfg.FPS)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	encoder, err := gst.NewElement("x264enc")
	if err != nil {
		return nil, fmt.Errorf("gstpipe: failed to create x264enc: %w", err)
	}
	encoder.SetProperty("speed-preset", 1) // ultrafast
	encoder.SetProperty("tune", 4)         // zerolatency
	encoder.SetProperty("bitrate", uint(1500))
	encoder.SetProperty("key-int-max", uint(cfg.FPS*2))

	muxer, err := gst.NewElement("mpegtsmux")
	if err != nil {
		return nil, fmt.Errorf("gstpipe: failed to create mpegtsmux: %w", err)
	}

	sink, err := gst.NewElement("tcpserversink")
	if err != nil {
		return nil, fmt.Errorf("gstpipe: failed to create tcpserversink: %w", err)
	}
	sink.SetProperty("host", cfg.Host)
	sink.SetProperty("port", cfg.Port)
	sink.SetProperty("sync", false)

	if err := pipeline.AddMany(source, converter, capsfilter, encoder, muxer, sink); err != nil {
		return nil, fmt.Errorf("gstpipe: failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(source, converter, capsfilter, encoder, muxer, sink); err != nil {
		return nil, fmt.Errorf("gstpipe: failed to link elements: %w", err)
	}

	return &CameraPipeline{
		cfg:      cfg,
		pipeline: pipeline,
		errCh:    make(chan error, 1),
	}, nil
}

// Start brings the pipeline to PLAYING and begins watching its bus
func (p *CameraPipeline) Start(ctx context.Context) error {
	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("gstpipe: failed to start pipeline for %s: %w", p.cfg.Device, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.watchBus(watchCtx)

	slog.Info("gstpipe: camera pipeline playing",
		"device", p.cfg.Device,
		"port", p.cfg.Port,
		"mount", p.cfg.Mount,
		"test_pattern", p.cfg.TestPattern,
	)
	return nil
}

// Stop tears the pipeline down. Idempotent.
func (p *CameraPipeline) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	if err := p.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstpipe: failed to stop pipeline for %s: %w", p.cfg.Device, err)
	}
	return nil
}

// Err reports the first pipeline fault
func (p *CameraPipeline) Err() <-chan error {
	return p.errCh
}

// watchBus polls the pipeline bus until fault or cancellation. The
// short pop timeout keeps shutdown responsive.
func (p *CameraPipeline) watchBus(ctx context.Context) {
	defer p.wg.Done()

	bus := p.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Warn("gstpipe: camera pipeline end of stream", "device", p.cfg.Device)
			p.fault(fmt.Errorf("gstpipe: end of stream on %s", p.cfg.Device))
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			category := ClassifyError(gerr)
			slog.Error("gstpipe: camera pipeline error",
				"device", p.cfg.Device,
				"category", category.String(),
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			p.fault(fmt.Errorf("gstpipe: pipeline error [%s] on %s: %s",
				category, p.cfg.Device, gerr.Error()))
			return

		case gst.MessageStateChanged:
			if msg.Source() == p.pipeline.GetName() {
				old, next := msg.ParseStateChanged()
				slog.Debug("gstpipe: camera pipeline state changed", "from", old, "to", next)
			}
		}
	}
}

func (p *CameraPipeline) fault(err error) {
	select {
	case p.errCh <- err:
	default:
	}
}
