package gstpipe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/stream"
)

// Receiver decodes one TCP-served MPEG-TS stream into raw RGB frames:
//
//	tcpclientsrc → tsdemux → h264parse → avdec_h264 → videoconvert →
//	videoscale → capsfilter(RGB) → appsink
//
// One receiver serves one connect attempt; the connection layer creates
// a fresh receiver per attempt.
type Receiver struct {
	width  int
	height int

	pipeline *gst.Pipeline
	frames   chan stream.Frame
	busErr   chan error

	seq     uint64
	pending *stream.Frame

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewReceiverFactory returns a factory producing receivers that decode
// to the given output resolution
func NewReceiverFactory(width, height int) stream.ReceiverFactory {
	return func() stream.Receiver {
		return &Receiver{
			width:  width,
			height: height,
			frames: make(chan stream.Frame, 1),
			busErr: make(chan error, 1),
		}
	}
}

// Connect builds the pipeline, brings it to PLAYING, and blocks until
// the first decoded frame arrives, the pipeline faults, or ctx expires.
func (r *Receiver) Connect(ctx context.Context, addr stream.Address) error {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("gstpipe: failed to create pipeline: %w", err)
	}

	source, err := gst.NewElement("tcpclientsrc")
	if err != nil {
		return fmt.Errorf("gstpipe: failed to create tcpclientsrc: %w", err)
	}
	source.SetProperty("host", addr.Host)
	source.SetProperty("port", addr.Port)

	demux, err := gst.NewElement("tsdemux")
	if err != nil {
		return fmt.Errorf("gstpipe: failed to create tsdemux: %w", err)
	}

	parser, err := gst.NewElement("h264parse")
	if err != nil {
		return fmt.Errorf("gstpipe: failed to create h264parse: %w", err)
	}

	decoder, err := gst.NewElement("avdec_h264")
	if err != nil {
		return fmt.Errorf("gstpipe: failed to create avdec_h264: %w", err)
	}
	decoder.SetProperty("max-threads", 0)
	decoder.SetProperty("output-corrupt", false)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("gstpipe: failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0)

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return fmt.Errorf("gstpipe: failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("gstpipe: failed to create capsfilter: %w", err)
	}
	capsStr := fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", r.width, r.height)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("gstpipe: failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	if err := pipeline.AddMany(source, demux, parser, decoder, converter, scaler, capsfilter, appsink.Element); err != nil {
		return fmt.Errorf("gstpipe: failed to add elements: %w", err)
	}
	if err := source.Link(demux); err != nil {
		return fmt.Errorf("gstpipe: failed to link source to demuxer: %w", err)
	}
	if err := gst.ElementLinkMany(parser, decoder, converter, scaler, capsfilter, appsink.Element); err != nil {
		return fmt.Errorf("gstpipe: failed to link decode elements: %w", err)
	}

	// tsdemux pads appear once the stream is identified
	demux.Connect("pad-added", func(self *gst.Element, pad *gst.Pad) {
		sinkPad := parser.GetStaticPad("sink")
		if sinkPad == nil {
			slog.Error("gstpipe: failed to get parser sink pad")
			return
		}
		if ret := pad.Link(sinkPad); ret != gst.PadLinkOK {
			slog.Error("gstpipe: failed to link demuxer pad", "pad", pad.GetName(), "ret", ret)
		}
	})

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: r.onNewSample,
	})

	r.pipeline = pipeline

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("gstpipe: failed to start receiver pipeline: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	r.wg.Add(1)
	go r.watchBus(watchCtx)

	// The TCP connect, demux lock-on, and first decode all have to
	// succeed before the stream is usable
	select {
	case frame := <-r.frames:
		r.pending = &frame
		slog.Debug("gstpipe: receiver connected", "address", addr.URL())
		return nil
	case err := <-r.busErr:
		r.teardown()
		return fmt.Errorf("%w: %v", stream.ErrConnectTimeout, err)
	case <-ctx.Done():
		r.teardown()
		return ctx.Err()
	}
}

// Read returns the next decoded frame
func (r *Receiver) Read(ctx context.Context) (stream.Frame, error) {
	if r.pending != nil {
		frame := *r.pending
		r.pending = nil
		return frame, nil
	}

	select {
	case frame := <-r.frames:
		return frame, nil
	case err := <-r.busErr:
		return stream.Frame{}, fmt.Errorf("%w: %v", stream.ErrStreamInterrupted, err)
	case <-ctx.Done():
		return stream.Frame{}, ctx.Err()
	}
}

// Close tears the pipeline down. Idempotent.
func (r *Receiver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.teardown()
	return nil
}

func (r *Receiver) teardown() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	if r.pipeline != nil {
		r.pipeline.SetState(gst.StateNull)
	}
}

// onNewSample copies the decoded frame out of GStreamer's buffer and
// hands it to the reader, dropping when the reader lags. A corrupt
// sample is skipped, never fatal.
func (r *Receiver) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstpipe: failed to pull sample, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstpipe: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstpipe: empty buffer received")
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	frame := stream.Frame{
		Seq:       atomic.AddUint64(&r.seq, 1),
		Timestamp: time.Now(),
		Width:     r.width,
		Height:    r.height,
		Data:      frameData,
		TraceID:   uuid.New().String(),
	}

	select {
	case r.frames <- frame:
	default:
		// Reader is behind; the connection layer's buffer already
		// handles backlog, so dropping here is fine
	}
	return gst.FlowOK
}

// watchBus surfaces pipeline faults to the reader
func (r *Receiver) watchBus(ctx context.Context) {
	defer r.wg.Done()

	bus := r.pipeline.GetPipelineBus()
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
			r.fault(fmt.Errorf("gstpipe: stream ended"))
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			category := ClassifyError(gerr)
			slog.Warn("gstpipe: receiver pipeline error",
				"category", category.String(),
				"error", gerr.Error(),
			)
			r.fault(fmt.Errorf("gstpipe: pipeline error [%s]: %s", category, gerr.Error()))
			return
		}
	}
}

func (r *Receiver) fault(err error) {
	select {
	case r.busErr <- err:
	default:
	}
}
