package endpoint

import "context"

// PipelineConfig describes one capture-and-serve pipeline
type PipelineConfig struct {
	// Device is the capture device path, e.g. /dev/video0
	Device string
	// Width, Height, FPS are the capture parameters
	Width  int
	Height int
	FPS    int
	// Codec names the encoder, e.g. "h264"
	Codec string
	// Host and Port are the serving address of the network sink
	Host string
	Port int
	// Mount is the path-style stream identifier, e.g. /cam1
	Mount string
	// TestPattern replaces the device with a synthetic source when set
	TestPattern bool
}

// Pipeline is one running capture-and-serve media pipeline. Err
// delivers at most one fault per run; after a fault the pipeline is
// dead and must be replaced, not restarted.
type Pipeline interface {
	// Start brings the pipeline to the playing state
	Start(ctx context.Context) error
	// Stop tears the pipeline down. Idempotent.
	Stop() error
	// Err reports an asynchronous pipeline fault
	Err() <-chan error
}

// PipelineFactory creates a pipeline for the given configuration. Each
// restart attempt gets a fresh pipeline.
type PipelineFactory func(cfg PipelineConfig) (Pipeline, error)
