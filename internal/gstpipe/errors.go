package gstpipe

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory classifies pipeline bus errors for logging and metrics
type ErrorCategory int

const (
	// ErrCategoryNetwork indicates transport failures (connection, timeout)
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryCodec indicates encode/decode or caps negotiation failures
	ErrCategoryCodec
	// ErrCategoryDevice indicates capture device failures (unplugged, busy)
	ErrCategoryDevice
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryDevice:
		return "device"
	default:
		return "unknown"
	}
}

// ClassifyError categorizes a GStreamer bus error. A device error means
// the capture node is gone and restarting the pipeline is pointless
// until the device reappears; network errors are worth retrying.
//
// go-gst's GError does not expose Domain(), so classification is
// keyword matching over the message and debug strings.
func ClassifyError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}

	combined := strings.ToLower(gerr.Error() + " " + gerr.DebugString())

	if containsAny(combined, []string{
		"device", "/dev/video", "v4l2", "no such file", "busy", "ioctl",
	}) {
		return ErrCategoryDevice
	}
	if containsAny(combined, []string{
		"codec", "decode", "encode", "format", "negotiation", "caps",
		"h264", "not negotiated", "no decoder", "missing plugin",
	}) {
		return ErrCategoryCodec
	}
	if containsAny(combined, []string{
		"connection", "timeout", "unreachable", "network", "resolve",
		"socket", "tcp", "could not connect", "failed to connect",
	}) {
		return ErrCategoryNetwork
	}
	return ErrCategoryUnknown
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
