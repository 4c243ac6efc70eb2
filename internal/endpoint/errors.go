package endpoint

import "errors"

var (
	// ErrNotFound indicates no endpoint exists for the camera
	ErrNotFound = errors.New("endpoint: not found")
	// ErrPortExhausted indicates the configured port range is fully in use
	ErrPortExhausted = errors.New("endpoint: port range exhausted")
	// ErrAlreadyPublished indicates the camera already has a live endpoint
	ErrAlreadyPublished = errors.New("endpoint: already published")
	// ErrPipelineStart indicates the capture pipeline failed to come up
	ErrPipelineStart = errors.New("endpoint: pipeline failed to start")
)
