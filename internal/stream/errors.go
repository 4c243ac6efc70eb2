package stream

import "errors"

var (
	// ErrConnectTimeout indicates the endpoint did not answer a connect
	// attempt within the configured timeout
	ErrConnectTimeout = errors.New("stream: connect timeout")

	// ErrStreamInterrupted indicates an established stream stopped
	// delivering data (read timeout, transport error or remote close)
	ErrStreamInterrupted = errors.New("stream: stream interrupted")

	// ErrRetryBudgetExceeded indicates the reconnect budget is exhausted;
	// the connection stays Failed until a fresh Assign
	ErrRetryBudgetExceeded = errors.New("stream: retry budget exceeded")

	// ErrAlreadyStarted indicates Start was called twice on one instance
	ErrAlreadyStarted = errors.New("stream: connection already started")
)
