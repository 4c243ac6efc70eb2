package stream

import "context"

// Receiver is the transport/codec collaborator boundary. Implementations
// own the wire protocol and decoding; the connection state machine owns
// retries, buffering and state reporting.
//
// Implementations must guarantee:
//   - Connect blocks until the transport handshake completes, the
//     context is cancelled, or the attempt fails
//   - Read blocks until the next decoded frame, the context is
//     cancelled, or the transport reports a fault
//   - Close is idempotent and releases all transport resources
//
// A Receiver instance is used by a single connection goroutine; it does
// not need to be safe for concurrent calls.
type Receiver interface {
	Connect(ctx context.Context, addr Address) error
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// ReceiverFactory creates a fresh Receiver per connect attempt, so a
// broken transport never leaks state into the next attempt.
type ReceiverFactory func() Receiver
