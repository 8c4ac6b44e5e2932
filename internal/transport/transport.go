// Package transport defines the interface for campaign delivery backends.
package transport

import (
	"context"
	"errors"
)

// ErrDropped marks a transport-level disconnection during a send, as opposed
// to a per-message rejection. A send that fails with this error may succeed
// after reconnecting; the dispatcher relies on it to decide whether to retry.
var ErrDropped = errors.New("connection dropped")

// Transport is the interface that campaign delivery backends must implement.
// A Transport is owned exclusively by one dispatcher for the duration of a
// run and is not safe for concurrent use.
type Transport interface {
	// Connect establishes (or re-establishes) the underlying connection.
	// Backends without a connection lifecycle may make this a no-op.
	Connect(ctx context.Context) error

	// Send delivers one raw RFC 5322 message to the envelope recipients.
	Send(ctx context.Context, from string, to []string, msg []byte) error

	// Close tears the transport down. It must be idempotent and safe to
	// call on a never-connected transport.
	Close() error

	// Name returns the human-readable name of this transport.
	Name() string
}
