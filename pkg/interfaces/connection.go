package interfaces

import "chatrelay/pkg/types"

// Connection is one live transport session.
type Connection interface {
	// ID is unique per session and never reused.
	ID() string

	// Send queues an envelope for delivery without blocking on the network.
	// Implementations must be safe for concurrent use.
	Send(env types.OutboundEnvelope) error

	// Close closes the connection and releases its resources. Safe to call twice.
	Close() error
}
